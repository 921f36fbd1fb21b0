package sync

import (
	"time"

	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/vec"
)

// PosSendType and friends select how much of a rigid-body record's
// position/rotation/scale/velocity state is worth spending bits on this
// tick. Grounded on
// original_source/src/Core/TundraProtocolModule/SyncManager.cpp's
// DetectPosSendType/DetectRotSendType (lines ~120-235).
type PosSendType int

const (
	PosSendNone PosSendType = iota
	PosSendXYZ
	PosSendXYZ32
)

type RotSendType int

const (
	RotSendNone RotSendType = iota
	RotSendYaw
	RotSendYawPitch
	RotSendFull
)

type ScaleSendType int

const (
	ScaleSendNone ScaleSendType = iota
	ScaleSendUniform
	ScaleSendAll
)

type VelSendType int

const (
	VelSendNone VelSendType = iota
	VelSendCompact
	VelSendFull
)

type AngVelSendType int

const (
	AngVelSendNone AngVelSendType = iota
	AngVelSendAll
)

// posExtentThreshold is the coordinate magnitude past which a position
// needs the wider 32-bit-per-axis encoding instead of the 11/10/11-style
// quantized range.
const posExtentThreshold = 1023.0

// velFullThreshold is the squared-speed gate past which velocity gets the
// wider full-precision encoding instead of the compact one.
const velFullThreshold = 64.0

// scaleUniformEpsilon is how close x, y and z have to be to each other to
// be worth encoding as a single uniform scale factor instead of three.
const scaleUniformEpsilon = 1e-4

// RigidBodyFrame is the selected-and-quantized content of one rigid-body
// update record, ready for the wire codec to pack. Each *Type field is
// independently SendNone when that part of the state hasn't changed
// enough since the last frame sent for this entity to be worth spending
// bits on again.
type RigidBodyFrame struct {
	PosType    PosSendType
	RotType    RotSendType
	ScaleType  ScaleSendType
	VelType    VelSendType
	AngVelType AngVelSendType

	Transform scene.Transform
	LinVel    vec.Vec3Float
	AngVel    vec.Vec3Float

	// Reliable is forced true when the body transitions to rest this tick,
	// so the final at-rest frame can't be dropped by an unreliable channel.
	Reliable bool
}

// DetectPosSendType mirrors DetectPosSendType: full precision is used once
// any axis magnitude exceeds the 11-bit quantized range.
func DetectPosSendType(pos vec.Vec3Float) PosSendType {
	if pos.Abs().MaxElement() >= posExtentThreshold {
		return PosSendXYZ32
	}
	return PosSendXYZ
}

// DetectRotSendType mirrors DetectRotSendType: pick the cheapest
// orientation encoding that still captures the body's actual freedom of
// rotation — pure yaw (around world up) compresses to a single angle,
// yaw+pitch to two, general orientation needs the full axis-angle triple.
func DetectRotSendType(rot vec.Quat) RotSendType {
	fwd := rot.RotateVec3(vec.Vec3Float{Z: -1})
	up := rot.RotateVec3(vec.UnitY)
	planeNormal := vec.Vec3Float{X: 0, Y: 1, Z: 0}.Cross(fwd)

	if up.Dot(vec.UnitY) >= 0.999 {
		return RotSendYaw
	}
	if absF(planeNormal.Dot(vec.UnitY)) <= 0.001 && absF(fwd.Dot(vec.UnitY)) < 0.95 && up.Dot(vec.UnitY) > 0 {
		return RotSendYawPitch
	}
	return RotSendFull
}

// DetectScaleSendType picks a single uniform factor when all three axes
// agree closely enough, otherwise the full per-axis triple.
func DetectScaleSendType(scale vec.Vec3Float) ScaleSendType {
	if absF(scale.X-scale.Y) <= scaleUniformEpsilon && absF(scale.Y-scale.Z) <= scaleUniformEpsilon {
		return ScaleSendUniform
	}
	return ScaleSendAll
}

// DetectVelSendType gates the wider full-precision encoding on speed:
// fast-moving bodies need the extra range and fractional bits, slow ones
// don't.
func DetectVelSendType(v vec.Vec3Float) VelSendType {
	if v.LengthSq() >= velFullThreshold {
		return VelSendFull
	}
	return VelSendCompact
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// RigidBodyReplicator performs per-tick change detection against the
// cached last-sent state and produces the frame to send, or nil if nothing
// changed enough to be worth a record this tick.
type RigidBodyReplicator struct {
	// PosThreshold/RotThreshold/ScaleThreshold/VelThreshold/AngVelThreshold
	// are all squared-magnitude gates (|Δpos|², |Δrot|², |Δscale|², |Δv|²,
	// |Δω|²) — avoids spending bits re-sending floating-point jitter on a
	// body that is, for practical purposes, at rest.
	PosThreshold    float64
	RotThreshold    float64
	ScaleThreshold  float64
	VelThreshold    float64
	AngVelThreshold float64
}

func NewRigidBodyReplicator() *RigidBodyReplicator {
	return &RigidBodyReplicator{
		PosThreshold:    1e-3,
		RotThreshold:    1e-1,
		ScaleThreshold:  1e-3,
		VelThreshold:    0.01,
		AngVelThreshold: 0.1,
	}
}

// Detect compares the entity's current transform/rigidbody against the
// connection's cached last-sent state, throttles by the prioritized update
// interval, and returns the frame to send (or nil to skip this entity this
// tick). Each field of the returned frame independently carries SendNone
// when that field hasn't changed enough to be worth re-sending.
func (r *RigidBodyReplicator) Detect(es *EntitySyncState, transform scene.Transform, rb *scene.RigidBody, basePeriod time.Duration, now time.Time) *RigidBodyFrame {
	if !es.LastNetworkSendTime.IsZero() {
		interval := es.ComputePrioritizedUpdateInterval(basePeriod)
		if now.Sub(es.LastNetworkSendTime) < interval {
			return nil
		}
	}

	cached := es.CachedRigidBody
	first := !cached.Valid

	isNewtonian := rb != nil && rb.IsNewtonian()
	var linVel, angVel vec.Vec3Float
	if isNewtonian {
		linVel = rb.LinearVelocity
		angVel = rb.AngularVelocity
	}

	wasAtRest := cached.Valid && !wasMoving(cached)
	isAtRest := !isNewtonian || (linVel.LengthSq() < r.VelThreshold && angVel.LengthSq() < r.VelThreshold)
	restTransition := cached.Valid && !wasAtRest && isAtRest

	posDeltaSq := transform.Pos.Sub(cached.Transform.Pos).LengthSq()
	posChanged := first || posDeltaSq > r.PosThreshold
	rotDeltaSq := transform.Rot.Sub(cached.Transform.Rot).LengthSq()
	rotChanged := first || rotDeltaSq > r.RotThreshold
	scaleDeltaSq := transform.Scale.Sub(cached.Transform.Scale).LengthSq()
	scaleChanged := first || scaleDeltaSq > r.ScaleThreshold

	cachedLinVel := vec.Vec3Float{X: cached.LinearVelocity[0], Y: cached.LinearVelocity[1], Z: cached.LinearVelocity[2]}
	cachedAngVel := vec.Vec3Float{X: cached.AngularVelocity[0], Y: cached.AngularVelocity[1], Z: cached.AngularVelocity[2]}
	velDeltaSq := linVel.Sub(cachedLinVel).LengthSq()
	angVelDeltaSq := angVel.Sub(cachedAngVel).LengthSq()
	velChanged := isNewtonian && (first || restTransition || velDeltaSq >= r.VelThreshold)
	angVelChanged := isNewtonian && (first || restTransition || angVelDeltaSq >= r.AngVelThreshold)

	if !(posChanged || rotChanged || scaleChanged || velChanged || angVelChanged) {
		return nil
	}

	frame := &RigidBodyFrame{
		Transform: transform,
		LinVel:    linVel,
		AngVel:    angVel,
		Reliable:  restTransition,
	}
	if posChanged {
		frame.PosType = DetectPosSendType(transform.Pos)
	}
	if rotChanged {
		frame.RotType = DetectRotSendType(transform.Rot)
	}
	if scaleChanged {
		frame.ScaleType = DetectScaleSendType(transform.Scale)
	}
	if velChanged {
		frame.VelType = DetectVelSendType(linVel)
	}
	if angVelChanged {
		frame.AngVelType = AngVelSendAll
	}

	es.CachedRigidBody = CachedRigidBodyState{
		Transform:       transform,
		LinearVelocity:  [3]float64{linVel.X, linVel.Y, linVel.Z},
		AngularVelocity: [3]float64{angVel.X, angVel.Y, angVel.Z},
		Valid:           true,
	}
	es.LastNetworkSendTime = now

	return frame
}

func wasMoving(c CachedRigidBodyState) bool {
	const eps = 1e-6
	lv := c.LinearVelocity
	av := c.AngularVelocity
	return lv[0]*lv[0]+lv[1]*lv[1]+lv[2]*lv[2] > eps || av[0]*av[0]+av[1]*av[1]+av[2]*av[2] > eps
}
