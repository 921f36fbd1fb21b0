// Package interp implements the client-side rigid-body interpolator and
// bounded linear extrapolator: Hermite curves between received snapshots,
// Slerp for orientation, and an optional handoff to local physics once the
// extrapolation ceiling is reached. Grounded on
// original_source/src/Core/TundraProtocolModule/SyncManager.cpp lines
// 838-1022 (InterpolateRigidBodies).
package interp

import (
	"github.com/originworld/scenesync/internal/scene"
	"github.com/originworld/scenesync/internal/vec"
)

// Snapshot is one endpoint of an interpolation segment.
type Snapshot struct {
	Pos   vec.Vec3Float
	Rot   vec.Quat
	Scale vec.Vec3Float
	LinVel vec.Vec3Float
	AngVel vec.Vec3Float
}

// State is the client-only per-entity interpolation state
// (RigidBodyInterpolationState).
type State struct {
	Start Snapshot
	End   Snapshot

	// InterpTime advances by frametime/updatePeriod each tick; [0,1) is
	// the Hermite segment, [1, maxLinExtrapTime) is linear extrapolation.
	InterpTime float64

	LastReceivedPacketID uint32
	HasReceivedPacket     bool

	Active bool

	// Newtonian mirrors whether the entity had a RigidBody with mass > 0
	// at ingest time; non-Newtonian entities never extrapolate.
	Newtonian bool
}

// NewState seeds a fresh interpolation state from the first inbound
// rigid-body record for an entity: both endpoints equal the received
// snapshot, since there is no prior curve to sample a C1-continuous start
// from.
func NewState(snap Snapshot, packetID uint32, newtonian bool) *State {
	s := &State{
		Start:                 snap,
		End:                   snap,
		LastReceivedPacketID:  packetID,
		HasReceivedPacket:     true,
		Active:                true,
		Newtonian:             newtonian,
	}
	if !newtonian {
		s.Start.LinVel = vec.Zero3
		s.Start.AngVel = vec.Zero3
		s.End.LinVel = vec.Zero3
		s.End.AngVel = vec.Zero3
	}
	return s
}

// PacketIsNewer reports whether candidate is strictly newer than last
// under 32-bit wrap-aware comparison, matching kNet::PacketIDIsNewerThan.
func PacketIsNewer(candidate, last uint32) bool {
	diff := int32(candidate - last)
	return diff > 0
}

// Sample evaluates the current position/scale at the state's InterpTime,
// using Hermite interpolation for t<1 and bounded linear extrapolation for
// 1<=t<maxLinExtrapTimeUnits. Orientation is always Slerp, never extrapolated.
func (s *State) Sample(updatePeriod float64, maxLinExtrapTimeUnits float64) Snapshot {
	t := s.InterpTime
	clamped01 := clamp01(t)

	var pos vec.Vec3Float
	var vel vec.Vec3Float
	switch {
	case t < 1:
		pos, vel = hermite(s.Start.Pos, s.End.Pos, s.Start.LinVel, s.End.LinVel, t, updatePeriod)
	case s.Newtonian && maxLinExtrapTimeUnits > 1:
		et := t
		if et > maxLinExtrapTimeUnits {
			et = maxLinExtrapTimeUnits
		}
		pos = s.End.Pos.Add(s.End.LinVel.Mul((et - 1) * updatePeriod))
		vel = s.End.LinVel
	default:
		pos = s.End.Pos
		vel = vec.Zero3
	}

	rot := vec.Slerp(s.Start.Rot, s.End.Rot, clamped01)
	scale := s.Start.Scale.Lerp(s.End.Scale, clamped01)

	return Snapshot{Pos: pos, Rot: rot, Scale: scale, LinVel: vel, AngVel: s.End.AngVel}
}

// hermite evaluates the cubic Hermite basis H1..H4 at t (unit interval,
// T = updatePeriod is the tangent scale) and also returns the derivative
// (velocity) at t, so the curve is C1 continuous: the velocity sampled
// here becomes the next segment's Start.LinVel.
func hermite(p0, p1, v0, v1 vec.Vec3Float, t, dt float64) (pos vec.Vec3Float, vel vec.Vec3Float) {
	t2 := t * t
	t3 := t2 * t

	h1 := 2*t3 - 3*t2 + 1
	h2 := 1 - h1
	h3 := t3 - 2*t2 + t
	h4 := t3 - t2

	pos = p0.Mul(h1).Add(p1.Mul(h2)).Add(v0.Mul(h3 * dt)).Add(v1.Mul(h4 * dt))

	// dH1/dt = 6t^2-6t, dH2/dt = -dH1/dt, dH3/dt = 3t^2-4t+1, dH4/dt = 3t^2-2t
	dh1 := 6*t2 - 6*t
	dh2 := -dh1
	dh3 := 3*t2 - 4*t + 1
	dh4 := 3*t2 - 2*t
	velScaled := p0.Mul(dh1).Add(p1.Mul(dh2)).Add(v0.Mul(dh3 * dt)).Add(v1.Mul(dh4 * dt))
	// Derivative w.r.t. t is in units of "per unit interp_time"; convert to
	// per-second by dividing by dt so it can seed the next segment's start
	// velocity directly.
	if dt > 0 {
		vel = velScaled.Mul(1.0 / dt)
	}
	return pos, vel
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Ingest applies a freshly decoded rigid-body record to the interpolation
// state, sampling the current curve as the new segment's start so motion
// stays C1 continuous across updates. Fields the sender omitted
// retain their prior End values — callers pass the merged snapshot.
func (s *State) Ingest(updatePeriod, maxLinExtrapTimeUnits float64, end Snapshot, packetID uint32, newtonian, outOfOrderGuard bool) bool {
	if outOfOrderGuard && s.HasReceivedPacket && !PacketIsNewer(packetID, s.LastReceivedPacketID) {
		return false
	}

	current := s.Sample(updatePeriod, maxLinExtrapTimeUnits)
	s.Start = current
	s.End = end
	s.Newtonian = newtonian
	if !newtonian {
		s.Start.LinVel = vec.Zero3
		s.Start.AngVel = vec.Zero3
		s.End.LinVel = vec.Zero3
		s.End.AngVel = vec.Zero3
	}
	s.InterpTime = 0
	s.Active = true
	s.LastReceivedPacketID = packetID
	s.HasReceivedPacket = true
	return true
}

// Advance steps InterpTime forward by frametime/updatePeriod and reports
// whether the extrapolation ceiling was just reached this call (the moment
// client-physics handoff, if enabled, should occur).
func (s *State) Advance(frametime, updatePeriod, maxLinExtrapTimeUnits float64) (reachedCeiling bool) {
	if !s.Active {
		return false
	}
	prev := s.InterpTime
	if updatePeriod <= 0 {
		updatePeriod = 1.0 / 20.0
	}
	s.InterpTime += frametime / updatePeriod
	return prev < maxLinExtrapTimeUnits && s.InterpTime >= maxLinExtrapTimeUnits
}

// IsMoving reports whether the end snapshot's velocities are above the
// client-physics-handoff activity threshold.
func (snap Snapshot) IsMoving() bool {
	return snap.LinVel.LengthSq() > 1e-4 || snap.AngVel.LengthSq() > 1e-4
}

// ApplyHandoff pushes the end snapshot's velocities into the scene's
// RigidBody component and deactivates the interpolator, leaving the state
// in place for future updates.
func (s *State) ApplyHandoff(body *scene.RigidBody, noClientPhysicsHandoff bool) {
	if noClientPhysicsHandoff || !s.Newtonian || !s.End.IsMoving() {
		s.Active = false
		return
	}
	if body != nil {
		body.LinearVelocity = s.End.LinVel
		body.AngularVelocity = s.End.AngVel
	}
	s.Active = false
}
