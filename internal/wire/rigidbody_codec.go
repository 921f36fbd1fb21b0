package wire

import (
	"fmt"
	"math"

	"github.com/originworld/scenesync/internal/bitio"
	"github.com/originworld/scenesync/internal/scene"
	sy "github.com/originworld/scenesync/internal/sync"
	"github.com/originworld/scenesync/internal/vec"
)

// rigidBodySendTypeBits is the fixed 8-bit footprint the five send-type
// fields are packed into as one mixed-radix integer: the product of their
// ranges (3*4*3*3*2 = 216) fits under 2^8.
const rigidBodySendTypeBits = 8

var rigidBodySendTypeRanges = []int{3, 4, 3, 3, 2}

// RigidBodyRecord pairs a frame with the entity it describes, the unit a
// RigidBodyUpdate message batches zero or more of.
type RigidBodyRecord struct {
	EntityId scene.EntityId
	Frame    *sy.RigidBodyFrame
}

// writeRigidBodyRecord packs one record into an already-open writer: entity
// id, the five-way send-type tuple arithmetic-coded into a single byte,
// then whichever of position/rotation/scale/velocity/angular-velocity the
// types call for.
func writeRigidBodyRecord(w *bitio.Writer, entityId scene.EntityId, f *sy.RigidBodyFrame) {
	_ = w.WriteVLE(entityId.WireValue())

	_ = w.WriteArithmeticEncoded(rigidBodySendTypeBits,
		int(f.PosType), rigidBodySendTypeRanges[0],
		int(f.RotType), rigidBodySendTypeRanges[1],
		int(f.ScaleType), rigidBodySendTypeRanges[2],
		int(f.VelType), rigidBodySendTypeRanges[3],
		int(f.AngVelType), rigidBodySendTypeRanges[4],
	)

	writePosition(w, f.PosType, f.Transform.Pos)
	writeRotation(w, f.RotType, f.Transform.Rot)
	writeScale(w, f.ScaleType, f.Transform.Scale)
	writeVelocity(w, f.VelType, f.LinVel)
	if f.AngVelType == sy.AngVelSendAll {
		w.WriteVector3D(f.AngVel.X, f.AngVel.Y, f.AngVel.Z, 11, 10, 3, 8)
	}
}

// recordBitLen reports how many bits writeRigidBodyRecord would spend on
// this frame, used to keep a batched message under its bit budget without
// committing the record to the batch first.
func recordBitLen(entityId scene.EntityId, f *sy.RigidBodyFrame) int {
	probe := bitio.NewWriter()
	writeRigidBodyRecord(probe, entityId, f)
	return probe.BitLen()
}

// EncodeRigidBodyUpdate packs a single RigidBodyFrame as a one-record
// RigidBodyUpdate payload (a continuation-flagged batch of length one).
func EncodeRigidBodyUpdate(entityId scene.EntityId, f *sy.RigidBodyFrame) []byte {
	return EncodeRigidBodyBatch([]RigidBodyRecord{{EntityId: entityId, Frame: f}})
}

// EncodeRigidBodyBatch packs a run of records into one RigidBodyUpdate
// payload: each record is preceded by a continuation bit, and the run ends
// with a false bit — the framing that lets a tick pack multiple entities'
// updates into one message up to the batch's bit budget.
func EncodeRigidBodyBatch(records []RigidBodyRecord) []byte {
	w := bitio.NewWriter()
	for _, rec := range records {
		w.WriteBool(true)
		writeRigidBodyRecord(w, rec.EntityId, rec.Frame)
	}
	w.WriteBool(false)
	return w.Bytes()
}

// DecodedRigidBodyUpdate is the receiver-side result of decoding one
// rigid-body record, ready to feed internal/interp.State.Ingest.
type DecodedRigidBodyUpdate struct {
	EntityId  scene.EntityId
	Snapshot  sy.CachedRigidBodyState
	HasVel    bool
	HasAngVel bool
}

// DecodeRigidBodyBatch decodes every record out of a RigidBodyUpdate
// payload, in the order they were written.
func DecodeRigidBodyBatch(payload []byte) ([]*DecodedRigidBodyUpdate, error) {
	r := bitio.NewReader(payload)
	var out []*DecodedRigidBodyUpdate
	for {
		more, err := r.ReadBool()
		if err != nil {
			return nil, err
		}
		if !more {
			break
		}
		rec, err := readRigidBodyRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// DecodeRigidBodyUpdate decodes the first (and, for non-batched callers,
// only) record out of a RigidBodyUpdate payload.
func DecodeRigidBodyUpdate(payload []byte) (*DecodedRigidBodyUpdate, error) {
	records, err := DecodeRigidBodyBatch(payload)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("wire: RigidBodyUpdate payload carries no records")
	}
	return records[0], nil
}

func readRigidBodyRecord(r *bitio.Reader) (*DecodedRigidBodyUpdate, error) {
	rawId, err := r.ReadVLE()
	if err != nil {
		return nil, err
	}

	types, err := r.ReadArithmeticEncoded(rigidBodySendTypeBits, rigidBodySendTypeRanges...)
	if err != nil {
		return nil, err
	}
	posType := sy.PosSendType(types[0])
	rotType := sy.RotSendType(types[1])
	scaleType := sy.ScaleSendType(types[2])
	velType := sy.VelSendType(types[3])
	angVelType := sy.AngVelSendType(types[4])

	pos, err := readPosition(r, posType)
	if err != nil {
		return nil, err
	}
	rot, err := readRotation(r, rotType)
	if err != nil {
		return nil, err
	}
	scale, err := readScale(r, scaleType)
	if err != nil {
		return nil, err
	}

	linVel, hasVel, err := readVelocity(r, velType)
	if err != nil {
		return nil, err
	}

	var angVel vec.Vec3Float
	hasAngVel := angVelType == sy.AngVelSendAll
	if hasAngVel {
		x, y, z, err := r.ReadVector3D(11, 10, 3, 8)
		if err != nil {
			return nil, err
		}
		angVel = vec.Vec3Float{X: x, Y: y, Z: z}
	}

	return &DecodedRigidBodyUpdate{
		EntityId: scene.EntityId(rawId),
		Snapshot: sy.CachedRigidBodyState{
			Transform:       scene.Transform{Pos: pos, Rot: rot, Scale: scale},
			LinearVelocity:  [3]float64{linVel.X, linVel.Y, linVel.Z},
			AngularVelocity: [3]float64{angVel.X, angVel.Y, angVel.Z},
			Valid:           true,
		},
		HasVel:    hasVel,
		HasAngVel: hasAngVel,
	}, nil
}

func writePosition(w *bitio.Writer, t sy.PosSendType, pos vec.Vec3Float) {
	switch t {
	case sy.PosSendXYZ:
		w.WriteSignedFixedPoint(11, 8, pos.X)
		w.WriteSignedFixedPoint(11, 8, pos.Y)
		w.WriteSignedFixedPoint(11, 8, pos.Z)
	case sy.PosSendXYZ32:
		w.WriteFloat32(float32(pos.X))
		w.WriteFloat32(float32(pos.Y))
		w.WriteFloat32(float32(pos.Z))
	}
}

func readPosition(r *bitio.Reader, t sy.PosSendType) (vec.Vec3Float, error) {
	switch t {
	case sy.PosSendXYZ:
		x, err := r.ReadSignedFixedPoint(11, 8)
		if err != nil {
			return vec.Zero3, err
		}
		y, err := r.ReadSignedFixedPoint(11, 8)
		if err != nil {
			return vec.Zero3, err
		}
		z, err := r.ReadSignedFixedPoint(11, 8)
		if err != nil {
			return vec.Zero3, err
		}
		return vec.Vec3Float{X: x, Y: y, Z: z}, nil
	case sy.PosSendXYZ32:
		x, err := r.ReadFloat32()
		if err != nil {
			return vec.Zero3, err
		}
		y, err := r.ReadFloat32()
		if err != nil {
			return vec.Zero3, err
		}
		z, err := r.ReadFloat32()
		if err != nil {
			return vec.Zero3, err
		}
		return vec.Vec3Float{X: float64(x), Y: float64(y), Z: float64(z)}, nil
	default:
		return vec.Zero3, nil
	}
}

// writeRotation encodes orientation at one of three fixed bit budgets,
// cheapest first: Yaw spends a single quantized angle on a pure
// around-world-up rotation (8 bits total), YawPitch spends two quantized
// angles derived from the forward vector's spherical coordinates (9+8
// bits), Full spends a quantized angle plus, unless that angle quantizes
// to zero, a quantized 3D axis (10, then 11/11/10 bits).
func writeRotation(w *bitio.Writer, t sy.RotSendType, rot vec.Quat) {
	switch t {
	case sy.RotSendYaw:
		fwd := rot.RotateVec3(vec.Vec3Float{Z: -1})
		yaw := math.Atan2(fwd.X, -fwd.Z)
		w.WriteQuantizedFloat(-math.Pi, math.Pi, 8, yaw)
	case sy.RotSendYawPitch:
		fwd := rot.RotateVec3(vec.Vec3Float{Z: -1})
		yaw := math.Atan2(fwd.X, -fwd.Z)
		pitch := math.Asin(clamp(fwd.Y, -1, 1))
		w.WriteQuantizedFloat(-math.Pi, math.Pi, 9, yaw)
		w.WriteQuantizedFloat(-math.Pi/2, math.Pi/2, 8, pitch)
	case sy.RotSendFull:
		axis, angle := rot.ToAxisAngle()
		q := w.WriteQuantizedFloat(0, math.Pi, 10, angle)
		if q != 0 {
			w.WriteNormalizedVector3D(axis.X, axis.Y, axis.Z, 11, 10)
		}
	}
}

func readRotation(r *bitio.Reader, t sy.RotSendType) (vec.Quat, error) {
	switch t {
	case sy.RotSendYaw:
		yaw, _, err := r.ReadQuantizedFloat(-math.Pi, math.Pi, 8)
		if err != nil {
			return vec.Identity, err
		}
		return vec.FromAxisAngle(vec.UnitY, -yaw), nil
	case sy.RotSendYawPitch:
		yaw, _, err := r.ReadQuantizedFloat(-math.Pi, math.Pi, 9)
		if err != nil {
			return vec.Identity, err
		}
		pitch, _, err := r.ReadQuantizedFloat(-math.Pi/2, math.Pi/2, 8)
		if err != nil {
			return vec.Identity, err
		}
		return vec.FromAxisAngle(vec.UnitY, -yaw).Mul(vec.FromAxisAngle(vec.UnitX, pitch)), nil
	case sy.RotSendFull:
		angle, q, err := r.ReadQuantizedFloat(0, math.Pi, 10)
		if err != nil {
			return vec.Identity, err
		}
		if q == 0 {
			return vec.Identity, nil
		}
		x, y, z, err := r.ReadNormalizedVector3D(11, 10)
		if err != nil {
			return vec.Identity, err
		}
		return vec.FromAxisAngle(vec.Vec3Float{X: x, Y: y, Z: z}, angle), nil
	default:
		return vec.Identity, nil
	}
}

func writeScale(w *bitio.Writer, t sy.ScaleSendType, scale vec.Vec3Float) {
	switch t {
	case sy.ScaleSendUniform:
		w.WriteSignedFixedPoint(8, 8, scale.X)
	case sy.ScaleSendAll:
		w.WriteSignedFixedPoint(8, 8, scale.X)
		w.WriteSignedFixedPoint(8, 8, scale.Y)
		w.WriteSignedFixedPoint(8, 8, scale.Z)
	}
}

func readScale(r *bitio.Reader, t sy.ScaleSendType) (vec.Vec3Float, error) {
	switch t {
	case sy.ScaleSendUniform:
		v, err := r.ReadSignedFixedPoint(8, 8)
		if err != nil {
			return vec.Ones3, err
		}
		return vec.Vec3Float{X: v, Y: v, Z: v}, nil
	case sy.ScaleSendAll:
		x, err := r.ReadSignedFixedPoint(8, 8)
		if err != nil {
			return vec.Ones3, err
		}
		y, err := r.ReadSignedFixedPoint(8, 8)
		if err != nil {
			return vec.Ones3, err
		}
		z, err := r.ReadSignedFixedPoint(8, 8)
		if err != nil {
			return vec.Ones3, err
		}
		return vec.Vec3Float{X: x, Y: y, Z: z}, nil
	default:
		return vec.Ones3, nil
	}
}

// writeVelocity spends fewer fractional bits on the Z axis for slow
// bodies (Compact, 11/10/3/8) and more for fast ones (Full, 11/10/10/8),
// gated by DetectVelSendType's |v|^2 >= 64 check.
func writeVelocity(w *bitio.Writer, t sy.VelSendType, v vec.Vec3Float) {
	switch t {
	case sy.VelSendCompact:
		w.WriteVector3D(v.X, v.Y, v.Z, 11, 10, 3, 8)
	case sy.VelSendFull:
		w.WriteVector3D(v.X, v.Y, v.Z, 11, 10, 10, 8)
	}
}

func readVelocity(r *bitio.Reader, t sy.VelSendType) (vec.Vec3Float, bool, error) {
	switch t {
	case sy.VelSendCompact:
		x, y, z, err := r.ReadVector3D(11, 10, 3, 8)
		if err != nil {
			return vec.Zero3, false, err
		}
		return vec.Vec3Float{X: x, Y: y, Z: z}, true, nil
	case sy.VelSendFull:
		x, y, z, err := r.ReadVector3D(11, 10, 10, 8)
		if err != nil {
			return vec.Zero3, false, err
		}
		return vec.Vec3Float{X: x, Y: y, Z: z}, true, nil
	default:
		return vec.Zero3, false, nil
	}
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
