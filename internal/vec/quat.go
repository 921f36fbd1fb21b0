package vec

import "math"

// Quat is a unit quaternion (x,y,z,w) representing a rotation. Used for
// rigid-body orientation in RigidBodyUpdate messages and for client-side
// spherical interpolation.
type Quat struct {
	X, Y, Z, W float64
}

var Identity = Quat{0, 0, 0, 1}

func (q Quat) Dot(o Quat) float64 {
	return q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
}

func (q Quat) Sub(o Quat) Quat {
	return Quat{q.X - o.X, q.Y - o.Y, q.Z - o.Z, q.W - o.W}
}

func (q Quat) LengthSq() float64 {
	return q.Dot(q)
}

func (q Quat) Length() float64 {
	return math.Sqrt(q.Dot(q))
}

func (q Quat) Normalized() Quat {
	l := q.Length()
	if l < 1e-9 {
		return Identity
	}
	inv := 1.0 / l
	return Quat{q.X * inv, q.Y * inv, q.Z * inv, q.W * inv}
}

func (q Quat) Conjugate() Quat {
	return Quat{-q.X, -q.Y, -q.Z, q.W}
}

// Mul composes rotations: (q*o) applies o first, then q.
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

// RotateVec3 applies the rotation to a vector.
func (q Quat) RotateVec3(v Vec3Float) Vec3Float {
	qv := Vec3Float{q.X, q.Y, q.Z}
	uv := qv.Cross(v)
	uuv := qv.Cross(uv)
	return v.Add(uv.Mul(2 * q.W)).Add(uuv.Mul(2))
}

// WorldUp returns the world-space up axis after rotation, used by
// DetectRotSendType to recognize pure-yaw orientations.
func (q Quat) WorldUp() Vec3Float {
	return q.RotateVec3(UnitY)
}

// FromAxisAngle builds a rotation of angle radians around a unit axis.
// If the axis is near-zero the identity rotation is returned.
func FromAxisAngle(axis Vec3Float, angle float64) Quat {
	axis = axis.Normalized()
	if axis.IsZero(1e-9) {
		return Identity
	}
	half := angle * 0.5
	s := math.Sin(half)
	return Quat{axis.X * s, axis.Y * s, axis.Z * s, math.Cos(half)}.Normalized()
}

// ToAxisAngle decomposes the rotation into a unit axis and an angle in [0, pi].
// Mirrors Quat::ToAxisAngle from the source engine: near-identity rotations
// collapse to a zero angle with the X axis as a stable placeholder.
func (q Quat) ToAxisAngle() (axis Vec3Float, angle float64) {
	q = q.Normalized()
	if q.W > 1 {
		q.W = 1
	} else if q.W < -1 {
		q.W = -1
	}
	angle = 2 * math.Acos(q.W)
	s := math.Sqrt(1 - q.W*q.W)
	if s < 1e-6 {
		return UnitX, 0
	}
	return Vec3Float{q.X / s, q.Y / s, q.Z / s}, angle
}

// FromEulerZYX builds a rotation from Euler angles (radians) applied in
// Z, then Y, then X order — the convention used by the engine's angular
// velocity wire encoding.
func FromEulerZYX(z, y, x float64) Quat {
	qz := FromAxisAngle(UnitZ, z)
	qy := FromAxisAngle(UnitY, y)
	qx := FromAxisAngle(UnitX, x)
	return qz.Mul(qy).Mul(qx)
}

// ToEulerZYX extracts approximate Z,Y,X Euler angles (radians) from the
// rotation, used only for diagnostic logging of angular velocity deltas.
func (q Quat) ToEulerZYX() Vec3Float {
	q = q.Normalized()
	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	var y float64
	if sinp >= 1 {
		y = math.Pi / 2
	} else if sinp <= -1 {
		y = -math.Pi / 2
	} else {
		y = math.Asin(sinp)
	}

	sinr := 2 * (q.W*q.X + q.Y*q.Z)
	cosr := 1 - 2*(q.X*q.X+q.Y*q.Y)
	x := math.Atan2(sinr, cosr)

	sinz := 2 * (q.W*q.Z + q.X*q.Y)
	cosz := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	z := math.Atan2(sinz, cosz)

	return Vec3Float{X: x, Y: y, Z: z}
}

// Slerp performs spherical linear interpolation between a and b at t in [0,1],
// taking the shortest arc.
func Slerp(a, b Quat, t float64) Quat {
	a = a.Normalized()
	b = b.Normalized()
	cosHalfTheta := a.Dot(b)
	if cosHalfTheta < 0 {
		b = Quat{-b.X, -b.Y, -b.Z, -b.W}
		cosHalfTheta = -cosHalfTheta
	}
	if cosHalfTheta > 0.9995 {
		return Quat{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
			W: a.W + (b.W-a.W)*t,
		}.Normalized()
	}

	halfTheta := math.Acos(cosHalfTheta)
	sinHalfTheta := math.Sqrt(1 - cosHalfTheta*cosHalfTheta)
	ratioA := math.Sin((1-t)*halfTheta) / sinHalfTheta
	ratioB := math.Sin(t*halfTheta) / sinHalfTheta

	return Quat{
		X: a.X*ratioA + b.X*ratioB,
		Y: a.Y*ratioA + b.Y*ratioB,
		Z: a.Z*ratioA + b.Z*ratioB,
		W: a.W*ratioA + b.W*ratioB,
	}.Normalized()
}
