package vec

import "math"

// Vec3Float представляет трёхмерный вектор с плавающими координатами —
// позиция, масштаб или скорость твёрдого тела в мировых единицах.
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

var (
	Zero3 = Vec3Float{0, 0, 0}
	UnitX = Vec3Float{1, 0, 0}
	UnitY = Vec3Float{0, 1, 0}
	UnitZ = Vec3Float{0, 0, 1}
	Ones3 = Vec3Float{1, 1, 1}
)

func (v Vec3Float) Add(o Vec3Float) Vec3Float {
	return Vec3Float{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3Float) Sub(o Vec3Float) Vec3Float {
	return Vec3Float{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3Float) Mul(s float64) Vec3Float {
	return Vec3Float{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3Float) Dot(o Vec3Float) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3Float) Cross(o Vec3Float) Vec3Float {
	return Vec3Float{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3Float) LengthSq() float64 {
	return v.Dot(v)
}

func (v Vec3Float) Length() float64 {
	return math.Sqrt(v.LengthSq())
}

func (v Vec3Float) DistanceTo(o Vec3Float) float64 {
	return v.Sub(o).Length()
}

func (v Vec3Float) Normalized() Vec3Float {
	l := v.Length()
	if l < 1e-9 {
		return Zero3
	}
	return v.Mul(1.0 / l)
}

// Abs возвращает покомпонентный модуль.
func (v Vec3Float) Abs() Vec3Float {
	return Vec3Float{math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)}
}

// MaxElement возвращает наибольшую из трёх компонент.
func (v Vec3Float) MaxElement() float64 {
	m := v.X
	if v.Y > m {
		m = v.Y
	}
	if v.Z > m {
		m = v.Z
	}
	return m
}

// Equals сообщает, совпадают ли векторы покомпонентно с точностью eps.
func (v Vec3Float) Equals(o Vec3Float, eps float64) bool {
	return math.Abs(v.X-o.X) <= eps && math.Abs(v.Y-o.Y) <= eps && math.Abs(v.Z-o.Z) <= eps
}

func (v Vec3Float) IsZero(eps float64) bool {
	return v.Equals(Zero3, eps)
}

// Lerp линейно интерполирует между v и o при t в [0,1].
func (v Vec3Float) Lerp(o Vec3Float, t float64) Vec3Float {
	return v.Add(o.Sub(v).Mul(t))
}
