package lio

import "math"

// V3 is a 3-vector, used for positions, velocities, angular rates and
// gravity throughout the filter.
type V3 [3]float64

// Zero3 is the zero vector.
var Zero3 = V3{}

func (v V3) Add(o V3) V3        { return V3{v[0] + o[0], v[1] + o[1], v[2] + o[2]} }
func (v V3) Sub(o V3) V3        { return V3{v[0] - o[0], v[1] - o[1], v[2] - o[2]} }
func (v V3) Scale(s float64) V3 { return V3{v[0] * s, v[1] * s, v[2] * s} }
func (v V3) Dot(o V3) float64   { return v[0]*o[0] + v[1]*o[1] + v[2]*o[2] }

func (v V3) Cross(o V3) V3 {
	return V3{
		v[1]*o[2] - v[2]*o[1],
		v[2]*o[0] - v[0]*o[2],
		v[0]*o[1] - v[1]*o[0],
	}
}

func (v V3) Norm() float64        { return math.Sqrt(v.Dot(v)) }
func (v V3) SquaredNorm() float64 { return v.Dot(v) }

// Normalized returns v scaled to unit length; the zero vector is returned
// unchanged.
func (v V3) Normalized() V3 {
	n := v.Norm()
	if n == 0 {
		return v
	}
	return v.Scale(1 / n)
}

// M3 is a 3×3 row-major matrix.
type M3 [9]float64

// Identity3 is the 3×3 identity.
var Identity3 = M3{1, 0, 0, 0, 1, 0, 0, 0, 1}

func (m M3) MulV(v V3) V3 {
	return V3{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

func (m M3) Mul(o M3) M3 {
	var r M3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i*3+j] = m[i*3]*o[j] + m[i*3+1]*o[3+j] + m[i*3+2]*o[6+j]
		}
	}
	return r
}

func (m M3) Transpose() M3 {
	return M3{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}
}

func (m M3) Scale(s float64) M3 {
	var r M3
	for i := range m {
		r[i] = m[i] * s
	}
	return r
}

// Skew returns the cross-product matrix [v]× such that Skew(v).MulV(u) ==
// v.Cross(u).
func Skew(v V3) M3 {
	return M3{
		0, -v[2], v[1],
		v[2], 0, -v[0],
		-v[1], v[0], 0,
	}
}

// ExpSO3 maps a rotation vector to a rotation matrix via Rodrigues.
func ExpSO3(w V3) M3 {
	theta := w.Norm()
	if theta < 1e-11 {
		// First-order expansion keeps undistortion stable for tiny steps.
		return Identity3.addM3(Skew(w))
	}
	a := w.Scale(1 / theta)
	k := Skew(a)
	s, c := math.Sin(theta), math.Cos(theta)
	r := Identity3
	r = r.addM3(k.Scale(s))
	r = r.addM3(k.Mul(k).Scale(1 - c))
	return r
}

func (m M3) addM3(o M3) M3 {
	var r M3
	for i := range m {
		r[i] = m[i] + o[i]
	}
	return r
}

// Quat is a unit quaternion representing a rotation. Rotations compose
// with right perturbation: q' = q ⊗ Exp(δ).
type Quat struct {
	W, X, Y, Z float64
}

// IdentityQuat is the identity rotation.
var IdentityQuat = Quat{W: 1}

func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

func (q Quat) Conj() Quat { return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z} }

func (q Quat) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalized renormalises the quaternion; mandatory after every
// composition so R stays on the unit sphere.
func (q Quat) Normalized() Quat {
	n := q.Norm()
	if n == 0 {
		return IdentityQuat
	}
	return Quat{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v V3) V3 {
	return q.Matrix().MulV(v)
}

// Matrix converts the quaternion to a rotation matrix.
func (q Quat) Matrix() M3 {
	w, x, y, z := q.W, q.X, q.Y, q.Z
	return M3{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}
}

// ExpQuat maps a rotation vector to a unit quaternion.
func ExpQuat(w V3) Quat {
	theta := w.Norm()
	if theta < 1e-11 {
		return Quat{W: 1, X: w[0] / 2, Y: w[1] / 2, Z: w[2] / 2}.Normalized()
	}
	s := math.Sin(theta/2) / theta
	return Quat{W: math.Cos(theta / 2), X: w[0] * s, Y: w[1] * s, Z: w[2] * s}
}

// LogQuat maps a unit quaternion to its rotation vector.
func LogQuat(q Quat) V3 {
	if q.W < 0 {
		q = Quat{W: -q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
	}
	vn := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if vn < 1e-11 {
		return V3{2 * q.X, 2 * q.Y, 2 * q.Z}
	}
	theta := 2 * math.Atan2(vn, q.W)
	s := theta / vn
	return V3{q.X * s, q.Y * s, q.Z * s}
}

// QuatFromMatrix converts a rotation matrix to a unit quaternion.
func QuatFromMatrix(m M3) Quat {
	tr := m[0] + m[4] + m[8]
	var q Quat
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = Quat{W: s / 4, X: (m[7] - m[5]) / s, Y: (m[2] - m[6]) / s, Z: (m[3] - m[1]) / s}
	case m[0] > m[4] && m[0] > m[8]:
		s := math.Sqrt(1+m[0]-m[4]-m[8]) * 2
		q = Quat{W: (m[7] - m[5]) / s, X: s / 4, Y: (m[1] + m[3]) / s, Z: (m[2] + m[6]) / s}
	case m[4] > m[8]:
		s := math.Sqrt(1+m[4]-m[0]-m[8]) * 2
		q = Quat{W: (m[2] - m[6]) / s, X: (m[1] + m[3]) / s, Y: s / 4, Z: (m[5] + m[7]) / s}
	default:
		s := math.Sqrt(1+m[8]-m[0]-m[4]) * 2
		q = Quat{W: (m[3] - m[1]) / s, X: (m[2] + m[6]) / s, Y: (m[5] + m[7]) / s, Z: s / 4}
	}
	return q.Normalized()
}

// S2Basis returns an orthonormal basis (b1, b2) of the tangent plane at g
// on the sphere of radius ‖g‖. Used for the 2-DoF gravity perturbation.
func S2Basis(g V3) (V3, V3) {
	n := g.Normalized()
	ref := V3{1, 0, 0}
	if math.Abs(n[0]) > 0.9 {
		ref = V3{0, 1, 0}
	}
	b1 := n.Cross(ref).Normalized()
	b2 := n.Cross(b1).Normalized()
	return b1, b2
}

// S2Plus perturbs g along the sphere of radius ‖g‖ by the 2-vector
// (d0, d1) expressed in the tangent basis at g.
func S2Plus(g V3, d0, d1 float64) V3 {
	b1, b2 := S2Basis(g)
	axis := b1.Scale(d0).Add(b2.Scale(d1))
	return ExpSO3(axis).MulV(g)
}

// S2Minus returns the tangent-space difference g1 ⊟ g0 as a 2-vector in
// the basis at g0.
func S2Minus(g1, g0 V3) (float64, float64) {
	n0, n1 := g0.Normalized(), g1.Normalized()
	c := n0.Dot(n1)
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	theta := math.Acos(c)
	if theta < 1e-11 {
		return 0, 0
	}
	axis := n0.Cross(n1).Normalized().Scale(theta)
	b1, b2 := S2Basis(g0)
	return axis.Dot(b1), axis.Dot(b2)
}
