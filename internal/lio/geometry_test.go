package lio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpLogRoundTrip(t *testing.T) {
	for _, w := range []V3{
		{0.1, 0.2, 0.3},
		{0, 0, 0},
		{1e-12, 0, 0},
		{0, 0, math.Pi / 2},
		{-2, 1, 0.5},
	} {
		got := LogQuat(ExpQuat(w))
		for i := 0; i < 3; i++ {
			assert.InDelta(t, w[i], got[i], 1e-9, "w=%v component %d", w, i)
		}
	}
}

func TestExpSO3MatchesQuat(t *testing.T) {
	w := V3{0.3, -0.4, 0.5}
	m := ExpSO3(w)
	q := ExpQuat(w)
	v := V3{1, 2, 3}
	mv := m.MulV(v)
	qv := q.Rotate(v)
	for i := 0; i < 3; i++ {
		assert.InDelta(t, mv[i], qv[i], 1e-9)
	}
}

func TestQuatMatrixRoundTrip(t *testing.T) {
	q := ExpQuat(V3{0.7, -0.2, 1.1})
	back := QuatFromMatrix(q.Matrix())
	// Same rotation up to sign.
	dot := q.W*back.W + q.X*back.X + q.Y*back.Y + q.Z*back.Z
	assert.InDelta(t, 1.0, math.Abs(dot), 1e-9)
}

func TestSkewCross(t *testing.T) {
	a := V3{1, -2, 3}
	b := V3{0.5, 4, -1}
	sk := Skew(a).MulV(b)
	cr := a.Cross(b)
	assert.Equal(t, cr, sk)
}

func TestS2RoundTrip(t *testing.T) {
	g := V3{0.3, -0.2, -9.8}.Normalized().Scale(GravityMagnitude)
	g2 := S2Plus(g, 0.05, -0.02)
	assert.InDelta(t, GravityMagnitude, g2.Norm(), 1e-9, "stays on the sphere")

	d0, d1 := S2Minus(g2, g)
	assert.InDelta(t, 0.05, d0, 1e-9)
	assert.InDelta(t, -0.02, d1, 1e-9)
}

func TestTransformCompose(t *testing.T) {
	a := Transform{
		Frame: "world", Child: "lidar",
		Trans: V3{1, 0, 0},
		Rot:   ExpQuat(V3{0, 0, math.Pi / 2}),
	}
	b := Transform{
		Frame: "lidar", Child: "base",
		Trans: V3{1, 0, 0},
		Rot:   IdentityQuat,
	}
	c := a.Compose(b)
	require.Equal(t, "world", c.Frame)
	require.Equal(t, "base", c.Child)
	// Rotating (1,0,0) by 90° about z gives (0,1,0).
	assert.InDelta(t, 1.0, c.Trans[0], 1e-9)
	assert.InDelta(t, 1.0, c.Trans[1], 1e-9)
}
