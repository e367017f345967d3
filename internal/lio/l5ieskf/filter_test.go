package l5ieskf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/odometry.report/internal/lio"
)

func testFilter() *Filter {
	return New(Config{
		MaxIteration: 4,
		PointCov:     0.001,
		Noise:        NoiseConfig{GyrCov: 0.1, AccCov: 0.1, BGyrCov: 1e-4, BAccCov: 1e-4},
	})
}

func assertCovarianceHealthy(t *testing.T, p *mat.Dense) {
	t.Helper()
	for i := 0; i < ErrDim; i++ {
		for j := i; j < ErrDim; j++ {
			assert.InDelta(t, p.At(i, j), p.At(j, i), 1e-12, "P symmetric at (%d,%d)", i, j)
		}
	}
	sym := mat.NewSymDense(ErrDim, nil)
	for i := 0; i < ErrDim; i++ {
		for j := i; j < ErrDim; j++ {
			sym.SetSym(i, j, p.At(i, j))
		}
	}
	var eig mat.EigenSym
	require.True(t, eig.Factorize(sym, false))
	for _, v := range eig.Values(nil) {
		assert.GreaterOrEqual(t, v, -1e-9, "P positive semidefinite")
	}
}

func TestPredictKeepsInvariants(t *testing.T) {
	f := testFilter()
	gyr := lio.V3{0.1, -0.2, 0.3}
	acc := lio.V3{0.5, 0, 9.81}
	for i := 0; i < 200; i++ {
		f.Predict(0.005, gyr, acc)
	}
	assert.InDelta(t, 1.0, f.X.Rot.Norm(), 1e-9)
	assert.InDelta(t, 1.0, f.X.ExtR.Norm(), 1e-9)
	assertCovarianceHealthy(t, f.P)
}

func TestPredictStaticIsStationary(t *testing.T) {
	f := testFilter()
	// Gravity cancels the specific force exactly.
	for i := 0; i < 100; i++ {
		f.Predict(0.01, lio.Zero3, lio.V3{0, 0, lio.GravityMagnitude})
	}
	assert.InDelta(t, 0, f.X.Pos.Norm(), 1e-9)
	assert.InDelta(t, 0, f.X.Vel.Norm(), 1e-9)
}

func TestPredictConstantAcceleration(t *testing.T) {
	f := testFilter()
	// 1 m/s² along x on top of gravity compensation.
	for i := 0; i < 100; i++ {
		f.Predict(0.01, lio.Zero3, lio.V3{1, 0, lio.GravityMagnitude})
	}
	assert.InDelta(t, 1.0, f.X.Vel[0], 1e-6)
	assert.InDelta(t, 0.5, f.X.Pos[0], 1e-3)
}

func TestBoxPlusBoxMinusRoundTrip(t *testing.T) {
	s := NewState()
	s.Rot = lio.ExpQuat(lio.V3{0.3, -0.1, 0.2})
	base := s

	dx := make([]float64, ErrDim)
	for i := range dx {
		dx[i] = 0.01 * float64(i%5)
	}
	s.BoxPlus(dx)
	got := s.BoxMinus(&base)
	for i := range dx {
		assert.InDelta(t, dx[i], got[i], 1e-6, "component %d", i)
	}
}

func TestBoxPlusPreservesGravityNorm(t *testing.T) {
	s := NewState()
	dx := make([]float64, ErrDim)
	dx[IxGrav] = 0.2
	dx[IxGrav+1] = -0.1
	s.BoxPlus(dx)
	assert.InDelta(t, lio.GravityMagnitude, s.Grav.Norm(), 1e-9)
}

// positionObservation constrains each axis directly: one plane per axis
// through the target position.
func positionObservation(target lio.V3) ObservationModel {
	return func(s *State, ctx *ObservationContext) {
		h := mat.NewDense(3, HCols, nil)
		z := make([]float64, 3)
		for axis := 0; axis < 3; axis++ {
			h.Set(axis, axis, 1)
			z[axis] = target[axis] - s.Pos[axis]
		}
		ctx.H = h
		ctx.Z = z
	}
}

func TestUpdateIteratedConvergesToObservation(t *testing.T) {
	f := testFilter()
	target := lio.V3{1.0, -0.5, 0.25}
	require.NoError(t, f.UpdateIterated(positionObservation(target)))

	// Prior is loose (1 m²) against a 0.001 measurement covariance, so
	// the posterior sits essentially on the observation.
	assert.InDelta(t, target[0], f.X.Pos[0], 1e-2)
	assert.InDelta(t, target[1], f.X.Pos[1], 1e-2)
	assert.InDelta(t, target[2], f.X.Pos[2], 1e-2)

	assertCovarianceHealthy(t, f.P)
	assert.Less(t, f.P.At(0, 0), 0.1, "position variance collapsed by the update")
	assert.InDelta(t, 1.0, f.X.Rot.Norm(), 1e-9)
}

func TestUpdateIteratedStarvation(t *testing.T) {
	f := testFilter()
	before := f.X
	err := f.UpdateIterated(func(s *State, ctx *ObservationContext) {
		ctx.Valid = false
	})
	assert.ErrorIs(t, err, ErrNoEffectivePoints)
	assert.Equal(t, before.Pos, f.X.Pos, "state preserved on starvation")
}

func TestUpdateIteratedConvergeHint(t *testing.T) {
	f := testFilter()
	var hints []bool
	obs := func(s *State, ctx *ObservationContext) {
		hints = append(hints, ctx.Converge)
		positionObservation(lio.V3{0.001, 0, 0})(s, ctx)
	}
	require.NoError(t, f.UpdateIterated(obs))
	require.NotEmpty(t, hints)
	assert.False(t, hints[0], "first iteration always refreshes correspondences")
	if len(hints) > 1 {
		assert.True(t, hints[len(hints)-1], "converged tail reuses cached correspondences")
	}
}

func TestUpdateShrinksUncertainty(t *testing.T) {
	f := testFilter()
	f.Predict(0.1, lio.Zero3, lio.V3{0, 0, lio.GravityMagnitude})
	priorVar := f.P.At(0, 0)
	require.NoError(t, f.UpdateIterated(positionObservation(lio.Zero3)))
	assert.Less(t, f.P.At(0, 0), priorVar)
}

func TestGravityStaysOnSphereThroughUpdates(t *testing.T) {
	f := testFilter()
	for i := 0; i < 5; i++ {
		f.Predict(0.01, lio.V3{0.01, 0.02, -0.01}, lio.V3{0.1, -0.1, 9.8})
		_ = f.UpdateIterated(positionObservation(lio.V3{0.01 * float64(i), 0, 0}))
	}
	assert.InDelta(t, lio.GravityMagnitude, f.X.Grav.Norm(), 1e-9)
	assert.False(t, math.IsNaN(f.X.Pos.Norm()))
}
