package pipeline

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/odometry.report/internal/lio"
)

func TestEstiPlaneFlatFloor(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var pts []lio.Point
	for i := 0; i < 50; i++ {
		pts = append(pts, lio.Point{
			X: rng.Float32()*4 - 2,
			Y: rng.Float32()*4 - 2,
			Z: float32(rng.Float64()*0.002 - 0.001),
		})
	}

	var pc PlaneCoef
	require.True(t, estiPlane(&pc, pts, 0.1))

	n := lio.V3{pc[0], pc[1], pc[2]}
	assert.InDelta(t, 1.0, n.Norm(), 1e-9, "unit normal")
	angle := math.Acos(math.Min(1, math.Abs(n[2])))
	assert.Less(t, angle, 1e-3, "normal aligned with z")
	assert.Less(t, math.Abs(pc[3]), 2e-3, "offset near zero")
}

func TestEstiPlaneRejectsNonPlanar(t *testing.T) {
	var pts []lio.Point
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 20; i++ {
		pts = append(pts, lio.Point{
			X: rng.Float32() * 4,
			Y: rng.Float32() * 4,
			Z: rng.Float32() * 4,
		})
	}
	var pc PlaneCoef
	assert.False(t, estiPlane(&pc, pts, 0.1))
}

func TestEstiPlaneTooFewPoints(t *testing.T) {
	var pc PlaneCoef
	assert.False(t, estiPlane(&pc, []lio.Point{{X: 1}, {Y: 1}}, 0.1))
}

func TestDownsampleVoxelKeepsOnePerVoxel(t *testing.T) {
	var pts []lio.Point
	for i := 0; i < 100; i++ {
		pts = append(pts, lio.Point{X: float32(i%10) * 0.01, Y: 0.2, Z: 0.2})
	}
	out := downsampleVoxel(pts, 0.5)
	assert.Len(t, out, 1)

	pts = append(pts, lio.Point{X: 5, Y: 5, Z: 5})
	out = downsampleVoxel(pts, 0.5)
	assert.Len(t, out, 2)
}

func TestDownsampleVoxelZeroLeafPassthrough(t *testing.T) {
	pts := []lio.Point{{X: 1}, {X: 2}}
	out := downsampleVoxel(pts, 0)
	assert.Equal(t, pts, out)
}

func TestConditionNumberDegenerateGeometry(t *testing.T) {
	// All normals along +z: translation is only observable vertically.
	degenerate := mat.NewDense(50, 12, nil)
	for i := 0; i < 50; i++ {
		degenerate.Set(i, 2, 1)
	}
	condDegenerate := conditionNumber(degenerate)

	// Normals spread across the axes: well-conditioned.
	balanced := mat.NewDense(60, 12, nil)
	for i := 0; i < 60; i++ {
		balanced.Set(i, i%3, 1)
	}
	condBalanced := conditionNumber(balanced)

	assert.Greater(t, condDegenerate, 1e3)
	assert.InDelta(t, 1.0, condBalanced, 1e-3)
}
