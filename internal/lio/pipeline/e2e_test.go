package pipeline

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// TestStaticHoldDrift drives the full engine against a static planar
// scene with a gravity-only IMU stream: after 50 scans the estimate
// must not have crawled away from the origin.
func TestStaticHoldDrift(t *testing.T) {
	p, _ := newTestPipeline(t)
	rng := rand.New(rand.NewSource(42))
	p.Start()

	bag := 0.0
	for scan := 0; scan < 50; scan++ {
		feedScan(p, bag, 0.1, floorScan(rng, 2000, 0.1))
		bag += 0.1
	}
	require.True(t, p.Running(), "session survives the whole hold")

	s := p.State()
	assert.Less(t, s.Pos.Norm(), 0.05, "translation drift: %v", s.Pos)

	angle := lio.LogQuat(s.Rot).Norm()
	assert.Less(t, angle, 0.5*math.Pi/180, "rotation drift: %.4f rad", angle)

	assert.InDelta(t, 1.0, s.Rot.Norm(), 1e-9)
	assert.InDelta(t, lio.GravityMagnitude, s.Grav.Norm(), 1e-6)
}

// TestStaticHoldMapGrowth checks the map maintainer converges: with a
// static scene the voxel count plateaus instead of growing per scan.
func TestStaticHoldMapGrowth(t *testing.T) {
	p, _ := newTestPipeline(t)
	rng := rand.New(rand.NewSource(43))
	p.Start()

	bag := 0.0
	for scan := 0; scan < 10; scan++ {
		feedScan(p, bag, 0.1, floorScan(rng, 2000, 0.1))
		bag += 0.1
	}
	mid := p.ivox.NumVoxels()
	for scan := 0; scan < 10; scan++ {
		feedScan(p, bag, 0.1, floorScan(rng, 2000, 0.1))
		bag += 0.1
	}
	final := p.ivox.NumVoxels()

	require.Greater(t, mid, 0)
	// The 20×20 m floor at 0.5 m resolution holds ~1700 surface voxels;
	// a static scene must not mint new ones without bound.
	assert.Less(t, final, mid*2, "map growth plateaus on a static scene")
}

// TestTrajectorySave exercises the persisted trajectory format.
func TestTrajectorySave(t *testing.T) {
	p, _ := newTestPipeline(t)
	rng := rand.New(rand.NewSource(44))
	p.Start()
	bag := feedUntilTracking(t, p, rng)
	for scan := 0; scan < 5; scan++ {
		feedScan(p, bag, 0.1, floorScan(rng, 1500, 0.1))
		bag += 0.1
	}
	require.NotEmpty(t, p.Path())

	path := t.TempDir() + "/traj.txt"
	require.NoError(t, p.SaveTrajectory(path))

	lines := readLines(t, path)
	require.NotEmpty(t, lines)
	assert.Equal(t, "#timestamp x y z q_x q_y q_z q_w", lines[0])
	assert.Len(t, lines, len(p.Path())+1)
}
