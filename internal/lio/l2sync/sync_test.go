package l2sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry.report/internal/lio"
)

func sweep(bag float64, dur float64, n int) *lio.Frame {
	f := &lio.Frame{BagTime: bag}
	for i := 0; i < n; i++ {
		f.Points = append(f.Points, lio.Point{
			X: 1, TOffset: float32(dur * float64(i) / float64(n-1)),
		})
	}
	return f
}

func imuAt(stamp float64) lio.ImuSample {
	return lio.ImuSample{Stamp: stamp, Acc: lio.V3{0, 0, lio.GravityMagnitude}}
}

func TestSyncWaitsForCoverage(t *testing.T) {
	s := New(false)
	s.PushLidar(sweep(10.0, 0.1, 20))

	_, ok := s.SyncPackages()
	assert.False(t, ok, "no imu at all")

	s.PushImu(imuAt(10.05))
	_, ok = s.SyncPackages()
	assert.False(t, ok, "imu coverage incomplete")

	s.PushImu(imuAt(10.11))
	pkg, ok := s.SyncPackages()
	require.True(t, ok)
	assert.InDelta(t, 10.1, pkg.EndTime, 1e-9)
	// The sample past end time stays queued for the next package.
	require.Len(t, pkg.Imu, 1)
	assert.InDelta(t, 10.05, pkg.Imu[0].Stamp, 1e-9)
	_, imuDepth := s.QueueDepths()
	assert.Equal(t, 1, imuDepth)
}

func TestSyncEndTimeStrictlyIncreasing(t *testing.T) {
	s := New(false)
	for i := 0; i < 5; i++ {
		bag := 10.0 + float64(i)*0.1
		s.PushLidar(sweep(bag, 0.1, 20))
	}
	for ts := 9.9; ts < 11.0; ts += 0.01 {
		s.PushImu(imuAt(ts))
	}

	prev := 0.0
	emitted := 0
	for {
		pkg, ok := s.SyncPackages()
		if !ok {
			break
		}
		assert.Greater(t, pkg.EndTime, prev)
		for _, m := range pkg.Imu {
			assert.GreaterOrEqual(t, m.Stamp, prev)
			assert.Less(t, m.Stamp, pkg.EndTime)
		}
		prev = pkg.EndTime
		emitted++
	}
	assert.GreaterOrEqual(t, emitted, 4)
}

func TestSyncMeanScantimeFallback(t *testing.T) {
	s := New(false)
	// Two healthy sweeps establish the running mean.
	s.PushLidar(sweep(10.0, 0.1, 20))
	s.PushLidar(sweep(10.1, 0.1, 20))
	// Third sweep's last offset is implausibly small.
	bad := sweep(10.2, 0.1, 20)
	for i := range bad.Points {
		bad.Points[i].TOffset = 0.001
	}
	s.PushLidar(bad)
	for ts := 9.9; ts < 10.5; ts += 0.005 {
		s.PushImu(imuAt(ts))
	}

	var pkgs []*lio.MeasurementPackage
	for {
		pkg, ok := s.SyncPackages()
		if !ok {
			break
		}
		pkgs = append(pkgs, pkg)
	}
	require.Len(t, pkgs, 3)
	assert.InDelta(t, 10.3, pkgs[2].EndTime, 1e-6, "falls back to bag_time + mean scantime")
}

func TestLidarLoopBackClearsQueue(t *testing.T) {
	s := New(false)
	s.PushLidar(sweep(10.0, 0.1, 20))
	s.PushLidar(sweep(5.0, 0.1, 20)) // loop-back
	lidarDepth, _ := s.QueueDepths()
	assert.Equal(t, 1, lidarDepth)

	for ts := 4.9; ts < 5.3; ts += 0.01 {
		s.PushImu(imuAt(ts))
	}
	pkg, ok := s.SyncPackages()
	require.True(t, ok)
	assert.InDelta(t, 5.1, pkg.EndTime, 1e-9)
}

func TestImuLoopBackClearsQueue(t *testing.T) {
	s := New(false)
	s.PushImu(imuAt(10.0))
	s.PushImu(imuAt(10.01))
	s.PushImu(imuAt(9.0)) // loop-back
	_, imuDepth := s.QueueDepths()
	assert.Equal(t, 1, imuDepth)
}

func TestTimeSyncOffsetApplied(t *testing.T) {
	s := New(true)
	s.SetTimeOffset(0.5)
	s.PushImu(imuAt(10.0))
	s.PushLidar(sweep(10.35, 0.1, 20))
	s.PushImu(imuAt(10.1)) // shifted to 10.6, past scan end

	pkg, ok := s.SyncPackages()
	require.True(t, ok)
	require.Len(t, pkg.Imu, 1)
	assert.InDelta(t, 10.5, pkg.Imu[0].Stamp, 1e-9)
}

func TestResetClearsStagedState(t *testing.T) {
	s := New(false)
	s.PushLidar(sweep(10.0, 0.1, 20))
	s.PushImu(imuAt(10.05))
	_, ok := s.SyncPackages() // stages the frame
	assert.False(t, ok)

	s.Reset()
	lidarDepth, imuDepth := s.QueueDepths()
	assert.Zero(t, lidarDepth)
	assert.Zero(t, imuDepth)

	// After reset the synchronizer accepts earlier stamps without a
	// loop-back being involved.
	s.PushLidar(sweep(1.0, 0.1, 20))
	for ts := 0.9; ts < 1.3; ts += 0.01 {
		s.PushImu(imuAt(ts))
	}
	pkg, ok := s.SyncPackages()
	require.True(t, ok)
	assert.InDelta(t, 1.1, pkg.EndTime, 1e-9)
}
