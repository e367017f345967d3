package l4imu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry.report/internal/lio"
	"github.com/banshee-data/odometry.report/internal/lio/l5ieskf"
)

func testKF() *l5ieskf.Filter {
	return l5ieskf.New(l5ieskf.Config{
		MaxIteration: 4,
		PointCov:     0.001,
		Noise:        l5ieskf.NoiseConfig{GyrCov: 0.1, AccCov: 0.1, BGyrCov: 1e-4, BAccCov: 1e-4},
	})
}

// staticPackage builds a package whose IMU run is gravity-only.
func staticPackage(bag, dur float64, rate int, npts int) *lio.MeasurementPackage {
	pkg := &lio.MeasurementPackage{
		Scan:    &lio.Frame{BagTime: bag},
		BagTime: bag,
		EndTime: bag + dur,
	}
	for i := 0; i < npts; i++ {
		pkg.Scan.Points = append(pkg.Scan.Points, lio.Point{
			X: float32(i%7) + 1, Y: float32(i % 5), Z: -1,
			TOffset: float32(dur * float64(i) / float64(npts)),
		})
	}
	step := dur / float64(rate)
	for ts := bag; ts < bag+dur; ts += step {
		pkg.Imu = append(pkg.Imu, lio.ImuSample{
			Stamp: ts,
			Acc:   lio.V3{0, 0, lio.GravityMagnitude},
		})
	}
	return pkg
}

func TestStaticInitSeedsGravityAndBias(t *testing.T) {
	kf := testKF()
	p := NewProcess(lio.Identity3, lio.Zero3)

	// Add a small gyro bias to the static stream.
	bias := lio.V3{0.002, -0.001, 0.0005}
	var initialized bool
	for scan := 0; scan < 5 && !initialized; scan++ {
		pkg := staticPackage(float64(scan)*0.1, 0.1, 10, 10)
		for i := range pkg.Imu {
			pkg.Imu[i].Gyro = bias
		}
		_, ok := p.Process(pkg, kf)
		initialized = p.Initialized()
		assert.False(t, ok, "scan during init window is skipped")
		if initialized {
			break
		}
	}
	require.True(t, initialized, "init completes after enough samples")

	assert.InDelta(t, -lio.GravityMagnitude, kf.X.Grav[2], 1e-9)
	assert.InDelta(t, 0, kf.X.Grav[0], 1e-9)
	assert.InDelta(t, bias[0], kf.X.BG[0], 1e-9)
	assert.InDelta(t, bias[1], kf.X.BG[1], 1e-9)
}

func initProcess(t *testing.T, kf *l5ieskf.Filter, p *Process) float64 {
	t.Helper()
	bag := 0.0
	for scan := 0; scan < 5; scan++ {
		bag = float64(scan) * 0.1
		p.Process(staticPackage(bag, 0.1, 10, 10), kf)
		if p.Initialized() {
			return bag + 0.1
		}
	}
	t.Fatal("imu init did not complete")
	return 0
}

func TestUndistortionIdempotentWhenStatic(t *testing.T) {
	kf := testKF()
	p := NewProcess(lio.Identity3, lio.Zero3)
	next := initProcess(t, kf, p)

	pkg := staticPackage(next, 0.1, 10, 200)
	raw := append([]lio.Point(nil), pkg.Scan.Points...)

	out, ok := p.Process(pkg, kf)
	require.True(t, ok)
	require.Len(t, out, len(raw))
	for i := range out {
		assert.InDelta(t, float64(raw[i].X), float64(out[i].X), 1e-6, "point %d x", i)
		assert.InDelta(t, float64(raw[i].Y), float64(out[i].Y), 1e-6, "point %d y", i)
		assert.InDelta(t, float64(raw[i].Z), float64(out[i].Z), 1e-6, "point %d z", i)
	}
	assert.InDelta(t, 0, kf.X.Pos.Norm(), 1e-6, "static stream leaves the pose put")
	assert.InDelta(t, 1.0, kf.X.Rot.Norm(), 1e-9)
}

func TestUndistortionPreservesIntensity(t *testing.T) {
	kf := testKF()
	p := NewProcess(lio.Identity3, lio.Zero3)
	next := initProcess(t, kf, p)

	pkg := staticPackage(next, 0.1, 10, 50)
	for i := range pkg.Scan.Points {
		pkg.Scan.Points[i].Intensity = float32(i)
	}
	out, ok := p.Process(pkg, kf)
	require.True(t, ok)
	for i := range out {
		assert.Equal(t, float32(i), out[i].Intensity)
	}
}

func TestResetReopensInitWindow(t *testing.T) {
	kf := testKF()
	p := NewProcess(lio.Identity3, lio.Zero3)
	initProcess(t, kf, p)
	require.True(t, p.Initialized())

	p.Reset()
	assert.False(t, p.Initialized())
}

func TestEmptyPackageSkipped(t *testing.T) {
	kf := testKF()
	p := NewProcess(lio.Identity3, lio.Zero3)
	_, ok := p.Process(&lio.MeasurementPackage{Scan: &lio.Frame{}}, kf)
	assert.False(t, ok)
}
