package l4imu

import (
	"github.com/banshee-data/odometry.report/internal/lio"
	"github.com/banshee-data/odometry.report/internal/lio/l5ieskf"
)

// MaxInitCount bounds the static window: the initialisation seeds the
// filter once more than MaxInitCount IMU samples have been accumulated.
const MaxInitCount = 20

// imuPose records the propagated state at one IMU step, used to bracket
// per-point timestamps during undistortion. Offsets are seconds relative
// to the sweep start.
type imuPose struct {
	offt float64
	acc  lio.V3 // world acceleration, gravity included
	gyr  lio.V3 // bias-corrected body rate
	vel  lio.V3
	pos  lio.V3
	rot  lio.M3
}

// Process owns IMU-side state across packages: the trailing sample of
// the previous package, the propagated pose trail, and the static
// initialisation accumulators.
type Process struct {
	extR lio.Quat
	extT lio.V3

	needInit  bool
	initCount int
	meanAcc   lio.V3
	meanGyr   lio.V3
	accScale  float64

	lastImu      lio.ImuSample
	lastLidarEnd float64
	poses        []imuPose
}

// NewProcess creates an IMU processor with the configured LiDAR-to-IMU
// extrinsic.
func NewProcess(extR lio.M3, extT lio.V3) *Process {
	return &Process{
		extR:     lio.QuatFromMatrix(extR),
		extT:     extT,
		needInit: true,
		accScale: 1,
	}
}

// Reset returns the processor to the uninitialised condition.
func (p *Process) Reset() {
	p.needInit = true
	p.initCount = 0
	p.meanAcc = lio.Zero3
	p.meanGyr = lio.Zero3
	p.accScale = 1
	p.lastImu = lio.ImuSample{}
	p.lastLidarEnd = 0
	p.poses = p.poses[:0]
}

// Initialized reports whether the static window has completed.
func (p *Process) Initialized() bool { return !p.needInit }

// init accumulates sample means; once enough have been seen it seeds
// gravity, gyro bias, and the extrinsic into the filter state.
func (p *Process) init(pkg *lio.MeasurementPackage, kf *l5ieskf.Filter) {
	for _, m := range pkg.Imu {
		p.initCount++
		n := float64(p.initCount)
		p.meanAcc = p.meanAcc.Add(m.Acc.Sub(p.meanAcc).Scale(1 / n))
		p.meanGyr = p.meanGyr.Add(m.Gyro.Sub(p.meanGyr).Scale(1 / n))
	}
	if p.initCount <= MaxInitCount {
		return
	}

	accNorm := p.meanAcc.Norm()
	if accNorm > 0 {
		p.accScale = lio.GravityMagnitude / accNorm
		kf.X.Grav = p.meanAcc.Normalized().Scale(-lio.GravityMagnitude)
	}
	kf.X.BG = p.meanGyr
	kf.X.ExtR = p.extR
	kf.X.ExtT = p.extT
	p.needInit = false
	lio.Diagf("imu init done: %d samples, |mean acc| %.4f, gravity (%.3f %.3f %.3f)",
		p.initCount, accNorm, kf.X.Grav[0], kf.X.Grav[1], kf.X.Grav[2])
}

// Process integrates the package's IMU run through the filter and
// returns the undistorted sweep in the LiDAR frame at EndTime. ok is
// false while the initialisation window is still open or the package
// carries no usable data.
func (p *Process) Process(pkg *lio.MeasurementPackage, kf *l5ieskf.Filter) ([]lio.Point, bool) {
	if pkg.Scan == nil || len(pkg.Imu) == 0 {
		return nil, false
	}

	if p.needInit {
		p.init(pkg, kf)
		p.lastImu = pkg.Imu[len(pkg.Imu)-1]
		p.lastLidarEnd = pkg.EndTime
		return nil, false
	}

	cloud := p.undistort(pkg, kf)
	p.lastImu = pkg.Imu[len(pkg.Imu)-1]
	p.lastLidarEnd = pkg.EndTime
	return cloud, true
}

// undistort forward-integrates the IMU run with the midpoint rule,
// recording a pose per step, then back-projects each point onto the
// sweep-end frame.
func (p *Process) undistort(pkg *lio.MeasurementPackage, kf *l5ieskf.Filter) []lio.Point {
	samples := make([]lio.ImuSample, 0, len(pkg.Imu)+1)
	if p.lastImu.Stamp > 0 {
		samples = append(samples, p.lastImu)
	}
	samples = append(samples, pkg.Imu...)

	pclBeg := pkg.BagTime
	p.poses = p.poses[:0]
	p.poses = append(p.poses, imuPose{
		offt: 0,
		vel:  kf.X.Vel,
		pos:  kf.X.Pos,
		rot:  kf.X.Rot.Matrix(),
	})

	for i := 0; i+1 < len(samples); i++ {
		head, tail := samples[i], samples[i+1]
		if tail.Stamp < p.lastLidarEnd {
			continue
		}
		gyrAvr := head.Gyro.Add(tail.Gyro).Scale(0.5)
		accAvr := head.Acc.Add(tail.Acc).Scale(0.5 * p.accScale)

		var dt float64
		if head.Stamp < p.lastLidarEnd {
			dt = tail.Stamp - p.lastLidarEnd
		} else {
			dt = tail.Stamp - head.Stamp
		}
		if dt <= 0 {
			continue
		}
		kf.Predict(dt, gyrAvr, accAvr)

		rm := kf.X.Rot.Matrix()
		p.poses = append(p.poses, imuPose{
			offt: tail.Stamp - pclBeg,
			acc:  rm.MulV(accAvr.Sub(kf.X.BA)).Add(kf.X.Grav),
			gyr:  gyrAvr.Sub(kf.X.BG),
			vel:  kf.X.Vel,
			pos:  kf.X.Pos,
			rot:  rm,
		})
	}

	// Close the gap between the last sample and the scan end.
	if n := len(samples); n > 0 {
		dtEnd := pkg.EndTime - samples[n-1].Stamp
		if dtEnd > 0 {
			last := samples[n-1]
			kf.Predict(dtEnd, last.Gyro, last.Acc.Scale(p.accScale))
		}
	}

	endRotT := kf.X.Rot.Matrix().Transpose()
	endPos := kf.X.Pos
	extRM := kf.X.ExtR.Matrix()
	extRT := extRM.Transpose()
	extT := kf.X.ExtT

	out := append([]lio.Point(nil), pkg.Scan.Points...)
	if len(p.poses) < 2 {
		return out
	}

	// Walk points from the sweep tail backwards through the bracketing
	// IMU steps.
	i := len(out) - 1
	for kp := len(p.poses) - 1; kp > 0 && i >= 0; kp-- {
		head := p.poses[kp-1]
		tail := p.poses[kp]
		for ; i >= 0 && float64(out[i].TOffset) > head.offt; i-- {
			dt := float64(out[i].TOffset) - head.offt
			ri := head.rot.Mul(lio.ExpSO3(tail.gyr.Scale(dt)))
			tei := head.pos.Add(head.vel.Scale(dt)).Add(tail.acc.Scale(0.5 * dt * dt)).Sub(endPos)

			pi := out[i].Vec()
			pImu := ri.MulV(extRM.MulV(pi).Add(extT)).Add(tei)
			pEnd := endRotT.MulV(pImu)
			pLidar := extRT.MulV(pEnd.Sub(extT))
			out[i] = lio.PointFrom(pLidar, out[i])
		}
	}
	return out
}
