package pipeline

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/banshee-data/odometry.report/internal/lio"
	"github.com/banshee-data/odometry.report/internal/lio/l2sync"
	"github.com/banshee-data/odometry.report/internal/lio/l3ivox"
	"github.com/banshee-data/odometry.report/internal/lio/l4imu"
	"github.com/banshee-data/odometry.report/internal/lio/l5ieskf"
)

const (
	// LaserPointCov is the scalar measurement covariance shared by all
	// correspondences.
	LaserPointCov = 0.001
	// InitTime is how long after the first scan the filter is treated
	// as initialised enough to grow the map conservatively.
	InitTime = 0.1
	// MinDownsampledPoints stops the session when a scan degenerates.
	MinDownsampledPoints = 5
)

// Config wires the pipeline: the engine configuration plus optional
// output sinks. Nil sinks are skipped.
type Config struct {
	Engine *lio.Config

	Odometry    OdometryPublisher
	Path        PathPublisher
	CloudWorld  CloudPublisher
	CloudBody   CloudPublisher
	CloudEffect CloudPublisher
	Condition   ScalarPublisher
	TF          TransformBroadcaster
	StaticTF    StaticTransformSource
	PCD         CloudAccumulator
}

// Pipeline is the odometry engine: one logical processing thread drains
// the synchronizer while the two producer callbacks push into it.
type Pipeline struct {
	cfg Config

	sync *l2sync.Synchronizer
	imu  *l4imu.Process
	kf   *l5ieskf.Filter
	ivox *l3ivox.IVox

	// Session state. running is the flag the Start/Stop service calls and
	// the starved-scan self-stop flip; everything else is pipeline-thread
	// only.
	running        atomic.Bool
	firstScan      bool
	ekfInited      bool
	firstLidarTime float64
	lidarEndTime   float64
	scanIndex      int

	// Per-scan buffers, resized before each parallel region.
	scanUndistort []lio.Point
	scanDownBody  []lio.Point
	scanDownWorld []lio.Point
	nearestPoints [][]lio.Point
	planeCoef     []PlaneCoef
	planeValid    []bool
	selected      []bool
	residuals     []float64
	corrBody      []lio.Point
	corrPlane     []PlaneCoef
	corrResidual  []float64
	effectCount   int
	condNumber    float64

	path []lio.PoseStamped
}

// New assembles a pipeline from a validated configuration.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Engine == nil {
		return nil, errors.New("pipeline: nil engine config")
	}
	if err := cfg.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	eng := cfg.Engine

	var extR lio.M3
	copy(extR[:], eng.Mapping.ExtrinsicR[:])
	extT := lio.V3(eng.Mapping.ExtrinsicT)

	p := &Pipeline{
		cfg:  cfg,
		sync: l2sync.New(eng.Common.TimeSyncEn),
		imu:  l4imu.NewProcess(extR, extT),
		kf: l5ieskf.New(l5ieskf.Config{
			MaxIteration: eng.MaxIteration,
			PointCov:     LaserPointCov,
			Noise: l5ieskf.NoiseConfig{
				GyrCov:  eng.Mapping.GyrCov,
				AccCov:  eng.Mapping.AccCov,
				BGyrCov: eng.Mapping.BGyrCov,
				BAccCov: eng.Mapping.BAccCov,
			},
		}),
		ivox: l3ivox.New(l3ivox.Options{
			Resolution: eng.IvoxGridResolution,
			Nearby:     l3ivox.NearbyType(eng.IvoxNearbyType),
		}),
		firstScan: true,
	}
	return p, nil
}

// PushLidar is the LiDAR producer callback.
func (p *Pipeline) PushLidar(f *lio.Frame) { p.sync.PushLidar(f) }

// PushImu is the IMU producer callback.
func (p *Pipeline) PushImu(m lio.ImuSample) { p.sync.PushImu(m) }

// SetTimeOffset forwards the measured LiDAR↔IMU clock offset.
func (p *Pipeline) SetTimeOffset(off float64) { p.sync.SetTimeOffset(off) }

// Start arms the session: clears the path and re-arms the first-scan
// seeding.
func (p *Pipeline) Start() {
	p.path = p.path[:0]
	p.firstScan = true
	p.running.Store(true)
	lio.Opsf("starting lidar odometry")
}

// Stop disarms the session; identity poses continue to flow so
// downstream consumers see liveness.
func (p *Pipeline) Stop() {
	p.running.Store(false)
	lio.Opsf("stopping lidar odometry")
}

// Running reports the session state.
func (p *Pipeline) Running() bool { return p.running.Load() }

// Reset clears the map, the filter, the buffers, and the path. It is the
// only call that reinitialises the filter; Start re-arms the first-scan
// map seeding but leaves the filter state untouched.
func (p *Pipeline) Reset() {
	p.ivox.Reset()
	p.kf.Reset()
	p.imu.Reset()
	p.sync.Reset()
	p.firstScan = true
	p.ekfInited = false
	p.firstLidarTime = 0
	p.path = p.path[:0]
}

// Path returns the accumulated trajectory.
func (p *Pipeline) Path() []lio.PoseStamped { return p.path }

// ConditionNumber returns the last observability indicator.
func (p *Pipeline) ConditionNumber() float64 { return p.condNumber }

// State exposes the current nominal filter state.
func (p *Pipeline) State() l5ieskf.State { return p.kf.X }

// Run executes one pipeline step: sync a package, propagate and
// undistort, update the filter, grow the map, publish. Returns false
// when no package was ready.
func (p *Pipeline) Run() bool {
	pkg, ok := p.sync.SyncPackages()
	if !ok {
		return false
	}
	p.lidarEndTime = pkg.EndTime

	undistorted, ok := p.imu.Process(pkg, p.kf)
	if !ok {
		return true
	}
	if len(undistorted) == 0 {
		lio.Opsf("no point, skip this scan")
		return true
	}
	p.scanUndistort = undistorted

	if !p.running.Load() {
		p.runIdle(pkg)
		return true
	}

	if p.firstScan {
		// Seed the map with the raw undistorted cloud.
		p.ivox.AddPoints(p.scanUndistort)
		p.firstLidarTime = pkg.BagTime
		p.firstScan = false
		return true
	}
	p.ekfInited = pkg.BagTime-p.firstLidarTime >= InitTime

	p.scanDownBody = downsampleVoxel(p.scanUndistort, p.cfg.Engine.FilterSizeSurf)
	cnt := len(p.scanDownBody)
	if cnt < MinDownsampledPoints {
		p.running.Store(false)
		lio.Opsf("too few points, skip this scan: %d, %d", len(p.scanUndistort), cnt)
		return true
	}
	p.resizeScanBuffers(cnt)

	if err := p.kf.UpdateIterated(p.observeScan); err != nil {
		lio.Opsf("iterated update: %v", err)
	}

	p.mapIncremental()
	p.scanIndex++

	p.publishOdometry(pkg.EndTime)
	p.appendPath(pkg.EndTime)
	if p.cfg.Path != nil && (p.cfg.Engine.Publish.PathPublishEn || p.cfg.Engine.PathSaveEn) {
		p.cfg.Path.PublishPath(p.path)
	}
	p.publishFrameWorld()
	if p.cfg.Engine.Publish.ScanPublishEn && p.cfg.Engine.Publish.ScanBodyframePubEn {
		p.publishFrameBody()
	}
	if p.cfg.Engine.Publish.ScanEffectPubEn {
		p.publishFrameEffect()
	}
	return true
}

// runIdle keeps downstream consumers alive while the session is
// disarmed: the scan is still downsampled and projected with the frozen
// state, identity odometry flows, and the path is cleared so the next
// start begins fresh.
func (p *Pipeline) runIdle(pkg *lio.MeasurementPackage) {
	p.scanDownBody = downsampleVoxel(p.scanUndistort, p.cfg.Engine.FilterSizeSurf)
	p.scanDownWorld = p.scanDownWorld[:0]
	for _, pt := range p.scanDownBody {
		p.scanDownWorld = append(p.scanDownWorld, p.pointBodyToWorld(pt))
	}

	p.publishIdentityOdometry(pkg.EndTime)
	p.publishFrameWorld()
	p.path = p.path[:0]
	if p.cfg.Path != nil {
		p.cfg.Path.PublishPath(p.path)
	}
	p.firstScan = true
}

func (p *Pipeline) resizeScanBuffers(cnt int) {
	grow := func(n int) []lio.Point {
		return make([]lio.Point, n)
	}
	p.scanDownWorld = grow(cnt)
	p.nearestPoints = make([][]lio.Point, cnt)
	p.planeCoef = make([]PlaneCoef, cnt)
	p.planeValid = make([]bool, cnt)
	p.selected = make([]bool, cnt)
	p.residuals = make([]float64, cnt)
	p.corrBody = grow(cnt)
	p.corrPlane = make([]PlaneCoef, cnt)
	p.corrResidual = make([]float64, cnt)
	p.effectCount = 0
}

// pointBodyToWorld lifts a LiDAR-frame point through the extrinsic and
// the current pose.
func (p *Pipeline) pointBodyToWorld(pt lio.Point) lio.Point {
	s := &p.kf.X
	w := s.Rot.Rotate(s.ExtR.Rotate(pt.Vec()).Add(s.ExtT)).Add(s.Pos)
	return lio.PointFrom(w, pt)
}

// pointBodyLidarToImu re-expresses a LiDAR-frame point in the IMU body
// frame.
func (p *Pipeline) pointBodyLidarToImu(pt lio.Point) lio.Point {
	s := &p.kf.X
	b := s.ExtR.Rotate(pt.Vec()).Add(s.ExtT)
	return lio.PointFrom(b, pt)
}
