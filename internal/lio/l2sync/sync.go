package l2sync

import (
	"math"
	"sync"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// Synchronizer owns the LiDAR and IMU input FIFOs. Both queues share one
// mutex; push paths are cheap enough that contention with the pipeline
// thread stays negligible.
type Synchronizer struct {
	mu sync.Mutex

	lidarBuf []*lio.Frame
	imuBuf   []lio.ImuSample

	lastLidarStamp float64
	lastImuStamp   float64

	// timeSyncEn shifts IMU stamps by timeOffset when the measured
	// LiDAR↔IMU clock offset is large.
	timeSyncEn bool
	timeOffset float64

	// Staged package state. lidarPushed is sticky across SyncPackages
	// calls that are still waiting for IMU coverage.
	lidarPushed  bool
	staged       lio.MeasurementPackage
	meanScantime float64
	scanCount    int
}

// New creates a Synchronizer. timeSyncEn enables the optional IMU stamp
// offset correction.
func New(timeSyncEn bool) *Synchronizer {
	return &Synchronizer{timeSyncEn: timeSyncEn}
}

// SetTimeOffset records the LiDAR-relative IMU clock offset in seconds.
// The offset is only applied when time sync is enabled and the offset is
// implausibly large for synchronised clocks.
func (s *Synchronizer) SetTimeOffset(offset float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeOffset = offset
}

// PushLidar enqueues a preprocessed frame. A frame stamped earlier than
// its predecessor signals a time loop-back: the LiDAR queue is cleared
// and the staged package discarded.
func (s *Synchronizer) PushLidar(f *lio.Frame) {
	if f == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.BagTime < s.lastLidarStamp {
		lio.Opsf("lidar loop back, clear buffer (stamp %.6f < %.6f)", f.BagTime, s.lastLidarStamp)
		s.lidarBuf = s.lidarBuf[:0]
		s.lidarPushed = false
	}
	s.lidarBuf = append(s.lidarBuf, f)
	s.lastLidarStamp = f.BagTime
}

// PushImu enqueues an IMU sample, with symmetric loop-back handling.
func (s *Synchronizer) PushImu(m lio.ImuSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timeSyncEn && math.Abs(s.timeOffset) > 0.1 {
		m.Stamp += s.timeOffset
	}

	if m.Stamp < s.lastImuStamp {
		lio.Opsf("imu loop back, clear buffer (stamp %.6f < %.6f)", m.Stamp, s.lastImuStamp)
		s.imuBuf = s.imuBuf[:0]
	}
	s.imuBuf = append(s.imuBuf, m)
	s.lastImuStamp = m.Stamp
}

// SyncPackages emits the next aligned measurement package, or false when
// either queue is empty or the IMU stream has not yet covered the scan.
//
// The head frame is staged once: its end time is the bag time plus the
// last point's offset, falling back to the running mean scan duration
// when that offset is implausibly small. The mean is an arithmetic
// average over observed sweeps.
func (s *Synchronizer) SyncPackages() (*lio.MeasurementPackage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.lidarBuf) == 0 || len(s.imuBuf) == 0 {
		return nil, false
	}

	if !s.lidarPushed {
		scan := s.lidarBuf[0]
		s.staged = lio.MeasurementPackage{Scan: scan, BagTime: scan.BagTime}

		switch {
		case len(scan.Points) <= 1:
			lio.Opsf("too few input points (%d)", len(scan.Points))
			s.staged.EndTime = scan.BagTime + s.meanScantime
		case scan.EndOffset() < 0.5*s.meanScantime:
			s.staged.EndTime = scan.BagTime + s.meanScantime
		default:
			s.scanCount++
			s.staged.EndTime = scan.BagTime + scan.EndOffset()
			s.meanScantime += (scan.EndOffset() - s.meanScantime) / float64(s.scanCount)
		}
		s.lidarPushed = true
	}

	if s.lastImuStamp < s.staged.EndTime {
		return nil, false
	}

	// Drain IMU samples preceding the scan end; the first later sample
	// stays at the head of the queue for the next package.
	s.staged.Imu = s.staged.Imu[:0]
	for len(s.imuBuf) > 0 && s.imuBuf[0].Stamp < s.staged.EndTime {
		s.staged.Imu = append(s.staged.Imu, s.imuBuf[0])
		s.imuBuf = s.imuBuf[1:]
	}

	s.lidarBuf = s.lidarBuf[1:]
	s.lidarPushed = false

	pkg := s.staged
	pkg.Imu = append([]lio.ImuSample(nil), s.staged.Imu...)
	return &pkg, true
}

// Reset clears both buffers and the staged package.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lidarBuf = nil
	s.imuBuf = nil
	s.lidarPushed = false
	s.lastLidarStamp = 0
	s.lastImuStamp = 0
}

// QueueDepths reports the current FIFO lengths, for diagnostics.
func (s *Synchronizer) QueueDepths() (lidar, imu int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lidarBuf), len(s.imuBuf)
}
