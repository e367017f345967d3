package pipeline

import (
	"fmt"
	"os"

	"github.com/banshee-data/odometry.report/internal/lio"
	"github.com/banshee-data/odometry.report/internal/lio/l5ieskf"
)

// publishOdometry emits the pose with its 6×6 covariance block. The
// covariance rows/cols are remapped [p; R] → [R; p] to match the
// downstream convention.
func (p *Pipeline) publishOdometry(stamp float64) {
	if p.cfg.Odometry == nil && p.cfg.TF == nil {
		return
	}
	s := &p.kf.X
	o := lio.Odometry{
		Stamp:      stamp,
		Frame:      p.cfg.Engine.Frames.Global,
		ChildFrame: p.cfg.Engine.Frames.BaseLink,
		Pos:        s.Pos,
		Rot:        s.Rot,
	}
	cov := p.kf.Covariance()
	for i := 0; i < 6; i++ {
		k := i + 3
		if i >= 3 {
			k = i - 3
		}
		o.Covariance[i*6+0] = cov.At(k, l5ieskf.IxRot+0)
		o.Covariance[i*6+1] = cov.At(k, l5ieskf.IxRot+1)
		o.Covariance[i*6+2] = cov.At(k, l5ieskf.IxRot+2)
		o.Covariance[i*6+3] = cov.At(k, l5ieskf.IxPos+0)
		o.Covariance[i*6+4] = cov.At(k, l5ieskf.IxPos+1)
		o.Covariance[i*6+5] = cov.At(k, l5ieskf.IxPos+2)
	}
	if p.cfg.Odometry != nil {
		p.cfg.Odometry.PublishOdometry(o)
	}
	p.broadcastTransform(stamp, s.Pos, s.Rot)
}

// publishIdentityOdometry keeps downstream consumers fed while idle.
func (p *Pipeline) publishIdentityOdometry(stamp float64) {
	if p.cfg.TF != nil {
		p.cfg.TF.BroadcastTransform(lio.Transform{
			Stamp: stamp,
			Frame: p.cfg.Engine.Frames.Global,
			Child: p.cfg.Engine.Frames.BaseLink,
			Rot:   lio.IdentityQuat,
		})
	}
	if p.cfg.Odometry != nil {
		p.cfg.Odometry.PublishOdometry(lio.Odometry{
			Stamp:      stamp,
			Frame:      p.cfg.Engine.Frames.Global,
			ChildFrame: p.cfg.Engine.Frames.BaseLink,
			Rot:        lio.IdentityQuat,
		})
	}
}

// broadcastTransform composes the estimated sensor pose with the static
// lidar → base-link relation. A failed lookup warns and skips the
// broadcast for this scan.
func (p *Pipeline) broadcastTransform(stamp float64, pos lio.V3, rot lio.Quat) {
	if p.cfg.TF == nil {
		return
	}
	sensorPose := lio.Transform{
		Stamp: stamp,
		Frame: p.cfg.Engine.Frames.Global,
		Child: p.cfg.Engine.Frames.Lidar,
		Trans: pos,
		Rot:   rot,
	}
	if p.cfg.StaticTF == nil {
		p.cfg.TF.BroadcastTransform(sensorPose)
		return
	}
	static, err := p.cfg.StaticTF.Lookup(p.cfg.Engine.Frames.Lidar, p.cfg.Engine.Frames.BaseLink)
	if err != nil {
		lio.Opsf("transform lookup %s -> %s: %v", p.cfg.Engine.Frames.Lidar, p.cfg.Engine.Frames.BaseLink, err)
		return
	}
	p.cfg.TF.BroadcastTransform(sensorPose.Compose(static))
}

func (p *Pipeline) appendPath(stamp float64) {
	p.path = append(p.path, lio.PoseStamped{
		Stamp: stamp,
		Pos:   p.kf.X.Pos,
		Rot:   p.kf.X.Rot,
	})
}

// publishFrameWorld emits the registered cloud (dense or downsampled)
// and feeds the PCD accumulator when dumps are enabled.
func (p *Pipeline) publishFrameWorld() {
	pub := p.cfg.Engine.Publish
	pcdEn := p.cfg.Engine.PCDSave.PCDSaveEn && p.cfg.PCD != nil
	if (p.cfg.CloudWorld == nil || !pub.ScanPublishEn) && !pcdEn {
		return
	}

	var cloud []lio.Point
	if pub.DensePublishEn {
		cloud = make([]lio.Point, len(p.scanUndistort))
		for i, pt := range p.scanUndistort {
			cloud[i] = p.pointBodyToWorld(pt)
		}
	} else {
		cloud = p.scanDownWorld
	}

	if p.cfg.CloudWorld != nil && pub.ScanPublishEn {
		p.cfg.CloudWorld.PublishCloud(CloudMessage{
			Stamp:  p.lidarEndTime,
			Frame:  p.cfg.Engine.Frames.Global,
			Points: cloud,
		})
	}

	if pcdEn {
		p.cfg.PCD.Append(cloud)
		interval := p.cfg.Engine.PCDSave.Interval
		if interval > 0 && p.scanIndex > 0 && p.scanIndex%interval == 0 {
			if err := p.cfg.PCD.Flush(); err != nil {
				lio.Opsf("pcd flush: %v", err)
			}
		}
	}
}

// publishFrameBody emits the undistorted cloud re-expressed in the IMU
// body frame.
func (p *Pipeline) publishFrameBody() {
	if p.cfg.CloudBody == nil {
		return
	}
	cloud := make([]lio.Point, len(p.scanUndistort))
	for i, pt := range p.scanUndistort {
		cloud[i] = p.pointBodyLidarToImu(pt)
	}
	p.cfg.CloudBody.PublishCloud(CloudMessage{
		Stamp:  p.lidarEndTime,
		Frame:  p.cfg.Engine.Frames.BaseLink,
		Points: cloud,
	})
}

// publishFrameEffect emits the world points of the correspondences the
// last update actually used.
func (p *Pipeline) publishFrameEffect() {
	if p.cfg.CloudEffect == nil {
		return
	}
	cloud := make([]lio.Point, 0, p.effectCount)
	for i := range p.scanDownWorld {
		if p.selected[i] {
			cloud = append(cloud, p.scanDownWorld[i])
		}
	}
	p.cfg.CloudEffect.PublishCloud(CloudMessage{
		Stamp:  p.lidarEndTime,
		Frame:  p.cfg.Engine.Frames.Global,
		Points: cloud,
	})
}

// SaveTrajectory writes the accumulated path as
// "#timestamp x y z q_x q_y q_z q_w", one pose per line.
func (p *Pipeline) SaveTrajectory(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open trajectory file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, "#timestamp x y z q_x q_y q_z q_w"); err != nil {
		return err
	}
	for _, ps := range p.path {
		_, err := fmt.Fprintf(f, "%.6f %.15g %.15g %.15g %.15g %.15g %.15g %.15g\n",
			ps.Stamp, ps.Pos[0], ps.Pos[1], ps.Pos[2],
			ps.Rot.X, ps.Rot.Y, ps.Rot.Z, ps.Rot.W)
		if err != nil {
			return err
		}
	}
	return nil
}

// Finish flushes any pending PCD buffer on shutdown.
func (p *Pipeline) Finish() {
	if p.cfg.PCD != nil && p.cfg.Engine.PCDSave.PCDSaveEn && p.cfg.PCD.Pending() > 0 {
		if err := p.cfg.PCD.Flush(); err != nil {
			lio.Opsf("final pcd flush: %v", err)
		}
	}
	lio.Opsf("finish done")
}
