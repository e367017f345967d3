package pipeline

import (
	"github.com/banshee-data/odometry.report/internal/lio"
)

// CloudMessage is a stamped point cloud leaving the pipeline.
type CloudMessage struct {
	Stamp  float64
	Frame  string
	Points []lio.Point
}

// OdometryPublisher receives the per-scan pose output.
type OdometryPublisher interface {
	PublishOdometry(o lio.Odometry)
}

// PathPublisher receives the cumulative trajectory.
type PathPublisher interface {
	PublishPath(poses []lio.PoseStamped)
}

// CloudPublisher receives registered cloud views.
type CloudPublisher interface {
	PublishCloud(msg CloudMessage)
}

// ScalarPublisher receives scalar diagnostics such as the observability
// condition number.
type ScalarPublisher interface {
	PublishScalar(stamp, value float64)
}

// TransformBroadcaster publishes the global → base-link transform.
type TransformBroadcaster interface {
	BroadcastTransform(t lio.Transform)
}

// StaticTransformSource resolves static frame relations, in particular
// lidar_frame → base_link_frame. A lookup failure skips the broadcast
// for that scan.
type StaticTransformSource interface {
	Lookup(frame, child string) (lio.Transform, error)
}

// CloudAccumulator buffers world-frame clouds for periodic binary dumps.
type CloudAccumulator interface {
	Append(points []lio.Point)
	// Flush writes the pending buffer out and clears it.
	Flush() error
	// Pending reports the buffered point count.
	Pending() int
}
