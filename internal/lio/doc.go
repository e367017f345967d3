// Package lio holds the canonical types shared by every layer of the
// LiDAR-inertial odometry engine: the normalised point and cloud types,
// IMU samples, measurement packages, rigid-body geometry helpers, the
// engine configuration, and the leveled debug logging streams.
//
// Layer packages (l1preprocess, l2sync, l3ivox, l4imu, l5ieskf, pipeline)
// import lio; lio imports none of them.
package lio
