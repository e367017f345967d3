// Package pipeline is the composition root of the odometry engine. It
// drains the synchronizer, runs IMU propagation and undistortion, drives
// the iterated filter update with the point-to-plane observation model,
// and maintains the incremental voxel map. Layer packages never import
// pipeline; outputs leave through the sink interfaces defined here.
package pipeline
