// Package l5ieskf implements the iterated error-state Kalman filter the
// odometry pipeline runs on. The nominal state lives on the rigid-body
// manifold (rotations as unit quaternions, gravity on the sphere); the
// 23-dimensional error state is Euclidean. The observation model is a
// caller-supplied callback that fills the innovation vector and the
// measurement Jacobian each iteration.
package l5ieskf
