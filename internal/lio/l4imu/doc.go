// Package l4imu integrates IMU samples between consecutive scan
// end-times, drives the filter prediction step, and back-projects every
// LiDAR return onto the sweep-end instant. Until the initial static
// window has been observed the package only accumulates accelerometer
// and gyro means; they seed gravity and the gyro bias. The accelerometer
// bias is not seeded and keeps its initial value.
package l4imu
