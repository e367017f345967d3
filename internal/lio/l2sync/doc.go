// Package l2sync buffers asynchronous LiDAR frames and IMU samples and
// emits aligned measurement packages keyed on scan end-time. Producer
// callbacks push concurrently; the pipeline thread drains via
// SyncPackages. Time loop-backs clear the affected buffer so a replayed
// or restarted source never feeds stale data downstream.
package l2sync
