// Package sqlite persists odometry runs: one row per run plus the pose
// trajectory each run produced. The schema is managed by embedded
// migrations applied at open time.
package sqlite
