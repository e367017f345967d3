package monitor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry.report/internal/lio"
)

func TestRenderTrajectory(t *testing.T) {
	poses := []lio.PoseStamped{
		{Stamp: 0, Pos: lio.V3{0, 0, 0}, Rot: lio.IdentityQuat},
		{Stamp: 1, Pos: lio.V3{1, 0.5, 0}, Rot: lio.IdentityQuat},
		{Stamp: 2, Pos: lio.V3{2, 1.0, 0}, Rot: lio.IdentityQuat},
	}
	var buf bytes.Buffer
	require.NoError(t, RenderTrajectory(&buf, poses))
	assert.NotZero(t, buf.Len())
	assert.Contains(t, buf.String(), "Odometry Trajectory")
}

func TestRenderConditionNumber(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderConditionNumber(&buf, []float64{1.5, 2.5, 100}))
	assert.Contains(t, buf.String(), "Condition Number")
}
