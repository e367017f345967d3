package serialimu

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry.report/internal/lio"
)

func TestParseLineRoundTrip(t *testing.T) {
	in := lio.ImuSample{
		Stamp: 1234.56789,
		Gyro:  lio.V3{0.01, -0.02, 0.03},
		Acc:   lio.V3{0.1, 0.2, 9.81},
	}
	out, err := ParseLine(FormatLine(in))
	require.NoError(t, err)
	assert.InDelta(t, in.Stamp, out.Stamp, 1e-9)
	assert.InDelta(t, in.Gyro[1], out.Gyro[1], 1e-12)
	assert.InDelta(t, in.Acc[2], out.Acc[2], 1e-12)
}

func TestParseLineRejectsMalformed(t *testing.T) {
	for _, line := range []string{
		"",
		"$GPS,1,2,3",
		"$IMU,1,2,3",
		"$IMU,x,1,2,3,4,5,6",
		"$IMU,1,2,3,4,5,6,7,8",
	} {
		_, err := ParseLine(line)
		assert.Error(t, err, "line %q", line)
	}
}

func TestStreamSkipsBadLines(t *testing.T) {
	input := strings.Join([]string{
		FormatLine(lio.ImuSample{Stamp: 1}),
		"garbage line",
		FormatLine(lio.ImuSample{Stamp: 2}),
		"$IMU,not,enough",
		FormatLine(lio.ImuSample{Stamp: 3}),
	}, "\n")

	var stamps []float64
	err := stream(context.Background(), strings.NewReader(input), "test", func(m lio.ImuSample) {
		stamps = append(stamps, m.Stamp)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, stamps)
}
