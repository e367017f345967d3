package pcd

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry.report/internal/lio"
)

func TestWriterFlushCycle(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "scans")
	require.NoError(t, err)

	w.Append([]lio.Point{{X: 1, Y: 2, Z: 3, Intensity: 40}})
	w.Append([]lio.Point{{X: 4, Y: 5, Z: 6, Intensity: 50}})
	assert.Equal(t, 2, w.Pending())

	require.NoError(t, w.Flush())
	assert.Zero(t, w.Pending())

	f, err := os.Open(filepath.Join(dir, "scans_1.pcd"))
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	var header []string
	for sc.Scan() {
		line := sc.Text()
		header = append(header, line)
		if line == "DATA binary" {
			break
		}
	}
	joined := strings.Join(header, "\n")
	assert.Contains(t, joined, "FIELDS x y z intensity")
	assert.Contains(t, joined, "POINTS 2")
	assert.Contains(t, joined, "WIDTH 2")

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(len(joined)+1+2*16), info.Size(), "header + 2 points × 16 bytes")
}

func TestFlushEmptyIsNoop(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "scans")
	require.NoError(t, err)
	require.NoError(t, w.Flush())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
