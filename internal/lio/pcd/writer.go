// Package pcd accumulates world-frame clouds and writes them as binary
// PCD files, one numbered file per flush.
package pcd

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// Writer buffers points between flushes. It implements the pipeline's
// CloudAccumulator sink.
type Writer struct {
	dir     string
	prefix  string
	index   int
	pending []lio.Point
}

// NewWriter creates a Writer dumping into dir with the given file
// prefix (e.g. "scans").
func NewWriter(dir, prefix string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create pcd dir: %w", err)
	}
	return &Writer{dir: dir, prefix: prefix}, nil
}

// Append buffers a cloud for the next flush.
func (w *Writer) Append(points []lio.Point) {
	w.pending = append(w.pending, points...)
}

// Pending reports the buffered point count.
func (w *Writer) Pending() int { return len(w.pending) }

// Flush writes the pending buffer as <prefix>_<n>.pcd and clears it.
// An empty buffer is a no-op.
func (w *Writer) Flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	w.index++
	path := filepath.Join(w.dir, fmt.Sprintf("%s_%d.pcd", w.prefix, w.index))
	if err := WriteBinary(path, w.pending); err != nil {
		return err
	}
	lio.Opsf("current scan saved to %s (%d points)", path, len(w.pending))
	w.pending = w.pending[:0]
	return nil
}

// WriteBinary writes points as a binary PCD v0.7 file with x, y, z and
// intensity fields.
func WriteBinary(path string, points []lio.Point) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create pcd file: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n")
	fmt.Fprintf(bw, "VERSION 0.7\n")
	fmt.Fprintf(bw, "FIELDS x y z intensity\n")
	fmt.Fprintf(bw, "SIZE 4 4 4 4\n")
	fmt.Fprintf(bw, "TYPE F F F F\n")
	fmt.Fprintf(bw, "COUNT 1 1 1 1\n")
	fmt.Fprintf(bw, "WIDTH %d\n", len(points))
	fmt.Fprintf(bw, "HEIGHT 1\n")
	fmt.Fprintf(bw, "VIEWPOINT 0 0 0 1 0 0 0\n")
	fmt.Fprintf(bw, "POINTS %d\n", len(points))
	fmt.Fprintf(bw, "DATA binary\n")

	buf := make([]byte, 16)
	for _, p := range points {
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(p.Y))
		binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(p.Z))
		binary.LittleEndian.PutUint32(buf[12:], math.Float32bits(p.Intensity))
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}
