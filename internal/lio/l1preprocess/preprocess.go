package l1preprocess

import (
	"github.com/banshee-data/odometry.report/internal/lio"
)

// RawPoint carries one return in the sensor's native timing convention.
// TimeOffset is interpreted per variant: nanoseconds since sweep start
// for AVIA and OUST64, native units scaled by time_scale for VELO32.
type RawPoint struct {
	X, Y, Z    float32
	Intensity  float32
	TimeOffset float64
	Ring       uint8
}

// RawCloud is the subscribed point-cloud message: a header stamp at
// nanosecond resolution plus per-point offsets.
type RawCloud struct {
	StampNanos int64
	Points     []RawPoint
}

// Stamp returns the header stamp in seconds.
func (rc *RawCloud) Stamp() float64 {
	return float64(rc.StampNanos) * 1e-9
}

// Preprocessor converts raw clouds into canonical frames.
type Preprocessor struct {
	blind2    float64 // squared blind radius
	stride    int
	timeScale float64
	extract   func(p *RawPoint, scale float64) float32
}

// New builds a Preprocessor for the configured sensor variant.
func New(cfg lio.PreprocessConfig) *Preprocessor {
	p := &Preprocessor{
		blind2:    cfg.Blind * cfg.Blind,
		stride:    cfg.PointFilterNum,
		timeScale: cfg.TimeScale,
	}
	if p.stride < 1 {
		p.stride = 1
	}
	switch cfg.LidarType {
	case lio.LidarVelo32:
		p.extract = extractVelodyne
	case lio.LidarOust64:
		p.extract = extractOuster
	default:
		p.extract = extractAvia
	}
	return p
}

// extractAvia reads the solid-state sensor's nanosecond offset field.
func extractAvia(p *RawPoint, _ float64) float32 {
	return float32(p.TimeOffset * 1e-9)
}

// extractOuster reads the 64-ring sensor's nanosecond time field.
func extractOuster(p *RawPoint, _ float64) float32 {
	return float32(p.TimeOffset * 1e-9)
}

// extractVelodyne scales the mechanical sensor's native time unit
// (milliseconds by default) into seconds.
func extractVelodyne(p *RawPoint, scale float64) float32 {
	return float32(p.TimeOffset * scale)
}

// Process normalises one raw cloud: assigns per-point offsets, drops
// blind-zone returns, subsamples by stride, and emits a dense frame.
func (pp *Preprocessor) Process(rc *RawCloud) *lio.Frame {
	out := &lio.Frame{
		BagTime: rc.Stamp(),
		Points:  make([]lio.Point, 0, len(rc.Points)/pp.stride+1),
	}

	for i := range rc.Points {
		if i%pp.stride != 0 {
			continue
		}
		rp := &rc.Points[i]
		d2 := float64(rp.X)*float64(rp.X) + float64(rp.Y)*float64(rp.Y) + float64(rp.Z)*float64(rp.Z)
		if d2 < pp.blind2 {
			continue
		}
		out.Points = append(out.Points, lio.Point{
			X: rp.X, Y: rp.Y, Z: rp.Z,
			Intensity: rp.Intensity,
			TOffset:   pp.extract(rp, pp.timeScale),
		})
	}
	return out
}
