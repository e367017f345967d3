package lio

// GravityMagnitude is the nominal gravity norm used to scale raw
// accelerometer readings into m/s².
const GravityMagnitude = 9.81

// Point is the canonical LiDAR return all sensor variants normalise to.
// TOffset is seconds since the start of the sweep the point belongs to;
// it is non-negative and monotonic per ring.
type Point struct {
	X, Y, Z   float32
	Intensity float32
	TOffset   float32
}

// Vec returns the point position as a float64 vector.
func (p Point) Vec() V3 {
	return V3{float64(p.X), float64(p.Y), float64(p.Z)}
}

// PointFrom builds a Point at the given position, keeping intensity and
// timing from the template.
func PointFrom(v V3, tpl Point) Point {
	return Point{
		X: float32(v[0]), Y: float32(v[1]), Z: float32(v[2]),
		Intensity: tpl.Intensity,
		TOffset:   tpl.TOffset,
	}
}

// Frame is one LiDAR sweep after preprocessing.
type Frame struct {
	// Points are ordered by acquisition time.
	Points []Point
	// BagTime is the header stamp of the sweep (seconds, earliest sample).
	BagTime float64
}

// EndOffset returns the time offset of the last point in the sweep, in
// seconds, or zero for an empty frame.
func (f *Frame) EndOffset() float64 {
	if len(f.Points) == 0 {
		return 0
	}
	return float64(f.Points[len(f.Points)-1].TOffset)
}

// ImuSample is a single strapdown IMU measurement.
type ImuSample struct {
	Gyro  V3 // rad/s
	Acc   V3 // raw accelerometer units, scaled during propagation
	Stamp float64
}

// MeasurementPackage pairs one LiDAR sweep with the contiguous run of IMU
// samples covering it. EndTime is the alignment anchor: the timestamp the
// sweep is undistorted onto.
type MeasurementPackage struct {
	Scan    *Frame
	BagTime float64
	EndTime float64
	Imu     []ImuSample
}

// PoseStamped is one trajectory sample: position plus orientation at a
// given sensor timestamp.
type PoseStamped struct {
	Stamp float64
	Pos   V3
	Rot   Quat
}

// Odometry is the per-scan pose output. Covariance is the 6×6
// translational/rotational block in row-major order with the downstream
// convention of rotation rows first.
type Odometry struct {
	Stamp      float64
	Frame      string
	ChildFrame string
	Pos        V3
	Rot        Quat
	Covariance [36]float64
}

// Transform is a rigid transform between two named frames.
type Transform struct {
	Stamp float64
	Frame string
	Child string
	Trans V3
	Rot   Quat
}

// Compose returns t∘u: first apply u, then t.
func (t Transform) Compose(u Transform) Transform {
	return Transform{
		Stamp: t.Stamp,
		Frame: t.Frame,
		Child: u.Child,
		Trans: t.Trans.Add(t.Rot.Rotate(u.Trans)),
		Rot:   t.Rot.Mul(u.Rot).Normalized(),
	}
}
