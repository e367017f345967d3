package pipeline

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// PlaneCoef is a plane n·x + d = 0 with unit normal: [n0, n1, n2, d].
type PlaneCoef [4]float64

// Eval returns the signed distance of v from the plane.
func (pc PlaneCoef) Eval(v lio.V3) float64 {
	return pc[0]*v[0] + pc[1]*v[1] + pc[2]*v[2] + pc[3]
}

// estiPlane fits a plane through the neighbour set by SVD of the
// centred coordinates. It fails when any neighbour sits further than
// threshold from the fitted plane.
func estiPlane(out *PlaneCoef, pts []lio.Point, threshold float64) bool {
	n := len(pts)
	if n < 3 {
		return false
	}

	var cx, cy, cz float64
	for _, p := range pts {
		cx += float64(p.X)
		cy += float64(p.Y)
		cz += float64(p.Z)
	}
	cx /= float64(n)
	cy /= float64(n)
	cz /= float64(n)

	a := mat.NewDense(n, 3, nil)
	for i, p := range pts {
		a.Set(i, 0, float64(p.X)-cx)
		a.Set(i, 1, float64(p.Y)-cy)
		a.Set(i, 2, float64(p.Z)-cz)
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThinV) {
		return false
	}
	var v mat.Dense
	svd.VTo(&v)

	// Normal is the right singular vector of the smallest singular value.
	normal := lio.V3{v.At(0, 2), v.At(1, 2), v.At(2, 2)}
	d := -normal.Dot(lio.V3{cx, cy, cz})

	for _, p := range pts {
		if math.Abs(normal.Dot(p.Vec())+d) > threshold {
			return false
		}
	}
	*out = PlaneCoef{normal[0], normal[1], normal[2], d}
	return true
}

// downsampleVoxel reduces point density with a cubic voxel grid: each
// occupied voxel keeps the point closest to the voxel centroid, which
// preserves surface structure better than uniform stride.
func downsampleVoxel(points []lio.Point, leaf float64) []lio.Point {
	if leaf <= 0 || len(points) == 0 {
		return append([]lio.Point(nil), points...)
	}
	invLeaf := 1 / leaf

	type accum struct {
		sum   lio.V3
		count int
		best  int
	}
	voxels := make(map[[3]int64]*accum, len(points)/4)
	order := make([][3]int64, 0, len(points)/4)

	keyOf := func(p lio.Point) [3]int64 {
		return [3]int64{
			int64(math.Floor(float64(p.X) * invLeaf)),
			int64(math.Floor(float64(p.Y) * invLeaf)),
			int64(math.Floor(float64(p.Z) * invLeaf)),
		}
	}

	for i, p := range points {
		k := keyOf(p)
		acc, ok := voxels[k]
		if !ok {
			acc = &accum{best: i}
			voxels[k] = acc
			order = append(order, k)
		}
		acc.sum = acc.sum.Add(p.Vec())
		acc.count++
	}

	for i, p := range points {
		k := keyOf(p)
		acc := voxels[k]
		c := acc.sum.Scale(1 / float64(acc.count))
		if p.Vec().Sub(c).SquaredNorm() < points[acc.best].Vec().Sub(c).SquaredNorm() {
			acc.best = i
		}
	}

	out := make([]lio.Point, 0, len(order))
	for _, k := range order {
		out = append(out, points[voxels[k].best])
	}
	return out
}
