package pipeline

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/odometry.report/internal/lio"
	"github.com/banshee-data/odometry.report/internal/lio/l5ieskf"
	"github.com/banshee-data/odometry.report/internal/lio/parallel"
)

const (
	// NumMatchPoints is how many map neighbours a correspondence uses.
	NumMatchPoints = 5
	// MinNumMatchPoints is the minimum neighbour count to attempt a
	// plane fit.
	MinNumMatchPoints = 3
)

// observeScan is the point-to-plane observation model handed to the
// filter. Per-index writes go to pre-sized slices owned by this scan;
// each index belongs to exactly one task.
func (p *Pipeline) observeScan(s *l5ieskf.State, ctx *l5ieskf.ObservationContext) {
	cnt := len(p.scanDownBody)
	rWL := s.Rot.Matrix().Mul(s.ExtR.Matrix())
	tWL := s.Rot.Rotate(s.ExtT).Add(s.Pos)

	gate := p.cfg.Engine.Mapping.OutlierGate
	threshold := p.cfg.Engine.EstiPlaneThreshold

	parallel.ForEach(cnt, func(i int) {
		pb := p.scanDownBody[i].Vec()
		pw := rWL.MulV(pb).Add(tWL)
		p.scanDownWorld[i] = lio.PointFrom(pw, p.scanDownBody[i])

		if !ctx.Converge {
			near := p.ivox.GetClosest(p.scanDownWorld[i], NumMatchPoints)
			p.nearestPoints[i] = near
			ok := len(near) >= MinNumMatchPoints
			if ok {
				ok = estiPlane(&p.planeCoef[i], near, threshold)
			}
			p.planeValid[i] = ok
		}

		p.selected[i] = false
		if p.planeValid[i] {
			pd := p.planeCoef[i].Eval(pw)
			// Distance-adaptive gate: closer points must carry tighter
			// residuals.
			if pb.SquaredNorm() > gate*pd*pd {
				p.selected[i] = true
				p.residuals[i] = pd
			}
		}
	})

	// Compact the effective correspondences.
	effective := 0
	for i := 0; i < cnt; i++ {
		if p.selected[i] {
			p.corrBody[effective] = p.scanDownBody[i]
			p.corrPlane[effective] = p.planeCoef[i]
			p.corrResidual[effective] = p.residuals[i]
			effective++
		}
	}
	p.effectCount = effective

	if effective < 1 {
		ctx.Valid = false
		lio.Opsf("no effective points")
		return
	}

	h := mat.NewDense(effective, l5ieskf.HCols, nil)
	z := make([]float64, effective)

	offR := s.ExtR.Matrix()
	offRT := offR.Transpose()
	offT := s.ExtT
	rt := s.Rot.Matrix().Transpose()
	extEst := p.cfg.Engine.Mapping.ExtrinsicEstEn

	parallel.ForEach(effective, func(i int) {
		pb := p.corrBody[i].Vec()
		pbCross := lio.Skew(pb)
		pImu := offR.MulV(pb).Add(offT)
		pImuCross := lio.Skew(pImu)

		norm := lio.V3{p.corrPlane[i][0], p.corrPlane[i][1], p.corrPlane[i][2]}
		c := rt.MulV(norm)
		a := pImuCross.MulV(c)

		h.Set(i, 0, norm[0])
		h.Set(i, 1, norm[1])
		h.Set(i, 2, norm[2])
		h.Set(i, 3, a[0])
		h.Set(i, 4, a[1])
		h.Set(i, 5, a[2])
		if extEst {
			b := pbCross.MulV(offRT.MulV(c))
			h.Set(i, 6, b[0])
			h.Set(i, 7, b[1])
			h.Set(i, 8, b[2])
			h.Set(i, 9, c[0])
			h.Set(i, 10, c[1])
			h.Set(i, 11, c[2])
		}

		z[i] = -p.corrResidual[i]
	})

	ctx.H = h
	ctx.Z = z

	p.condNumber = conditionNumber(h)
	if p.cfg.Condition != nil {
		p.cfg.Condition.PublishScalar(p.lidarEndTime, p.condNumber)
	}
}

// conditionNumber reports the observability indicator of the
// measurement geometry: the Gram matrix of the translation+rotation
// Jacobian columns is accumulated, its translational 3×3 block squared,
// and the eigenvalue spread of that product returned as
// sqrt(λmax/(λmin+1e-7)).
func conditionNumber(h *mat.Dense) float64 {
	rows, _ := h.Dims()

	var a6 [36]float64
	for r := 0; r < rows; r++ {
		var j [6]float64
		for c := 0; c < 6; c++ {
			j[c] = h.At(r, c)
		}
		for i := 0; i < 6; i++ {
			for k := 0; k < 6; k++ {
				a6[i*6+k] += j[i] * j[k]
			}
		}
	}

	c3 := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			c3.Set(i, k, a6[i*6+k])
		}
	}

	var ctc mat.Dense
	ctc.Mul(c3.T(), c3)
	sym := mat.NewSymDense(3, nil)
	for i := 0; i < 3; i++ {
		for k := i; k < 3; k++ {
			sym.SetSym(i, k, (ctc.At(i, k)+ctc.At(k, i))/2)
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return 0
	}
	vals := eig.Values(nil)
	minV, maxV := vals[0], vals[0]
	for _, v := range vals {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	if maxV <= 0 {
		return 0
	}
	return math.Sqrt(maxV / (minV + 1e-7))
}
