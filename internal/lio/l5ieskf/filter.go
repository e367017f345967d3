package l5ieskf

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// HCols is the number of error-state columns the observation Jacobian
// covers: position, rotation, and the two extrinsic blocks.
const HCols = 12

// ErrNoEffectivePoints reports that no iteration of an update produced
// effective correspondences; the state is left as propagated.
var ErrNoEffectivePoints = errors.New("no effective correspondences")

// ObservationContext is the scratch the observation model fills on each
// iteration.
type ObservationContext struct {
	// Converge is set by the filter: true once the error-state step has
	// dropped under the convergence threshold. The model refreshes its
	// nearest-neighbour correspondences only while Converge is false and
	// reuses the cached sets afterwards.
	Converge bool
	// Valid is reset to true before each call; the model clears it when
	// it has no effective correspondences.
	Valid bool
	// H is the measurement Jacobian, one row per effective
	// correspondence over the HCols partial error state.
	H *mat.Dense
	// Z is the innovation vector, matching H row for row.
	Z []float64
}

// ObservationModel populates ctx from the current nominal state.
type ObservationModel func(s *State, ctx *ObservationContext)

// NoiseConfig holds the continuous process noise densities.
type NoiseConfig struct {
	GyrCov  float64
	AccCov  float64
	BGyrCov float64
	BAccCov float64
}

// Filter is the iterated error-state Kalman filter.
type Filter struct {
	X State
	P *mat.Dense // ErrDim×ErrDim error-state covariance

	noise    NoiseConfig
	maxIter  int
	convEps  float64
	pointCov float64
}

// Config bundles the filter tuning.
type Config struct {
	MaxIteration int
	// ConvEps stops iterating once the error-state step norm falls
	// below it.
	ConvEps float64
	// PointCov is the scalar measurement covariance shared by all
	// correspondences.
	PointCov float64
	Noise    NoiseConfig
}

// New builds a filter with the initial covariance the deployment uses:
// loose position/rotation/velocity, tight extrinsics and gravity.
func New(cfg Config) *Filter {
	if cfg.MaxIteration <= 0 {
		cfg.MaxIteration = 4
	}
	if cfg.ConvEps <= 0 {
		cfg.ConvEps = 0.001
	}
	if cfg.PointCov <= 0 {
		cfg.PointCov = 0.001
	}
	f := &Filter{
		X:        NewState(),
		P:        mat.NewDense(ErrDim, ErrDim, nil),
		noise:    cfg.Noise,
		maxIter:  cfg.MaxIteration,
		convEps:  cfg.ConvEps,
		pointCov: cfg.PointCov,
	}
	f.resetCovariance()
	return f
}

func (f *Filter) resetCovariance() {
	f.P.Zero()
	for i := 0; i < ErrDim; i++ {
		f.P.Set(i, i, 1)
	}
	for i := IxExtR; i < IxExtT+3; i++ {
		f.P.Set(i, i, 1e-5)
	}
	for i := IxBG; i < IxBG+3; i++ {
		f.P.Set(i, i, 1e-4)
	}
	for i := IxBA; i < IxBA+3; i++ {
		f.P.Set(i, i, 1e-3)
	}
	f.P.Set(IxGrav, IxGrav, 1e-5)
	f.P.Set(IxGrav+1, IxGrav+1, 1e-5)
}

// Reset reinitialises state and covariance.
func (f *Filter) Reset() {
	f.X = NewState()
	f.resetCovariance()
}

// setBlock3 writes a 3×3 block of dst at (r, c).
func setBlock3(dst *mat.Dense, r, c int, m lio.M3) {
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			dst.Set(r+i, c+j, m[i*3+j])
		}
	}
}

// Predict propagates the nominal state over dt with the given body-rate
// and specific-force measurements (already bias-uncorrected, already
// scaled to m/s²), and updates the covariance with the analytic
// Jacobian pair for this error manifold.
func (f *Filter) Predict(dt float64, gyr, acc lio.V3) {
	wb := gyr.Sub(f.X.BG)
	ab := acc.Sub(f.X.BA)
	rm := f.X.Rot.Matrix()
	accW := rm.MulV(ab).Add(f.X.Grav)

	// Nominal propagation.
	f.X.Pos = f.X.Pos.Add(f.X.Vel.Scale(dt)).Add(accW.Scale(0.5 * dt * dt))
	f.X.Vel = f.X.Vel.Add(accW.Scale(dt))
	f.X.Rot = f.X.Rot.Mul(lio.ExpQuat(wb.Scale(dt))).Normalized()

	// F_x: identity plus the first-order couplings.
	fx := mat.NewDense(ErrDim, ErrDim, nil)
	for i := 0; i < ErrDim; i++ {
		fx.Set(i, i, 1)
	}
	setBlock3(fx, IxPos, IxVel, lio.Identity3.Scale(dt))
	setBlock3(fx, IxRot, IxRot, lio.ExpSO3(wb.Scale(-dt)))
	setBlock3(fx, IxRot, IxBG, lio.Identity3.Scale(-dt))
	setBlock3(fx, IxVel, IxRot, rm.Mul(lio.Skew(ab)).Scale(-dt))
	setBlock3(fx, IxVel, IxBA, rm.Scale(-dt))
	// Velocity picks up the gravity tangent perturbation.
	b1, b2 := lio.S2Basis(f.X.Grav)
	gCol0 := lio.Skew(f.X.Grav).MulV(b1).Scale(-dt)
	gCol1 := lio.Skew(f.X.Grav).MulV(b2).Scale(-dt)
	for i := 0; i < 3; i++ {
		fx.Set(IxVel+i, IxGrav, gCol0[i])
		fx.Set(IxVel+i, IxGrav+1, gCol1[i])
	}

	// F_w over [n_g, n_a, n_bg, n_ba].
	fw := mat.NewDense(ErrDim, 12, nil)
	setBlock3(fw, IxRot, 0, lio.Identity3.Scale(-dt))
	setBlock3(fw, IxVel, 3, rm.Scale(-dt))
	setBlock3(fw, IxBG, 6, lio.Identity3.Scale(dt))
	setBlock3(fw, IxBA, 9, lio.Identity3.Scale(dt))

	q := mat.NewDense(12, 12, nil)
	for i := 0; i < 3; i++ {
		q.Set(i, i, f.noise.GyrCov)
		q.Set(3+i, 3+i, f.noise.AccCov)
		q.Set(6+i, 6+i, f.noise.BGyrCov)
		q.Set(9+i, 9+i, f.noise.BAccCov)
	}

	var fp, fpft, fwq, fwqfwt mat.Dense
	fp.Mul(fx, f.P)
	fpft.Mul(&fp, fx.T())
	fwq.Mul(fw, q)
	fwqfwt.Mul(&fwq, fw.T())
	f.P.Add(&fpft, &fwqfwt)
	f.symmetrize()
}

// UpdateIterated runs the iterated update against the observation model.
// Each iteration re-linearises about the current nominal state; the
// model is told through ctx.Converge whether its cached correspondences
// are still valid. The posterior covariance is the information-form
// inverse (HᵀR⁻¹H + P⁻¹)⁻¹, symmetrised.
func (f *Filter) UpdateIterated(obs ObservationModel) error {
	xProp := f.X
	ctx := &ObservationContext{}
	convergeCount := 0
	updated := false
	var posterior *mat.Dense

	for iter := 0; iter < f.maxIter; iter++ {
		ctx.Valid = true
		obs(&f.X, ctx)
		if !ctx.Valid || ctx.H == nil || len(ctx.Z) == 0 {
			// Observation starvation: keep the current state and force a
			// correspondence refresh on the next iteration.
			lio.Opsf("no effective points in iteration %d", iter)
			ctx.Converge = false
			continue
		}

		m, cols := ctx.H.Dims()
		if cols != HCols || m != len(ctx.Z) {
			return fmt.Errorf("observation shape mismatch: H %dx%d, z %d", m, cols, len(ctx.Z))
		}

		invR := 1 / f.pointCov

		// Information matrix S = HᵀR⁻¹H + P⁻¹ over the full error state;
		// H only spans the first HCols columns.
		var hth mat.Dense
		hth.Mul(ctx.H.T(), ctx.H)

		var pinv mat.Dense
		if err := pinv.Inverse(f.P); err != nil {
			return fmt.Errorf("covariance inversion: %w", err)
		}

		s := mat.NewDense(ErrDim, ErrDim, nil)
		s.Copy(&pinv)
		for i := 0; i < HCols; i++ {
			for j := 0; j < HCols; j++ {
				s.Set(i, j, s.At(i, j)+hth.At(i, j)*invR)
			}
		}
		var sinv mat.Dense
		if err := sinv.Inverse(s); err != nil {
			return fmt.Errorf("information inversion: %w", err)
		}

		// Right-hand side: HᵀR⁻¹z − P⁻¹(x ⊟ x_prop).
		zvec := mat.NewVecDense(m, ctx.Z)
		var htz mat.VecDense
		htz.MulVec(ctx.H.T(), zvec)

		d := f.X.BoxMinus(&xProp)
		dvec := mat.NewVecDense(ErrDim, d)
		var pd mat.VecDense
		pd.MulVec(&pinv, dvec)

		rhs := mat.NewVecDense(ErrDim, nil)
		for i := 0; i < HCols; i++ {
			rhs.SetVec(i, htz.AtVec(i)*invR)
		}
		for i := 0; i < ErrDim; i++ {
			rhs.SetVec(i, rhs.AtVec(i)-pd.AtVec(i))
		}

		var dx mat.VecDense
		dx.MulVec(&sinv, rhs)

		step := make([]float64, ErrDim)
		norm := 0.0
		for i := 0; i < ErrDim; i++ {
			step[i] = dx.AtVec(i)
			norm += step[i] * step[i]
		}
		norm = math.Sqrt(norm)

		f.X.BoxPlus(step)
		updated = true
		posterior = &sinv

		if norm < f.convEps {
			convergeCount++
			ctx.Converge = true
		} else {
			ctx.Converge = false
		}
		// One extra refinement runs on cached correspondences after the
		// first converged step.
		if convergeCount >= 2 {
			break
		}
	}

	if !updated {
		return ErrNoEffectivePoints
	}
	f.P.Copy(posterior)
	f.symmetrize()
	return nil
}

func (f *Filter) symmetrize() {
	for i := 0; i < ErrDim; i++ {
		for j := i + 1; j < ErrDim; j++ {
			v := (f.P.At(i, j) + f.P.At(j, i)) / 2
			f.P.Set(i, j, v)
			f.P.Set(j, i, v)
		}
	}
}

// Covariance exposes the error-state covariance for output assembly.
func (f *Filter) Covariance() *mat.Dense {
	return f.P
}
