package l5ieskf

import (
	"github.com/banshee-data/odometry.report/internal/lio"
)

// ErrDim is the dimension of the error state: position, rotation,
// LiDAR-IMU extrinsic rotation and translation, velocity, gyro bias,
// accel bias, and the 2-DoF gravity tangent.
const ErrDim = 23

// Error-state block offsets.
const (
	IxPos  = 0
	IxRot  = 3
	IxExtR = 6
	IxExtT = 9
	IxVel  = 12
	IxBG   = 15
	IxBA   = 18
	IxGrav = 21
)

// State is the nominal filter state. Rotations compose on SO(3) with
// right perturbation and are renormalised after every composition.
type State struct {
	Pos  lio.V3
	Rot  lio.Quat
	ExtR lio.Quat // LiDAR-to-IMU rotation
	ExtT lio.V3   // LiDAR-to-IMU translation
	Vel  lio.V3
	BG   lio.V3
	BA   lio.V3
	Grav lio.V3
}

// NewState returns the identity state with gravity pointing down.
func NewState() State {
	return State{
		Rot:  lio.IdentityQuat,
		ExtR: lio.IdentityQuat,
		Grav: lio.V3{0, 0, -lio.GravityMagnitude},
	}
}

// BoxPlus applies an error-state increment to the nominal state.
func (s *State) BoxPlus(dx []float64) {
	s.Pos = s.Pos.Add(lio.V3{dx[IxPos], dx[IxPos+1], dx[IxPos+2]})
	s.Rot = s.Rot.Mul(lio.ExpQuat(lio.V3{dx[IxRot], dx[IxRot+1], dx[IxRot+2]})).Normalized()
	s.ExtR = s.ExtR.Mul(lio.ExpQuat(lio.V3{dx[IxExtR], dx[IxExtR+1], dx[IxExtR+2]})).Normalized()
	s.ExtT = s.ExtT.Add(lio.V3{dx[IxExtT], dx[IxExtT+1], dx[IxExtT+2]})
	s.Vel = s.Vel.Add(lio.V3{dx[IxVel], dx[IxVel+1], dx[IxVel+2]})
	s.BG = s.BG.Add(lio.V3{dx[IxBG], dx[IxBG+1], dx[IxBG+2]})
	s.BA = s.BA.Add(lio.V3{dx[IxBA], dx[IxBA+1], dx[IxBA+2]})
	s.Grav = lio.S2Plus(s.Grav, dx[IxGrav], dx[IxGrav+1])
}

// BoxMinus returns the error-state difference s ⊟ o, i.e. the increment
// that carries o onto s.
func (s *State) BoxMinus(o *State) []float64 {
	dx := make([]float64, ErrDim)
	put3 := func(ix int, v lio.V3) {
		dx[ix], dx[ix+1], dx[ix+2] = v[0], v[1], v[2]
	}
	put3(IxPos, s.Pos.Sub(o.Pos))
	put3(IxRot, lio.LogQuat(o.Rot.Conj().Mul(s.Rot)))
	put3(IxExtR, lio.LogQuat(o.ExtR.Conj().Mul(s.ExtR)))
	put3(IxExtT, s.ExtT.Sub(o.ExtT))
	put3(IxVel, s.Vel.Sub(o.Vel))
	put3(IxBG, s.BG.Sub(o.BG))
	put3(IxBA, s.BA.Sub(o.BA))
	dx[IxGrav], dx[IxGrav+1] = lio.S2Minus(s.Grav, o.Grav)
	return dx
}

// LidarPos returns the LiDAR origin expressed in the world frame.
func (s *State) LidarPos() lio.V3 {
	return s.Pos.Add(s.Rot.Rotate(s.ExtT))
}
