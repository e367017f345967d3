package pipeline

import (
	"math"

	"github.com/banshee-data/odometry.report/internal/lio"
	"github.com/banshee-data/odometry.report/internal/lio/parallel"
)

// mapIncremental decides which downsampled world points grow the map.
// Two lists accumulate in parallel — points needing a downsample
// decision and points whose voxel is clearly unoccupied — and both flush
// into the index serially at the end.
func (p *Pipeline) mapIncremental() {
	cnt := len(p.scanDownBody)
	decisions := make([]uint8, cnt) // 0 = skip, 1 = add, 2 = no-downsample add
	res := p.cfg.Engine.FilterSizeMap

	parallel.ForEach(cnt, func(i int) {
		p.scanDownWorld[i] = p.pointBodyToWorld(p.scanDownBody[i])
		pw := p.scanDownWorld[i].Vec()

		near := p.nearestPoints[i]
		if len(near) == 0 || !p.ekfInited {
			decisions[i] = 1
			return
		}

		// Voxel centre at map resolution.
		center := lio.V3{
			(math.Floor(pw[0]/res) + 0.5) * res,
			(math.Floor(pw[1]/res) + 0.5) * res,
			(math.Floor(pw[2]/res) + 0.5) * res,
		}

		d := near[0].Vec().Sub(center)
		if math.Abs(d[0]) > 0.5*res && math.Abs(d[1]) > 0.5*res && math.Abs(d[2]) > 0.5*res {
			// Closest neighbour lives in another voxel: this voxel is
			// effectively empty, insert without the distance vote.
			decisions[i] = 2
			return
		}

		dist := pw.Sub(center).SquaredNorm()
		needAdd := true
		if len(near) >= NumMatchPoints {
			for j := 0; j < NumMatchPoints; j++ {
				if near[j].Vec().Sub(center).SquaredNorm() < dist+1e-6 {
					needAdd = false
					break
				}
			}
		}
		if needAdd {
			decisions[i] = 1
		}
	})

	pointsToAdd := make([]lio.Point, 0, cnt)
	noDownsample := make([]lio.Point, 0, cnt)
	for i := 0; i < cnt; i++ {
		switch decisions[i] {
		case 1:
			pointsToAdd = append(pointsToAdd, p.scanDownWorld[i])
		case 2:
			noDownsample = append(noDownsample, p.scanDownWorld[i])
		}
	}

	p.ivox.AddPoints(pointsToAdd)
	p.ivox.AddPoints(noDownsample)
	lio.Tracef("map incremental: %d votes, %d direct, %d voxels",
		len(pointsToAdd), len(noDownsample), p.ivox.NumVoxels())
}
