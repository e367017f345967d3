package l3ivox

import (
	"container/list"
	"math"
	"sort"
	"sync"

	"github.com/banshee-data/odometry.report/internal/lio"
)

// NearbyType selects the neighbourhood pattern searched around the query
// voxel, always including the centre.
type NearbyType int

const (
	NearbyCenter NearbyType = 0
	Nearby6      NearbyType = 6
	Nearby18     NearbyType = 18
	Nearby26     NearbyType = 26
)

// Options configures an IVox at construction; the neighbourhood pattern
// is fixed for the index lifetime.
type Options struct {
	// Resolution is the voxel side length in metres.
	Resolution float64
	// Nearby selects the search neighbourhood.
	Nearby NearbyType
	// Capacity bounds the number of live voxels; 0 uses the default.
	Capacity int
	// PointsPerVoxel bounds the representative set per voxel; 0 uses
	// the default.
	PointsPerVoxel int
}

const (
	defaultCapacity       = 1_000_000
	defaultPointsPerVoxel = 20
)

type voxelKey struct {
	X, Y, Z int64
}

type voxelNode struct {
	key    voxelKey
	points []lio.Point
}

// IVox is the incremental voxel index. Insertion is serial (pipeline
// thread only); queries may run concurrently with each other, so the
// LRU touch they perform is guarded by mu.
type IVox struct {
	opts   Options
	mu     sync.Mutex
	grid   map[voxelKey]*list.Element
	lru    *list.List // front = most recently touched
	nearby []voxelKey // offsets searched around the query voxel
	invRes float64
}

// New creates an empty index.
func New(opts Options) *IVox {
	if opts.Resolution <= 0 {
		opts.Resolution = 0.2
	}
	if opts.Capacity <= 0 {
		opts.Capacity = defaultCapacity
	}
	if opts.PointsPerVoxel <= 0 {
		opts.PointsPerVoxel = defaultPointsPerVoxel
	}
	iv := &IVox{
		opts:   opts,
		grid:   make(map[voxelKey]*list.Element),
		lru:    list.New(),
		invRes: 1 / opts.Resolution,
	}
	iv.nearby = nearbyOffsets(opts.Nearby)
	return iv
}

// nearbyOffsets enumerates the voxel offsets for a neighbourhood pattern.
func nearbyOffsets(nt NearbyType) []voxelKey {
	offsets := []voxelKey{{0, 0, 0}}
	add := func(ks ...voxelKey) { offsets = append(offsets, ks...) }
	if nt == Nearby6 || nt == Nearby18 || nt == Nearby26 {
		add(voxelKey{-1, 0, 0}, voxelKey{1, 0, 0},
			voxelKey{0, -1, 0}, voxelKey{0, 1, 0},
			voxelKey{0, 0, -1}, voxelKey{0, 0, 1})
	}
	if nt == Nearby18 || nt == Nearby26 {
		add(voxelKey{-1, -1, 0}, voxelKey{-1, 1, 0}, voxelKey{1, -1, 0}, voxelKey{1, 1, 0},
			voxelKey{-1, 0, -1}, voxelKey{-1, 0, 1}, voxelKey{1, 0, -1}, voxelKey{1, 0, 1},
			voxelKey{0, -1, -1}, voxelKey{0, -1, 1}, voxelKey{0, 1, -1}, voxelKey{0, 1, 1})
	}
	if nt == Nearby26 {
		for dx := int64(-1); dx <= 1; dx += 2 {
			for dy := int64(-1); dy <= 1; dy += 2 {
				for dz := int64(-1); dz <= 1; dz += 2 {
					add(voxelKey{dx, dy, dz})
				}
			}
		}
	}
	return offsets
}

func (iv *IVox) keyOf(p lio.Point) voxelKey {
	return voxelKey{
		X: int64(math.Floor(float64(p.X) * iv.invRes)),
		Y: int64(math.Floor(float64(p.Y) * iv.invRes)),
		Z: int64(math.Floor(float64(p.Z) * iv.invRes)),
	}
}

// AddPoints inserts points, touching each affected voxel in the LRU.
// Points landing in a full voxel are discarded; duplicates are not
// detected.
func (iv *IVox) AddPoints(points []lio.Point) {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	for _, p := range points {
		k := iv.keyOf(p)
		if el, ok := iv.grid[k]; ok {
			iv.lru.MoveToFront(el)
			node := el.Value.(*voxelNode)
			if len(node.points) < iv.opts.PointsPerVoxel {
				node.points = append(node.points, p)
			}
			continue
		}
		node := &voxelNode{key: k, points: make([]lio.Point, 1, 4)}
		node.points[0] = p
		iv.grid[k] = iv.lru.PushFront(node)
		if iv.lru.Len() > iv.opts.Capacity {
			iv.evictOldest()
		}
	}
}

// evictOldest removes the least-recently-touched voxel whole.
func (iv *IVox) evictOldest() {
	back := iv.lru.Back()
	if back == nil {
		return
	}
	node := back.Value.(*voxelNode)
	delete(iv.grid, node.key)
	iv.lru.Remove(back)
}

// GetClosest returns at most k points from the neighbourhood voxels of
// q, sorted ascending by squared distance. Fewer are returned when the
// neighbourhood is sparse. Touched voxels move to the front of the LRU.
func (iv *IVox) GetClosest(q lio.Point, k int) []lio.Point {
	if k <= 0 {
		return nil
	}
	center := iv.keyOf(q)
	qv := q.Vec()

	type cand struct {
		p  lio.Point
		d2 float64
	}
	cands := make([]cand, 0, k*4)
	iv.mu.Lock()
	for _, off := range iv.nearby {
		nk := voxelKey{center.X + off.X, center.Y + off.Y, center.Z + off.Z}
		el, ok := iv.grid[nk]
		if !ok {
			continue
		}
		iv.lru.MoveToFront(el)
		for _, p := range el.Value.(*voxelNode).points {
			d := p.Vec().Sub(qv)
			cands = append(cands, cand{p: p, d2: d.SquaredNorm()})
		}
	}
	iv.mu.Unlock()
	if len(cands) == 0 {
		return nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].d2 < cands[j].d2 })
	if len(cands) > k {
		cands = cands[:k]
	}
	out := make([]lio.Point, len(cands))
	for i, c := range cands {
		out[i] = c.p
	}
	return out
}

// NumVoxels reports the live voxel count.
func (iv *IVox) NumVoxels() int {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.lru.Len()
}

// Reset clears the index.
func (iv *IVox) Reset() {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	iv.grid = make(map[voxelKey]*list.Element)
	iv.lru.Init()
}
