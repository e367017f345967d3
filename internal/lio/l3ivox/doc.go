// Package l3ivox implements the incremental voxel index backing the
// odometry map: a hash map from integer voxel keys to small bounded
// point sets, threaded through an LRU list. Inserts are amortised O(1);
// nearest-neighbour queries inspect a fixed neighbourhood pattern around
// the query voxel. When the voxel count exceeds the configured capacity
// the least-recently-touched voxels are evicted whole.
package l3ivox
