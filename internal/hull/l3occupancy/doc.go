// Package l3occupancy owns Layer 3 (Occupancy) of the reconstruction data
// model: the per-frame visual hull over the voxel arena.
//
// A voxel is occupied when every camera sees it inside the image and on a
// foreground pixel. The test is independent per voxel, so the arena is split
// into contiguous ranges evaluated by a fixed worker pool, each worker
// filling a private buffer that is concatenated in range order afterwards.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4+.
// No SQL/database code is allowed in this package.
package l3occupancy
