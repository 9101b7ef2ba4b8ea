// Package l2voxels owns Layer 2 (Voxels) of the reconstruction data model.
//
// Responsibilities: lattice parameters and the linear index bijection, the
// flat voxel arena with per-camera projections, parallel projection
// precomputation, and the versioned CSV projection cache.
// Key types: GridParams, Grid, Voxel, Builder.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
// No SQL/database code is allowed in this package.
package l2voxels
