// Package l1cameras owns Layer 1 (Cameras) of the reconstruction data model.
//
// Responsibilities: the camera collaborator contract consumed by the voxel
// grid, occupancy and tracking layers; a pinhole camera model with lens
// distortion driven by stored calibration; directory-backed frame and
// foreground-mask sources; synthetic cameras for tests; and the camera-set
// fingerprint that keys the voxel projection cache.
// Key types: Camera, PinholeModel, DirectoryCamera, SyntheticCamera.
//
// Calibration estimation and video decoding are not performed here. Frames
// and masks arrive as image files already decoded per frame index.
//
// Dependency rule: L1 depends on no other hull layer.
// No SQL/database code is allowed in this package.
package l1cameras
