// Package pipeline provides orchestration for the voxel tracking pipeline.
//
// It wires together the layer packages (voxel grid, occupancy, tracker)
// and adapter sinks (track log, track store) into a frame-stepping loop for
// recorded multi-camera sessions. The pipeline does not own domain logic;
// it delegates to layer packages and sinks.
package pipeline
