// Package l4appearance owns Layer 4 (Appearance) of the tracking data model.
//
// Responsibilities: three-channel color histograms and the chi-squared
// distance between them, k-means bootstrap clustering of the ground plane,
// nearest-wins occlusion resolution per camera, the color model set and its
// YAML file, and the per-cluster display palette.
// Key types: ChannelHistograms, ModelSet, Attribute, AppearanceConfig.
//
// Dependency rule: L4 may depend on L1-L3, but never on L5+.
// No SQL/database code is allowed in this package.
package l4appearance
