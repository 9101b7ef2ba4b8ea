// Package l5tracks owns Layer 5 (Tracks) of the tracking data model.
//
// Responsibilities: the tracker state machine (uninitialised, bootstrapping,
// tracking), colour-model bootstrap from a chosen reference frame,
// per-frame multi-pass relabelling with temporal stabilisation of cluster
// centres, the refined and unrefined centre sequences, and the append-only
// track log.
// Key types: Tracker, TrackerConfig, FrameResult, Center, TrackLog.
//
// Dependency rule: L5 may depend on L1-L4, but never on the pipeline or
// storage packages.
// No SQL/database code is allowed in this package.
package l5tracks
