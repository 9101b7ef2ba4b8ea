// Package monitor serves a read-only HTTP view of a running tracker and
// renders trajectory plots.
//
// Routes:
//
//	/health             liveness check
//	/api/status         tracker state, frame count, model colours
//	/api/tracks         refined and unrefined centre sequences
//	/api/toggle         POST: flip the tracker's active flag
//	/api/runs           stored runs (track store only)
//	/api/export         POST: write the trajectory PNG under the data dir
//	/charts/tracks      go-echarts scatter of every trail
//	/plots/tracks.png   gonum/plot trajectory image
//	/debug/             tsweb debug index with tailsql over the track store
package monitor
