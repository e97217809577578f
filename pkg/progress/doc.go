/*
Package progress turns raw image-acquisition counters into the single
percentage shown to operators during a provisioning run.

# Stage Bands

Each stage owns a band of the 0..100 scale:

	StageResolve            [0, 10]   validation, image cache lookup
	StageDownload/Extract   [10, 90]  layer download and unpack
	StageCreate/StageStart  [90, 100] container creation and start
	StageDone               100

Percent computes floor(current*100/total) and clamps it into the band of the
stage. A missing or non-positive total reports the band floor, which is what
a registry that omits layer sizes produces.

# Monotonic Reporting

Layers finish out of order, so a raw ratio can go backwards when a new layer
starts. Tracker holds the highest value reported in one run:

	Observe(download, 10, 100)   → 10
	Observe(download, 60, 100)   → 60
	Observe(download, 20, 100)   → 60   (new layer, raw ratio dropped)
	Report(95)                   → 95
	Observe(create, 0, 0)        → 95

A run that fails keeps its last value; deploy.failed carries it so the
dashboard bar stops where the failure happened.

# Usage Examples

	tracker := progress.NewTracker()
	publish(tracker.Report(5))

	// per-layer counters summed by the caller
	before := tracker.Last()
	if p := tracker.Observe(progress.StageDownload, current, total); p != before {
		publish(p)
	}

# Thread Safety

Tracker is safe for concurrent use. The deploy goroutine and the pull status
callback both report into the same run.
*/
package progress
