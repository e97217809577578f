package progress

import "sync"

// Stage identifies a provisioning phase
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageDownload Stage = "download"
	StageExtract  Stage = "extract"
	StageCreate   Stage = "create"
	StageStart    Stage = "start"
	StageDone     Stage = "done"
)

// Band is the inclusive percentage range a stage reports within
type Band struct {
	Min int
	Max int
}

var bands = map[Stage]Band{
	StageResolve:  {0, 10},
	StageDownload: {10, 90},
	StageExtract:  {10, 90},
	StageCreate:   {90, 100},
	StageStart:    {90, 100},
	StageDone:     {100, 100},
}

// BandFor returns the band of a stage; unknown stages use the full scale
func BandFor(stage Stage) Band {
	if b, ok := bands[stage]; ok {
		return b
	}
	return Band{0, 100}
}

// Percent computes floor(current/total*100) clamped into the stage band.
// A non-positive total reports the band floor.
func Percent(stage Stage, current, total int64) int {
	b := BandFor(stage)
	if total <= 0 {
		return b.Min
	}
	if current < 0 {
		current = 0
	}
	p := int(current * 100 / total)
	return clamp(p, b.Min, b.Max)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Tracker reports a non-decreasing percentage for one provisioning run
type Tracker struct {
	mu   sync.Mutex
	last int
}

// NewTracker starts a run at 0
func NewTracker() *Tracker {
	return &Tracker{}
}

// Observe folds a stage counter into the run and returns the value to report
func (t *Tracker) Observe(stage Stage, current, total int64) int {
	return t.Report(Percent(stage, current, total))
}

// Report records an absolute percentage; lower values than already reported are raised
func (t *Tracker) Report(p int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	p = clamp(p, 0, 100)
	if p > t.last {
		t.last = p
	}
	return t.last
}

// Last returns the highest value reported so far
func (t *Tracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
