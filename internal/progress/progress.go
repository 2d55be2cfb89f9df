// Package progress folds weighted stage phases into a single 0-100 value.
package progress

import (
	"math"
	"sync"
)

// Sink receives every new overall value.
type Sink func(value int)

type Phase struct {
	Name   string
	Weight int
}

// Tracker reports a non-decreasing overall progress across ordered phases
// whose weights add up to 100.
type Tracker struct {
	mu     sync.Mutex
	phases []Phase
	sink   Sink
	last   int
}

func NewTracker(sink Sink, phases ...Phase) *Tracker {
	return &Tracker{phases: phases, sink: sink}
}

// Report records that current of total units of the named phase are done.
// Unknown phases are ignored.
func (t *Tracker) Report(phase string, current, total int) {
	base := 0
	for _, p := range t.phases {
		if p.Name != phase {
			base += p.Weight
			continue
		}
		t.emit(base + share(current, total, p.Weight))
		return
	}
}

// Set reports an absolute value, used by stages without phases.
func (t *Tracker) Set(value int) {
	t.emit(value)
}

// Complete reports 100 regardless of what the phases added up to.
func (t *Tracker) Complete() {
	t.emit(100)
}

// Value returns the last value handed to the sink.
func (t *Tracker) Value() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracker) emit(value int) {
	value = min(max(value, 0), 100)

	t.mu.Lock()
	defer t.mu.Unlock()
	if value <= t.last {
		return
	}
	t.last = value
	if t.sink != nil {
		t.sink(value)
	}
}

func share(current, total, weight int) int {
	if total <= 0 || current <= 0 {
		return 0
	}
	if current >= total {
		return weight
	}
	return int(math.Round(float64(current) / float64(total) * float64(weight)))
}
