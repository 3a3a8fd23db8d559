// Package timeline implements the replay engine's Event Merger (C5): a
// merge-lock-guarded, pointer-swapped sorted view of every resident
// segment's events, trimmed to the currently loaded time range.
package timeline

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/driveroute/routereplay/internal/model"
	"github.com/driveroute/routereplay/internal/segment"
)

// Timeline is the globally-visible sorted event stream the pacing loop
// walks. Readers call Events() and get a consistent snapshot without ever
// blocking on a writer: the merge itself runs on locals, the merge lock
// only guards publication, and publication is a single atomic pointer swap.
type Timeline struct {
	mergeLock sync.Mutex
	snapshot  atomic.Pointer[[]model.Event]
}

// New returns an empty Timeline.
func New() *Timeline {
	t := &Timeline{}
	empty := make([]model.Event, 0)
	t.snapshot.Store(&empty)
	return t
}

// Events returns the current sorted event snapshot. The returned slice
// must not be mutated; a new Rebuild produces a fresh slice rather than
// editing this one in place.
func (t *Timeline) Events() []model.Event {
	return *t.snapshot.Load()
}

// Rebuild recomputes the merged timeline from every valid segment in
// segments whose events fall within [minNs, maxNs], sorts it, and
// publishes the result with a single pointer swap. Concurrent Rebuild
// calls merge independently and take the merge lock only for the swap, so
// the published snapshot is that of whichever call swapped last;
// concurrent Events() calls never block.
func (t *Timeline) Rebuild(segments map[int]*segment.Segment, minNs, maxNs uint64) {
	var merged []model.Event
	for _, s := range segments {
		if s == nil || !s.Valid() {
			continue
		}
		evs := s.Log.Events
		lo := sort.Search(len(evs), func(i int) bool { return evs[i].MonotonicTimeNs >= minNs })
		hi := sort.Search(len(evs), func(i int) bool { return evs[i].MonotonicTimeNs > maxNs })
		merged = append(merged, evs[lo:hi]...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Less(&merged[j]) })

	t.mergeLock.Lock()
	t.snapshot.Store(&merged)
	t.mergeLock.Unlock()
}

// FindFirstAtOrAfter returns the index of the first event at or after tNs
// in the current snapshot, and the snapshot it was found in (so the
// caller keeps iterating a single consistent slice even if a concurrent
// Rebuild swaps the pointer underneath it). It returns ok=false if no
// such event exists yet.
func (t *Timeline) FindFirstAtOrAfter(tNs uint64) (events []model.Event, index int, ok bool) {
	events = t.Events()
	idx := sort.Search(len(events), func(i int) bool { return events[i].MonotonicTimeNs >= tNs })
	if idx >= len(events) {
		return events, 0, false
	}
	return events, idx, true
}
