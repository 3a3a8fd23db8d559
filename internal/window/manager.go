// Package window implements the replay engine's Segment Window Manager
// (C4): keeps a sliding residency window of segments loaded around the
// playback cursor, evicting everything outside it.
package window

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/driveroute/routereplay/internal/model"
	"github.com/driveroute/routereplay/internal/segment"
)

// DefaultQuantum is the poll interval used when none is configured,
// matching the engine's default 20ms poll sleep.
const DefaultQuantum = 20 * time.Millisecond

// MaxQuantum is the hard ceiling placed on the poll period.
const MaxQuantum = 100 * time.Millisecond

// Manager owns the set of currently-resident segments for a route.
type Manager struct {
	route  *model.Route
	cursor *model.Cursor

	backward, forward int
	quantum           time.Duration

	onSegmentReady func(*segment.Segment)

	log *slog.Logger

	mu       sync.Mutex
	resident map[int]*segment.Segment
}

// Config is the tunable residency window shape.
type Config struct {
	Backward int
	Forward  int
	Quantum  time.Duration
}

// New constructs a Manager for route, tracking cursor and calling
// onSegmentReady once for every segment as soon as its loading finishes
// (including segments whose log turned out invalid), so the event merger
// can fold it in or skip it.
func New(route *model.Route, cursor *model.Cursor, cfg Config, onSegmentReady func(*segment.Segment), log *slog.Logger) *Manager {
	q := cfg.Quantum
	if q <= 0 {
		q = DefaultQuantum
	}
	if q > MaxQuantum {
		q = MaxQuantum
	}
	return &Manager{
		route:          route,
		cursor:         cursor,
		backward:       cfg.Backward,
		forward:        cfg.Forward,
		quantum:        q,
		onSegmentReady: onSegmentReady,
		log:            log,
		resident:       make(map[int]*segment.Segment),
	}
}

// Run polls at the configured quantum until ctx is cancelled, creating and
// evicting segments to track the residency window around the cursor.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.quantum)
	defer ticker.Stop()
	m.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *Manager) poll(ctx context.Context) {
	center := int(m.cursor.Segment())
	lo := center - m.backward
	if lo < 0 {
		lo = 0
	}
	hi := center + m.forward
	if max := m.route.Len() - 1; hi > max {
		hi = max
	}

	m.mu.Lock()
	want := make(map[int]bool, hi-lo+1)
	for i := lo; i <= hi; i++ {
		want[i] = true
		if _, ok := m.resident[i]; ok {
			continue
		}
		files, ok := m.route.SegmentAt(i)
		if !ok {
			continue
		}
		s := segment.New(ctx, files, m.log)
		m.resident[i] = s
		if m.onSegmentReady != nil {
			s.Notify(func() { m.onSegmentReady(s) })
		}
	}

	var evicted []*segment.Segment
	for i, s := range m.resident {
		if !want[i] {
			evicted = append(evicted, s)
			delete(m.resident, i)
		}
	}
	m.mu.Unlock()

	for _, s := range evicted {
		s.Close()
	}
}

// Resident returns the segment currently loaded for index, or nil.
func (m *Manager) Resident(index int) *segment.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resident[index]
}

// Window returns the currently resident segment indices, for diagnostics
// and the invariant tests.
func (m *Manager) Window() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.resident))
	for i := range m.resident {
		out = append(out, i)
	}
	return out
}

// Snapshot returns a shallow copy of the current resident-segment map, for
// the event merger to rebuild its timeline from.
func (m *Manager) Snapshot() map[int]*segment.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]*segment.Segment, len(m.resident))
	for i, s := range m.resident {
		out[i] = s
	}
	return out
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.resident {
		s.Close()
		delete(m.resident, i)
	}
}
