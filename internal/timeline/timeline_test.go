package timeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/driveroute/routereplay/internal/logformat"
	"github.com/driveroute/routereplay/internal/model"
	"github.com/driveroute/routereplay/internal/segment"
)

func makeSegment(t *testing.T, index int, times []uint64) *segment.Segment {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rlog")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := logformat.NewEncoder(f)
	for _, ts := range times {
		if err := enc.Encode(logformat.Record{TimeNs: ts, Which: int(model.KindCarState)}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	f.Close()

	files := model.SegmentFiles{Index: index, Log: path}
	s := segment.New(context.Background(), files, nil)
	done := make(chan struct{})
	s.Notify(func() { close(done) })
	<-done
	return s
}

func TestRebuildMergesAndSortsAcrossSegments(t *testing.T) {
	segs := map[int]*segment.Segment{
		0: makeSegment(t, 0, []uint64{50, 10, 30}),
		1: makeSegment(t, 1, []uint64{20, 40}),
	}

	tl := New()
	tl.Rebuild(segs, 0, 1000)

	events := tl.Events()
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].MonotonicTimeNs < events[i-1].MonotonicTimeNs {
			t.Fatalf("events not sorted: %v", events)
		}
	}
}

func TestRebuildTrimsToWindow(t *testing.T) {
	segs := map[int]*segment.Segment{
		0: makeSegment(t, 0, []uint64{5, 50, 500}),
	}
	tl := New()
	tl.Rebuild(segs, 10, 100)

	events := tl.Events()
	if len(events) != 1 || events[0].MonotonicTimeNs != 50 {
		t.Fatalf("expected only the in-window event, got %v", events)
	}
}

func TestFindFirstAtOrAfter(t *testing.T) {
	segs := map[int]*segment.Segment{
		0: makeSegment(t, 0, []uint64{10, 20, 30}),
	}
	tl := New()
	tl.Rebuild(segs, 0, 1000)

	events, idx, ok := tl.FindFirstAtOrAfter(15)
	if !ok {
		t.Fatalf("expected a match")
	}
	if events[idx].MonotonicTimeNs != 20 {
		t.Fatalf("got %d, want 20", events[idx].MonotonicTimeNs)
	}

	_, _, ok = tl.FindFirstAtOrAfter(1000)
	if ok {
		t.Fatalf("expected no match past the end")
	}
}
