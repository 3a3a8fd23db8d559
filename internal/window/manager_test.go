package window

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driveroute/routereplay/internal/logformat"
	"github.com/driveroute/routereplay/internal/model"
)

func makeRoute(t *testing.T, n int) *model.Route {
	t.Helper()
	dir := t.TempDir()
	r := &model.Route{Name: "test"}
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, "rlog"+string(rune('0'+i)))
		f, err := os.Create(path)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		enc := logformat.NewEncoder(f)
		if err := enc.Encode(logformat.Record{TimeNs: uint64(i), Which: int(model.KindCarState)}); err != nil {
			t.Fatalf("encode: %v", err)
		}
		f.Close()
		r.Segments = append(r.Segments, model.SegmentFiles{Index: i, Log: path})
	}
	return r
}

func TestWindowStaysWithinResidencyBounds(t *testing.T) {
	route := makeRoute(t, 10)
	cursor := model.NewCursor()
	cursor.SetSegment(5)

	mgr := New(route, cursor, Config{Backward: 2, Forward: 2, Quantum: 5 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	time.Sleep(50 * time.Millisecond)

	win := mgr.Window()
	for _, idx := range win {
		if idx < 3 || idx > 7 {
			t.Fatalf("segment %d outside residency window [3,7]", idx)
		}
	}
	if len(win) == 0 {
		t.Fatalf("expected some resident segments")
	}
}

func TestWindowEvictsWhenCursorMoves(t *testing.T) {
	route := makeRoute(t, 10)
	cursor := model.NewCursor()
	cursor.SetSegment(0)

	mgr := New(route, cursor, Config{Backward: 1, Forward: 1, Quantum: 5 * time.Millisecond}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mgr.Run(ctx)

	time.Sleep(30 * time.Millisecond)
	if mgr.Resident(0) == nil {
		t.Fatalf("expected segment 0 resident initially")
	}

	cursor.SetSegment(9)
	time.Sleep(30 * time.Millisecond)

	if mgr.Resident(0) != nil {
		t.Fatalf("expected segment 0 evicted after cursor moved far away")
	}
	if mgr.Resident(9) == nil {
		t.Fatalf("expected segment 9 resident after cursor moved")
	}
}
