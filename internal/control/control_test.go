package control

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driveroute/routereplay/internal/config"
	"github.com/driveroute/routereplay/internal/logformat"
	"github.com/driveroute/routereplay/internal/model"
)

func writeSegmentLog(t *testing.T, dir string, idx int, records []logformat.Record) model.SegmentFiles {
	t.Helper()
	segDir := filepath.Join(dir, "seg")
	if err := os.MkdirAll(segDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(segDir, "rlog"+string(rune('0'+idx)))
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	enc := logformat.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	f.Close()
	return model.SegmentFiles{Index: idx, Log: path}
}

func TestEngineStartSeekStatus(t *testing.T) {
	dir := t.TempDir()
	engaged := true
	route := &model.Route{
		Name: "test-route",
		Segments: []model.SegmentFiles{
			writeSegmentLog(t, dir, 0, []logformat.Record{
				{TimeNs: 0, Which: int(model.KindCarState)},
				{TimeNs: uint64(30 * time.Second), Which: int(model.KindControlsState), Engaged: &engaged, Alert: "warning"},
			}),
		},
	}

	cfg := config.Default()
	cfg.Engine.BackwardSegments = 1
	cfg.Engine.ForwardSegments = 1
	cfg.Engine.SegmentLengthSeconds = 60
	cfg.Engine.PollQuantumMs = 5

	engine := New(cfg, route, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	time.Sleep(100 * time.Millisecond)

	status := engine.Status()
	if status.Segment != 0 {
		t.Fatalf("expected segment 0, got %d", status.Segment)
	}

	engine.Seek(10)
	status = engine.Status()
	if status.TimeNs != uint64(10*time.Second) {
		t.Fatalf("got time_ns %d, want %d", status.TimeNs, uint64(10*time.Second))
	}

	engine.Pause()
	if !engine.Status().Paused {
		t.Fatalf("expected paused status")
	}
	engine.Resume()
	if engine.Status().Paused {
		t.Fatalf("expected resumed status")
	}
}

func TestEngineCapturesRouteStartFromInitData(t *testing.T) {
	dir := t.TempDir()
	route := &model.Route{
		Name: "test-route",
		Segments: []model.SegmentFiles{
			writeSegmentLog(t, dir, 0, []logformat.Record{
				{TimeNs: 1000, Which: int(model.KindInitData)},
				{TimeNs: uint64(30 * time.Second), Which: int(model.KindCarState)},
			}),
		},
	}

	cfg := config.Default()
	cfg.Engine.PollQuantumMs = 5
	engine := New(cfg, route, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	time.Sleep(100 * time.Millisecond)

	if !engine.cursor.RouteStartSet() {
		t.Fatalf("expected route start to be captured from segment 0's InitData event")
	}
	if got := engine.cursor.RouteStartNs(); got != 1000 {
		t.Fatalf("got route start %d, want 1000", got)
	}
}

func TestEngineSegmentAdvancesDuringPlaybackWithoutSeek(t *testing.T) {
	dir := t.TempDir()
	route := &model.Route{
		Name: "test-route",
		Segments: []model.SegmentFiles{
			writeSegmentLog(t, dir, 0, []logformat.Record{
				{TimeNs: 0, Which: int(model.KindInitData)},
				{TimeNs: uint64(90 * time.Second), Which: int(model.KindCarState)},
			}),
		},
	}

	cfg := config.Default()
	cfg.Engine.SegmentLengthSeconds = 60
	cfg.Engine.PollQuantumMs = 5
	engine := New(cfg, route, nil, nil, nil)
	engine.cursor.SetSpeed(SpeedFull)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	time.Sleep(150 * time.Millisecond)

	if got := engine.Status().Segment; got < 1 {
		t.Fatalf("expected playback past a 90s event at a 60s segment length to advance the cursor's segment, got %d", got)
	}
}

func TestEngineSeekToFlagFindsEngagement(t *testing.T) {
	dir := t.TempDir()
	engaged := true
	disengaged := false
	route := &model.Route{
		Name: "test-route",
		Segments: []model.SegmentFiles{
			writeSegmentLog(t, dir, 0, []logformat.Record{
				{TimeNs: 0, Which: int(model.KindControlsState), Engaged: &disengaged},
				{TimeNs: uint64(5 * time.Second), Which: int(model.KindControlsState), Engaged: &engaged},
			}),
		},
	}

	cfg := config.Default()
	cfg.Engine.PollQuantumMs = 5
	engine := New(cfg, route, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	time.Sleep(100 * time.Millisecond)

	found := engine.SeekToFlag(NextEngagement)
	if !found {
		t.Fatalf("expected to find an engagement transition")
	}
	if engine.Status().TimeNs != uint64(5*time.Second) {
		t.Fatalf("got time_ns %d, want %d", engine.Status().TimeNs, uint64(5*time.Second))
	}
}
