// Package control implements the replay engine's Control Plane (C8):
// constructing and wiring C1-C7, and exposing the narrow start / stop /
// pause / seek / speed / timeline facade an embedder or the optional HTTP
// surface drives.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/driveroute/routereplay/internal/bus"
	"github.com/driveroute/routereplay/internal/camera"
	"github.com/driveroute/routereplay/internal/config"
	"github.com/driveroute/routereplay/internal/model"
	"github.com/driveroute/routereplay/internal/pacing"
	"github.com/driveroute/routereplay/internal/segment"
	"github.com/driveroute/routereplay/internal/sessionlog"
	"github.com/driveroute/routereplay/internal/timeline"
	"github.com/driveroute/routereplay/internal/window"
)

// SpeedFull re-exports model.SpeedFull so callers of this package never
// need to import internal/model just to disable pacing.
const SpeedFull = model.SpeedFull

// SeekFlag names a named seek target beyond a plain timestamp.
type SeekFlag int

const (
	NextEngagement SeekFlag = iota
	NextDisengagement
	NextAlert
	NextAlertClear
)

// Status is a snapshot of the engine's current playback state, the
// payload behind GET /status.
type Status struct {
	TimeNs    uint64
	Segment   int32
	Paused    bool
	Speed     float64
	Residency []int
}

// Interval is one entry of the Timeline() listing: an engagement or
// alert span.
type Interval struct {
	Kind     string
	StartNs  uint64
	EndNs    uint64
	Ongoing  bool
}

// Engine owns every subsystem for one loaded route and exposes the
// Control Plane's public operations. Construct with New, call Start to
// begin playback, and Stop to release everything.
type Engine struct {
	cfg   *config.Config
	route *model.Route
	log   *slog.Logger

	cursor   *model.Cursor
	wm       *window.Manager
	tl       *timeline.Timeline
	loop     *pacing.Loop
	camSrv   *camera.Server
	busConn  *bus.Bus
	sessions *sessionlog.Store
	sessionID string

	cameraFrames chan camera.Frame

	mu          sync.Mutex
	cancelAll   context.CancelFunc
	controlsLog []model.Event // append-only record of ControlsState events seen, for named seeks and timeline()
}

// New constructs an Engine for route using cfg. busConn and sessions may
// be nil, in which case publishing and audit logging are skipped.
func New(cfg *config.Config, route *model.Route, busConn *bus.Bus, sessions *sessionlog.Store, log *slog.Logger) *Engine {
	cursor := model.NewCursor()

	e := &Engine{
		cfg:       cfg,
		route:     route,
		log:       log,
		cursor:    cursor,
		tl:        timeline.New(),
		busConn:   busConn,
		sessions:  sessions,
		sessionID: sessionlog.NewSessionID(),
	}

	e.wm = window.New(route, cursor, window.Config{
		Backward: cfg.Engine.BackwardSegments,
		Forward:  cfg.Engine.ForwardSegments,
		Quantum:  time.Duration(cfg.Engine.PollQuantumMs) * time.Millisecond,
	}, e.onSegmentReady, log)

	e.cameraFrames = make(chan camera.Frame, cfg.Engine.CameraBufferCount*model.CameraCount)
	e.camSrv = camera.New(e.wm, e.cameraFrames, [model.CameraCount]camera.Geometry{
		model.RoadCam:     {Width: cfg.Cameras.Road.Width, Height: cfg.Cameras.Road.Height},
		model.DriverCam:   {Width: cfg.Cameras.Driver.Width, Height: cfg.Cameras.Driver.Height},
		model.WideRoadCam: {Width: cfg.Cameras.WideRoad.Width, Height: cfg.Cameras.WideRoad.Height},
	}, log)

	var publisher pacing.Publisher
	if busConn != nil {
		publisher = busConn
	}
	filter := bus.Filter{Allow: cfg.AllowSet(), Block: cfg.BlockSet()}
	e.loop = pacing.New(e.tl, cursor, pacing.Options{
		Bus:             publisher,
		Filter:          filter,
		Camera:          e.camSrv,
		SegmentLengthNs: uint64(cfg.Engine.SegmentLengthSeconds) * uint64(time.Second),
	}, log)

	return e
}

// Frames returns the channel decoded camera frames are delivered on.
func (e *Engine) Frames() <-chan camera.Frame { return e.cameraFrames }

// onSegmentReady is the Segment Window Manager's completion callback: it
// rebuilds the event timeline, captures the route's start time from
// segment 0's leading InitData event, and for a segment with a valid log
// appends its ControlsState events to the named-seek index.
func (e *Engine) onSegmentReady(s *segment.Segment) {
	e.rebuildTimeline()
	if !s.Valid() {
		return
	}
	e.mu.Lock()
	for _, ev := range s.Log.Events {
		if ev.Which == model.KindControlsState {
			e.controlsLog = append(e.controlsLog, ev)
		}
		if s.Index == 0 && ev.Which == model.KindInitData && !e.cursor.RouteStartSet() {
			e.cursor.SetRouteStartNs(ev.MonotonicTimeNs)
		}
	}
	e.mu.Unlock()
}

func (e *Engine) rebuildTimeline() {
	snap := e.wm.Snapshot()
	segLen := uint64(e.cfg.Engine.SegmentLengthSeconds) * uint64(time.Second)
	center := int(e.cursor.Segment())
	lo := center - e.cfg.Engine.BackwardSegments
	if lo < 0 {
		lo = 0
	}
	hi := center + e.cfg.Engine.ForwardSegments
	minNs := uint64(lo) * segLen
	maxNs := uint64(hi+1)*segLen - 1
	e.tl.Rebuild(snap, minNs, maxNs)
}

// Start begins the residency window poller and the pacing loop. It
// returns immediately; both run on background goroutines until Stop is
// called.
func (e *Engine) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancelAll = cancel
	e.mu.Unlock()

	go e.wm.Run(ctx)
	go e.loop.Run(ctx)

	e.audit(sessionlog.OpStart, fmt.Sprintf("route=%s", e.route.Name))
}

// Stop cancels the window poller and pacing loop and closes the camera
// server.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancelAll
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.camSrv.Close()
	e.audit(sessionlog.OpStop, "")
}

// Pause halts pacing without losing the cursor position.
func (e *Engine) Pause() {
	e.cursor.SetPaused(true)
	e.audit(sessionlog.OpPause, "")
}

// Resume continues pacing from the current cursor position.
func (e *Engine) Resume() {
	e.cursor.SetPaused(false)
	e.audit(sessionlog.OpResume, "")
}

// TogglePause flips the paused flag.
func (e *Engine) TogglePause() {
	if e.cursor.Paused() {
		e.Resume()
	} else {
		e.Pause()
	}
}

// Seek moves the cursor to an absolute time in seconds; internally the
// cursor stores nanoseconds.
func (e *Engine) Seek(seconds float64) {
	ns := uint64(seconds * float64(time.Second))
	segLen := uint64(e.cfg.Engine.SegmentLengthSeconds) * uint64(time.Second)
	offset := ns
	if start := e.cursor.RouteStartNs(); e.cursor.RouteStartSet() && ns >= start {
		offset = ns - start
	}
	segIdx := int32(offset / segLen)
	e.cursor.Seek(ns, segIdx)
	e.rebuildTimeline()
	e.audit(sessionlog.OpSeek, fmt.Sprintf("seconds=%f", seconds))
}

// RelativeSeek moves the cursor by deltaSeconds, which may be negative.
func (e *Engine) RelativeSeek(deltaSeconds float64) {
	current := float64(e.cursor.TimeNs()) / float64(time.Second)
	target := current + deltaSeconds
	if target < 0 {
		target = 0
	}
	e.Seek(target)
}

// SetSpeed sets the playback speed multiplier, or model.SpeedFull to
// disable pacing entirely.
func (e *Engine) SetSpeed(speed float64) {
	e.cursor.SetSpeed(speed)
	e.audit(sessionlog.OpSpeed, fmt.Sprintf("speed=%f", speed))
}

// SeekToFlag scans the recorded ControlsState history for the next
// transition matching flag, at or after the current cursor time, and
// seeks there. It returns false if no such transition has been recorded
// yet.
func (e *Engine) SeekToFlag(flag SeekFlag) bool {
	e.mu.Lock()
	events := make([]model.Event, len(e.controlsLog))
	copy(events, e.controlsLog)
	e.mu.Unlock()

	currentNs := e.cursor.TimeNs()
	var prevEnabled *bool
	var prevAlert *model.AlertStatus

	for _, ev := range events {
		enabled := ev.Controls.Enabled
		alert := ev.Controls.AlertStatus

		match := false
		switch flag {
		case NextEngagement:
			match = prevEnabled != nil && !*prevEnabled && enabled
		case NextDisengagement:
			match = prevEnabled != nil && *prevEnabled && !enabled
		case NextAlert:
			match = prevAlert != nil && *prevAlert == model.AlertNone && alert != model.AlertNone
		case NextAlertClear:
			match = prevAlert != nil && *prevAlert != model.AlertNone && alert == model.AlertNone
		}
		if match && ev.MonotonicTimeNs >= currentNs {
			e.Seek(float64(ev.MonotonicTimeNs) / float64(time.Second))
			return true
		}

		prevEnabled = &enabled
		prevAlert = &alert
	}
	return false
}

// Status returns a snapshot of current playback state.
func (e *Engine) Status() Status {
	return Status{
		TimeNs:    e.cursor.TimeNs(),
		Segment:   e.cursor.Segment(),
		Paused:    e.cursor.Paused(),
		Speed:     e.cursor.Speed(),
		Residency: e.wm.Window(),
	}
}

// Timeline returns the recorded engagement and alert intervals derived
// from the ControlsState history seen so far.
func (e *Engine) Timeline() []Interval {
	e.mu.Lock()
	events := make([]model.Event, len(e.controlsLog))
	copy(events, e.controlsLog)
	e.mu.Unlock()

	var intervals []Interval
	var engagedStart *uint64
	var alertStart *uint64
	var alertKind model.AlertStatus

	for _, ev := range events {
		if ev.Controls.Enabled && engagedStart == nil {
			ts := ev.MonotonicTimeNs
			engagedStart = &ts
		} else if !ev.Controls.Enabled && engagedStart != nil {
			intervals = append(intervals, Interval{Kind: "engagement", StartNs: *engagedStart, EndNs: ev.MonotonicTimeNs})
			engagedStart = nil
		}

		if ev.Controls.AlertStatus != model.AlertNone && alertStart == nil {
			ts := ev.MonotonicTimeNs
			alertStart = &ts
			alertKind = ev.Controls.AlertStatus
		} else if ev.Controls.AlertStatus == model.AlertNone && alertStart != nil {
			intervals = append(intervals, Interval{Kind: "alert:" + alertKind.String(), StartNs: *alertStart, EndNs: ev.MonotonicTimeNs})
			alertStart = nil
		}
	}
	if engagedStart != nil {
		intervals = append(intervals, Interval{Kind: "engagement", StartNs: *engagedStart, Ongoing: true})
	}
	if alertStart != nil {
		intervals = append(intervals, Interval{Kind: "alert:" + alertKind.String(), StartNs: *alertStart, Ongoing: true})
	}
	return intervals
}

func (e *Engine) audit(op sessionlog.Operation, detail string) {
	if e.sessions == nil {
		return
	}
	if err := e.sessions.Record(e.sessionID, op, detail); err != nil && e.log != nil {
		e.log.Warn("control: failed to record audit entry", "op", op, "err", err)
	}
}
