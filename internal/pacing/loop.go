// Package pacing implements the replay engine's Pacing/Stream Loop (C6):
// walking the merged event timeline, sleeping to match the original
// inter-event wall-clock deltas, and dispatching each event to the bus,
// an in-process subscriber, or the camera server.
package pacing

import (
	"context"
	"log/slog"
	"time"

	"github.com/driveroute/routereplay/internal/bus"
	"github.com/driveroute/routereplay/internal/model"
	"github.com/driveroute/routereplay/internal/timeline"
)

// CameraDispatcher receives camera-state events so the Camera Server can
// resolve and push the matching decoded frame.
type CameraDispatcher interface {
	Push(ev model.Event, segment int32)
}

// Publisher is the bus surface the loop needs; internal/bus.Bus satisfies
// it directly.
type Publisher interface {
	Publish(sockName string, payload []byte) error
}

// Loop is the C6 pacing engine. Construct with New and run it from a
// single goroutine; all mutation of shared state happens through the
// Cursor's atomics and the Timeline's own locking, so Loop itself holds
// no mutex; it is polled-flag driven rather than coroutine-yield driven.
type Loop struct {
	timeline        *timeline.Timeline
	cursor          *model.Cursor
	bus             Publisher
	filter          bus.Filter
	camera          CameraDispatcher
	direct          func(model.Event)
	log             *slog.Logger
	now             func() time.Time
	segmentLengthNs uint64

	// logEvery bounds how often a progress line is emitted.
	logEvery  time.Duration
	lastLogAt time.Time
}

// Options configures a Loop. Now defaults to time.Now; tests inject a
// fake clock for deterministic pacing assertions.
type Options struct {
	Bus      Publisher
	Filter   bus.Filter
	Camera   CameraDispatcher
	Direct   func(model.Event) // non-nil: deliver events directly, bypassing Bus
	Now      func() time.Time
	LogEvery time.Duration

	// SegmentLengthNs lets the loop derive the cursor's current segment
	// index from each dispatched event's time, so the residency window
	// keeps sliding forward during normal playback instead of only
	// moving on an explicit Seek. Zero disables segment tracking.
	SegmentLengthNs uint64
}

// New constructs a Loop over tl, paced against cursor.
func New(tl *timeline.Timeline, cursor *model.Cursor, opts Options, log *slog.Logger) *Loop {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logEvery := opts.LogEvery
	if logEvery <= 0 {
		logEvery = 5 * time.Second
	}
	return &Loop{
		timeline:        tl,
		cursor:          cursor,
		bus:             opts.Bus,
		filter:          opts.Filter,
		camera:          opts.Camera,
		direct:          opts.Direct,
		log:             log,
		now:             now,
		logEvery:        logEvery,
		segmentLengthNs: opts.SegmentLengthNs,
	}
}

// pauseIdleInterval is how long the loop sleeps between pause checks, a
// small quantum that makes Resume latency bounded without busy-spinning.
const pauseIdleInterval = 10 * time.Millisecond

// Run walks the timeline until ctx is cancelled. It never returns an
// error: reader/decode failures are contained at lower layers, so Run
// only stops on cancellation. Once a non-looping route is exhausted it
// idles, polling the timeline for later events.
func (l *Loop) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if l.cursor.Paused() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pauseIdleInterval):
			}
			continue
		}

		events, idx, ok := l.timeline.FindFirstAtOrAfter(l.cursor.TimeNs())
		if ok && !l.cursor.EventsChanged() {
			// No seek since the last dispatch: the cursor sits on an event
			// already sent, so resume strictly after it.
			cur := model.Event{MonotonicTimeNs: l.cursor.TimeNs(), Which: l.cursor.Which()}
			for idx < len(events) && !cur.Less(&events[idx]) {
				idx++
			}
			ok = idx < len(events)
		}
		if !ok {
			if l.cursor.LoopFromEnd() {
				l.cursor.Seek(0, 0)
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(pauseIdleInterval):
			}
			continue
		}

		l.streamFrom(ctx, events, idx)
	}
}

// streamFrom paces and dispatches events[idx:] until the cursor is
// re-seeked, paused, the context is cancelled, or the slice is exhausted.
func (l *Loop) streamFrom(ctx context.Context, events []model.Event, idx int) {
	evtStartTs := events[idx].MonotonicTimeNs
	loopStartTs := l.now()
	l.cursor.SetEventsChanged(false)

	for i := idx; i < len(events); i++ {
		if ctx.Err() != nil {
			return
		}
		if l.cursor.EventsChanged() {
			return
		}
		if l.cursor.Paused() {
			return
		}

		ev := &events[i]
		speed := l.cursor.Speed()
		if speed != model.SpeedFull {
			l.pace(evtStartTs, loopStartTs, ev.MonotonicTimeNs, speed)
		}

		l.cursor.SetTimeNs(ev.MonotonicTimeNs)
		l.cursor.SetWhich(ev.Which)
		l.advanceSegment(ev.MonotonicTimeNs)
		l.dispatch(*ev)
		l.heartbeat(ev.MonotonicTimeNs)
	}
}

// advanceSegment recomputes the cursor's segment from tNs and the
// captured route start time, so the residency window keeps sliding
// forward as playback advances rather than only on an explicit Seek.
func (l *Loop) advanceSegment(tNs uint64) {
	if l.segmentLengthNs == 0 || !l.cursor.RouteStartSet() {
		return
	}
	routeStart := l.cursor.RouteStartNs()
	if tNs < routeStart {
		return
	}
	l.cursor.SetSegment(int32((tNs - routeStart) / l.segmentLengthNs))
}

// catchUpThreshold is how large a pacing gap can get before the loop
// gives up sleeping the whole thing out and jumps straight to the event,
// treating it as catch-up rather than real-time playback.
const catchUpThreshold = time.Second

// pace sleeps for ((eventTs-evtStartTs) - wall-clock time elapsed since
// loopStartTs) / speed. A gap of a second or more is treated as catch-up
// and not slept at all.
func (l *Loop) pace(evtStartTs uint64, loopStartTs time.Time, eventTs uint64, speed float64) {
	if speed <= 0 {
		speed = 1.0
	}
	eventDelta := time.Duration(eventTs - evtStartTs)
	haveElapsed := l.now().Sub(loopStartTs)
	sleepFor := time.Duration(float64(eventDelta-haveElapsed) / speed)
	if sleepFor >= catchUpThreshold {
		return
	}
	if sleepFor > 0 {
		time.Sleep(sleepFor)
	}
}

// dispatch delivers ev either directly to an in-process subscriber or
// onto the bus under its socket name (gated by the allow/block filter),
// and separately forwards camera-state events to the camera server.
func (l *Loop) dispatch(ev model.Event) {
	if l.direct != nil {
		l.direct(ev)
	} else if l.bus != nil {
		sock := ev.SockName()
		if l.filter.Permits(sock) {
			if err := l.bus.Publish(sock, ev.Payload); err != nil && l.log != nil {
				l.log.Warn("pacing: publish failed", "sock", sock, "err", err)
			}
		}
	}

	if _, ok := model.CameraOf(ev.Which); ok && l.camera != nil {
		l.camera.Push(ev, l.cursor.Segment())
	}
}

func (l *Loop) heartbeat(tNs uint64) {
	if l.log == nil {
		return
	}
	now := l.now()
	if l.lastLogAt.IsZero() || now.Sub(l.lastLogAt) >= l.logEvery {
		l.lastLogAt = now
		l.log.Info("pacing: progress", "time_ns", tNs)
	}
}
