package model

import "sync/atomic"

// SpeedFull is the sentinel speed value meaning "do not pace at all".
const SpeedFull = -1.0

// Cursor is the playback position and transport state, shared between the
// Control Plane, the pacing loop, and the window manager. Every field is an
// atomic, so C6 can publish time/segment every iteration without taking
// the merge lock, and Paused and Speed can be set from the Control Plane
// without any mutex.
type Cursor struct {
	currentTimeNs    atomic.Uint64
	currentWhich     atomic.Int64
	currentSegment   atomic.Int32
	eventsChanged    atomic.Bool
	paused           atomic.Bool
	speed            atomic.Value // float64
	loopFromEnd      atomic.Bool
	routeStartNs     atomic.Uint64
	routeStartSet    atomic.Bool
}

// NewCursor returns a Cursor parked at time 0, unpaused, at 1x speed.
func NewCursor() *Cursor {
	c := &Cursor{}
	c.speed.Store(1.0)
	return c
}

func (c *Cursor) TimeNs() uint64       { return c.currentTimeNs.Load() }
func (c *Cursor) SetTimeNs(v uint64)   { c.currentTimeNs.Store(v) }
func (c *Cursor) Which() MessageKind   { return MessageKind(c.currentWhich.Load()) }
func (c *Cursor) SetWhich(k MessageKind) { c.currentWhich.Store(int64(k)) }
func (c *Cursor) Segment() int32       { return c.currentSegment.Load() }
func (c *Cursor) SetSegment(s int32)   { c.currentSegment.Store(s) }

func (c *Cursor) EventsChanged() bool    { return c.eventsChanged.Load() }
func (c *Cursor) SetEventsChanged(v bool) { c.eventsChanged.Store(v) }

func (c *Cursor) Paused() bool     { return c.paused.Load() }
func (c *Cursor) SetPaused(v bool) { c.paused.Store(v) }

func (c *Cursor) Speed() float64 {
	v, _ := c.speed.Load().(float64)
	return v
}
func (c *Cursor) SetSpeed(v float64) { c.speed.Store(v) }

func (c *Cursor) LoopFromEnd() bool     { return c.loopFromEnd.Load() }
func (c *Cursor) SetLoopFromEnd(v bool) { c.loopFromEnd.Store(v) }

func (c *Cursor) RouteStartNs() uint64 { return c.routeStartNs.Load() }

// SetRouteStartNs records the route's start time. A legitimate route can
// start at time 0, so a separate flag (not the value itself) tracks whether
// this has been called yet.
func (c *Cursor) SetRouteStartNs(v uint64) {
	c.routeStartNs.Store(v)
	c.routeStartSet.Store(true)
}

// RouteStartSet reports whether the route start time has been captured yet.
// The Control Plane captures it from segment 0's InitData event and checks
// this first so it is never changed after.
func (c *Cursor) RouteStartSet() bool { return c.routeStartSet.Load() }

// Seek sets the absolute target time and the lowest possible "which" so the
// next scan finds the earliest event at or after toNs.
func (c *Cursor) Seek(toNs uint64, segment int32) {
	c.currentTimeNs.Store(toNs)
	c.currentWhich.Store(int64(KindOpaque))
	c.currentSegment.Store(segment)
	c.eventsChanged.Store(true)
}
