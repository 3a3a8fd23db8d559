// Package segment implements the replay engine's Segment (C3): one
// recorded slice of a route, owning a Log Reader and up to three Frame
// Readers, and signalling completion exactly once.
package segment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/driveroute/routereplay/internal/frame"
	"github.com/driveroute/routereplay/internal/logreader"
	"github.com/driveroute/routereplay/internal/model"
)

// Segment owns one Log Reader and up to model.CameraCount Frame Readers
// for a single segment index of a route. It loads its log synchronously
// in New and its frame readers in the background, emitting a single
// completion notification once every reader has either succeeded or
// failed (primary/fallback
// file selection, atomic outstanding-loads counter, finishedRead emitted
// once).
type Segment struct {
	Index int

	Log     *logreader.LogReader
	Cameras [model.CameraCount]*frame.Reader

	outstanding atomic.Int32

	mu       sync.Mutex
	notifyFn func()
	done     bool
	fired    bool

	log *slog.Logger
}

// New constructs a Segment for files, starting log and frame loading. It
// returns immediately; callers should register a callback via Notify to
// learn when loading has finished (loading may already be complete by the
// time Notify is called, in which case the callback fires immediately).
func New(ctx context.Context, files model.SegmentFiles, log *slog.Logger) *Segment {
	s := &Segment{Index: files.Index, log: log}

	s.Log = logreader.Load(files.Log, files.LogFallback, log)
	if !s.Log.Valid {
		if log != nil {
			log.Warn("segment: log invalid", "index", s.Index)
		}
	}

	var toLoad int
	for cam := 0; cam < model.CameraCount; cam++ {
		if files.HasCamera(model.Camera(cam)) {
			toLoad++
		}
	}
	s.outstanding.Store(int32(toLoad))

	if toLoad == 0 {
		s.finish()
		return s
	}

	for cam := 0; cam < model.CameraCount; cam++ {
		if !files.HasCamera(model.Camera(cam)) {
			continue
		}
		cam := cam
		path := files.Camera[cam]
		go func() {
			r := frame.Open(ctx, path, log)
			s.Cameras[cam] = r
			if !r.Valid() && log != nil {
				log.Warn("segment: camera reader invalid", "index", s.Index, "camera", model.Camera(cam).String())
			}
			if s.outstanding.Add(-1) == 0 {
				s.finish()
			}
		}()
	}
	return s
}

// Notify registers fn to run once (and exactly once) when this segment's
// loading has finished, whether or not it fires immediately because
// loading already completed.
func (s *Segment) Notify(fn func()) {
	s.mu.Lock()
	if s.done && !s.fired {
		s.fired = true
		s.mu.Unlock()
		fn()
		return
	}
	s.notifyFn = fn
	s.mu.Unlock()
}

func (s *Segment) finish() {
	s.mu.Lock()
	s.done = true
	var fn func()
	if !s.fired && s.notifyFn != nil {
		s.fired = true
		fn = s.notifyFn
	}
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Segment) finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Valid reports whether this segment has a usable log. A segment with an
// invalid log contributes no events and is skipped by the event merger and
// the camera server; the window manager still keeps it resident.
func (s *Segment) Valid() bool {
	return s.Log != nil && s.Log.Valid
}

// Reader returns the frame reader for cam, or nil if that stream has no
// coverage in this segment.
func (s *Segment) Reader(cam model.Camera) *frame.Reader {
	if int(cam) < 0 || int(cam) >= model.CameraCount {
		return nil
	}
	return s.Cameras[cam]
}

// Close releases every frame reader this segment owns.
func (s *Segment) Close() {
	for _, r := range s.Cameras {
		if r != nil {
			r.Close()
		}
	}
}
