// Package camera implements the replay engine's Camera Server (C7): one
// bounded queue and worker per camera stream, resolving a camera-state
// event's frame_id against the current and adjacent segments and
// publishing the decoded frame to whatever is consuming it in-process.
package camera

import (
	"log/slog"
	"sync"
	"time"

	"github.com/driveroute/routereplay/internal/model"
	"github.com/driveroute/routereplay/internal/segment"
)

// pushTimeout bounds how long Push waits for a worker's queue to accept a
// request before dropping it, the Go analogue of a lossy shared-memory
// slot under contention.
const pushTimeout = 20 * time.Millisecond

// queueDepth is how many pending frame requests a camera worker buffers
// before Push starts dropping: bounded, may drop under back-pressure
// rather than block the pacing loop.
const queueDepth = 4

// Frame is a decoded camera frame ready for an in-process consumer.
type Frame struct {
	Camera    model.Camera
	FrameID   uint32
	Segment   int32
	Width     int
	Height    int
	RGB       []byte
}

// SegmentSource resolves a segment index to its Segment, or nil if that
// index is not currently resident: it tries current, current-1,
// current+1.
type SegmentSource interface {
	Resident(index int) *segment.Segment
}

type request struct {
	ev      model.Event
	segment int32
}

// Server owns one worker goroutine per camera stream.
type Server struct {
	source SegmentSource
	out    chan Frame
	log    *slog.Logger

	queues [model.CameraCount]chan request
	geomMu sync.RWMutex
	geom   [model.CameraCount]Geometry
	done   chan struct{}
}

// Geometry is the expected frame size for a camera stream. A zero value
// means no expectation has been configured, so resolveAndEmit accepts
// whatever geometry the decoder reports.
type Geometry struct {
	Width, Height int
}

// New constructs a Server. out is the channel decoded frames are
// delivered on; callers should drain it continuously, since a full out
// channel blocks every camera worker.
func New(source SegmentSource, out chan Frame, geom [model.CameraCount]Geometry, log *slog.Logger) *Server {
	s := &Server{
		source: source,
		out:    out,
		geom:   geom,
		log:    log,
		done:   make(chan struct{}),
	}
	for cam := 0; cam < model.CameraCount; cam++ {
		s.queues[cam] = make(chan request, queueDepth)
		go s.worker(model.Camera(cam), s.queues[cam])
	}
	return s
}

// Push enqueues a camera-state event for frame resolution. It is called
// by the pacing loop for every camera-state event it dispatches. If the
// worker's queue is full the request is dropped rather than blocking the
// pacing loop: the camera server must never stall the pacing loop.
func (s *Server) Push(ev model.Event, seg int32) {
	cam, ok := model.CameraOf(ev.Which)
	if !ok {
		return
	}
	select {
	case s.queues[cam] <- request{ev: ev, segment: seg}:
	case <-time.After(pushTimeout):
		if s.log != nil {
			s.log.Warn("camera server: dropped frame request, queue full", "camera", cam.String())
		}
	}
}

func (s *Server) worker(cam model.Camera, in chan request) {
	for {
		select {
		case <-s.done:
			return
		case req := <-in:
			s.resolveAndEmit(cam, req)
		}
	}
}

// resolveAndEmit tries the request's own segment, then the one before and
// after it, for a frame reader that actually has the requested frame_id.
func (s *Server) resolveAndEmit(cam model.Camera, req request) {
	candidates := []int32{req.segment, req.segment - 1, req.segment + 1}
	for _, idx := range candidates {
		if idx < 0 {
			continue
		}
		seg := s.source.Resident(int(idx))
		if seg == nil || !seg.Valid() {
			continue
		}
		fr := seg.Reader(cam)
		if fr == nil || !fr.Valid() {
			continue
		}
		entry, ok := seg.Log.FrameIndex[cam][req.ev.Camera.FrameID]
		if !ok {
			continue
		}
		geom := fr.Geometry()
		if configured := s.configuredGeometry(cam); configured.Width > 0 && configured.Height > 0 &&
			(geom.Width != configured.Width || geom.Height != configured.Height) {
			if s.log != nil {
				s.log.Debug("camera server: geometry mismatch, dropping frame",
					"camera", cam.String(), "decoded", geom, "configured", configured)
			}
			return
		}
		rgb, err := fr.Get(int(entry.SegmentLocalIndex))
		if err != nil {
			continue
		}
		frame := Frame{
			Camera:  cam,
			FrameID: req.ev.Camera.FrameID,
			Segment: idx,
			Width:   geom.Width,
			Height:  geom.Height,
			RGB:     rgb,
		}
		select {
		case s.out <- frame:
		case <-time.After(pushTimeout):
			if s.log != nil {
				s.log.Warn("camera server: dropped decoded frame, consumer too slow", "camera", cam.String())
			}
		}
		return
	}
	if s.log != nil {
		s.log.Debug("camera server: frame_id not found in adjacent segments", "camera", cam.String(), "frame_id", req.ev.Camera.FrameID)
	}
}

// configuredGeometry returns the expected geometry for cam.
func (s *Server) configuredGeometry(cam model.Camera) Geometry {
	s.geomMu.RLock()
	defer s.geomMu.RUnlock()
	return s.geom[cam]
}

// Reconfigure updates the expected geometry for cam. A geometry change
// takes effect for frames resolved after this call; it does not
// retroactively affect requests already queued.
func (s *Server) Reconfigure(cam model.Camera, geom Geometry) {
	s.geomMu.Lock()
	defer s.geomMu.Unlock()
	s.geom[cam] = geom
}

// Close stops every worker goroutine.
func (s *Server) Close() {
	close(s.done)
}
