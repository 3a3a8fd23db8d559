package camera

import (
	"testing"
	"time"

	"github.com/driveroute/routereplay/internal/frame"
	"github.com/driveroute/routereplay/internal/logreader"
	"github.com/driveroute/routereplay/internal/model"
	"github.com/driveroute/routereplay/internal/segment"
)

type fakeSource struct {
	segs map[int]*segment.Segment
}

func (f *fakeSource) Resident(index int) *segment.Segment { return f.segs[index] }

func TestPushDropsWhenNoMatchingFrame(t *testing.T) {
	src := &fakeSource{segs: map[int]*segment.Segment{
		0: {Index: 0, Log: &logreader.LogReader{Valid: true, FrameIndex: func() [model.CameraCount]map[uint32]model.FrameIndexEntry {
			var fi [model.CameraCount]map[uint32]model.FrameIndexEntry
			for i := range fi {
				fi[i] = map[uint32]model.FrameIndexEntry{}
			}
			return fi
		}()}},
	}}

	out := make(chan Frame, 1)
	srv := New(src, out, [model.CameraCount]Geometry{}, nil)
	defer srv.Close()

	srv.Push(model.Event{Which: model.KindRoadCameraState, Camera: model.CameraStateFields{FrameID: 7}}, 0)

	select {
	case <-out:
		t.Fatalf("expected no frame emitted when frame_id is unindexed and no readers exist")
	case <-time.After(50 * time.Millisecond):
	}
}

func frameIndexWith(cam model.Camera, id uint32, entry model.FrameIndexEntry) [model.CameraCount]map[uint32]model.FrameIndexEntry {
	var fi [model.CameraCount]map[uint32]model.FrameIndexEntry
	for i := range fi {
		fi[i] = map[uint32]model.FrameIndexEntry{}
	}
	fi[cam][id] = entry
	return fi
}

func TestResolveAndEmitDropsOnGeometryMismatch(t *testing.T) {
	reader := frame.NewStub(frame.Geometry{Width: 640, Height: 480}, map[int][]byte{0: make([]byte, 640*480*3)})
	seg := &segment.Segment{
		Index: 0,
		Log:   &logreader.LogReader{Valid: true, FrameIndex: frameIndexWith(model.RoadCam, 7, model.FrameIndexEntry{SegmentLocalIndex: 0})},
	}
	seg.Cameras[model.RoadCam] = reader

	src := &fakeSource{segs: map[int]*segment.Segment{0: seg}}
	out := make(chan Frame, 1)
	srv := New(src, out, [model.CameraCount]Geometry{model.RoadCam: {Width: 320, Height: 240}}, nil)
	defer srv.Close()

	srv.Push(model.Event{Which: model.KindRoadCameraState, Camera: model.CameraStateFields{FrameID: 7}}, 0)

	select {
	case <-out:
		t.Fatalf("expected frame to be dropped on geometry mismatch, got one emitted")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResolveAndEmitPassesMatchingGeometry(t *testing.T) {
	reader := frame.NewStub(frame.Geometry{Width: 640, Height: 480}, map[int][]byte{0: make([]byte, 640*480*3)})
	seg := &segment.Segment{
		Index: 0,
		Log:   &logreader.LogReader{Valid: true, FrameIndex: frameIndexWith(model.RoadCam, 7, model.FrameIndexEntry{SegmentLocalIndex: 0})},
	}
	seg.Cameras[model.RoadCam] = reader

	src := &fakeSource{segs: map[int]*segment.Segment{0: seg}}
	out := make(chan Frame, 1)
	srv := New(src, out, [model.CameraCount]Geometry{model.RoadCam: {Width: 640, Height: 480}}, nil)
	defer srv.Close()

	srv.Push(model.Event{Which: model.KindRoadCameraState, Camera: model.CameraStateFields{FrameID: 7}}, 0)

	select {
	case f := <-out:
		if f.Width != 640 || f.Height != 480 {
			t.Fatalf("got %dx%d, want 640x480", f.Width, f.Height)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a frame with matching geometry to be emitted")
	}
}

func TestReconfigureChangesExpectedGeometry(t *testing.T) {
	src := &fakeSource{segs: map[int]*segment.Segment{}}
	srv := New(src, make(chan Frame, 1), [model.CameraCount]Geometry{}, nil)
	defer srv.Close()

	srv.Reconfigure(model.RoadCam, Geometry{Width: 1280, Height: 720})
	if got := srv.configuredGeometry(model.RoadCam); got.Width != 1280 || got.Height != 720 {
		t.Fatalf("got %+v, want 1280x720", got)
	}
}

func TestPushIgnoresNonCameraEvents(t *testing.T) {
	src := &fakeSource{segs: map[int]*segment.Segment{}}
	out := make(chan Frame, 1)
	srv := New(src, out, [model.CameraCount]Geometry{}, nil)
	defer srv.Close()

	srv.Push(model.Event{Which: model.KindCarState}, 0)

	select {
	case <-out:
		t.Fatalf("non-camera event should never reach the out channel")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestCloseStopsWorkers(t *testing.T) {
	src := &fakeSource{segs: map[int]*segment.Segment{}}
	out := make(chan Frame, 1)
	srv := New(src, out, [model.CameraCount]Geometry{}, nil)
	srv.Close()

	// Pushing after Close must not panic even though workers have
	// returned; the buffered queue just absorbs or drops the request.
	done := make(chan struct{})
	go func() {
		srv.Push(model.Event{Which: model.KindDriverCameraState}, 0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Push after Close should not hang")
	}
}
