package model

// FrameIndexEntry maps a camera-state event's frame_id to where that frame
// lives inside its segment's video file.
type FrameIndexEntry struct {
	SegmentLocalIndex uint32
}

// SegmentFiles names the on-disk files backing one segment index of a
// route. Either Log or its Fallback must exist for the segment to be
// usable; a camera file may be absent entirely, meaning that stream has no
// coverage for this segment.
type SegmentFiles struct {
	Index int

	Log         string
	LogFallback string

	// Camera[model.RoadCam], Camera[model.DriverCam], Camera[model.WideRoadCam]
	// hold the video file path for that stream, or "" if absent.
	Camera [CameraCount]string
}

// HasCamera reports whether cam has a video file for this segment.
func (s *SegmentFiles) HasCamera(cam Camera) bool {
	return int(cam) < len(s.Camera) && s.Camera[cam] != ""
}

// Route is an ordered collection of segment file records identified by a
// route name. Segments are looked up by slice position, so Segments[i] is
// taken to be segment index i; gaps in the segment numbering are not
// handled. Fetching and caching the underlying files is out of scope here;
// this engine only reads a Route once populated.
type Route struct {
	Name     string
	Segments []SegmentFiles
}

// SegmentAt returns the file record at position i of Segments, or false if
// i is out of range. It does not consult SegmentFiles.Index.
func (r *Route) SegmentAt(i int) (SegmentFiles, bool) {
	if i < 0 || i >= len(r.Segments) {
		return SegmentFiles{}, false
	}
	return r.Segments[i], true
}

// Len returns the number of segments the route has files for.
func (r *Route) Len() int { return len(r.Segments) }
