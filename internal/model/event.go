// Package model holds the shared data types of the replay engine: events,
// message kinds, the playback cursor, and route/segment file records.
package model

import "fmt"

// MessageKind discriminates the kind of message an Event carries. It stands
// in for the tagged enumeration the real message schema defines; this engine
// only special-cases the kinds it needs to route frames or drive named
// seeks, and treats everything else as an opaque payload.
type MessageKind int

const (
	// KindOpaque covers any message kind the engine does not special-case.
	// It has no entry in sockNames, so the bus path never publishes it.
	KindOpaque MessageKind = iota
	KindInitData
	KindRoadCameraState
	KindDriverCameraState
	KindWideRoadCameraState
	KindCarState
	KindControlsState
)

// Camera identifies one of the three possible camera streams of a segment.
type Camera int

const (
	RoadCam Camera = iota
	DriverCam
	WideRoadCam
	cameraCount
)

func (c Camera) String() string {
	switch c {
	case RoadCam:
		return "road"
	case DriverCam:
		return "driver"
	case WideRoadCam:
		return "wideRoad"
	default:
		return "unknown"
	}
}

// CameraCount is the number of camera streams a Segment may carry.
const CameraCount = int(cameraCount)

// sockNames maps a MessageKind to the bus subject / socket name it is
// published under. A kind absent from this map, or present but filtered by
// allow/block lists, publishes to no socket.
var sockNames = map[MessageKind]string{
	KindInitData:            "initData",
	KindRoadCameraState:      "roadCameraState",
	KindDriverCameraState:    "driverCameraState",
	KindWideRoadCameraState:  "wideRoadCameraState",
	KindCarState:             "carState",
	KindControlsState:        "controlsState",
}

// SockName returns the socket/subject name for kind, or "" if the kind has
// no named socket (e.g. KindOpaque without a registered name).
func SockName(k MessageKind) string {
	return sockNames[k]
}

// AlertStatus is the severity of the most recent ControlsState alert.
type AlertStatus int

const (
	AlertNone AlertStatus = iota
	AlertInfo
	AlertWarning
	AlertCritical
)

func (a AlertStatus) String() string {
	switch a {
	case AlertInfo:
		return "info"
	case AlertWarning:
		return "warning"
	case AlertCritical:
		return "critical"
	default:
		return "none"
	}
}

// ControlsState is the decoded subset of fields this engine cares about for
// named seeks and timeline intervals: engagement transitions and
// alert-span transitions.
type ControlsState struct {
	Enabled     bool
	AlertStatus AlertStatus
}

// CameraStateFields is the decoded subset of a camera-state event needed to
// route decoded frames.
type CameraStateFields struct {
	FrameID uint32
}

// Event is a single timestamped message extracted from a segment's log.
// Events are immutable once constructed.
type Event struct {
	MonotonicTimeNs uint64
	Which           MessageKind
	Payload         []byte

	// Decoded fields, populated only for kinds that carry them. Zero value
	// otherwise.
	Camera        CameraStateFields
	Controls      ControlsState
}

// Less orders events by (monotonic_time_ns, which) ascending, the
// determinism tie-break for events sharing a timestamp.
func (e *Event) Less(o *Event) bool {
	if e.MonotonicTimeNs != o.MonotonicTimeNs {
		return e.MonotonicTimeNs < o.MonotonicTimeNs
	}
	return e.Which < o.Which
}

// SockName returns the bus subject this event publishes to, or "" if it has
// none. The pacing loop still paces an event with no sock name and passes
// it to a direct subscriber; only the bus publish is skipped.
func (e *Event) SockName() string {
	return SockName(e.Which)
}

// CameraOf returns which camera stream a camera-state event belongs to, and
// whether e.Which is in fact a camera-state kind.
func CameraOf(which MessageKind) (Camera, bool) {
	switch which {
	case KindRoadCameraState:
		return RoadCam, true
	case KindDriverCameraState:
		return DriverCam, true
	case KindWideRoadCameraState:
		return WideRoadCam, true
	default:
		return 0, false
	}
}

// Error is a simple sentinel error type: a named string that implements
// error without carrying structured fields.
type Error string

func (e Error) Error() string { return string(e) }

// Sentinel error kinds the engine's subsystems wrap their failures in.
const (
	ErrFileMissing      Error = "file missing"
	ErrFileCorrupt       Error = "file corrupt"
	ErrDecodeFailure     Error = "decode failure"
	ErrGeometryMismatch  Error = "geometry mismatch"
	ErrOutOfRangeSeek    Error = "seek out of range"
	ErrResourceExhausted Error = "resource exhausted"
)

// WrapKind wraps an underlying error with one of the sentinel kinds above,
// preserving %w unwrapping to the sentinel.
func WrapKind(kind Error, context string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", context, kind)
	}
	return fmt.Errorf("%s: %w: %v", context, kind, cause)
}
