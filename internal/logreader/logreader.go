// Package logreader implements the replay engine's Log Reader (C2):
// parsing a single segment's log into a sorted event slice plus a
// per-camera frame_id index, tolerating truncated files.
package logreader

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/driveroute/routereplay/internal/logformat"
	"github.com/driveroute/routereplay/internal/model"
)

// LogReader holds the decoded contents of one segment's log file.
type LogReader struct {
	Events []model.Event

	// FrameIndex[cam][frameID] gives the segment-local video frame index
	// for that camera's frame_id.
	FrameIndex [model.CameraCount]map[uint32]model.FrameIndexEntry

	Valid bool
}

// Load opens primary, falling back to fallback if primary cannot be
// opened, and decodes every record it can before the first parse failure
// or EOF. Valid is false when neither file could be opened or the opened
// file yielded no events: FileMissing/FileCorrupt are swallowed into
// valid=false, never propagated as a panic.
func Load(primary, fallback string, log *slog.Logger) *LogReader {
	lr := &LogReader{}
	for i := range lr.FrameIndex {
		lr.FrameIndex[i] = make(map[uint32]model.FrameIndexEntry)
	}

	f, path, err := openFirst(primary, fallback)
	if err != nil {
		if log != nil {
			log.Warn("log reader: no usable log file", "primary", primary, "fallback", fallback, "err", err)
		}
		return lr
	}
	defer f.Close()

	if log != nil {
		log.Debug("log reader: opened", "path", path)
	}

	var dec logformat.RecordDecoder = logformat.NewDecoder(f)
	for {
		rec, err := dec.Decode()
		if err == io.EOF {
			break
		}
		ev, err := rec.ToEvent()
		if err != nil {
			// Malformed payload on an otherwise well-formed line: skip the
			// record, keep reading.
			continue
		}
		lr.Events = append(lr.Events, ev)
	}

	sort.Slice(lr.Events, func(i, j int) bool {
		return lr.Events[i].Less(&lr.Events[j])
	})

	// Local frame indices follow time order, not file order.
	var frameCounts [model.CameraCount]uint32
	for _, ev := range lr.Events {
		if cam, ok := model.CameraOf(ev.Which); ok {
			idx := frameCounts[cam]
			lr.FrameIndex[cam][ev.Camera.FrameID] = model.FrameIndexEntry{SegmentLocalIndex: idx}
			frameCounts[cam] = idx + 1
		}
	}

	lr.Valid = len(lr.Events) > 0
	return lr
}

func openFirst(primary, fallback string) (*os.File, string, error) {
	if primary != "" {
		if f, err := os.Open(primary); err == nil {
			return f, primary, nil
		}
	}
	if fallback != "" {
		if f, err := os.Open(fallback); err == nil {
			return f, fallback, nil
		}
	}
	return nil, "", errors.New("neither primary nor fallback log could be opened")
}
