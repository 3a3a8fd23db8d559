// Package logformat defines a minimal newline-delimited JSON record format
// standing in for the real message schema, which is out of scope for this
// engine. internal/logreader reads records through the RecordDecoder
// interface, so a real schema codec could be swapped in without touching
// the merge/index logic that consumes it.
package logformat

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"io"

	"github.com/driveroute/routereplay/internal/model"
)

// Record is one line of a segment's log file.
type Record struct {
	TimeNs  uint64 `json:"t"`
	Which   int    `json:"which"`
	FrameID uint32 `json:"frame_id,omitempty"`
	Engaged *bool  `json:"engaged,omitempty"`
	Alert   string `json:"alert,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// ToEvent converts a decoded Record into a model.Event, decoding its
// base64 payload and any kind-specific fields.
func (r *Record) ToEvent() (model.Event, error) {
	ev := model.Event{
		MonotonicTimeNs: r.TimeNs,
		Which:           model.MessageKind(r.Which),
	}
	if r.Payload != "" {
		raw, err := base64.StdEncoding.DecodeString(r.Payload)
		if err != nil {
			return model.Event{}, model.WrapKind(model.ErrFileCorrupt, "decode payload", err)
		}
		ev.Payload = raw
	}
	if _, ok := model.CameraOf(ev.Which); ok {
		ev.Camera.FrameID = r.FrameID
	}
	if ev.Which == model.KindControlsState {
		if r.Engaged != nil {
			ev.Controls.Enabled = *r.Engaged
		}
		ev.Controls.AlertStatus = parseAlertStatus(r.Alert)
	}
	return ev, nil
}

func parseAlertStatus(s string) model.AlertStatus {
	switch s {
	case "info":
		return model.AlertInfo
	case "warning":
		return model.AlertWarning
	case "critical":
		return model.AlertCritical
	default:
		return model.AlertNone
	}
}

// RecordDecoder reads Records one at a time from a log stream. Decode
// returns io.EOF when the stream is exhausted.
type RecordDecoder interface {
	Decode() (Record, error)
}

// Decoder reads newline-delimited JSON records, stopping cleanly at the
// first line it cannot parse rather than failing the whole stream.
type Decoder struct {
	scanner *bufio.Scanner
	done    bool
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Decoder{scanner: sc}
}

// Decode reads and parses the next record. It returns io.EOF once the
// underlying stream ends or the first unparsable line is reached; callers
// cannot distinguish "clean end" from "truncated tail" and both are
// treated as "no more events from this reader".
func (d *Decoder) Decode() (Record, error) {
	if d.done {
		return Record{}, io.EOF
	}
	for d.scanner.Scan() {
		line := d.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			d.done = true
			return Record{}, io.EOF
		}
		return rec, nil
	}
	d.done = true
	return Record{}, io.EOF
}

// Encoder writes newline-delimited JSON records. It is used by test
// fixtures to synthesize segment logs.
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes one record followed by a newline.
func (e *Encoder) Encode(rec Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	buf = append(buf, '\n')
	_, err = e.w.Write(buf)
	return err
}
