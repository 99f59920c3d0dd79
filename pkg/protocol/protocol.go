// Package protocol implements the i3bar JSON status protocol: the header
// object, the endless array of frames, and the click event stream the bar
// writes back.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/tidwall/gjson"

	"gitlab.com/tinyland/lab/barpulse/pkg/composite"
)

// Version is the protocol version spoken to the bar.
const Version = 1

// Error reports malformed protocol input: an unparsable header, frame or
// click event.
type Error struct {
	Line string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Msg, e.Err)
	}
	return "protocol: " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Header is the first line of a status stream. StopSignal and ContSignal are
// nil when the generator did not advertise them.
type Header struct {
	Version     int  `json:"version"`
	ClickEvents bool `json:"click_events"`
	StopSignal  *int `json:"stop_signal,omitempty"`
	ContSignal  *int `json:"cont_signal,omitempty"`
}

// ParseHeader decodes a header line.
func ParseHeader(line []byte) (Header, error) {
	line = bytes.TrimSpace(line)
	if !gjson.ValidBytes(line) {
		return Header{}, &Error{Line: string(line), Msg: "invalid header"}
	}
	res := gjson.ParseBytes(line)
	if !res.IsObject() || !res.Get("version").Exists() {
		return Header{}, &Error{Line: string(line), Msg: "header missing version"}
	}
	h := Header{
		Version:     int(res.Get("version").Int()),
		ClickEvents: res.Get("click_events").Bool(),
	}
	if v := res.Get("stop_signal"); v.Exists() {
		n := int(v.Int())
		h.StopSignal = &n
	}
	if v := res.Get("cont_signal"); v.Exists() {
		n := int(v.Int())
		h.ContSignal = &n
	}
	return h, nil
}

// Frame is one array of segments.
type Frame []composite.Segment

// IsOpen reports whether line is the "[" that opens the infinite array.
func IsOpen(line []byte) bool {
	return string(bytes.TrimSpace(line)) == "["
}

// trimLine strips whitespace and any leading commas.
func trimLine(line []byte) []byte {
	line = bytes.TrimSpace(line)
	for len(line) > 0 && line[0] == ',' {
		line = bytes.TrimSpace(line[1:])
	}
	return line
}

// ParseFrame decodes a frame line. Both "[...]" and ",[...]" are accepted.
// An empty line yields a nil frame and no error.
func ParseFrame(line []byte) (Frame, error) {
	line = trimLine(line)
	if len(line) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(line) {
		return nil, &Error{Line: string(line), Msg: "invalid frame JSON"}
	}
	res := gjson.ParseBytes(line)
	if !res.IsArray() {
		return nil, &Error{Line: string(line), Msg: "frame is not an array"}
	}

	var frame Frame
	var perr error
	res.ForEach(func(_, v gjson.Result) bool {
		if !v.IsObject() {
			perr = &Error{Line: string(line), Msg: "frame element is not an object"}
			return false
		}
		if !v.Get(composite.KeyFullText).Exists() {
			perr = &Error{Line: string(line), Msg: "segment missing full_text"}
			return false
		}
		var s composite.Segment
		if err := s.UnmarshalJSON([]byte(v.Raw)); err != nil {
			perr = &Error{Line: string(line), Msg: "segment", Err: err}
			return false
		}
		frame = append(frame, s)
		return true
	})
	if perr != nil {
		return nil, perr
	}
	if frame == nil {
		frame = Frame{}
	}
	return frame, nil
}

// EncodeFrame serializes a frame as a JSON array without HTML escaping.
func EncodeFrame(frame []composite.Segment) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, s := range frame {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := s.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Writer emits the outgoing stream: header and "[" once, then frames with
// a leading comma on every line after the first.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	started bool
	frames  int
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Start writes the header and the opening bracket. It is a no-op after the
// first call.
func (pw *Writer) Start(h Header) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if pw.started {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(h); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}
	buf.WriteString("[\n")
	if _, err := pw.w.Write(buf.Bytes()); err != nil {
		return err
	}
	pw.started = true
	return nil
}

// WriteFrame writes one frame line.
func (pw *Writer) WriteFrame(frame []composite.Segment) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if !pw.started {
		return fmt.Errorf("protocol: frame written before header")
	}
	var buf bytes.Buffer
	if pw.frames > 0 {
		buf.WriteByte(',')
	}
	buf.Write(data)
	buf.WriteByte('\n')
	if _, err := pw.w.Write(buf.Bytes()); err != nil {
		return err
	}
	pw.frames++
	return nil
}

// Frames returns the number of frames written.
func (pw *Writer) Frames() int {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.frames
}
