package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Frame is one unit of the event stream. Each frame is self-contained.
type Frame struct {
	Action    Action         `json:"action"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

var dataPrefix = []byte("data: ")

// Encode returns the wire form of the frame: `data: <json>\n\n`.
func (f Frame) Encode() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	out := make([]byte, 0, len(b)+len(dataPrefix)+2)
	out = append(out, dataPrefix...)
	out = append(out, b...)
	return append(out, '\n', '\n'), nil
}

// ParseFrame parses a single frame. The `data:` prefix and surrounding
// whitespace are optional.
func ParseFrame(b []byte) (*Frame, error) {
	b = bytes.TrimSpace(b)
	b = bytes.TrimPrefix(b, []byte("data:"))
	b = bytes.TrimSpace(b)
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing frame: %w", err)
	}
	if f.Action == "" {
		return nil, errors.New("parsing frame: missing action")
	}
	return &f, nil
}

// ReadFrames reads frames from an event stream and calls fn for each, in
// order. It returns nil after a terminal frame or at EOF.
func ReadFrames(r io.Reader, fn func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var data []byte
	for scanner.Scan() {
		line := scanner.Bytes()
		switch {
		case len(line) == 0:
			if len(data) == 0 {
				continue
			}
			f, err := ParseFrame(data)
			data = data[:0]
			if err != nil {
				return err
			}
			if err := fn(*f); err != nil {
				return err
			}
			if f.Action.Terminal() {
				return nil
			}
		case bytes.HasPrefix(line, []byte("data:")):
			if len(data) > 0 {
				data = append(data, '\n')
			}
			data = append(data, bytes.TrimSpace(line[len("data:"):])...)
		default:
			// Comments, event names and ids are not used.
		}
	}
	return scanner.Err()
}
