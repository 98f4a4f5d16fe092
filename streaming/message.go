// message.go - SSE-Kodierung der Frames
//
// Enthaelt:
// - Message: ein SSE-Event (event, id, retry, data)
// - ToMessage / FromMessage: Frame <-> Event mit JSON-Payload
// - WriteTo und Decode ueber gin-contrib/sse
package streaming

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/goccy/go-json"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/shape"
)

// ErrUnknownEvent: ein Event-Name gehoert zu keinem Frame-Typ.
var ErrUnknownEvent = errors.New("unknown stream event")

// Event-Namen auf dem Draht
const (
	EventHeader    = "tensor-header"
	EventChunk     = "tensor-chunk"
	EventEnd       = "tensor-end"
	EventHeartbeat = "heartbeat"
	EventError     = "tensor-error"
)

// Message ist ein Server-Sent Event.
type Message struct {
	Event string
	ID    string
	Retry uint
	Data  string
}

// ============================================================================
// Payloads
// ============================================================================

type headerPayload struct {
	TensorID string      `json:"tensorId"`
	Shape    shape.Shape `json:"shape"`
	Dtype    dtype.Dtype `json:"dtype"`
	Strides  []int       `json:"strides,omitempty"`
	Metadata *Metadata   `json:"metadata,omitempty"`
}

type chunkPayload struct {
	TensorID   string `json:"tensorId"`
	Chunk      string `json:"chunk"`
	Encoding   string `json:"encoding"`
	Sequence   int    `json:"sequence"`
	ByteLength int    `json:"byteLength"`
}

type endPayload struct {
	TensorID string    `json:"tensorId"`
	Metadata *Metadata `json:"metadata,omitempty"`
}

type heartbeatPayload struct {
	Timestamp int64 `json:"timestamp"`
}

type errorPayload struct {
	Message     string    `json:"message"`
	TensorID    string    `json:"tensorId,omitempty"`
	Recoverable bool      `json:"recoverable,omitempty"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}

// ToMessage kodiert einen Frame als SSE-Event. Data-Chunks werden base64
// kodiert, die ID ist die Tensor-ID.
func ToMessage(f Frame) (Message, error) {
	var event string
	var payload any

	switch f.Type {
	case TypeHeader:
		sh := f.Shape.Clone()
		event, payload = EventHeader, headerPayload{f.TensorID, sh, f.Dtype, f.Strides, f.Metadata}
	case TypeData:
		event, payload = EventChunk, chunkPayload{
			TensorID:   f.TensorID,
			Chunk:      base64.StdEncoding.EncodeToString(f.Data),
			Encoding:   "base64",
			Sequence:   f.Sequence,
			ByteLength: len(f.Data),
		}
	case TypeEnd:
		event, payload = EventEnd, endPayload{f.TensorID, f.Metadata}
	case TypeHeartbeat:
		event, payload = EventHeartbeat, heartbeatPayload{f.Timestamp.UnixMilli()}
	case TypeError:
		event, payload = EventError, errorPayload{f.Message, f.TensorID, f.Recoverable, f.Metadata}
	default:
		return Message{}, fmt.Errorf("%w: frame type %q", ErrUnknownEvent, f.Type)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, ID: f.TensorID, Data: string(data)}, nil
}

// FromMessage dekodiert ein Event zurueck in einen Frame
func FromMessage(m Message) (Frame, error) {
	data := []byte(m.Data)

	switch m.Event {
	case EventHeader:
		var p headerPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Frame{}, fmt.Errorf("%s: %w", m.Event, err)
		}
		if err := p.Shape.Validate(); err != nil {
			return Frame{}, fmt.Errorf("%s: %w", m.Event, err)
		}
		return Frame{Type: TypeHeader, TensorID: p.TensorID, Shape: p.Shape, Dtype: p.Dtype, Strides: p.Strides, Metadata: p.Metadata}, nil
	case EventChunk:
		var p chunkPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Frame{}, fmt.Errorf("%s: %w", m.Event, err)
		}
		if p.Encoding != "" && p.Encoding != "base64" {
			return Frame{}, fmt.Errorf("%s: unsupported encoding %q", m.Event, p.Encoding)
		}
		raw, err := FromBase64(p.Chunk)
		if err != nil {
			return Frame{}, fmt.Errorf("%s: %w", m.Event, err)
		}
		if len(raw) != p.ByteLength {
			return Frame{}, fmt.Errorf("%s: chunk %d has %d bytes, expected %d", m.Event, p.Sequence, len(raw), p.ByteLength)
		}
		return Frame{Type: TypeData, TensorID: p.TensorID, Data: raw, Sequence: p.Sequence}, nil
	case EventEnd:
		var p endPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Frame{}, fmt.Errorf("%s: %w", m.Event, err)
		}
		return Frame{Type: TypeEnd, TensorID: p.TensorID, Metadata: p.Metadata}, nil
	case EventHeartbeat:
		var p heartbeatPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Frame{}, fmt.Errorf("%s: %w", m.Event, err)
		}
		return Frame{Type: TypeHeartbeat, Timestamp: time.UnixMilli(p.Timestamp)}, nil
	case EventError:
		var p errorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return Frame{}, fmt.Errorf("%s: %w", m.Event, err)
		}
		return Frame{Type: TypeError, TensorID: p.TensorID, Message: p.Message, Recoverable: p.Recoverable, Metadata: p.Metadata}, nil
	}
	return Frame{}, fmt.Errorf("%w: %q", ErrUnknownEvent, m.Event)
}

// FromBase64 dekodiert einen Chunk
func FromBase64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// ============================================================================
// Draht
// ============================================================================

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// SSE gibt das Event fuer gin-contrib/sse zurueck
func (m Message) SSE() sse.Event {
	return sse.Event{Event: m.Event, Id: m.ID, Retry: m.Retry, Data: m.Data}
}

// WriteTo schreibt das Event im text/event-stream Format. Mehrzeilige
// Daten werden auf mehrere data-Zeilen verteilt.
func (m Message) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := sse.Encode(cw, m.SSE())
	return cw.n, err
}

// Decode liest alle Events aus einem text/event-stream
func Decode(r io.Reader) ([]Message, error) {
	events, err := sse.Decode(r)
	if err != nil {
		return nil, err
	}

	out := make([]Message, 0, len(events))
	for _, e := range events {
		data, _ := e.Data.(string)
		out = append(out, Message{Event: e.Event, ID: e.Id, Data: data})
	}
	return out, nil
}
