// assemble.go - Empfangsseite: Frames zurueck zu Host-Buffern
package streaming

import (
	"errors"
	"fmt"
	"iter"

	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/host"
	"github.com/ollama/mlxbridge/shape"
)

// ErrFrameOrder: Frames kommen in unerwarteter Reihenfolge oder passen
// nicht zum Header.
var ErrFrameOrder = errors.New("unexpected frame")

// Assembled ist ein vollstaendig empfangener Tensor.
type Assembled struct {
	TensorID    string
	Shape       shape.Shape
	Dtype       dtype.Dtype
	Buffer      host.Buffer
	Metadata    *Metadata
	EndMetadata *Metadata
}

// Assemble setzt die Tensoren aus einer Frame-Folge zusammen. Heartbeats
// werden uebersprungen, ein Error-Frame bricht mit seiner Nachricht ab.
func Assemble(frames iter.Seq2[Frame, error]) ([]Assembled, error) {
	var out []Assembled
	var cur *Assembled
	var data []byte
	next, want := 0, 0

	for f, err := range frames {
		if err != nil {
			return out, err
		}

		switch f.Type {
		case TypeHeartbeat:
			continue
		case TypeError:
			return out, fmt.Errorf("stream error for %q: %s", f.TensorID, f.Message)
		case TypeHeader:
			if cur != nil {
				return out, fmt.Errorf("%w: header for %q before end of %q", ErrFrameOrder, f.TensorID, cur.TensorID)
			}
			if err := f.Shape.Validate(); err != nil {
				return out, fmt.Errorf("%w: header for %q: %w", ErrFrameOrder, f.TensorID, err)
			}
			if !f.Dtype.Valid() {
				return out, fmt.Errorf("%w: header for %q: %w: %d", ErrFrameOrder, f.TensorID, dtype.ErrUnknownDtype, uint8(f.Dtype))
			}
			cur = &Assembled{TensorID: f.TensorID, Shape: f.Shape.Clone(), Dtype: f.Dtype, Metadata: f.Metadata}
			want = cur.Shape.NumElements() * cur.Dtype.Size()
			data = nil
			next = 0
		case TypeData:
			if cur == nil || f.TensorID != cur.TensorID {
				return out, fmt.Errorf("%w: data for %q without header", ErrFrameOrder, f.TensorID)
			}
			if f.Sequence != next {
				return out, fmt.Errorf("%w: chunk %d of %q, expected %d", ErrFrameOrder, f.Sequence, f.TensorID, next)
			}
			if len(f.Data) > want-len(data) {
				return out, fmt.Errorf("%w: chunk %d of %q exceeds %d bytes", ErrFrameOrder, f.Sequence, f.TensorID, want)
			}
			data = append(data, f.Data...)
			next++
		case TypeEnd:
			if cur == nil || f.TensorID != cur.TensorID {
				return out, fmt.Errorf("%w: end for %q without header", ErrFrameOrder, f.TensorID)
			}
			if len(data) != want {
				return out, fmt.Errorf("%w: %q has %d bytes, shape %s %s needs %d",
					ErrFrameOrder, cur.TensorID, len(data), cur.Shape, cur.Dtype, want)
			}
			if data == nil {
				data = []byte{}
			}
			buf, err := host.Wrap(codec.HostKind(cur.Dtype), data)
			if err != nil {
				return out, err
			}
			cur.Buffer = buf
			cur.EndMetadata = f.Metadata
			out = append(out, *cur)
			cur = nil
		default:
			return out, fmt.Errorf("%w: type %q", ErrFrameOrder, f.Type)
		}
	}

	if cur != nil {
		return out, fmt.Errorf("%w: stream ended inside %q", ErrFrameOrder, cur.TensorID)
	}
	return out, nil
}

// Messages wandelt dekodierte Events in eine Frame-Folge fuer Assemble
func Messages(msgs []Message) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		for _, m := range msgs {
			f, err := FromMessage(m)
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}
