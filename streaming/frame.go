// frame.go - Tensor-Streaming in Frames
//
// Enthaelt:
// - Frame-Typen: header, data, end, heartbeat, error
// - Frames: Tensoren als Frame-Folge (Header, Chunks, Ende)
// - Konstruktoren fuer Heartbeat- und Error-Frames
package streaming

import (
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/host"
	"github.com/ollama/mlxbridge/shape"
)

// DefaultChunkBytes ist die Chunk-Groesse wenn Options.ChunkBytes 0 ist.
const DefaultChunkBytes = 64 * 1024

// ErrChunkSize: ChunkBytes ist negativ.
var ErrChunkSize = errors.New("chunk size must not be negative")

// Type unterscheidet die Frame-Arten.
type Type string

const (
	TypeHeader    Type = "header"
	TypeData      Type = "data"
	TypeEnd       Type = "end"
	TypeHeartbeat Type = "heartbeat"
	TypeError     Type = "error"
)

// Metadata sind frei waehlbare Zusatzdaten. Die Reihenfolge der Schluessel
// bleibt auf dem Draht erhalten.
type Metadata = orderedmap.OrderedMap[string, any]

// NewMetadata erzeugt Metadata aus Schluessel/Wert-Paaren
func NewMetadata(kv ...any) *Metadata {
	m := orderedmap.New[string, any]()
	for i := 0; i+1 < len(kv); i += 2 {
		m.Set(fmt.Sprint(kv[i]), kv[i+1])
	}
	return m
}

// Frame ist ein Element eines Tensor-Streams. Welche Felder gesetzt sind
// haengt von Type ab.
type Frame struct {
	Type     Type
	TensorID string

	// header
	Shape   shape.Shape
	Dtype   dtype.Dtype
	Strides []int

	// header und end
	Metadata *Metadata

	// data: rohe Bytes im Host-Layout des Dtypes
	Data     []byte
	Sequence int

	// heartbeat
	Timestamp time.Time

	// error
	Message     string
	Recoverable bool
}

// Tensor ist alles was sich als Frame-Folge streamen laesst. ToTypedArray
// muss materialisieren.
type Tensor interface {
	Shape() shape.Shape
	Dtype() dtype.Dtype
	ToTypedArray() (host.Buffer, error)
}

// Options steuert Frames.
type Options struct {
	// ChunkBytes ist die maximale Nutzlast pro Data-Frame, 0 = DefaultChunkBytes
	ChunkBytes int

	// ID vergibt die Tensor-ID fuer den i-ten Tensor; ohne ID eine UUID
	ID func(i int) string

	Metadata    *Metadata
	EndMetadata *Metadata
}

func (o Options) chunkBytes() (int, error) {
	switch {
	case o.ChunkBytes < 0:
		return 0, fmt.Errorf("%w: %d", ErrChunkSize, o.ChunkBytes)
	case o.ChunkBytes == 0:
		return DefaultChunkBytes, nil
	}
	return o.ChunkBytes, nil
}

func (o Options) id(i int) string {
	if o.ID != nil {
		return o.ID(i)
	}
	return uuid.NewString()
}

// Frames liefert fuer jeden Tensor einen Header, die Daten in Chunks von
// hoechstens ChunkBytes Bytes und einen End-Frame. Ein Tensor ohne Bytes
// hat keine Data-Frames. Nach einem Fehler endet die Folge.
func Frames(opts Options, tensors ...Tensor) iter.Seq2[Frame, error] {
	return func(yield func(Frame, error) bool) {
		chunk, err := opts.chunkBytes()
		if err != nil {
			yield(Frame{}, err)
			return
		}

		for i, t := range tensors {
			buf, err := t.ToTypedArray()
			if err != nil {
				yield(Frame{}, err)
				return
			}

			id := opts.id(i)
			sh := t.Shape()
			header := Frame{
				Type:     TypeHeader,
				TensorID: id,
				Shape:    sh,
				Dtype:    t.Dtype(),
				Strides:  sh.Strides(),
				Metadata: opts.Metadata,
			}
			if !yield(header, nil) {
				return
			}

			data := buf.Bytes()
			for seq, off := 0, 0; off < len(data); seq, off = seq+1, off+chunk {
				end := min(off+chunk, len(data))
				f := Frame{
					Type:     TypeData,
					TensorID: id,
					Data:     data[off:end],
					Sequence: seq,
				}
				if !yield(f, nil) {
					return
				}
			}

			if !yield(Frame{Type: TypeEnd, TensorID: id, Metadata: opts.EndMetadata}, nil) {
				return
			}
		}
	}
}

// Heartbeat gibt einen Heartbeat-Frame fuer t zurueck
func Heartbeat(t time.Time) Frame {
	return Frame{Type: TypeHeartbeat, Timestamp: t}
}

// Error gibt einen Error-Frame fuer err zurueck. id darf leer sein.
func Error(id string, err error, recoverable bool) Frame {
	return Frame{Type: TypeError, TensorID: id, Message: err.Error(), Recoverable: recoverable}
}
