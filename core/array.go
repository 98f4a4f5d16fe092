// array.go - Array: das einzige besitzende Handle auf einen Engine-Buffer
//
// Enthaelt:
// - Array mit Finalizer, Close gibt den Buffer genau einmal frei
// - Metadaten: Shape, Dtype, Size, Ndim, Placement, String
// - Rueckweg: Eval, ToTypedArray, ToFloat32Array, ToArray
package core

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/host"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

// ErrReleased: das Array wurde bereits geschlossen.
var ErrReleased = errors.New("array released")

// Array haelt genau eine Referenz auf einen Engine-Buffer. Der Buffer wird
// von Close oder spaetestens vom Finalizer freigegeben.
type Array struct {
	shape  shape.Shape
	dtype  dtype.Dtype
	stream placement.Stream

	mu     sync.Mutex
	buf    engine.Buffer
	closed bool
}

func wrap(b engine.Buffer) *Array {
	a := &Array{
		shape:  b.Shape(),
		dtype:  b.Dtype(),
		stream: b.Stream(),
		buf:    b,
	}

	runtime.SetFinalizer(a, (*Array).Close)
	return a
}

// Close gibt den Engine-Buffer frei. Weitere Aufrufe sind wirkungslos.
func (a *Array) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}

	a.buf.Release()
	a.buf = nil
	a.closed = true
	runtime.SetFinalizer(a, nil)

	return nil
}

// buffer gibt den Buffer fuer eine Operation zurueck. Der Aufrufer muss a
// bis zum Ende der Operation mit runtime.KeepAlive am Leben halten.
func (a *Array) buffer() (engine.Buffer, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: nil array", ErrReleased)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, fmt.Errorf("%w: %s", ErrReleased, a)
	}
	return a.buf, nil
}

// ============================================================================
// Metadaten
// ============================================================================

// Shape gibt eine Kopie der Shape zurueck
func (a *Array) Shape() shape.Shape { return a.shape.Clone() }

func (a *Array) Dtype() dtype.Dtype { return a.dtype }

// Size gibt die Anzahl Elemente zurueck
func (a *Array) Size() int { return a.shape.NumElements() }

func (a *Array) Ndim() int { return a.shape.Ndim() }

// Placement gibt den Stream zurueck auf dem das Array erzeugt wurde
func (a *Array) Placement() placement.Stream { return a.stream }

func (a *Array) String() string {
	return fmt.Sprintf("array(shape=%s, dtype=%s, stream=%s)", a.shape, a.dtype, a.stream)
}

// ============================================================================
// Rueckweg
// ============================================================================

// Eval materialisiert das Array und blockiert bis die Engine fertig ist
func (a *Array) Eval() error {
	b, err := a.buffer()
	if err != nil {
		return err
	}
	defer runtime.KeepAlive(a)
	return b.Eval()
}

func (a *Array) bytes() ([]byte, error) {
	b, err := a.buffer()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(a)
	return b.Bytes()
}

// ToTypedArray materialisiert das Array und kopiert es in einen neuen
// Host-Buffer der kanonischen Host-Art des Dtypes.
func (a *Array) ToTypedArray() (host.Buffer, error) {
	data, err := a.bytes()
	if err != nil {
		return host.Buffer{}, err
	}
	return codec.Encode(data, a.dtype)
}

// ToFloat32Array materialisiert das Array und konvertiert jedes Element
// nach float32. complex64 liefert den Realteil.
func (a *Array) ToFloat32Array() ([]float32, error) {
	data, err := a.bytes()
	if err != nil {
		return nil, err
	}
	return codec.Float32s(data, a.dtype), nil
}

// ToArray gibt die Werte als verschachtelte Go-Werte zurueck: bool, int64,
// uint64, float64 oder [2]float32 fuer complex64. Rang 0 ergibt den Skalar.
func (a *Array) ToArray() (any, error) {
	data, err := a.bytes()
	if err != nil {
		return nil, err
	}

	flat := make([]any, a.Size())
	for i := range flat {
		flat[i] = codec.Load(data, a.dtype, i).Any()
	}

	if a.Ndim() == 0 {
		return flat[0], nil
	}
	return nest(flat, a.shape), nil
}

func nest(flat []any, sh shape.Shape) []any {
	if len(sh) == 1 {
		return flat
	}

	out := make([]any, sh[0])
	stride := shape.Shape(sh[1:]).NumElements()
	for i := range out {
		out[i] = nest(flat[i*stride:(i+1)*stride], sh[1:])
	}
	return out
}
