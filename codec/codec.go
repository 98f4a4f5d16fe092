// codec.go - Typed Buffer Codec zwischen Host-Puffern und Engine-Layout
//
// Enthaelt:
// - Kompatibilitaetsmatrix Dtype <-> Host-Kind
// - Infer: Dtype aus dem Host-Kind ableiten
// - Decode: Host-Buffer validieren und ins Engine-Layout kopieren
// - Encode: Engine-Bytes in einen neuen Host-Buffer kopieren
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/host"
	"github.com/ollama/mlxbridge/shape"
)

var (
	// ErrDtypeBufferMismatch: Host-Kind und Dtype passen nicht zusammen.
	ErrDtypeBufferMismatch = errors.New("dtype/buffer mismatch")

	// ErrShapeLengthMismatch: Elementanzahl von Shape und Buffer stimmen nicht.
	ErrShapeLengthMismatch = errors.New("shape does not match data length")
)

// Jeder Dtype akzeptiert genau eine oder zwei Host-Kinds.
var accepts = map[dtype.Dtype][]host.Kind{
	dtype.Bool:      {host.Uint8, host.Uint8Clamped},
	dtype.Uint8:     {host.Uint8, host.Uint8Clamped},
	dtype.Int8:      {host.Int8},
	dtype.Int16:     {host.Int16},
	dtype.Uint16:    {host.Uint16},
	dtype.Float16:   {host.Uint16},
	dtype.Bfloat16:  {host.Uint16},
	dtype.Int32:     {host.Int32},
	dtype.Uint32:    {host.Uint32},
	dtype.Int64:     {host.BigInt64},
	dtype.Uint64:    {host.BigUint64},
	dtype.Float32:   {host.Float32},
	dtype.Float64:   {host.Float64},
	dtype.Complex64: {host.Float32},
}

// Kanonische Host-Darstellung fuer den Rueckweg.
var canonical = [...]host.Kind{
	dtype.Bool:      host.Uint8,
	dtype.Uint8:     host.Uint8,
	dtype.Uint16:    host.Uint16,
	dtype.Uint32:    host.Uint32,
	dtype.Uint64:    host.BigUint64,
	dtype.Int8:      host.Int8,
	dtype.Int16:     host.Int16,
	dtype.Int32:     host.Int32,
	dtype.Int64:     host.BigInt64,
	dtype.Float16:   host.Uint16,
	dtype.Float32:   host.Float32,
	dtype.Float64:   host.Float64,
	dtype.Bfloat16:  host.Uint16,
	dtype.Complex64: host.Float32,
}

var inferred = [...]dtype.Dtype{
	host.Int8:         dtype.Int8,
	host.Uint8:        dtype.Uint8,
	host.Uint8Clamped: dtype.Uint8,
	host.Int16:        dtype.Int16,
	host.Uint16:       dtype.Uint16,
	host.Int32:        dtype.Int32,
	host.Uint32:       dtype.Uint32,
	host.Float32:      dtype.Float32,
	host.Float64:      dtype.Float64,
	host.BigInt64:     dtype.Int64,
	host.BigUint64:    dtype.Uint64,
}

// Accepts gibt die Host-Kinds zurueck die dt annimmt
func Accepts(dt dtype.Dtype) []host.Kind {
	return accepts[dt]
}

// Compatible meldet ob die Kombination in der Matrix steht
func Compatible(dt dtype.Dtype, k host.Kind) bool {
	for _, a := range accepts[dt] {
		if a == k {
			return true
		}
	}
	return false
}

// Infer gibt den Dtype fuer einen Host-Kind ohne explizite Angabe zurueck.
// Uint16 ergibt uint16, float16 und bfloat16 brauchen ein Dtype-Token.
func Infer(k host.Kind) dtype.Dtype {
	if int(k) >= len(inferred) {
		return dtype.Float32
	}
	return inferred[k]
}

// HostKind gibt die kanonische Host-Darstellung von dt zurueck
func HostKind(dt dtype.Dtype) host.Kind {
	return canonical[dt]
}

// Elements gibt die Anzahl Host-Elemente fuer n logische Elemente zurueck
func Elements(dt dtype.Dtype, n int) int {
	if dt == dtype.Complex64 {
		return 2 * n
	}
	return n
}

// Decoded ist ein validierter Puffer im Engine-Layout.
type Decoded struct {
	Data  []byte
	Shape shape.Shape
	Dtype dtype.Dtype
}

// Decode validiert b gegen dt und sh und kopiert die Bytes. Der Aufrufer
// darf b danach wieder freigeben.
func Decode(b host.Buffer, sh shape.Shape, dt dtype.Dtype) (Decoded, error) {
	if err := sh.Validate(); err != nil {
		return Decoded{}, err
	}
	if !dt.Valid() {
		return Decoded{}, fmt.Errorf("%w: %d", dtype.ErrUnknownDtype, uint8(dt))
	}
	if !Compatible(dt, b.Kind) {
		return Decoded{}, fmt.Errorf("%w: %s dtype requires %s input, got %s",
			ErrDtypeBufferMismatch, dt, kindList(accepts[dt]), b.Kind)
	}
	if err := b.Validate(); err != nil {
		return Decoded{}, err
	}

	n := sh.NumElements()
	if want := Elements(dt, n); b.Len != want {
		if dt == dtype.Complex64 {
			return Decoded{}, fmt.Errorf("%w: complex64 shape %s needs %d interleaved float32 values, got %d",
				ErrShapeLengthMismatch, sh, want, b.Len)
		}
		return Decoded{}, fmt.Errorf("%w: shape %s has %d elements, buffer has %d", ErrShapeLengthMismatch, sh, n, b.Len)
	}

	data := make([]byte, n*dt.Size())
	copy(data, b.Bytes())
	if dt == dtype.Bool {
		for i, v := range data {
			if v != 0 {
				data[i] = 1
			}
		}
	}
	return Decoded{Data: data, Shape: sh.Clone(), Dtype: dt}, nil
}

// DecodeInfer ist Decode mit dem Dtype aus Infer
func DecodeInfer(b host.Buffer, sh shape.Shape) (Decoded, error) {
	return Decode(b, sh, Infer(b.Kind))
}

// Encode kopiert materialisierte Engine-Bytes in einen neuen Host-Buffer
func Encode(data []byte, dt dtype.Dtype) (host.Buffer, error) {
	if !dt.Valid() {
		return host.Buffer{}, fmt.Errorf("%w: %d", dtype.ErrUnknownDtype, uint8(dt))
	}
	if len(data)%dt.Size() != 0 {
		return host.Buffer{}, fmt.Errorf("%w: %d bytes is not a whole number of %s elements",
			ErrShapeLengthMismatch, len(data), dt)
	}

	kind := HostKind(dt)
	out := host.New(kind, Elements(dt, len(data)/dt.Size()))
	copy(out.Storage, data)
	if dt == dtype.Bool {
		for i, v := range out.Storage {
			if v != 0 {
				out.Storage[i] = 1
			}
		}
	}
	return out, nil
}

func kindList(kinds []host.Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, " or ")
}
