// host.go - Host-seitige typisierte Puffer
//
// Enthaelt:
// - Kind: die 11 nativen Elementarten des Hosts
// - Buffer: geliehene Sicht auf Host-Speicher (Kind, Offset, Laenge, Storage)
// - Of/Clamped/Wrap/From Konstruktoren
// - View: typisierte Kopie der Elemente
//
// Alle Puffer sind little-endian. Ein Buffer besitzt seinen Speicher nicht,
// Empfaenger kopieren bevor sie ihn ueber den Aufruf hinaus behalten.
package host

import (
	"errors"
	"fmt"
	"math"
	"unsafe"
)

var (
	// ErrKind bedeutet dass ein Buffer nicht die erwartete Elementart hat.
	ErrKind = errors.New("host buffer kind mismatch")

	// ErrBounds bedeutet dass Offset und Laenge nicht in Storage liegen.
	ErrBounds = errors.New("host buffer view out of bounds")
)

// Kind ist die native Elementart eines Host-Puffers.
type Kind uint8

const (
	Int8 Kind = iota
	Uint8
	Uint8Clamped
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Float64
	BigInt64
	BigUint64

	numKinds
)

var kindNames = [numKinds]string{
	Int8:         "int8",
	Uint8:        "uint8",
	Uint8Clamped: "uint8clamped",
	Int16:        "int16",
	Uint16:       "uint16",
	Int32:        "int32",
	Uint32:       "uint32",
	Float32:      "float32",
	Float64:      "float64",
	BigInt64:     "bigint64",
	BigUint64:    "biguint64",
}

var kindSizes = [numKinds]int{
	Int8: 1, Uint8: 1, Uint8Clamped: 1,
	Int16: 2, Uint16: 2,
	Int32: 4, Uint32: 4, Float32: 4,
	Float64: 8, BigInt64: 8, BigUint64: 8,
}

// Kinds gibt alle Elementarten zurueck
func Kinds() []Kind {
	out := make([]Kind, 0, numKinds)
	for k := range numKinds {
		out = append(out, k)
	}
	return out
}

// ParseKind sucht eine Elementart ueber ihren Namen
func ParseKind(name string) (Kind, error) {
	for k := range numKinds {
		if kindNames[k] == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown host kind %q", ErrKind, name)
}

func (k Kind) String() string {
	if k >= numKinds {
		return "unknown"
	}
	return kindNames[k]
}

// Size gibt die Breite eines Elements in Bytes zurueck
func (k Kind) Size() int {
	if k >= numKinds {
		return 0
	}
	return kindSizes[k]
}

// Buffer ist eine zusammenhaengende Sicht auf Host-Speicher.
type Buffer struct {
	Kind       Kind
	ByteOffset int
	Len        int
	Storage    []byte
}

// New alloziert einen genullten Buffer mit n Elementen
func New(kind Kind, n int) Buffer {
	return Buffer{Kind: kind, Len: n, Storage: make([]byte, n*kind.Size())}
}

// Wrap erzeugt einen Buffer ueber rohen Bytes
func Wrap(kind Kind, data []byte) (Buffer, error) {
	size := kind.Size()
	if size == 0 {
		return Buffer{}, fmt.Errorf("%w: invalid kind %d", ErrKind, kind)
	}
	if len(data)%size != 0 {
		return Buffer{}, fmt.Errorf("%w: %d bytes is not a multiple of %s width %d", ErrKind, len(data), kind, size)
	}
	return Buffer{Kind: kind, Len: len(data) / size, Storage: data}, nil
}

// Validate prueft Kind, Offset und Laenge gegen Storage
func (b Buffer) Validate() error {
	size := b.Kind.Size()
	if size == 0 {
		return fmt.Errorf("%w: invalid kind %d", ErrKind, b.Kind)
	}
	if b.ByteOffset < 0 || b.Len < 0 {
		return fmt.Errorf("%w: offset %d, length %d", ErrBounds, b.ByteOffset, b.Len)
	}
	if b.Len > (math.MaxInt-b.ByteOffset)/size || b.ByteOffset+b.Len*size > len(b.Storage) {
		return fmt.Errorf("%w: %d %s elements at byte %d, storage has %d bytes",
			ErrBounds, b.Len, b.Kind, b.ByteOffset, len(b.Storage))
	}
	return nil
}

// Bytes gibt die Bytes des Buffers ohne Kopie zurueck, nil wenn die Sicht
// nicht in Storage liegt
func (b Buffer) Bytes() []byte {
	if b.Storage == nil || b.Validate() != nil {
		return nil
	}
	return b.Storage[b.ByteOffset : b.ByteOffset+b.ByteLen()]
}

// ByteLen gibt die Laenge in Bytes zurueck
func (b Buffer) ByteLen() int {
	return b.Len * b.Kind.Size()
}

// Slice gibt eine Sicht auf die Elemente [i, j) zurueck
func (b Buffer) Slice(i, j int) Buffer {
	size := b.Kind.Size()
	return Buffer{Kind: b.Kind, ByteOffset: b.ByteOffset + i*size, Len: j - i, Storage: b.Storage}
}

func (b Buffer) String() string {
	return fmt.Sprintf("host.Buffer(%s, len=%d)", b.Kind, b.Len)
}

// ============================================================================
// Konstruktoren aus Go-Slices
// ============================================================================

// Element sind die Go-Typen die direkt einem Kind entsprechen.
type Element interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | float32 | float64 | int64 | uint64
}

func kindOf[T Element]() Kind {
	var zero T
	switch any(zero).(type) {
	case int8:
		return Int8
	case uint8:
		return Uint8
	case int16:
		return Int16
	case uint16:
		return Uint16
	case int32:
		return Int32
	case uint32:
		return Uint32
	case float32:
		return Float32
	case float64:
		return Float64
	case int64:
		return BigInt64
	default:
		return BigUint64
	}
}

// Of erzeugt eine Sicht auf s ohne Kopie
func Of[T Element](s []T) Buffer {
	k := kindOf[T]()
	if len(s) == 0 {
		return Buffer{Kind: k, Storage: []byte{}}
	}
	raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(s))), len(s)*k.Size())
	return Buffer{Kind: k, Len: len(s), Storage: raw}
}

// Clamped erzeugt einen Uint8Clamped Buffer ueber s
func Clamped(s []uint8) Buffer {
	b := Of(s)
	b.Kind = Uint8Clamped
	return b
}

// From erkennt typisierte Host-Werte: Buffer, *Buffer und die Element-Slices.
func From(v any) (Buffer, bool) {
	switch v := v.(type) {
	case Buffer:
		return v, true
	case *Buffer:
		if v == nil {
			return Buffer{}, false
		}
		return *v, true
	case []int8:
		return Of(v), true
	case []uint8:
		return Of(v), true
	case []int16:
		return Of(v), true
	case []uint16:
		return Of(v), true
	case []int32:
		return Of(v), true
	case []uint32:
		return Of(v), true
	case []float32:
		return Of(v), true
	case []float64:
		return Of(v), true
	case []int64:
		return Of(v), true
	case []uint64:
		return Of(v), true
	}
	return Buffer{}, false
}

// ============================================================================
// Lesen
// ============================================================================

// View kopiert die Elemente in ein neues Go-Slice. Der Kind muss zu T passen,
// Uint8Clamped wird als uint8 gelesen.
func View[T Element](b Buffer) ([]T, error) {
	want := kindOf[T]()
	got := b.Kind
	if got == Uint8Clamped {
		got = Uint8
	}
	if got != want {
		return nil, fmt.Errorf("%w: buffer is %s, requested %s", ErrKind, b.Kind, want)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	out := make([]T, b.Len)
	if b.Len > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(out))), b.Len*want.Size())
		copy(dst, b.Bytes())
	}
	return out, nil
}
