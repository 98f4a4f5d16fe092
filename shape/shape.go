// shape.go - Shape-Typ und Validierung
//
// Enthaelt:
// - Shape mit NumElements, Strides, Equal, Clone
// - Parse: Host-Werte (int, []int, []any aus JSON) in Shapes umwandeln
// - Broadcast nach NumPy-Regeln
// - NormalizeAxis fuer negative Achsen
package shape

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrInvalidDimension wird bei negativen oder nicht-ganzzahligen Dimensionen zurueckgegeben.
	ErrInvalidDimension = errors.New("invalid shape dimension")

	// ErrNotShape bedeutet dass ein Wert strukturell keine Shape ist.
	ErrNotShape = errors.New("value is not a shape")

	// ErrBroadcast bedeutet dass zwei Shapes nicht broadcastbar sind.
	ErrBroadcast = errors.New("shapes cannot be broadcast")

	// ErrAxis bedeutet dass eine Achse ausserhalb des Ranges liegt.
	ErrAxis = errors.New("axis out of range")
)

// MaxElements begrenzt das Produkt der Dimensionen. Auch die Bytegroesse
// beim breitesten Dtype (8 Bytes) passt damit noch in int.
const MaxElements = math.MaxInt / 8

// Shape ist eine geordnete Folge nicht-negativer Dimensionen.
// Eine leere Shape ist ein Skalar mit einem Element.
type Shape []int

// Of baut eine Shape aus einzelnen Dimensionen
func Of(dims ...int) Shape {
	return Shape(dims)
}

// NumElements gibt das Produkt aller Dimensionen zurueck
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Ndim gibt den Rang zurueck
func (s Shape) Ndim() int {
	return len(s)
}

// Clone gibt eine unabhaengige Kopie zurueck
func (s Shape) Clone() Shape {
	if s == nil {
		return Shape{}
	}
	return append(Shape{}, s...)
}

// Equal vergleicht zwei Shapes elementweise
func (s Shape) Equal(o Shape) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Validate prueft dass jede Dimension >= 0 ist und das Produkt aller
// Dimensionen ungleich 0 hoechstens MaxElements ist.
func (s Shape) Validate() error {
	n := 1
	for i, d := range s {
		if d < 0 {
			return fmt.Errorf("%w: dimension %d is %d, expected >= 0", ErrInvalidDimension, i, d)
		}
		if d == 0 {
			continue
		}
		if n > MaxElements/d {
			return fmt.Errorf("%w: shape %s exceeds %d elements", ErrInvalidDimension, s, MaxElements)
		}
		n *= d
	}
	return nil
}

// Strides gibt row-major Strides in Elementen zurueck
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	acc := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= s[i]
	}
	return strides
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, d := range s {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Broadcast berechnet die gemeinsame Shape nach NumPy-Regeln
func Broadcast(a, b Shape) (Shape, error) {
	n := max(len(a), len(b))
	out := make(Shape, n)
	for i := range n {
		da, db := 1, 1
		if j := len(a) - n + i; j >= 0 {
			da = a[j]
		}
		if j := len(b) - n + i; j >= 0 {
			db = b[j]
		}
		switch {
		case da == db, db == 1:
			out[i] = da
		case da == 1:
			out[i] = db
		default:
			return nil, fmt.Errorf("%w: %s and %s", ErrBroadcast, a, b)
		}
	}
	return out, nil
}

// NormalizeAxis loest negative Achsen relativ zu ndim auf
func NormalizeAxis(axis, ndim int) (int, error) {
	if axis < -ndim || axis >= ndim {
		return 0, fmt.Errorf("%w: axis %d for rank %d", ErrAxis, axis, ndim)
	}
	if axis < 0 {
		axis += ndim
	}
	return axis, nil
}

// ============================================================================
// Host-Werte
// ============================================================================

// Parse wandelt einen Host-Wert in eine Shape um. Akzeptiert werden eine
// einzelne Ganzzahl (1-D Laenge), Integer-Slices und []any mit ganzzahligen
// Zahlen wie sie aus JSON kommen.
func Parse(v any) (Shape, error) {
	var dims []int
	switch v := v.(type) {
	case Shape:
		dims = v.Clone()
	case []int:
		dims = append([]int{}, v...)
	case []int32:
		dims = convertInts(v)
	case []int64:
		dims = convertInts(v)
	case []uint:
		dims = convertInts(v)
	case []any:
		dims = make([]int, len(v))
		for i, e := range v {
			d, ok := AsInt(e)
			if !ok {
				return nil, fmt.Errorf("%w: dimension %d is %v (%T), expected an integer", ErrInvalidDimension, i, e, e)
			}
			dims[i] = d
		}
	default:
		d, ok := AsInt(v)
		if !ok {
			return nil, fmt.Errorf("%w: %v (%T)", ErrNotShape, v, v)
		}
		dims = []int{d}
	}

	s := Shape(dims)
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// IsShapeLike meldet ob v strukturell eine Shape sein koennte. Negative
// Dimensionen zaehlen mit, Parse meldet sie danach als ungueltig.
func IsShapeLike(v any) bool {
	switch v := v.(type) {
	case Shape, []int, []int32, []int64, []uint:
		return true
	case []any:
		for _, e := range v {
			if _, ok := AsInt(e); !ok {
				return false
			}
		}
		return true
	default:
		_, ok := AsInt(v)
		return ok
	}
}

func convertInts[T int32 | int64 | uint](in []T) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

// AsInt wandelt ganzzahlige Host-Werte in int um. Gleitkommazahlen werden
// nur akzeptiert wenn sie ganzzahlig sind.
func AsInt(v any) (int, bool) {
	switch v := v.(type) {
	case int:
		return v, true
	case int8:
		return int(v), true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), v <= math.MaxInt
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	case uint64:
		return int(v), v <= math.MaxInt
	case float32:
		return floatInt(float64(v))
	case float64:
		return floatInt(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return int(i), true
		}
		if f, err := v.Float64(); err == nil {
			return floatInt(f)
		}
	}
	return 0, false
}

func floatInt(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
