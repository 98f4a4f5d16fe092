// flatten.go - Nested-Value Flattener
//
// Enthaelt:
// - Flatten: verschachtelte Host-Literale in flache Werte plus Shape
// - Klassifikation der Blattwerte (bool, int, breiter int, uint ueber int64, float)
// - Dtype-Inferenz nach fester Prioritaet
//
// Verschachtelung ist strikt rechteckig, jede Abweichung ist ErrRaggedShape.
package flatten

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/shape"
)

var (
	// ErrRaggedShape: Geschwister haben auf gleicher Tiefe unterschiedliche Laengen.
	ErrRaggedShape = errors.New("ragged nested sequence")

	// ErrUnsupportedValue: ein Blatt ist keine Zahl und kein bool.
	ErrUnsupportedValue = errors.New("unsupported element value")
)

// Leaf ist die Inferenzklasse eines Blattwerts.
type Leaf uint8

const (
	LeafBool Leaf = iota
	LeafInt
	LeafWideInt
	LeafFloat
	// LeafWideUint: ganze Zahl ueber math.MaxInt64
	LeafWideUint
)

func (l Leaf) String() string {
	return [...]string{"bool", "int", "wide int", "float", "wide uint"}[l]
}

// Result ist ein flachgeklopftes Literal.
type Result struct {
	Values []codec.Value
	Shape  shape.Shape
	Dtype  dtype.Dtype
}

// Pack schreibt die Werte als dt ins Engine-Layout
func (r Result) Pack(dt dtype.Dtype) []byte {
	return codec.Pack(r.Values, dt)
}

// Pairs fasst je zwei aufeinanderfolgende Werte zu einem complex64 Element
// (real, imag) zusammen. Mit sh muessen es genau 2*sh.NumElements() Werte
// sein. Ohne sh wird eine flache Liste halbiert und bei hoeherem Rang
// entfaellt die letzte Achse, die dann die Laenge 2 haben muss.
func (r Result) Pairs(sh shape.Shape) (Result, error) {
	if len(r.Values)%2 != 0 {
		return Result{}, fmt.Errorf("%w: complex64 literal has %d values, expected (real, imag) pairs", codec.ErrShapeLengthMismatch, len(r.Values))
	}

	n := len(r.Values) / 2
	switch {
	case sh != nil:
		if sh.NumElements() != n {
			return Result{}, fmt.Errorf("%w: complex64 shape %s needs %d interleaved values, literal has %d",
				codec.ErrShapeLengthMismatch, sh, 2*sh.NumElements(), len(r.Values))
		}
	case len(r.Shape) == 1:
		sh = shape.Of(n)
	case len(r.Shape) > 1 && r.Shape[len(r.Shape)-1] == 2:
		sh = r.Shape[:len(r.Shape)-1].Clone()
	default:
		return Result{}, fmt.Errorf("%w: complex64 literal %s needs a last axis of length 2", codec.ErrShapeLengthMismatch, r.Shape)
	}

	vals := make([]codec.Value, n)
	for i := range vals {
		vals[i] = codec.ComplexValue(complex(r.Values[2*i].Float(), r.Values[2*i+1].Float()))
	}
	return Result{Values: vals, Shape: sh, Dtype: dtype.Complex64}, nil
}

type walker struct {
	dims      []int
	leafDepth int
	values    []codec.Value
	seen      [5]bool
	negative  bool
}

// Flatten wandelt v in flache Werte, Shape und inferierten Dtype um.
// Skalare ergeben eine Shape vom Rang 0.
func Flatten(v any) (Result, error) {
	w := walker{leafDepth: -1}
	if err := w.walk(v, 0); err != nil {
		return Result{}, err
	}

	sh := shape.Shape(w.dims)
	if sh == nil {
		sh = shape.Shape{}
	}
	if w.seen[LeafWideUint] && w.negative && !w.seen[LeafFloat] {
		return Result{}, fmt.Errorf("%w: integers above %d mixed with negative integers fit neither int64 nor uint64", ErrUnsupportedValue, uint64(math.MaxInt64))
	}
	return Result{Values: w.values, Shape: sh, Dtype: w.infer()}, nil
}

// Infer gibt den Dtype fuer einen einzelnen Skalar zurueck
func Infer(v any) (dtype.Dtype, error) {
	_, leaf, err := Classify(v)
	if err != nil {
		return 0, err
	}
	var w walker
	w.seen[leaf] = true
	return w.infer(), nil
}

// Prioritaet: float, dann uint ueber int64, dann breiter int, dann int, dann
// bool. Ohne Blaetter float32.
func (w *walker) infer() dtype.Dtype {
	switch {
	case w.seen[LeafFloat]:
		return dtype.Float32
	case w.seen[LeafWideUint]:
		return dtype.Uint64
	case w.seen[LeafWideInt]:
		return dtype.Int64
	case w.seen[LeafInt]:
		return dtype.Int32
	case w.seen[LeafBool]:
		return dtype.Bool
	default:
		return dtype.Float32
	}
}

func (w *walker) walk(v any, depth int) error {
	n, elem, ok := sequence(v)
	if !ok {
		if w.leafDepth == -1 {
			w.leafDepth = depth
		}
		if w.leafDepth != depth || depth != len(w.dims) {
			return fmt.Errorf("%w: scalar %v at depth %d mixed with sequences", ErrRaggedShape, v, depth)
		}

		val, leaf, err := Classify(v)
		if err != nil {
			return err
		}
		w.seen[leaf] = true
		if val.Class() == codec.ClassInt && val.Int() < 0 {
			w.negative = true
		}
		w.values = append(w.values, val)
		return nil
	}

	if w.leafDepth != -1 && depth >= w.leafDepth {
		return fmt.Errorf("%w: sequence at depth %d where scalars were found", ErrRaggedShape, depth)
	}

	switch {
	case depth == len(w.dims):
		w.dims = append(w.dims, n)
	case w.dims[depth] != n:
		return fmt.Errorf("%w: length %d at depth %d, expected %d", ErrRaggedShape, n, depth, w.dims[depth])
	}

	for i := range n {
		if err := w.walk(elem(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// sequence erkennt []any und beliebige Go-Slices und Arrays.
func sequence(v any) (int, func(int) any, bool) {
	switch s := v.(type) {
	case []any:
		return len(s), func(i int) any { return s[i] }, true
	case nil, string, json.Number:
		return 0, nil, false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len(), func(i int) any { return rv.Index(i).Interface() }, true
	}
	return 0, nil, false
}

// Classify ordnet einen Blattwert seiner Inferenzklasse zu. Gleitkommazahlen
// bleiben float auch wenn sie ganzzahlig sind.
func Classify(v any) (codec.Value, Leaf, error) {
	switch v := v.(type) {
	case bool:
		return codec.BoolValue(v), LeafBool, nil
	case int:
		return intLeaf(int64(v))
	case int8:
		return codec.IntValue(int64(v)), LeafInt, nil
	case int16:
		return codec.IntValue(int64(v)), LeafInt, nil
	case int32:
		return codec.IntValue(int64(v)), LeafInt, nil
	case int64:
		return codec.IntValue(v), LeafWideInt, nil
	case uint8:
		return codec.IntValue(int64(v)), LeafInt, nil
	case uint16:
		return codec.IntValue(int64(v)), LeafInt, nil
	case uint32:
		return intLeaf(int64(v))
	case uint:
		return uintLeaf(uint64(v))
	case uint64:
		if v > math.MaxInt64 {
			return codec.UintValue(v), LeafWideUint, nil
		}
		return codec.IntValue(int64(v)), LeafWideInt, nil
	case float32:
		return codec.FloatValue(float64(v)), LeafFloat, nil
	case float64:
		return codec.FloatValue(v), LeafFloat, nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return intLeaf(i)
		}
		if u, err := strconv.ParseUint(v.String(), 10, 64); err == nil {
			return uintLeaf(u)
		}
		f, err := v.Float64()
		if err != nil {
			return codec.Value{}, 0, fmt.Errorf("%w: %q is not a number", ErrUnsupportedValue, v.String())
		}
		return codec.FloatValue(f), LeafFloat, nil
	}
	return codec.Value{}, 0, fmt.Errorf("%w: %v (%T), expected a number or bool", ErrUnsupportedValue, v, v)
}

func intLeaf(i int64) (codec.Value, Leaf, error) {
	if i < math.MinInt32 || i > math.MaxInt32 {
		return codec.IntValue(i), LeafWideInt, nil
	}
	return codec.IntValue(i), LeafInt, nil
}

func uintLeaf(u uint64) (codec.Value, Leaf, error) {
	switch {
	case u > math.MaxInt64:
		return codec.UintValue(u), LeafWideUint, nil
	case u > math.MaxInt32:
		return codec.IntValue(int64(u)), LeafWideInt, nil
	}
	return codec.IntValue(int64(u)), LeafInt, nil
}
