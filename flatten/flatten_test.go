package flatten

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/shape"
)

func floats(vals []codec.Value) []float64 {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v.Float()
	}
	return out
}

func TestFlattenRectangular(t *testing.T) {
	tests := []struct {
		name  string
		in    any
		shape shape.Shape
		dtype dtype.Dtype
		want  []float64
	}{
		{"skalar int", 3, shape.Shape{}, dtype.Int32, []float64{3}},
		{"skalar float", 2.5, shape.Shape{}, dtype.Float32, []float64{2.5}},
		{"skalar bool", true, shape.Shape{}, dtype.Bool, []float64{1}},
		{"skalar int64", int64(7), shape.Shape{}, dtype.Int64, []float64{7}},
		{"1-D", []any{1, 2, 3}, shape.Of(3), dtype.Int32, []float64{1, 2, 3}},
		{"2-D", []any{[]any{1, 2}, []any{3, 4}, []any{5, 6}}, shape.Of(3, 2), dtype.Int32, []float64{1, 2, 3, 4, 5, 6}},
		{"gemischt float", []any{1, 2.5}, shape.Of(2), dtype.Float32, []float64{1, 2.5}},
		{"ganzzahliger float", []any{1.0, 2.0}, shape.Of(2), dtype.Float32, []float64{1, 2}},
		{"breiter int", []any{1, int64(2)}, shape.Of(2), dtype.Int64, []float64{1, 2}},
		{"grosser int", []any{1, math.MaxInt32 + 1}, shape.Of(2), dtype.Int64, []float64{1, math.MaxInt32 + 1}},
		{"bools", []any{true, false}, shape.Of(2), dtype.Bool, []float64{1, 0}},
		{"bool und int", []any{true, 2}, shape.Of(2), dtype.Int32, []float64{1, 2}},
		{"leer", []any{}, shape.Of(0), dtype.Float32, []float64{}},
		{"leer innen", []any{[]any{}, []any{}}, shape.Of(2, 0), dtype.Float32, []float64{}},
		{"go slices", [][]float64{{1, 2}, {3, 4}}, shape.Of(2, 2), dtype.Float32, []float64{1, 2, 3, 4}},
		{"json", []any{json.Number("1"), json.Number("2")}, shape.Of(2), dtype.Int32, []float64{1, 2}},
		{"json float", []any{json.Number("1"), json.Number("2.5")}, shape.Of(2), dtype.Float32, []float64{1, 2.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Flatten(tt.in)
			if err != nil {
				t.Fatalf("unerwarteter Fehler: %v", err)
			}
			if !r.Shape.Equal(tt.shape) {
				t.Errorf("Shape: erwartet %s, bekommen %s", tt.shape, r.Shape)
			}
			if r.Dtype != tt.dtype {
				t.Errorf("Dtype: erwartet %s, bekommen %s", tt.dtype, r.Dtype)
			}
			if r.Shape.NumElements() != len(r.Values) {
				t.Errorf("Elemente: Shape %s passt nicht zu %d Werten", r.Shape, len(r.Values))
			}
			if diff := cmp.Diff(tt.want, floats(r.Values)); diff != "" {
				t.Errorf("Werte: (-erwartet +bekommen)\n%s", diff)
			}
		})
	}
}

func TestFlattenRagged(t *testing.T) {
	cases := map[string]any{
		"laenge":         []any{[]any{1, 2}, []any{3}},
		"laenge tief":    []any{[]any{[]any{1}, []any{2}}, []any{[]any{3}, []any{4, 5}}},
		"skalar zuerst":  []any{1, []any{2}},
		"sequenz zuerst": []any{[]any{1}, 2},
		"leer gemischt":  []any{[]any{}, []any{1}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Flatten(in)
			if !errors.Is(err, ErrRaggedShape) {
				t.Errorf("erwartet ErrRaggedShape, bekommen %v", err)
			}
		})
	}
}

func TestFlattenUnsupported(t *testing.T) {
	for _, in := range []any{"a", []any{1, "2"}, []any{nil}, complex(1, 2)} {
		_, err := Flatten(in)
		if !errors.Is(err, ErrUnsupportedValue) {
			t.Errorf("Flatten(%v): erwartet ErrUnsupportedValue, bekommen %v", in, err)
		}
	}
}

func TestUint64Wide(t *testing.T) {
	r, err := Flatten([]any{uint64(math.MaxUint64)})
	if err != nil {
		t.Fatal(err)
	}
	if r.Dtype != dtype.Uint64 {
		t.Errorf("Dtype: erwartet uint64, bekommen %s", r.Dtype)
	}
	if got := codec.Unpack(r.Pack(r.Dtype), r.Dtype)[0].Uint(); got != math.MaxUint64 {
		t.Errorf("Pack(uint64): bekommen %d", got)
	}

	// 1<<63 darf nicht nach int64 umlaufen
	r, err = Flatten([]any{uint64(1 << 63), 1, int64(2)})
	if err != nil {
		t.Fatal(err)
	}
	if r.Dtype != dtype.Uint64 {
		t.Errorf("Dtype: erwartet uint64, bekommen %s", r.Dtype)
	}
	if diff := cmp.Diff([]uint64{1 << 63, 1, 2}, uints(codec.Unpack(r.Pack(r.Dtype), r.Dtype))); diff != "" {
		t.Errorf("Werte (-want +got):\n%s", diff)
	}

	r, err = Flatten([]any{json.Number("9223372036854775808")})
	if err != nil {
		t.Fatal(err)
	}
	if r.Dtype != dtype.Uint64 || r.Values[0].Uint() != 1<<63 {
		t.Errorf("json.Number: erwartet uint64 1<<63, bekommen %s %v", r.Dtype, r.Values[0])
	}

	// ohne uint ueber int64 bleibt es bei int64
	r, err = Flatten([]any{uint64(math.MaxInt64), -1})
	if err != nil || r.Dtype != dtype.Int64 {
		t.Errorf("erwartet int64, bekommen %s (%v)", r.Dtype, err)
	}

	if _, err := Flatten([]any{uint64(1 << 63), -1}); !errors.Is(err, ErrUnsupportedValue) {
		t.Errorf("negativ neben 1<<63: erwartet ErrUnsupportedValue, bekommen %v", err)
	}

	if r, err := Flatten([]any{uint64(1 << 63), -1.5}); err != nil || r.Dtype != dtype.Float32 {
		t.Errorf("mit float: erwartet float32, bekommen %s (%v)", r.Dtype, err)
	}
}

func uints(vals []codec.Value) []uint64 {
	out := make([]uint64, len(vals))
	for i, v := range vals {
		out[i] = v.Uint()
	}
	return out
}

func TestInferScalar(t *testing.T) {
	cases := map[any]dtype.Dtype{
		5:        dtype.Int32,
		5.5:      dtype.Float32,
		false:    dtype.Bool,
		int64(1): dtype.Int64,

		uint64(1 << 63): dtype.Uint64,
	}
	for in, want := range cases {
		got, err := Infer(in)
		if err != nil || got != want {
			t.Errorf("Infer(%v): erwartet %s, bekommen %s (%v)", in, want, got, err)
		}
	}

	if _, err := Infer("x"); err == nil || !strings.Contains(err.Error(), "string") {
		t.Errorf("Infer(x): erwartet Fehler mit Typname, bekommen %v", err)
	}
}

func TestPairs(t *testing.T) {
	r, err := Flatten([]any{[]any{1, 2}, []any{3.5, -4}})
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.Pairs(nil)
	if err != nil {
		t.Fatal(err)
	}
	if !p.Shape.Equal(shape.Of(2)) || p.Dtype != dtype.Complex64 {
		t.Errorf("erwartet [2] complex64, bekommen %s %s", p.Shape, p.Dtype)
	}
	if got := p.Values[1].Complex(); got != complex(3.5, -4) {
		t.Errorf("Element 1: erwartet (3.5-4i), bekommen %v", got)
	}

	r, _ = Flatten([]any{1, 2, 3, 4, 5, 6})
	if p, err = r.Pairs(shape.Of(3, 1)); err != nil || !p.Shape.Equal(shape.Of(3, 1)) {
		t.Errorf("mit Shape: bekommen %s (%v)", p.Shape, err)
	}
	if _, err = r.Pairs(shape.Of(6)); !errors.Is(err, codec.ErrShapeLengthMismatch) {
		t.Errorf("Shape [6]: erwartet ErrShapeLengthMismatch, bekommen %v", err)
	}

	r, _ = Flatten([]any{[]any{1, 2, 3}})
	if _, err = r.Pairs(nil); !errors.Is(err, codec.ErrShapeLengthMismatch) {
		t.Errorf("ungerade: erwartet ErrShapeLengthMismatch, bekommen %v", err)
	}
}
