package host

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOfAndView(t *testing.T) {
	in := []float32{1.5, -2, 3}
	b := Of(in)
	if b.Kind != Float32 || b.Len != 3 || b.ByteLen() != 12 {
		t.Fatalf("Of: falscher Buffer %v", b)
	}

	out, err := View[float32](b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("View: (-erwartet +bekommen)\n%s", diff)
	}

	// View ist eine Kopie
	out[0] = 99
	if in[0] != 1.5 {
		t.Error("View: sollte nicht in den Host-Speicher schreiben")
	}
}

func TestViewKindMismatch(t *testing.T) {
	if _, err := View[int32](Of([]float32{1})); !errors.Is(err, ErrKind) {
		t.Errorf("View: erwartet ErrKind, bekommen %v", err)
	}

	// Clamped liest sich als uint8
	got, err := View[uint8](Clamped([]uint8{0, 255}))
	if err != nil || len(got) != 2 || got[1] != 255 {
		t.Errorf("View(Clamped): bekommen %v, %v", got, err)
	}
}

func TestSlice(t *testing.T) {
	b := Of([]int16{10, 20, 30, 40}).Slice(1, 3)
	got, err := View[int16](b)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int16{20, 30}, got); diff != "" {
		t.Errorf("Slice: (-erwartet +bekommen)\n%s", diff)
	}
}

func TestFrom(t *testing.T) {
	cases := []struct {
		in   any
		kind Kind
	}{
		{[]int8{1}, Int8},
		{[]uint8{1}, Uint8},
		{[]uint16{1}, Uint16},
		{[]int64{1}, BigInt64},
		{[]uint64{1}, BigUint64},
		{[]float64{1}, Float64},
		{Clamped([]uint8{1}), Uint8Clamped},
	}
	for _, c := range cases {
		b, ok := From(c.in)
		if !ok || b.Kind != c.kind {
			t.Errorf("From(%T): erwartet %s, bekommen %s (ok=%v)", c.in, c.kind, b.Kind, ok)
		}
	}

	if _, ok := From([]any{1, 2}); ok {
		t.Error("From([]any): sollte kein Host-Buffer sein")
	}
}

func TestWrapAndParseKind(t *testing.T) {
	if _, err := Wrap(Int32, make([]byte, 6)); !errors.Is(err, ErrKind) {
		t.Errorf("Wrap: erwartet ErrKind, bekommen %v", err)
	}
	b, err := Wrap(Int32, make([]byte, 8))
	if err != nil || b.Len != 2 {
		t.Errorf("Wrap: bekommen %v, %v", b, err)
	}

	for _, k := range Kinds() {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%s): bekommen %v, %v", k, got, err)
		}
	}
}

func TestValidateBounds(t *testing.T) {
	tests := []struct {
		name string
		b    Buffer
		err  error
	}{
		{"ok", Buffer{Kind: Float32, Len: 2, Storage: make([]byte, 8)}, nil},
		{"offset view", Buffer{Kind: Float32, ByteOffset: 4, Len: 1, Storage: make([]byte, 8)}, nil},
		{"empty", Buffer{Kind: Float32}, nil},
		{"too long", Buffer{Kind: Float32, Len: 4, Storage: make([]byte, 8)}, ErrBounds},
		{"past end", Buffer{Kind: Float32, ByteOffset: 8, Len: 1, Storage: make([]byte, 8)}, ErrBounds},
		{"negative offset", Buffer{Kind: Float32, ByteOffset: -4, Len: 1, Storage: make([]byte, 8)}, ErrBounds},
		{"negative length", Buffer{Kind: Float32, Len: -1, Storage: make([]byte, 8)}, ErrBounds},
		{"huge length", Buffer{Kind: Float64, Len: 1 << 62, Storage: make([]byte, 8)}, ErrBounds},
		{"invalid kind", Buffer{Kind: numKinds, Len: 1, Storage: make([]byte, 8)}, ErrKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.b.Validate()
			if !errors.Is(err, tt.err) {
				t.Fatalf("erwartet %v, bekommen %v", tt.err, err)
			}
			if tt.err != nil && tt.b.Bytes() != nil {
				t.Errorf("Bytes sollte fuer eine ungueltige Sicht nil sein")
			}
		})
	}

	if _, err := View[float32](Buffer{Kind: Float32, ByteOffset: -4, Len: 1, Storage: make([]byte, 8)}); !errors.Is(err, ErrBounds) {
		t.Errorf("View: erwartet ErrBounds, bekommen %v", err)
	}
}
