// dtype_test.go - Unit-Tests fuer Registry, Kategorien und Promotion
package dtype

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

// ============================================================================
// Registry Tests
// ============================================================================

func TestRegistryRoundTrip(t *testing.T) {
	if len(All()) != 14 {
		t.Fatalf("All: erwartet 14 Dtypes, bekommen %d", len(All()))
	}

	for _, d := range All() {
		got, err := FromString(d.Key())
		if err != nil {
			t.Fatalf("FromString(%q): unerwarteter Fehler %v", d.Key(), err)
		}
		if got != d {
			t.Errorf("FromString(%q): erwartet %v, bekommen %v", d.Key(), d, got)
		}
	}
}

func TestSizes(t *testing.T) {
	cases := map[Dtype]int{
		Bool: 1, Uint8: 1, Int8: 1,
		Uint16: 2, Int16: 2, Float16: 2, Bfloat16: 2,
		Uint32: 4, Int32: 4, Float32: 4,
		Uint64: 8, Int64: 8, Float64: 8, Complex64: 8,
	}
	for d, want := range cases {
		if d.Size() != want {
			t.Errorf("%s.Size(): erwartet %d, bekommen %d", d, want, d.Size())
		}
	}
}

func TestFromStringUnknown(t *testing.T) {
	for _, name := range []string{"", "float33", "Float32", "half", "complex128"} {
		_, err := FromString(name)
		if !errors.Is(err, ErrUnknownDtype) {
			t.Errorf("FromString(%q): erwartet ErrUnknownDtype, bekommen %v", name, err)
		}
	}

	_, err := FromString("flaot32")
	if err == nil || !strings.Contains(err.Error(), `"float32"`) {
		t.Errorf("FromString(flaot32): Vorschlag float32 fehlt in %v", err)
	}
}

func TestTextMarshal(t *testing.T) {
	b, err := json.Marshal(map[string]Dtype{"d": Bfloat16})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"d":"bfloat16"}` {
		t.Errorf("Marshal: bekommen %s", b)
	}

	var v struct{ D Dtype }
	if err := json.Unmarshal([]byte(`{"D":"uint16"}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.D != Uint16 {
		t.Errorf("Unmarshal: erwartet uint16, bekommen %v", v.D)
	}
	if err := json.Unmarshal([]byte(`{"D":"nope"}`), &v); !errors.Is(err, ErrUnknownDtype) {
		t.Errorf("Unmarshal(nope): erwartet ErrUnknownDtype, bekommen %v", err)
	}
}

// ============================================================================
// Kategorie Tests
// ============================================================================

func TestCategoryOf(t *testing.T) {
	cases := map[Dtype]Category{
		Bool:      Generic,
		Int8:      SignedInteger,
		Int64:     SignedInteger,
		Uint8:     UnsignedInteger,
		Uint64:    UnsignedInteger,
		Float16:   Floating,
		Bfloat16:  Floating,
		Float32:   Floating,
		Float64:   Floating,
		Complex64: ComplexFloating,
	}
	for d, want := range cases {
		if got := d.Category(); got != want {
			t.Errorf("%s.Category(): erwartet %s, bekommen %s", d, want, got)
		}
	}
}

func TestIsSubdtype(t *testing.T) {
	tests := []struct {
		a, b Like
		want bool
	}{
		// Dtype, Dtype
		{Float32, Float32, true},
		{Float32, Float16, false},
		// Dtype, Category
		{Float32, Floating, true},
		{Float32, Inexact, true},
		{Float32, Number, true},
		{Float32, Generic, true},
		{Float32, Integer, false},
		{Complex64, Inexact, true},
		{Complex64, Floating, false},
		{Int32, SignedInteger, true},
		{Int32, UnsignedInteger, false},
		{Uint8, Integer, true},
		{Bool, Generic, true},
		{Bool, Number, false},
		// Category, Dtype
		{Floating, Float32, false},
		{Generic, Bool, false},
		// Category, Category
		{Floating, Inexact, true},
		{ComplexFloating, Inexact, true},
		{Inexact, Number, true},
		{SignedInteger, Integer, true},
		{UnsignedInteger, Number, true},
		{Integer, Inexact, false},
		{Number, Floating, false},
		{Generic, Generic, true},
	}

	for _, tt := range tests {
		if got := IsSubdtype(tt.a, tt.b); got != tt.want {
			t.Errorf("IsSubdtype(%v, %v): erwartet %v, bekommen %v", tt.a, tt.b, tt.want, got)
		}
	}
}

func TestCategoryString(t *testing.T) {
	if Floating.String() != "DtypeCategory.floating" {
		t.Errorf("String: bekommen %s", Floating.String())
	}
	if !SignedInteger.Equals(SignedInteger) || SignedInteger.Equals(Integer) {
		t.Error("Equals: falsches Ergebnis")
	}
	if len(Categories()) != 8 {
		t.Errorf("Categories: erwartet 8, bekommen %d", len(Categories()))
	}
}

// ============================================================================
// Promotion Tests
// ============================================================================

func TestPromote(t *testing.T) {
	tests := []struct {
		a, b, want Dtype
	}{
		{Int32, Int32, Int32},
		{Bool, Int8, Int8},
		{Bool, Float16, Float16},
		{Int32, Float16, Float16},
		{Float16, Bfloat16, Float32},
		{Float32, Float64, Float64},
		{Int8, Int64, Int64},
		{Uint8, Uint32, Uint32},
		{Uint8, Int8, Int16},
		{Uint8, Int32, Int32},
		{Uint32, Int32, Int64},
		{Uint64, Int64, Float32},
		{Complex64, Float64, Complex64},
	}

	for _, tt := range tests {
		if got := Promote(tt.a, tt.b); got != tt.want {
			t.Errorf("Promote(%s, %s): erwartet %s, bekommen %s", tt.a, tt.b, tt.want, got)
		}
		if got := Promote(tt.b, tt.a); got != tt.want {
			t.Errorf("Promote(%s, %s): erwartet %s, bekommen %s", tt.b, tt.a, tt.want, got)
		}
	}
}
