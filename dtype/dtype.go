// dtype.go - Dtype Registry fuer die 14 Engine-Elementtypen
//
// Enthaelt:
// - Dtype Definition (Reihenfolge wie im MLX-Enum)
// - Key, Size, Category, String
// - FromString Lookup ueber den kanonischen Key
// - All fuer die Iteration in fester Reihenfolge
package dtype

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
)

// ErrUnknownDtype wird zurueckgegeben wenn ein Name keinem der 14 Keys entspricht.
var ErrUnknownDtype = errors.New("unknown dtype")

// Dtype ist ein kanonischer Elementtyp der Engine. Werte sind vergleichbar
// mit ==, die Identitaet haengt nur am Key.
type Dtype uint8

const (
	Bool Dtype = iota
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	Int32
	Int64
	Float16
	Float32
	Float64
	Bfloat16
	Complex64

	numDtypes
)

type info struct {
	key      string
	size     int
	category Category
}

// Die Kategorie wird hier einmal festgelegt und nie neu berechnet.
var infos = [numDtypes]info{
	Bool:      {"bool", 1, Generic},
	Uint8:     {"uint8", 1, UnsignedInteger},
	Uint16:    {"uint16", 2, UnsignedInteger},
	Uint32:    {"uint32", 4, UnsignedInteger},
	Uint64:    {"uint64", 8, UnsignedInteger},
	Int8:      {"int8", 1, SignedInteger},
	Int16:     {"int16", 2, SignedInteger},
	Int32:     {"int32", 4, SignedInteger},
	Int64:     {"int64", 8, SignedInteger},
	Float16:   {"float16", 2, Floating},
	Float32:   {"float32", 4, Floating},
	Float64:   {"float64", 8, Floating},
	Bfloat16:  {"bfloat16", 2, Floating},
	Complex64: {"complex64", 8, ComplexFloating},
}

var byKey = func() map[string]Dtype {
	m := make(map[string]Dtype, numDtypes)
	for d := range numDtypes {
		m[infos[d].key] = d
	}
	return m
}()

// All gibt alle Dtypes in Enum-Reihenfolge zurueck
func All() []Dtype {
	out := make([]Dtype, 0, numDtypes)
	for d := range numDtypes {
		out = append(out, d)
	}
	return out
}

// Valid meldet ob d einer der 14 kanonischen Dtypes ist
func (d Dtype) Valid() bool {
	return d < numDtypes
}

// Key gibt den kanonischen Namen zurueck, z.B. "float32"
func (d Dtype) Key() string {
	if !d.Valid() {
		return "unknown"
	}
	return infos[d].key
}

// Size gibt die Speicherbreite eines Elements in Bytes zurueck
func (d Dtype) Size() int {
	if !d.Valid() {
		return 0
	}
	return infos[d].size
}

// Category gibt die spezifischste Kategorie zurueck. bool haengt direkt
// unter generic.
func (d Dtype) Category() Category {
	if !d.Valid() {
		return Generic
	}
	return infos[d].category
}

// Equals vergleicht zwei Dtypes ueber ihren Wert
func (d Dtype) Equals(o Dtype) bool {
	return d == o
}

func (d Dtype) String() string {
	return d.Key()
}

// MarshalText implementiert encoding.TextMarshaler
func (d Dtype) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownDtype, uint8(d))
	}
	return []byte(d.Key()), nil
}

// UnmarshalText implementiert encoding.TextUnmarshaler
func (d *Dtype) UnmarshalText(b []byte) error {
	v, err := FromString(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// FromString sucht einen Dtype ueber seinen Key. Der Vergleich ist exakt,
// "Float32" ist kein gueltiger Key.
func FromString(key string) (Dtype, error) {
	if d, ok := byKey[key]; ok {
		return d, nil
	}

	if s := Suggest(key); s != "" {
		return 0, fmt.Errorf("%w %q (did you mean %q?)", ErrUnknownDtype, key, s)
	}
	return 0, fmt.Errorf("%w %q: expected one of %s", ErrUnknownDtype, key, strings.Join(Keys(), ", "))
}

// Lookup ist wie FromString, meldet aber nur ok.
func Lookup(key string) (Dtype, bool) {
	d, ok := byKey[key]
	return d, ok
}

// Keys gibt alle Keys in Enum-Reihenfolge zurueck
func Keys() []string {
	keys := make([]string, 0, numDtypes)
	for d := range numDtypes {
		keys = append(keys, infos[d].key)
	}
	return keys
}

// Suggest gibt den naechstgelegenen Key zurueck, oder "" wenn keiner nah genug ist.
func Suggest(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}

	best, bestDist := "", 3
	for _, k := range Keys() {
		if dist := levenshtein.ComputeDistance(s, k); dist < bestDist {
			best, bestDist = k, dist
		}
	}
	return best
}
