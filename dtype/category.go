// category.go - Kategorie-Gitter fuer Subtyp-Abfragen
//
// Enthaelt:
// - Category mit Name, String, Equals
// - Like: gemeinsamer Operand fuer Dtype und Category
// - IsSubdtype fuer alle vier Kombinationen
package dtype

// Category ist eine numerische Klasse. Das Gitter ist:
//
//	complexfloating, floating ⊂ inexact ⊂ number ⊂ generic
//	signedinteger, unsignedinteger ⊂ integer ⊂ number
type Category uint8

const (
	Generic Category = iota
	Number
	Integer
	SignedInteger
	UnsignedInteger
	Inexact
	Floating
	ComplexFloating

	numCategories
)

var categoryNames = [numCategories]string{
	Generic:         "generic",
	Number:          "number",
	Integer:         "integer",
	SignedInteger:   "signedinteger",
	UnsignedInteger: "unsignedinteger",
	Inexact:         "inexact",
	Floating:        "floating",
	ComplexFloating: "complexfloating",
}

// generic ist sein eigener Elternknoten und beendet die Suche.
var categoryParent = [numCategories]Category{
	Generic:         Generic,
	Number:          Generic,
	Integer:         Number,
	SignedInteger:   Integer,
	UnsignedInteger: Integer,
	Inexact:         Number,
	Floating:        Inexact,
	ComplexFloating: Inexact,
}

// Categories gibt alle Kategorien zurueck
func Categories() []Category {
	out := make([]Category, 0, numCategories)
	for c := range numCategories {
		out = append(out, c)
	}
	return out
}

// Name gibt den Namen zurueck, z.B. "floating"
func (c Category) Name() string {
	if c >= numCategories {
		return "unknown"
	}
	return categoryNames[c]
}

func (c Category) String() string {
	return "DtypeCategory." + c.Name()
}

// Equals vergleicht zwei Kategorien ueber ihren Wert
func (c Category) Equals(o Category) bool {
	return c == o
}

// Within meldet ob c gleich o ist oder unter o liegt.
func (c Category) Within(o Category) bool {
	if c >= numCategories || o >= numCategories {
		return false
	}
	for {
		if c == o {
			return true
		}
		if c == Generic {
			return false
		}
		c = categoryParent[c]
	}
}

// Like ist entweder ein Dtype oder eine Category.
type Like interface {
	isLike()
}

func (Dtype) isLike()    {}
func (Category) isLike() {}

// IsSubdtype beantwortet ob a ein Subtyp von b ist:
//   - Dtype, Dtype: Gleichheit
//   - Dtype, Category: die Kategorie von a liegt in b
//   - Category, Dtype: immer false
//   - Category, Category: Gitter
func IsSubdtype(a, b Like) bool {
	switch a := a.(type) {
	case Dtype:
		switch b := b.(type) {
		case Dtype:
			return a == b
		case Category:
			return a.Category().Within(b)
		}
	case Category:
		if b, ok := b.(Category); ok {
			return a.Within(b)
		}
	}
	return false
}

// IsInteger meldet ob d ein vorzeichenbehafteter oder -loser Integer ist
func (d Dtype) IsInteger() bool { return d.Category().Within(Integer) }

// IsFloating meldet ob d ein reeller Gleitkommatyp ist
func (d Dtype) IsFloating() bool { return d.Category().Within(Floating) }

// IsInexact umfasst floating und complexfloating
func (d Dtype) IsInexact() bool { return d.Category().Within(Inexact) }

// IsSigned meldet ob d ein vorzeichenbehafteter Integer ist
func (d Dtype) IsSigned() bool { return d.Category() == SignedInteger }

// IsUnsigned meldet ob d ein vorzeichenloser Integer ist
func (d Dtype) IsUnsigned() bool { return d.Category() == UnsignedInteger }

// IsComplex meldet ob d complex64 ist
func (d Dtype) IsComplex() bool { return d.Category() == ComplexFloating }
