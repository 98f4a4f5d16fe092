// args.go - Call-Argument Resolver
//
// Enthaelt:
// - State: ExpectShape -> ExpectOptionalDtype -> ExpectOptionalPlacement -> Done
// - Resolver: beschreibt die Slots einer Operation
// - Call: das Ergebnis (Shape, Dtype, Placement)
//
// Optionale Argumente werden an ihrer Struktur erkannt, nicht an der
// Position. Dtype kommt immer vor Placement.
package args

import (
	"errors"
	"fmt"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

var (
	// ErrUnrecognizedArgument: ein Argument ist weder Dtype noch Placement,
	// oder es bleibt nach dem letzten Slot uebrig.
	ErrUnrecognizedArgument = errors.New("unrecognized argument")

	// ErrMissingArgument: ein Pflichtargument fehlt.
	ErrMissingArgument = errors.New("missing argument")
)

// State ist der Zustand der Aufloesung.
type State uint8

const (
	ExpectShape State = iota
	ExpectOptionalDtype
	ExpectOptionalPlacement
	Done
)

func (s State) String() string {
	return [...]string{"ExpectShape", "ExpectOptionalDtype", "ExpectOptionalPlacement", "Done"}[s]
}

// Resolver beschreibt welche Slots eine Operation hat.
type Resolver struct {
	// Op erscheint in Fehlermeldungen
	Op string

	Shape     bool
	Dtype     bool
	Placement bool

	// StrictDtype akzeptiert nur echte Dtype-Werte, keine Strings
	StrictDtype bool
}

// Call ist das Ergebnis der Aufloesung.
type Call struct {
	Shape     shape.Shape
	Dtype     dtype.Dtype
	HasDtype  bool
	Placement placement.Directive
}

// DtypeOr gibt den aufgeloesten Dtype oder def zurueck
func (c Call) DtypeOr(def dtype.Dtype) dtype.Dtype {
	if c.HasDtype {
		return c.Dtype
	}
	return def
}

func (r Resolver) next(s State) State {
	for s++; s < Done; s++ {
		switch {
		case s == ExpectOptionalDtype && r.Dtype,
			s == ExpectOptionalPlacement && r.Placement:
			return s
		}
	}
	return Done
}

func (r Resolver) start() State {
	if r.Shape {
		return ExpectShape
	}
	return r.next(ExpectShape)
}

// Resolve weist args den Slots zu. nil wird vom aktuellen optionalen Slot
// als "nicht angegeben" verbraucht.
func (r Resolver) Resolve(args []any) (Call, error) {
	var call Call
	i := 0

	for state := r.start(); state != Done; state = r.next(state) {
		switch state {
		case ExpectShape:
			if i >= len(args) {
				return Call{}, fmt.Errorf("%w: %s expects a shape", ErrMissingArgument, r.op())
			}
			sh, err := shape.Parse(args[i])
			if err != nil {
				return Call{}, fmt.Errorf("%s: %w", r.op(), err)
			}
			call.Shape = sh
			i++

		case ExpectOptionalDtype:
			if i >= len(args) {
				continue
			}
			if args[i] == nil {
				i++
				continue
			}
			if dt, ok := ClassifyDtype(args[i], !r.StrictDtype); ok {
				call.Dtype, call.HasDtype = dt, true
				i++
			}

		case ExpectOptionalPlacement:
			if i >= len(args) {
				continue
			}
			if args[i] == nil {
				i++
				continue
			}
			p, ok, err := ClassifyPlacement(args[i])
			if err != nil {
				return Call{}, fmt.Errorf("%s: %w", r.op(), err)
			}
			if ok {
				call.Placement = p
				i++
			}
		}
	}

	if i < len(args) {
		return Call{}, r.unrecognized(args[i], i)
	}
	return call, nil
}

func (r Resolver) op() string {
	if r.Op == "" {
		return "call"
	}
	return r.Op
}

func (r Resolver) unrecognized(v any, pos int) error {
	_, isDtype := ClassifyDtype(v, !r.StrictDtype)
	_, isPlacement, _ := ClassifyPlacement(v)

	reason := "is neither a dtype nor a placement"
	switch {
	case isDtype && r.Dtype:
		reason = "is a dtype in the wrong position, a single dtype must come before the placement"
	case isDtype:
		reason = "is a dtype, but this call takes none"
	case isPlacement:
		reason = "is an extra placement"
	default:
		if s, ok := v.(string); ok {
			if hint := dtype.Suggest(s); hint != "" {
				reason = fmt.Sprintf("is neither a dtype nor a device (did you mean %q?)", hint)
			}
		}
	}
	return fmt.Errorf("%w: %s argument %d (%v of type %T) %s", ErrUnrecognizedArgument, r.op(), pos, v, v, reason)
}
