// ops.go - Struktur- und Rechenoperationen der Aufruf-Oberflaeche
//
// Enthaelt:
// - Reshape, Transpose, MoveAxis, SwapAxes
// - Add, Multiply, Matmul, Where
//
// Jede Operation nimmt eine optionale Placement als letztes Argument und
// gibt sofort ein noch nicht berechnetes Array zurueck.
package core

import (
	"fmt"
	"runtime"
	"slices"

	"github.com/ollama/mlxbridge/args"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/flatten"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

type opFn func(e engine.Engine, in []engine.Buffer, s placement.Stream) (engine.Buffer, error)

// run loest die Placement aus rest auf und ruft fn mit den Buffern der
// Eingaben auf.
func run(op string, rest []any, inputs []*Array, fn opFn) (*Array, error) {
	call, err := args.Resolver{Op: op, Placement: true}.Resolve(rest)
	if err != nil {
		return nil, err
	}
	e, s, err := resolve(call.Placement)
	if err != nil {
		return nil, err
	}

	bufs := make([]engine.Buffer, len(inputs))
	for i, a := range inputs {
		if bufs[i], err = a.buffer(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	defer runtime.KeepAlive(inputs)

	out, err := fn(e, bufs, s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return wrap(out), nil
}

// ============================================================================
// Struktur
// ============================================================================

// Reshape: reshape(a, shape, placement?)
func Reshape(a *Array, sh any, rest ...any) (*Array, error) {
	target, err := shape.Parse(sh)
	if err != nil {
		return nil, fmt.Errorf("reshape: %w", err)
	}
	return run("reshape", rest, []*Array{a}, func(e engine.Engine, in []engine.Buffer, s placement.Stream) (engine.Buffer, error) {
		return e.Reshape(in[0], target, s)
	})
}

// Transpose: transpose(a, axes?, placement?). axes ist eine Liste oder eine
// Folge einzelner Ganzzahlen. Ohne axes werden die Achsen umgekehrt.
func Transpose(a *Array, rest ...any) (*Array, error) {
	var axes []int
	if len(rest) > 0 {
		switch v := rest[0].(type) {
		case nil:
			rest = rest[1:]
		case []int, []any, shape.Shape:
			ax, ok := args.Ints(v)
			if !ok {
				return nil, fmt.Errorf("%w: transpose axes %v must be integers", args.ErrUnrecognizedArgument, v)
			}
			axes, rest = ax, rest[1:]
		default:
			for len(rest) > 0 {
				i, ok := shape.AsInt(rest[0])
				if !ok {
					break
				}
				axes, rest = append(axes, i), rest[1:]
			}
		}
	}

	return run("transpose", rest, []*Array{a}, func(e engine.Engine, in []engine.Buffer, s placement.Stream) (engine.Buffer, error) {
		return e.Transpose(in[0], axes, s)
	})
}

// MoveAxis: moveaxis(a, source, destination, placement?). source und
// destination sind einzelne Achsen oder gleich lange Listen.
func MoveAxis(a *Array, source, destination any, rest ...any) (*Array, error) {
	src, ok := args.Ints(source)
	if !ok {
		return nil, fmt.Errorf("%w: moveaxis source %v must be an integer or a list of integers", args.ErrUnrecognizedArgument, source)
	}
	dst, ok := args.Ints(destination)
	if !ok {
		return nil, fmt.Errorf("%w: moveaxis destination %v must be an integer or a list of integers", args.ErrUnrecognizedArgument, destination)
	}
	if len(src) != len(dst) {
		return nil, fmt.Errorf("%w: moveaxis source %v and destination %v differ in length", engine.ErrInvalidOp, src, dst)
	}

	return run("moveaxis", rest, []*Array{a}, func(e engine.Engine, in []engine.Buffer, s placement.Stream) (engine.Buffer, error) {
		if len(src) == 1 {
			return e.MoveAxis(in[0], src[0], dst[0], s)
		}
		perm, err := movePerm(a.Ndim(), src, dst)
		if err != nil {
			return nil, err
		}
		return e.Transpose(in[0], perm, s)
	})
}

// movePerm berechnet die Permutation fuer mehrere Achsen gleichzeitig: die
// uebrigen Achsen behalten ihre Reihenfolge, jede Quelle landet auf ihrem Ziel.
func movePerm(ndim int, src, dst []int) ([]int, error) {
	type pair struct{ dst, src int }
	pairs := make([]pair, len(src))
	seenSrc := make([]bool, ndim)
	seenDst := make([]bool, ndim)
	for i := range src {
		s, err := shape.NormalizeAxis(src[i], ndim)
		if err != nil {
			return nil, err
		}
		d, err := shape.NormalizeAxis(dst[i], ndim)
		if err != nil {
			return nil, err
		}
		if seenSrc[s] || seenDst[d] {
			return nil, fmt.Errorf("%w: repeated axis in moveaxis %v -> %v", engine.ErrInvalidOp, src, dst)
		}
		seenSrc[s], seenDst[d] = true, true
		pairs[i] = pair{d, s}
	}

	perm := make([]int, 0, ndim)
	for i := range ndim {
		if !seenSrc[i] {
			perm = append(perm, i)
		}
	}
	slices.SortFunc(pairs, func(a, b pair) int { return a.dst - b.dst })
	for _, p := range pairs {
		perm = slices.Insert(perm, p.dst, p.src)
	}
	return perm, nil
}

// SwapAxes: swapaxes(a, axis1, axis2, placement?)
func SwapAxes(a *Array, axis1, axis2 int, rest ...any) (*Array, error) {
	return run("swapaxes", rest, []*Array{a}, func(e engine.Engine, in []engine.Buffer, s placement.Stream) (engine.Buffer, error) {
		return e.SwapAxes(in[0], axis1, axis2, s)
	})
}

// ============================================================================
// Rechnen
// ============================================================================

// Add: add(a, b, placement?). Operanden duerfen Arrays, Literale oder
// Skalare sein.
func Add(a, b any, rest ...any) (*Array, error) {
	return binary("add", a, b, rest, engine.Engine.Add)
}

// Multiply: multiply(a, b, placement?)
func Multiply(a, b any, rest ...any) (*Array, error) {
	return binary("multiply", a, b, rest, engine.Engine.Multiply)
}

// Matmul: matmul(a, b, placement?)
func Matmul(a, b any, rest ...any) (*Array, error) {
	return binary("matmul", a, b, rest, engine.Engine.Matmul)
}

type binFn func(engine.Engine, engine.Buffer, engine.Buffer, placement.Stream) (engine.Buffer, error)

func binary(op string, a, b any, rest []any, fn binFn) (*Array, error) {
	in, done, err := operands(op, []any{a, b})
	if err != nil {
		return nil, err
	}
	defer done()

	return run(op, rest, in, func(e engine.Engine, in []engine.Buffer, s placement.Stream) (engine.Buffer, error) {
		return fn(e, in[0], in[1], s)
	})
}

// Where: where(cond, x, y, placement?) waehlt x wo cond wahr ist, sonst y
func Where(cond, x, y any, rest ...any) (*Array, error) {
	in, done, err := operands("where", []any{cond, x, y})
	if err != nil {
		return nil, err
	}
	defer done()

	return run("where", rest, in, func(e engine.Engine, in []engine.Buffer, s placement.Stream) (engine.Buffer, error) {
		return e.Where(in[0], in[1], in[2], s)
	})
}

// operands wandelt Nicht-Arrays in temporaere Arrays um. Skalare uebernehmen
// den Dtype des ersten Array-Operanden, ausser ein Gleitkommawert trifft auf
// einen Integer- oder bool-Typ. done schliesst die temporaeren Arrays.
func operands(op string, vals []any) ([]*Array, func(), error) {
	var ref *Array
	for _, v := range vals {
		if a, ok := v.(*Array); ok {
			ref = a
			break
		}
	}

	out := make([]*Array, len(vals))
	var temps []*Array
	done := func() {
		for _, t := range temps {
			t.Close()
		}
	}

	for i, v := range vals {
		if a, ok := v.(*Array); ok {
			out[i] = a
			continue
		}

		var rest []any
		if ref != nil {
			var dt any
			if d, ok := weakDtype(v, ref.dtype); ok {
				dt = d
			}
			rest = []any{dt, placement.OnStream(ref.stream)}
		}

		a, err := AsArray(v, rest...)
		if err != nil {
			done()
			return nil, nil, fmt.Errorf("%s: operand %d: %w", op, i, err)
		}
		temps = append(temps, a)
		out[i] = a
	}
	return out, done, nil
}

// weakDtype gibt den Dtype zurueck den ein Skalar neben ref annimmt
func weakDtype(v any, ref dtype.Dtype) (dtype.Dtype, bool) {
	_, leaf, err := flatten.Classify(v)
	if err != nil {
		return 0, false
	}
	if leaf == flatten.LeafFloat && !ref.IsInexact() {
		return 0, false
	}
	return ref, true
}
