// create.go - Konstruktoren der Aufruf-Oberflaeche
//
// Enthaelt:
// - NewArray (array): Host-Buffer, verschachtelte Literale, Skalare, Arrays
// - AsArray (asarray): wie NewArray, ohne Kopie fuer passende Arrays
// - Zeros, Ones, Full, ZerosLike, OnesLike, Arange
//
// Optionale Argumente werden ueber args.Resolver aufgeloest: zuerst ein
// Dtype, danach eine Placement.
package core

import (
	"fmt"
	"runtime"

	"github.com/ollama/mlxbridge/args"
	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/flatten"
	"github.com/ollama/mlxbridge/host"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

// NewArray erzeugt ein neues Array aus v:
//   - *Array: Kopie, optional in einen anderen Dtype
//   - host.Buffer oder typisiertes Slice: ueber den Codec, Shape ist Pflicht
//   - verschachteltes Literal oder Skalar: ueber den Flattener
//
// Aufruf: NewArray(v, shape?, dtype?, placement?)
func NewArray(v any, rest ...any) (*Array, error) {
	var sh shape.Shape
	if len(rest) > 0 && rest[0] != nil && shape.IsShapeLike(rest[0]) {
		var err error
		if sh, err = shape.Parse(rest[0]); err != nil {
			return nil, fmt.Errorf("array: %w", err)
		}
		rest = rest[1:]
	}

	call, err := args.Resolver{Op: "array", Dtype: true, Placement: true}.Resolve(rest)
	if err != nil {
		return nil, err
	}
	e, s, err := resolve(call.Placement)
	if err != nil {
		return nil, err
	}

	switch v := v.(type) {
	case *Array:
		if sh != nil && !sh.Equal(v.shape) {
			return nil, fmt.Errorf("%w: array of shape %s cannot take shape %s", codec.ErrShapeLengthMismatch, v.shape, sh)
		}
		return convert(e, v, call.DtypeOr(v.dtype), s, true)
	}

	if b, ok := host.From(v); ok {
		if sh == nil {
			return nil, fmt.Errorf("%w: array of a %s buffer needs a shape, use AsArray for 1-D", args.ErrMissingArgument, b.Kind)
		}
		return fromHost(e, b, sh, call, s)
	}
	return fromLiteral(e, v, sh, call, s)
}

// AsArray ist NewArray ohne Shape. Typisierte Buffer werden 1-D gelesen. Ein
// Array mit passendem Dtype und passender Placement wird unveraendert
// zurueckgegeben.
//
// Aufruf: AsArray(v, dtype?, placement?)
func AsArray(v any, rest ...any) (*Array, error) {
	call, err := args.Resolver{Op: "asarray", Dtype: true, Placement: true}.Resolve(rest)
	if err != nil {
		return nil, err
	}

	if a, ok := v.(*Array); ok {
		if _, err := a.buffer(); err != nil {
			return nil, err
		}
		if (!call.HasDtype || call.Dtype == a.dtype) && call.Placement.Matches(a.stream) {
			return a, nil
		}
	}

	e, s, err := resolve(call.Placement)
	if err != nil {
		return nil, err
	}

	switch v := v.(type) {
	case *Array:
		return convert(e, v, call.DtypeOr(v.dtype), s, false)
	}

	if b, ok := host.From(v); ok {
		dt := call.DtypeOr(codec.Infer(b.Kind))
		n := b.Len
		if dt == dtype.Complex64 {
			n /= 2
		}
		return fromHost(e, b, shape.Of(n), call, s)
	}
	return fromLiteral(e, v, nil, call, s)
}

func fromHost(e engine.Engine, b host.Buffer, sh shape.Shape, call args.Call, s placement.Stream) (*Array, error) {
	dt := call.DtypeOr(codec.Infer(b.Kind))
	dec, err := codec.Decode(b, sh, dt)
	if err != nil {
		return nil, err
	}
	buf, err := e.FromBytes(dec.Data, dec.Shape, dec.Dtype, s)
	if err != nil {
		return nil, err
	}
	return wrap(buf), nil
}

func fromLiteral(e engine.Engine, v any, sh shape.Shape, call args.Call, s placement.Stream) (*Array, error) {
	res, err := flatten.Flatten(v)
	if err != nil {
		return nil, err
	}

	dt := call.DtypeOr(res.Dtype)
	switch {
	case dt == dtype.Complex64 && len(res.Shape) > 0:
		// wie beim Float32-Buffer sind die Werte (real, imag) Paare
		if res, err = res.Pairs(sh); err != nil {
			return nil, err
		}
	case sh != nil:
		if sh.NumElements() != len(res.Values) {
			return nil, fmt.Errorf("%w: shape %s has %d elements, literal has %d", codec.ErrShapeLengthMismatch, sh, sh.NumElements(), len(res.Values))
		}
		res.Shape = sh
	}

	buf, err := e.FromBytes(res.Pack(dt), res.Shape, dt, s)
	if err != nil {
		return nil, err
	}
	return wrap(buf), nil
}

// convert kopiert a nach s und dt. Ohne force wird nur bei Bedarf kopiert.
func convert(e engine.Engine, a *Array, dt dtype.Dtype, s placement.Stream, force bool) (*Array, error) {
	b, err := a.buffer()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(a)

	var out engine.Buffer
	switch {
	case dt != b.Dtype():
		out, err = e.AsType(b, dt, s)
	case force || s != b.Stream():
		out, err = e.Copy(b, s)
	default:
		return a, nil
	}
	if err != nil {
		return nil, err
	}
	return wrap(out), nil
}

// ============================================================================
// Shape-getriebene Konstruktoren
// ============================================================================

// Zeros: zeros(shape, dtype?, placement?), Default float32
func Zeros(sh any, rest ...any) (*Array, error) {
	return constant("zeros", engine.Engine.Zeros, sh, rest)
}

// Ones: ones(shape, dtype?, placement?), Default float32
func Ones(sh any, rest ...any) (*Array, error) {
	return constant("ones", engine.Engine.Ones, sh, rest)
}

type constFn func(engine.Engine, shape.Shape, dtype.Dtype, placement.Stream) (engine.Buffer, error)

func constant(op string, fn constFn, sh any, rest []any) (*Array, error) {
	call, err := args.Resolver{Op: op, Shape: true, Dtype: true, Placement: true}.Resolve(append([]any{sh}, rest...))
	if err != nil {
		return nil, err
	}
	e, s, err := resolve(call.Placement)
	if err != nil {
		return nil, err
	}
	buf, err := fn(e, call.Shape, call.DtypeOr(dtype.Float32), s)
	if err != nil {
		return nil, err
	}
	return wrap(buf), nil
}

// Full: full(shape, fill, dtype?, placement?). fill ist ein Skalar, ein
// Array, ein Host-Buffer oder ein Literal und wird auf shape gebroadcastet.
// Ohne dtype gilt der Dtype von fill.
func Full(sh any, fill any, rest ...any) (*Array, error) {
	call, err := args.Resolver{Op: "full", Shape: true, Dtype: true, Placement: true}.Resolve(append([]any{sh}, rest...))
	if err != nil {
		return nil, err
	}
	e, s, err := resolve(call.Placement)
	if err != nil {
		return nil, err
	}

	src, err := AsArray(fill, call.Placement)
	if err != nil {
		return nil, fmt.Errorf("full: fill value: %w", err)
	}
	if src != fill {
		defer src.Close()
	}

	b, err := src.buffer()
	if err != nil {
		return nil, err
	}
	defer runtime.KeepAlive(src)

	buf, err := e.Full(call.Shape, b, call.DtypeOr(src.dtype), s)
	if err != nil {
		return nil, err
	}
	return wrap(buf), nil
}

// ZerosLike: Nullen mit Shape, Dtype und Stream von a
func ZerosLike(a *Array, rest ...any) (*Array, error) {
	return like("zeros_like", engine.Engine.Zeros, a, rest)
}

// OnesLike: Einsen mit Shape, Dtype und Stream von a
func OnesLike(a *Array, rest ...any) (*Array, error) {
	return like("ones_like", engine.Engine.Ones, a, rest)
}

func like(op string, fn constFn, a *Array, rest []any) (*Array, error) {
	if _, err := a.buffer(); err != nil {
		return nil, err
	}
	call, err := args.Resolver{Op: op, Placement: true}.Resolve(rest)
	if err != nil {
		return nil, err
	}

	p := call.Placement
	if p.IsNone() {
		p = placement.OnStream(a.stream)
	}
	e, s, err := resolve(p)
	if err != nil {
		return nil, err
	}

	buf, err := fn(e, a.shape, a.dtype, s)
	if err != nil {
		return nil, err
	}
	return wrap(buf), nil
}

// ============================================================================
// Arange
// ============================================================================

// Arange: arange(stop, dtype?, placement?) oder
// arange(start, stop, step?, dtype?, placement?). Ohne dtype ist das
// Ergebnis float32 wenn ein Wert nicht ganzzahlig ist, sonst int64 bei
// breiten Ganzzahlen, sonst int32.
func Arange(rest ...any) (*Array, error) {
	var nums []any
	for len(nums) < 3 && len(rest) > 0 && args.IsNumber(rest[0]) {
		nums = append(nums, rest[0])
		rest = rest[1:]
	}
	if len(nums) == 0 {
		return nil, fmt.Errorf("%w: arange expects a numeric stop", args.ErrMissingArgument)
	}

	call, err := args.Resolver{Op: "arange", Dtype: true, Placement: true}.Resolve(rest)
	if err != nil {
		return nil, err
	}

	res, err := flatten.Flatten(nums)
	if err != nil {
		return nil, fmt.Errorf("arange: %w", err)
	}
	start, stop, step := 0.0, 0.0, 1.0
	switch len(res.Values) {
	case 1:
		stop = res.Values[0].Float()
	case 2:
		start, stop = res.Values[0].Float(), res.Values[1].Float()
	default:
		start, stop, step = res.Values[0].Float(), res.Values[1].Float(), res.Values[2].Float()
	}
	if step == 0 {
		return nil, fmt.Errorf("%w: arange step must be non-zero", engine.ErrInvalidOp)
	}

	e, s, err := resolve(call.Placement)
	if err != nil {
		return nil, err
	}
	buf, err := e.Arange(start, stop, step, call.DtypeOr(res.Dtype), s)
	if err != nil {
		return nil, err
	}
	return wrap(buf), nil
}
