//go:build mlx

// ops.go - Operationen der mlx Engine
//
// Enthaelt:
// - Erzeugung: FromBytes, Zeros, Ones, Full, Arange
// - Struktur: AsType, Copy, Reshape, Transpose, MoveAxis, SwapAxes
// - Rechnen: Add, Multiply, Matmul, Where
//
// Shapes und Achsen prueft mlx selbst, Fehler kommen ueber den Error-Handler.
package mlx

/*
#include "mlx/c/mlx.h"
*/
import "C"

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

var empty [1]byte

// checkShape prueft sh und die int32-Grenze von mlx fuer einzelne Dimensionen
func checkShape(sh shape.Shape) error {
	if err := sh.Validate(); err != nil {
		return err
	}
	for i, d := range sh {
		if d > math.MaxInt32 {
			return fmt.Errorf("%w: dimension %d is %d, mlx supports at most %d", shape.ErrInvalidDimension, i, d, math.MaxInt32)
		}
	}
	return nil
}

func cints(vals []int) (*C.int, C.size_t) {
	if len(vals) == 0 {
		return nil, 0
	}
	out := make([]C.int, len(vals))
	for i, v := range vals {
		out[i] = C.int(v)
	}
	return &out[0], C.size_t(len(out))
}

func (e *Engine) input(b engine.Buffer) (*buffer, error) {
	in, ok := b.(*buffer)
	if !ok || in.e != e {
		return nil, fmt.Errorf("%w: buffer %T does not belong to the mlx engine", engine.ErrInvalidOp, b)
	}
	if in.released.Load() {
		return nil, fmt.Errorf("%w: buffer released", engine.ErrInvalidOp)
	}
	return in, nil
}

func mlxDtype(dt dtype.Dtype) (C.mlx_dtype, error) {
	c, ok := dtypes[dt]
	if !ok {
		return 0, fmt.Errorf("%w: mlx has no dtype %s", engine.ErrInvalidOp, dt)
	}
	return c, nil
}

// apply ruft fn mit einem frischen Ergebnis-Array und dem Stream s auf
func (e *Engine) apply(op string, s placement.Stream, fn func(res *C.mlx_array, cs C.mlx_stream) C.int) (engine.Buffer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs, err := e.stream(s)
	if err != nil {
		return nil, err
	}

	res := C.mlx_array_new()
	if err := e.check(op, fn(&res, cs)); err != nil {
		C.mlx_array_free(res)
		return nil, err
	}
	return e.wrap(res, s), nil
}

// ============================================================================
// Erzeugung
// ============================================================================

func (e *Engine) FromBytes(data []byte, sh shape.Shape, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	if err := checkShape(sh); err != nil {
		return nil, err
	}
	if want := sh.NumElements() * dt.Size(); len(data) != want {
		return nil, fmt.Errorf("%w: %d bytes for %s %s, expected %d", engine.ErrInvalidOp, len(data), dt, sh, want)
	}
	cdt, err := mlxDtype(dt)
	if err != nil {
		return nil, err
	}

	// mlx kopiert die Daten, leere Arrays brauchen trotzdem einen Zeiger
	ptr := unsafe.Pointer(&empty[0])
	if len(data) > 0 {
		ptr = unsafe.Pointer(&data[0])
	}
	dims, n := cints(sh)

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.stream(s); err != nil {
		return nil, err
	}
	a := C.mlx_array_new_data(ptr, dims, C.int(n), cdt)
	return e.wrap(a, s), nil
}

func (e *Engine) Zeros(sh shape.Shape, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	if err := checkShape(sh); err != nil {
		return nil, err
	}
	cdt, err := mlxDtype(dt)
	if err != nil {
		return nil, err
	}
	dims, n := cints(sh)
	return e.apply("zeros", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_zeros(res, dims, n, cdt, cs)
	})
}

func (e *Engine) Ones(sh shape.Shape, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	if err := checkShape(sh); err != nil {
		return nil, err
	}
	cdt, err := mlxDtype(dt)
	if err != nil {
		return nil, err
	}
	dims, n := cints(sh)
	return e.apply("ones", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_ones(res, dims, n, cdt, cs)
	})
}

func (e *Engine) Full(sh shape.Shape, fill engine.Buffer, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(fill)
	if err != nil {
		return nil, err
	}
	if err := checkShape(sh); err != nil {
		return nil, err
	}
	if out, err := shape.Broadcast(in.sh, sh); err != nil || !out.Equal(sh) {
		return nil, fmt.Errorf("%w: cannot broadcast fill %s to %s", shape.ErrBroadcast, in.sh, sh)
	}
	cdt, err := mlxDtype(dt)
	if err != nil {
		return nil, err
	}
	dims, n := cints(sh)
	return e.apply("full", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_full(res, dims, n, in.a, cdt, cs)
	})
}

func (e *Engine) Arange(start, stop, step float64, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	if step == 0 || math.IsNaN(step) {
		return nil, fmt.Errorf("%w: arange step must be non-zero, got %v", engine.ErrInvalidOp, step)
	}
	if dt == dtype.Bool {
		return nil, fmt.Errorf("%w: arange does not support bool", engine.ErrInvalidOp)
	}
	cdt, err := mlxDtype(dt)
	if err != nil {
		return nil, err
	}
	return e.apply("arange", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_arange(res, C.double(start), C.double(stop), C.double(step), cdt, cs)
	})
}

// ============================================================================
// Struktur
// ============================================================================

func (e *Engine) AsType(b engine.Buffer, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	cdt, err := mlxDtype(dt)
	if err != nil {
		return nil, err
	}
	return e.apply("astype", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_astype(res, in.a, cdt, cs)
	})
}

func (e *Engine) Copy(b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	return e.apply("copy", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_copy(res, in.a, cs)
	})
}

func (e *Engine) Reshape(b engine.Buffer, sh shape.Shape, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	if err := checkShape(sh); err != nil {
		return nil, err
	}
	if in.sh.NumElements() != sh.NumElements() {
		return nil, fmt.Errorf("%w: cannot reshape %s to %s", engine.ErrInvalidOp, in.sh, sh)
	}
	dims, n := cints(sh)
	return e.apply("reshape", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_reshape(res, in.a, dims, n, cs)
	})
}

func (e *Engine) Transpose(b engine.Buffer, axes []int, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	if axes == nil {
		return e.apply("transpose", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
			return C.mlx_transpose(res, in.a, cs)
		})
	}
	ax, n := cints(axes)
	return e.apply("transpose", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_transpose_axes(res, in.a, ax, n, cs)
	})
}

func (e *Engine) MoveAxis(b engine.Buffer, src, dst int, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	return e.apply("moveaxis", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_moveaxis(res, in.a, C.int(src), C.int(dst), cs)
	})
}

func (e *Engine) SwapAxes(b engine.Buffer, a1, a2 int, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	return e.apply("swapaxes", s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_swapaxes(res, in.a, C.int(a1), C.int(a2), cs)
	})
}

// ============================================================================
// Rechnen
// ============================================================================

func (e *Engine) binary(op string, a, b engine.Buffer, s placement.Stream, fn func(res *C.mlx_array, x, y C.mlx_array, cs C.mlx_stream) C.int) (engine.Buffer, error) {
	x, err := e.input(a)
	if err != nil {
		return nil, err
	}
	y, err := e.input(b)
	if err != nil {
		return nil, err
	}
	return e.apply(op, s, func(res *C.mlx_array, cs C.mlx_stream) C.int {
		return fn(res, x.a, y.a, cs)
	})
}

func (e *Engine) Add(a, b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	return e.binary("add", a, b, s, func(res *C.mlx_array, x, y C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_add(res, x, y, cs)
	})
}

func (e *Engine) Multiply(a, b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	return e.binary("multiply", a, b, s, func(res *C.mlx_array, x, y C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_multiply(res, x, y, cs)
	})
}

func (e *Engine) Matmul(a, b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	return e.binary("matmul", a, b, s, func(res *C.mlx_array, x, y C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_matmul(res, x, y, cs)
	})
}

func (e *Engine) Where(cond, x, y engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	c, err := e.input(cond)
	if err != nil {
		return nil, err
	}
	return e.binary("where", x, y, s, func(res *C.mlx_array, xa, ya C.mlx_array, cs C.mlx_stream) C.int {
		return C.mlx_where(res, c.a, xa, ya, cs)
	})
}
