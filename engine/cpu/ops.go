// ops.go - Operationen der CPU-Engine
//
// Enthaelt:
// - Erzeugung: FromBytes, Zeros, Ones, Full, Arange
// - Struktur: AsType, Copy, Reshape, Transpose, MoveAxis, SwapAxes
// - Rechnen: Add, Multiply, Where (Matmul in matmul.go)
//
// Jede Operation prueft ihre Argumente sofort und rechnet erst bei der
// Materialisierung.
package cpu

import (
	"bytes"
	"fmt"
	"math"

	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

// ============================================================================
// Erzeugung
// ============================================================================

func (e *Engine) FromBytes(data []byte, sh shape.Shape, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	if err := sh.Validate(); err != nil {
		return nil, err
	}
	if want := sh.NumElements() * dt.Size(); len(data) != want {
		return nil, fmt.Errorf("%w: %d bytes for %s %s, expected %d", engine.ErrInvalidOp, len(data), dt, sh, want)
	}
	return e.newData(bytes.Clone(data), sh, dt, s), nil
}

func (e *Engine) Zeros(sh shape.Shape, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	return e.constant(sh, dt, s, codec.IntValue(0))
}

func (e *Engine) Ones(sh shape.Shape, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	return e.constant(sh, dt, s, codec.IntValue(1))
}

func (e *Engine) constant(sh shape.Shape, dt dtype.Dtype, s placement.Stream, v codec.Value) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	if err := sh.Validate(); err != nil {
		return nil, err
	}

	n := sh.NumElements()
	return e.newNode(sh, dt, s, func() ([]byte, error) {
		out := make([]byte, n*dt.Size())
		if v.Bool() {
			e.parallel(n, func(lo, hi int) {
				for i := lo; i < hi; i++ {
					codec.Store(out, dt, i, v)
				}
			})
		}
		return out, nil
	}), nil
}

// Full broadcastet fill auf sh und konvertiert nach dt
func (e *Engine) Full(sh shape.Shape, fill engine.Buffer, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	in, err := e.input(fill)
	if err != nil {
		return nil, err
	}
	if err := sh.Validate(); err != nil {
		return nil, err
	}
	if out, err := shape.Broadcast(in.shape, sh); err != nil || !out.Equal(sh) {
		return nil, fmt.Errorf("%w: cannot broadcast fill %s to %s", shape.ErrBroadcast, in.shape, sh)
	}

	return e.newNode(sh, dt, s, func() ([]byte, error) {
		return e.broadcastCast(in, sh, dt), nil
	}, in), nil
}

// Arange erzeugt ceil((stop-start)/step) Werte
func (e *Engine) Arange(start, stop, step float64, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	if step == 0 || math.IsNaN(step) {
		return nil, fmt.Errorf("%w: arange step must be non-zero, got %v", engine.ErrInvalidOp, step)
	}
	if dt == dtype.Bool {
		return nil, fmt.Errorf("%w: arange does not support bool", engine.ErrInvalidOp)
	}

	count := math.Ceil((stop - start) / step)
	if math.IsNaN(count) || count < 0 {
		count = 0
	}
	if count > math.MaxInt32 {
		return nil, fmt.Errorf("%w: arange(%v, %v, %v) is too large", engine.ErrInvalidOp, start, stop, step)
	}
	n := int(count)

	return e.newNode(shape.Of(n), dt, s, func() ([]byte, error) {
		out := make([]byte, n*dt.Size())
		for i := range n {
			v := start + float64(i)*step
			if dt.IsInteger() {
				codec.Store(out, dt, i, codec.IntValue(int64(v)))
			} else {
				codec.Store(out, dt, i, codec.FloatValue(v))
			}
		}
		return out, nil
	}), nil
}

// ============================================================================
// Struktur
// ============================================================================

func (e *Engine) AsType(b engine.Buffer, dt dtype.Dtype, s placement.Stream) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	return e.newNode(in.shape, dt, s, func() ([]byte, error) {
		return e.broadcastCast(in, in.shape, dt), nil
	}, in), nil
}

func (e *Engine) Copy(b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	return e.newNode(in.shape, in.dtype, s, func() ([]byte, error) {
		return bytes.Clone(in.data), nil
	}, in), nil
}

// Reshape teilt die Daten mit der Eingabe, Buffer sind unveraenderlich.
func (e *Engine) Reshape(b engine.Buffer, sh shape.Shape, s placement.Stream) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	if err := sh.Validate(); err != nil {
		return nil, err
	}
	if sh.NumElements() != in.shape.NumElements() {
		return nil, fmt.Errorf("%w: cannot reshape %s (%d elements) to %s", engine.ErrInvalidOp, in.shape, in.shape.NumElements(), sh)
	}
	return e.newNode(sh, in.dtype, s, func() ([]byte, error) {
		return in.data, nil
	}, in), nil
}

func (e *Engine) Transpose(b engine.Buffer, axes []int, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	nd := in.shape.Ndim()
	if axes == nil {
		axes = make([]int, nd)
		for i := range axes {
			axes[i] = nd - 1 - i
		}
	}
	if len(axes) != nd {
		return nil, fmt.Errorf("%w: transpose needs %d axes for %s, got %v", engine.ErrInvalidOp, nd, in.shape, axes)
	}

	perm := make([]int, nd)
	seen := make([]bool, nd)
	for i, a := range axes {
		ax, err := shape.NormalizeAxis(a, nd)
		if err != nil {
			return nil, err
		}
		if seen[ax] {
			return nil, fmt.Errorf("%w: repeated axis %d in %v", engine.ErrInvalidOp, a, axes)
		}
		seen[ax] = true
		perm[i] = ax
	}
	return e.permute(in, perm, s)
}

func (e *Engine) MoveAxis(b engine.Buffer, src, dst int, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	nd := in.shape.Ndim()
	if src, err = shape.NormalizeAxis(src, nd); err != nil {
		return nil, err
	}
	if dst, err = shape.NormalizeAxis(dst, nd); err != nil {
		return nil, err
	}

	perm := make([]int, 0, nd)
	for i := range nd {
		if i != src {
			perm = append(perm, i)
		}
	}
	perm = append(perm[:dst], append([]int{src}, perm[dst:]...)...)
	return e.permute(in, perm, s)
}

func (e *Engine) SwapAxes(b engine.Buffer, a1, a2 int, s placement.Stream) (engine.Buffer, error) {
	in, err := e.input(b)
	if err != nil {
		return nil, err
	}
	nd := in.shape.Ndim()
	if a1, err = shape.NormalizeAxis(a1, nd); err != nil {
		return nil, err
	}
	if a2, err = shape.NormalizeAxis(a2, nd); err != nil {
		return nil, err
	}

	perm := make([]int, nd)
	for i := range perm {
		perm[i] = i
	}
	perm[a1], perm[a2] = perm[a2], perm[a1]
	return e.permute(in, perm, s)
}

func (e *Engine) permute(in *node, perm []int, s placement.Stream) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}

	out := make(shape.Shape, len(perm))
	inStrides := in.shape.Strides()
	strides := make([]int, len(perm))
	for i, p := range perm {
		out[i] = in.shape[p]
		strides[i] = inStrides[p]
	}

	size := in.dtype.Size()
	n := out.NumElements()
	return e.newNode(out, in.dtype, s, func() ([]byte, error) {
		dst := make([]byte, n*size)
		e.parallel(n, func(lo, hi int) {
			walk(out, [][]int{strides}, lo, hi, func(i int, offs []int) {
				copy(dst[i*size:(i+1)*size], in.data[offs[0]*size:])
			})
		})
		return dst, nil
	}, in), nil
}

// ============================================================================
// Rechnen
// ============================================================================

func (e *Engine) Add(a, b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	return e.binary(a, b, s, func(x, y codec.Value, dt dtype.Dtype) codec.Value {
		switch {
		case dt == dtype.Bool:
			return codec.BoolValue(x.Bool() || y.Bool())
		case dt.IsSigned():
			return codec.IntValue(x.Int() + y.Int())
		case dt.IsUnsigned():
			return codec.UintValue(x.Uint() + y.Uint())
		case dt.IsComplex():
			return codec.ComplexValue(x.Complex() + y.Complex())
		}
		return codec.FloatValue(x.Float() + y.Float())
	})
}

func (e *Engine) Multiply(a, b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	return e.binary(a, b, s, func(x, y codec.Value, dt dtype.Dtype) codec.Value {
		switch {
		case dt == dtype.Bool:
			return codec.BoolValue(x.Bool() && y.Bool())
		case dt.IsSigned():
			return codec.IntValue(x.Int() * y.Int())
		case dt.IsUnsigned():
			return codec.UintValue(x.Uint() * y.Uint())
		case dt.IsComplex():
			return codec.ComplexValue(x.Complex() * y.Complex())
		}
		return codec.FloatValue(x.Float() * y.Float())
	})
}

type binop func(x, y codec.Value, dt dtype.Dtype) codec.Value

func (e *Engine) binary(a, b engine.Buffer, s placement.Stream, op binop) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	x, err := e.input(a)
	if err != nil {
		return nil, err
	}
	y, err := e.input(b)
	if err != nil {
		return nil, err
	}
	out, err := shape.Broadcast(x.shape, y.shape)
	if err != nil {
		return nil, err
	}

	dt := dtype.Promote(x.dtype, y.dtype)
	n := out.NumElements()
	strides := [][]int{bstrides(x.shape, out), bstrides(y.shape, out)}
	return e.newNode(out, dt, s, func() ([]byte, error) {
		dst := make([]byte, n*dt.Size())
		e.parallel(n, func(lo, hi int) {
			walk(out, strides, lo, hi, func(i int, offs []int) {
				v := op(codec.Load(x.data, x.dtype, offs[0]), codec.Load(y.data, y.dtype, offs[1]), dt)
				codec.Store(dst, dt, i, v)
			})
		})
		return dst, nil
	}, x, y), nil
}

// Where waehlt x wo cond ungleich null ist, sonst y
func (e *Engine) Where(cond, a, b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
	if err := e.checkStream(s); err != nil {
		return nil, err
	}
	c, err := e.input(cond)
	if err != nil {
		return nil, err
	}
	x, err := e.input(a)
	if err != nil {
		return nil, err
	}
	y, err := e.input(b)
	if err != nil {
		return nil, err
	}
	out, err := shape.Broadcast(c.shape, x.shape)
	if err != nil {
		return nil, err
	}
	if out, err = shape.Broadcast(out, y.shape); err != nil {
		return nil, err
	}

	dt := dtype.Promote(x.dtype, y.dtype)
	n := out.NumElements()
	strides := [][]int{bstrides(c.shape, out), bstrides(x.shape, out), bstrides(y.shape, out)}
	return e.newNode(out, dt, s, func() ([]byte, error) {
		dst := make([]byte, n*dt.Size())
		e.parallel(n, func(lo, hi int) {
			walk(out, strides, lo, hi, func(i int, offs []int) {
				var v codec.Value
				if codec.Load(c.data, c.dtype, offs[0]).Bool() {
					v = codec.Load(x.data, x.dtype, offs[1])
				} else {
					v = codec.Load(y.data, y.dtype, offs[2])
				}
				codec.Store(dst, dt, i, v)
			})
		})
		return dst, nil
	}, c, x, y), nil
}

// broadcastCast broadcastet in auf out und konvertiert jedes Element nach dt
func (e *Engine) broadcastCast(in *node, out shape.Shape, dt dtype.Dtype) []byte {
	n := out.NumElements()
	dst := make([]byte, n*dt.Size())
	strides := [][]int{bstrides(in.shape, out)}
	e.parallel(n, func(lo, hi int) {
		walk(out, strides, lo, hi, func(i int, offs []int) {
			codec.Store(dst, dt, i, codec.Load(in.data, in.dtype, offs[0]))
		})
	})
	return dst
}
