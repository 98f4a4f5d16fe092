// matmul.go - Matrixmultiplikation der CPU-Engine
//
// Reelle Gleitkommatypen laufen ueber gonum/mat, complex64 ueber eine
// einfache Dreifachschleife. Batch-Achsen werden gebroadcastet, 1-D
// Operanden wie bei NumPy behandelt.
package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

func (e *Engine) Matmul(a, b engine.Buffer, s placement.Stream) (engine.Buffer, error) {
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

	dt := dtype.Promote(x.dtype, y.dtype)
	if !dt.IsInexact() {
		return nil, fmt.Errorf("%w: matmul requires floating point inputs, got %s and %s", engine.ErrInvalidOp, x.dtype, y.dtype)
	}
	if x.shape.Ndim() == 0 || y.shape.Ndim() == 0 {
		return nil, fmt.Errorf("%w: matmul inputs must have at least one dimension, got %s and %s", engine.ErrInvalidOp, x.shape, y.shape)
	}

	xs, ys := x.shape.Clone(), y.shape.Clone()
	if xs.Ndim() == 1 {
		xs = append(shape.Shape{1}, xs...)
	}
	if ys.Ndim() == 1 {
		ys = append(ys, 1)
	}

	m, k := xs[len(xs)-2], xs[len(xs)-1]
	k2, n := ys[len(ys)-2], ys[len(ys)-1]
	if k != k2 {
		return nil, fmt.Errorf("%w: matmul inner dimensions differ: %s and %s", engine.ErrInvalidOp, x.shape, y.shape)
	}

	xb, yb := xs[:len(xs)-2], ys[:len(ys)-2]
	batch, err := shape.Broadcast(xb, yb)
	if err != nil {
		return nil, err
	}

	out := append(batch.Clone(), m, n)
	if x.shape.Ndim() == 1 {
		out = append(out[:len(out)-2], n)
	}
	if y.shape.Ndim() == 1 {
		out = out[:len(out)-1]
	}

	// Strides in Matrizen, nicht in Elementen
	xStrides := bstrides(xb, batch)
	yStrides := bstrides(yb, batch)

	return e.newNode(out, dt, s, func() ([]byte, error) {
		dst := make([]byte, out.NumElements()*dt.Size())
		nb := batch.NumElements()
		if m == 0 || n == 0 || nb == 0 {
			return dst, nil
		}

		var firstErr error
		walk(batch, [][]int{xStrides, yStrides}, 0, nb, func(bi int, offs []int) {
			xo, yo, oo := offs[0]*m*k, offs[1]*k*n, bi*m*n
			if dt.IsComplex() {
				matmulComplex(x, y, dst, dt, xo, yo, oo, m, k, n)
				return
			}
			if err := matmulReal(x, y, dst, dt, xo, yo, oo, m, k, n); err != nil && firstErr == nil {
				firstErr = err
			}
		})
		return dst, firstErr
	}, x, y), nil
}

func load64(nd *node, off, count int) []float64 {
	vals := make([]float64, count)
	for i := range vals {
		vals[i] = codec.Load(nd.data, nd.dtype, off+i).Float()
	}
	return vals
}

func matmulReal(x, y *node, dst []byte, dt dtype.Dtype, xo, yo, oo, m, k, n int) (err error) {
	if k == 0 {
		// leere Summe, dst ist bereits null
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: gonum: %v", engine.ErrInvalidOp, r)
		}
	}()

	A := mat.NewDense(m, k, load64(x, xo, m*k))
	B := mat.NewDense(k, n, load64(y, yo, k*n))
	var C mat.Dense
	C.Mul(A, B)

	for i := range m {
		for j := range n {
			codec.Store(dst, dt, oo+i*n+j, codec.FloatValue(C.At(i, j)))
		}
	}
	return nil
}

func matmulComplex(x, y *node, dst []byte, dt dtype.Dtype, xo, yo, oo, m, k, n int) {
	for i := range m {
		for j := range n {
			var acc complex128
			for l := range k {
				acc += codec.Load(x.data, x.dtype, xo+i*k+l).Complex() * codec.Load(y.data, y.dtype, yo+l*n+j).Complex()
			}
			codec.Store(dst, dt, oo+i*n+j, codec.ComplexValue(acc))
		}
	}
}
