// cpu_test.go - Unit-Tests fuer die CPU-Referenz-Engine
package cpu

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

func setup(t *testing.T) (*Engine, placement.Stream) {
	t.Helper()
	e := New(2)
	s, err := e.DefaultStream(placement.CPU())
	require.NoError(t, err)
	return e, s
}

func floats(t *testing.T, b engine.Buffer) []float64 {
	t.Helper()
	data, err := b.Bytes()
	require.NoError(t, err)
	vals := codec.Unpack(data, b.Dtype())
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = v.Float()
	}
	return out
}

func fromFloats(t *testing.T, e *Engine, s placement.Stream, dt dtype.Dtype, sh shape.Shape, vals ...float64) engine.Buffer {
	t.Helper()
	values := make([]codec.Value, len(vals))
	for i, v := range vals {
		values[i] = codec.FloatValue(v)
	}
	b, err := e.FromBytes(codec.Pack(values, dt), sh, dt, s)
	require.NoError(t, err)
	return b
}

// ============================================================================
// Streams und Devices
// ============================================================================

func TestStreams(t *testing.T) {
	e := New(1)

	s1, err := e.DefaultStream(placement.CPU())
	require.NoError(t, err)
	s2, err := e.DefaultStream(placement.CPU())
	require.NoError(t, err)
	require.Equal(t, s1, s2, "DefaultStream sollte stabil sein")

	s3, err := e.NewStream(placement.CPU())
	require.NoError(t, err)
	require.NotEqual(t, s1.Index, s3.Index)

	_, err = e.DefaultStream(placement.GPU(0))
	require.ErrorIs(t, err, engine.ErrUnavailable)

	_, err = e.Zeros(shape.Of(1), dtype.Float32, placement.Stream{Index: 99, Device: placement.CPU()})
	require.ErrorIs(t, err, engine.ErrUnavailable)
}

// ============================================================================
// Erzeugung
// ============================================================================

func TestConstants(t *testing.T) {
	e, s := setup(t)

	z, err := e.Zeros(shape.Of(2, 3), dtype.Int32, s)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 0, 0, 0, 0}, floats(t, z))

	o, err := e.Ones(shape.Of(2), dtype.Bfloat16, s)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 1}, floats(t, o))

	c, err := e.Ones(shape.Of(1), dtype.Complex64, s)
	require.NoError(t, err)
	data, _ := c.Bytes()
	require.Equal(t, complex(1, 0), codec.Load(data, dtype.Complex64, 0).Complex())

	empty, err := e.Zeros(shape.Of(0, 4), dtype.Float32, s)
	require.NoError(t, err)
	require.Empty(t, floats(t, empty))
}

func TestFull(t *testing.T) {
	e, s := setup(t)

	fill := fromFloats(t, e, s, dtype.Float32, shape.Shape{}, 5)
	f, err := e.Full(shape.Of(3), fill, dtype.Float32, s)
	require.NoError(t, err)
	require.Equal(t, []float64{5, 5, 5}, floats(t, f))

	row := fromFloats(t, e, s, dtype.Float32, shape.Of(2), 1, 2)
	f, err = e.Full(shape.Of(2, 2), row, dtype.Int32, s)
	require.NoError(t, err)
	require.Equal(t, dtype.Int32, f.Dtype())
	require.Equal(t, []float64{1, 2, 1, 2}, floats(t, f))

	_, err = e.Full(shape.Of(3), row, dtype.Float32, s)
	require.ErrorIs(t, err, shape.ErrBroadcast)
}

func TestArange(t *testing.T) {
	e, s := setup(t)

	a, err := e.Arange(1, 10, 1, dtype.Int32, s)
	require.NoError(t, err)
	require.Equal(t, shape.Of(9), a.Shape())
	require.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9}, floats(t, a))

	a, err = e.Arange(0, 1, 0.25, dtype.Float32, s)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0.25, 0.5, 0.75}, floats(t, a))

	a, err = e.Arange(5, 0, -2, dtype.Int64, s)
	require.NoError(t, err)
	require.Equal(t, []float64{5, 3, 1}, floats(t, a))

	a, err = e.Arange(5, 0, 1, dtype.Float32, s)
	require.NoError(t, err)
	require.Equal(t, 0, a.Shape().NumElements())

	_, err = e.Arange(0, 1, 0, dtype.Float32, s)
	require.ErrorIs(t, err, engine.ErrInvalidOp)
}

// ============================================================================
// Struktur
// ============================================================================

func TestReshapeTranspose(t *testing.T) {
	e, s := setup(t)
	a := fromFloats(t, e, s, dtype.Float32, shape.Of(2, 3), 0, 1, 2, 3, 4, 5)

	r, err := e.Reshape(a, shape.Of(3, 2), s)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 1, 2, 3, 4, 5}, floats(t, r))

	_, err = e.Reshape(a, shape.Of(4), s)
	require.ErrorIs(t, err, engine.ErrInvalidOp)

	tr, err := e.Transpose(a, nil, s)
	require.NoError(t, err)
	require.Equal(t, shape.Of(3, 2), tr.Shape())
	require.Equal(t, []float64{0, 3, 1, 4, 2, 5}, floats(t, tr))

	_, err = e.Transpose(a, []int{0, 0}, s)
	require.ErrorIs(t, err, engine.ErrInvalidOp)
}

func TestMoveSwapAxes(t *testing.T) {
	e, s := setup(t)
	vals := make([]float64, 24)
	for i := range vals {
		vals[i] = float64(i)
	}
	a := fromFloats(t, e, s, dtype.Float32, shape.Of(2, 3, 4), vals...)

	m, err := e.MoveAxis(a, 0, -1, s)
	require.NoError(t, err)
	require.Equal(t, shape.Of(3, 4, 2), m.Shape())
	got := floats(t, m)
	// m[i,j,k] = a[k,i,j]
	require.Equal(t, float64(1*12+0*4+1), got[(0*4+1)*2+1])

	sw, err := e.SwapAxes(a, 0, 2, s)
	require.NoError(t, err)
	require.Equal(t, shape.Of(4, 3, 2), sw.Shape())
	got = floats(t, sw)
	// sw[i,j,k] = a[k,j,i]
	require.Equal(t, float64(1*12+2*4+3), got[(3*3+2)*2+1])

	_, err = e.SwapAxes(a, 0, 3, s)
	require.ErrorIs(t, err, shape.ErrAxis)
}

// ============================================================================
// Rechnen
// ============================================================================

func TestAddMultiply(t *testing.T) {
	e, s := setup(t)

	a := fromFloats(t, e, s, dtype.Int32, shape.Of(2, 2), 1, 2, 3, 4)
	b := fromFloats(t, e, s, dtype.Float32, shape.Of(2), 0.5, 1)

	sum, err := e.Add(a, b, s)
	require.NoError(t, err)
	require.Equal(t, dtype.Float32, sum.Dtype())
	require.Equal(t, []float64{1.5, 3, 3.5, 5}, floats(t, sum))

	prod, err := e.Multiply(a, a, s)
	require.NoError(t, err)
	require.Equal(t, dtype.Int32, prod.Dtype())
	require.Equal(t, []float64{1, 4, 9, 16}, floats(t, prod))

	c := fromFloats(t, e, s, dtype.Float32, shape.Of(3), 1, 2, 3)
	_, err = e.Add(a, c, s)
	require.ErrorIs(t, err, shape.ErrBroadcast)
}

func TestBoolOps(t *testing.T) {
	e, s := setup(t)
	a := fromFloats(t, e, s, dtype.Bool, shape.Of(3), 1, 0, 1)
	b := fromFloats(t, e, s, dtype.Bool, shape.Of(3), 0, 0, 1)

	or, err := e.Add(a, b, s)
	require.NoError(t, err)
	require.Equal(t, []float64{1, 0, 1}, floats(t, or))

	and, err := e.Multiply(a, b, s)
	require.NoError(t, err)
	require.Equal(t, []float64{0, 0, 1}, floats(t, and))
}

func TestMatmul(t *testing.T) {
	e, s := setup(t)

	a := fromFloats(t, e, s, dtype.Float32, shape.Of(2, 3), 1, 2, 3, 4, 5, 6)
	b := fromFloats(t, e, s, dtype.Float32, shape.Of(3, 2), 7, 8, 9, 10, 11, 12)

	c, err := e.Matmul(a, b, s)
	require.NoError(t, err)
	require.Equal(t, shape.Of(2, 2), c.Shape())
	require.Equal(t, []float64{58, 64, 139, 154}, floats(t, c))

	v := fromFloats(t, e, s, dtype.Float32, shape.Of(3), 1, 0, -1)
	mv, err := e.Matmul(a, v, s)
	require.NoError(t, err)
	require.Equal(t, shape.Of(2), mv.Shape())
	require.Equal(t, []float64{-2, -2}, floats(t, mv))

	dot, err := e.Matmul(v, v, s)
	require.NoError(t, err)
	require.Equal(t, 0, dot.Shape().Ndim())
	require.Equal(t, []float64{2}, floats(t, dot))

	// Batch mit Broadcast
	batch := fromFloats(t, e, s, dtype.Float32, shape.Of(2, 1, 3), 1, 1, 1, 2, 2, 2)
	bm, err := e.Matmul(batch, b, s)
	require.NoError(t, err)
	require.Equal(t, shape.Of(2, 1, 2), bm.Shape())
	require.Equal(t, []float64{27, 30, 54, 60}, floats(t, bm))

	ints := fromFloats(t, e, s, dtype.Int32, shape.Of(2, 2), 1, 2, 3, 4)
	_, err = e.Matmul(ints, ints, s)
	require.ErrorIs(t, err, engine.ErrInvalidOp)

	_, err = e.Matmul(a, a, s)
	require.ErrorIs(t, err, engine.ErrInvalidOp)
}

func TestWhere(t *testing.T) {
	e, s := setup(t)
	cond := fromFloats(t, e, s, dtype.Bool, shape.Of(3), 1, 0, 1)
	x := fromFloats(t, e, s, dtype.Float32, shape.Of(3), 1, 2, 3)
	y := fromFloats(t, e, s, dtype.Float32, shape.Shape{}, -1)

	w, err := e.Where(cond, x, y, s)
	require.NoError(t, err)
	if diff := cmp.Diff([]float64{1, -1, 3}, floats(t, w)); diff != "" {
		t.Errorf("Where: (-erwartet +bekommen)\n%s", diff)
	}
}

func TestParallelLarge(t *testing.T) {
	e, s := setup(t)
	n := 3*grain + 7

	a, err := e.Ones(shape.Of(n), dtype.Float32, s)
	require.NoError(t, err)
	sum, err := e.Add(a, a, s)
	require.NoError(t, err)

	got := floats(t, sum)
	require.Len(t, got, n)
	for i, v := range got {
		if v != 2 {
			t.Fatalf("Element %d: erwartet 2, bekommen %v", i, v)
		}
	}
}

// ============================================================================
// Lebenszyklus
// ============================================================================

func TestLazyAndSynchronize(t *testing.T) {
	e, s := setup(t)

	a, err := e.Ones(shape.Of(4), dtype.Float32, s)
	require.NoError(t, err)
	nd := a.(*node)
	require.NotNil(t, nd.compute, "Ones sollte lazy sein")

	require.NoError(t, e.Synchronize(s))
	require.Nil(t, nd.compute, "Synchronize sollte materialisieren")
	require.Len(t, nd.data, 16)
}

func TestReleaseExactlyOnce(t *testing.T) {
	e, s := setup(t)
	require.Equal(t, int64(0), e.Live())

	a, err := e.Ones(shape.Of(4), dtype.Float32, s)
	require.NoError(t, err)
	b, err := e.Add(a, a, s)
	require.NoError(t, err)
	require.Equal(t, int64(2), e.Live())

	// a wird noch von b gebraucht
	a.Release()
	require.Equal(t, int64(2), e.Live())
	require.Equal(t, []float64{2, 2, 2, 2}, floats(t, b))
	require.Equal(t, int64(1), e.Live(), "a sollte nach der Berechnung von b frei sein")

	b.Release()
	b.Release()
	require.Equal(t, int64(0), e.Live())

	_, err = b.Bytes()
	require.True(t, errors.Is(err, ErrReleased))

	_, err = e.Add(b, b, s)
	require.ErrorIs(t, err, ErrReleased)
}

func TestReleaseUncomputed(t *testing.T) {
	e, s := setup(t)
	a, err := e.Ones(shape.Of(2), dtype.Float32, s)
	require.NoError(t, err)
	b, err := e.Multiply(a, a, s)
	require.NoError(t, err)

	a.Release()
	b.Release()
	require.Equal(t, int64(0), e.Live())
}
