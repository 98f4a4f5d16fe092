//go:build mlx

// mlx_test.go - Tests gegen eine echte mlx-c Installation
package mlx

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

func setup(t *testing.T) (*Engine, placement.Stream) {
	t.Helper()
	e, err := New()
	if errors.Is(err, engine.ErrUnavailable) {
		t.Skip("mlx nicht verfuegbar:", err)
	}
	require.NoError(t, err)
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

func TestStreams(t *testing.T) {
	e, s := setup(t)

	again, err := e.DefaultStream(placement.CPU())
	require.NoError(t, err)
	require.Equal(t, s, again)

	fresh, err := e.NewStream(placement.CPU())
	require.NoError(t, err)
	require.NotEqual(t, s, fresh)
	require.NoError(t, e.Synchronize(fresh))

	_, err = e.DefaultStream(placement.GPU(7))
	require.ErrorIs(t, err, engine.ErrUnavailable)
}

func TestOps(t *testing.T) {
	e, s := setup(t)

	vals := []codec.Value{codec.FloatValue(1), codec.FloatValue(2), codec.FloatValue(3), codec.FloatValue(4), codec.FloatValue(5), codec.FloatValue(6)}
	a, err := e.FromBytes(codec.Pack(vals, dtype.Float32), shape.Of(2, 3), dtype.Float32, s)
	require.NoError(t, err)
	defer a.Release()

	// Transpose ist in mlx ein View, Bytes muss trotzdem Zeilen-Layout liefern
	tr, err := e.Transpose(a, nil, s)
	require.NoError(t, err)
	defer tr.Release()
	require.Equal(t, shape.Of(3, 2), tr.Shape())
	require.Equal(t, []float64{1, 4, 2, 5, 3, 6}, floats(t, tr))

	mm, err := e.Matmul(a, tr, s)
	require.NoError(t, err)
	defer mm.Release()
	require.Equal(t, []float64{14, 32, 32, 77}, floats(t, mm))

	sum, err := e.Add(a, a, s)
	require.NoError(t, err)
	defer sum.Release()
	require.Equal(t, []float64{2, 4, 6, 8, 10, 12}, floats(t, sum))

	r, err := e.Arange(0, 5, 1, dtype.Int32, s)
	require.NoError(t, err)
	defer r.Release()
	require.Equal(t, dtype.Int32, r.Dtype())
	require.Equal(t, []float64{0, 1, 2, 3, 4}, floats(t, r))

	_, err = e.Reshape(a, shape.Of(4), s)
	require.ErrorIs(t, err, engine.ErrInvalidOp)

	_, err = e.Matmul(a, a, s)
	require.ErrorIs(t, err, engine.ErrInvalidOp)
}

func TestReleaseExactlyOnce(t *testing.T) {
	e, s := setup(t)

	before := e.Live()
	z, err := e.Zeros(shape.Of(2, 2), dtype.Float16, s)
	require.NoError(t, err)
	require.Equal(t, before+1, e.Live())

	z.Release()
	z.Release()
	require.Equal(t, before, e.Live())

	_, err = z.Bytes()
	require.ErrorIs(t, err, engine.ErrInvalidOp)
}
