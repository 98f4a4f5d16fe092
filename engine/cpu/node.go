// node.go - Lazy, referenzgezaehlter Buffer der CPU-Engine
//
// Enthaelt:
// - node: Shape, Dtype, Stream, Daten oder ausstehende Berechnung
// - materialize: rechnet genau einmal, gibt danach die Eingaben frei
// - Release: gibt die Besitzer-Referenz genau einmal zurueck
package cpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

// ErrReleased: ein Buffer wurde nach der letzten Freigabe benutzt.
var ErrReleased = errors.New("buffer released")

type node struct {
	e      *Engine
	shape  shape.Shape
	dtype  dtype.Dtype
	stream placement.Stream

	// refs zaehlt Besitzer plus noch nicht berechnete Verbraucher
	refs  atomic.Int32
	owned atomic.Bool

	once    sync.Once
	compute func() ([]byte, error)
	inputs  []*node
	data    []byte
	err     error
}

var _ engine.Buffer = (*node)(nil)

// newNode legt einen Knoten mit Besitzer-Referenz an. Die Eingaben werden
// gehalten bis compute gelaufen ist.
func (e *Engine) newNode(sh shape.Shape, dt dtype.Dtype, s placement.Stream, compute func() ([]byte, error), inputs ...*node) *node {
	n := &node{e: e, shape: sh.Clone(), dtype: dt, stream: s, compute: compute, inputs: inputs}
	n.refs.Store(1)
	n.owned.Store(true)
	for _, in := range inputs {
		in.refs.Add(1)
	}
	e.live.Add(1)
	e.track(n)
	return n
}

// newData legt einen bereits materialisierten Knoten an
func (e *Engine) newData(data []byte, sh shape.Shape, dt dtype.Dtype, s placement.Stream) *node {
	n := e.newNode(sh, dt, s, nil)
	n.once.Do(func() { n.data = data })
	e.untrack(n)
	return n
}

func (n *node) Shape() shape.Shape       { return n.shape.Clone() }
func (n *node) Dtype() dtype.Dtype       { return n.dtype }
func (n *node) Stream() placement.Stream { return n.stream }

func (n *node) Eval() error {
	_, err := n.materialize()
	return err
}

func (n *node) Bytes() ([]byte, error) {
	return n.materialize()
}

func (n *node) materialize() ([]byte, error) {
	if n.refs.Load() <= 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrReleased, n.dtype, n.shape)
	}

	n.once.Do(func() {
		for _, in := range n.inputs {
			if _, err := in.materialize(); err != nil {
				n.err = err
				break
			}
		}
		if n.err == nil {
			n.data, n.err = n.compute()
		}
		for _, in := range n.inputs {
			in.unref()
		}
		n.inputs, n.compute = nil, nil
		n.e.untrack(n)
	})
	return n.data, n.err
}

// Release gibt die Besitzer-Referenz zurueck. Ein zweiter Aufruf wird
// ignoriert und geloggt.
func (n *node) Release() {
	if !n.owned.CompareAndSwap(true, false) {
		slog.Warn("buffer released twice", "buffer", n)
		return
	}
	n.unref()
}

func (n *node) unref() {
	if n.refs.Add(-1) != 0 {
		return
	}

	// nie berechnet: Eingaben direkt freigeben
	n.once.Do(func() { n.err = ErrReleased })
	for _, in := range n.inputs {
		in.unref()
	}
	n.inputs, n.compute = nil, nil

	n.e.live.Add(-1)
	n.e.untrack(n)
	n.data = nil
}

// input wandelt einen fremden Buffer in einen Knoten dieser Engine um
func (e *Engine) input(b engine.Buffer) (*node, error) {
	n, ok := b.(*node)
	if !ok || n.e != e {
		return nil, fmt.Errorf("cpu: buffer %T belongs to another engine", b)
	}
	if n.refs.Load() <= 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrReleased, n.dtype, n.shape)
	}
	return n, nil
}

func (n *node) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("shape", n.shape.String()),
		slog.String("dtype", n.dtype.String()),
		slog.String("stream", n.stream.String()),
	)
}
