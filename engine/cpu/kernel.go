// kernel.go - Hilfsfunktionen fuer elementweise Kernels
//
// Enthaelt:
// - bstrides: Strides einer Eingabe relativ zur Broadcast-Shape
// - walk: iteriert Ausgabeindizes und fuehrt Eingabe-Offsets mit
// - parallel: teilt Arbeit per errgroup auf Goroutines auf
package cpu

import (
	"golang.org/x/sync/errgroup"

	"github.com/ollama/mlxbridge/shape"
)

// Unterhalb dieser Elementanzahl lohnt sich kein Aufteilen.
const grain = 1 << 14

// bstrides gibt die Element-Strides von in fuer jede Achse von out zurueck.
// Gebroadcastete Achsen haben Stride 0.
func bstrides(in, out shape.Shape) []int {
	st := make([]int, len(out))
	inStrides := in.Strides()
	off := len(out) - len(in)
	for i := range in {
		if in[i] != 1 {
			st[off+i] = inStrides[i]
		}
	}
	return st
}

// walk ruft fn fuer jeden Ausgabeindex in [lo, hi) mit den passenden
// Offsets aller Eingaben auf. offs darf nicht behalten werden.
func walk(out shape.Shape, strides [][]int, lo, hi int, fn func(i int, offs []int)) {
	if lo >= hi {
		return
	}

	nd := len(out)
	idx := make([]int, nd)
	rem := lo
	for d := nd - 1; d >= 0; d-- {
		idx[d] = rem % out[d]
		rem /= out[d]
	}

	offs := make([]int, len(strides))
	for k, st := range strides {
		for d := range nd {
			offs[k] += idx[d] * st[d]
		}
	}

	for i := lo; i < hi; i++ {
		fn(i, offs)
		for d := nd - 1; d >= 0; d-- {
			idx[d]++
			for k, st := range strides {
				offs[k] += st[d]
			}
			if idx[d] < out[d] {
				break
			}
			for k, st := range strides {
				offs[k] -= st[d] * idx[d]
			}
			idx[d] = 0
		}
	}
}

// parallel ruft fn auf disjunkten Bereichen von [0, n) auf. fn darf nur in
// seinen eigenen Bereich schreiben.
func (e *Engine) parallel(n int, fn func(lo, hi int)) {
	if n <= grain || e.threads <= 1 {
		fn(0, n)
		return
	}

	var g errgroup.Group
	g.SetLimit(e.threads)
	for lo := 0; lo < n; lo += grain {
		hi := min(lo+grain, n)
		g.Go(func() error {
			fn(lo, hi)
			return nil
		})
	}
	_ = g.Wait()
}
