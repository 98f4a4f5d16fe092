// tree.go - Baum-Utilities fuer verschachtelte Host-Werte
//
// Enthaelt:
// - Map / MapWithPath ueber einen oder mehrere Baeume
// - Flatten und Unflatten mit Punkt-Pfaden ("model.0.w")
// - Reduce und Merge
//
// Knoten sind []any, map[string]any (sortierte Schluessel) oder
// *Dict (Einfuegereihenfolge). Alles andere ist ein Blatt.
package tree

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	// ErrNotPrefix: ein zusaetzlicher Baum passt nicht zur Struktur des ersten.
	ErrNotPrefix = errors.New("tree is not a valid prefix of the first tree")

	// ErrMergeConflict: beide Baeume haben an derselben Stelle ein Blatt.
	ErrMergeConflict = errors.New("trees contain elements at the same locations but no merge function was provided")
)

// Dict ist ein Dict-Knoten mit stabiler Reihenfolge.
type Dict = orderedmap.OrderedMap[string, any]

// NewDict gibt einen leeren Dict-Knoten zurueck
func NewDict() *Dict {
	return orderedmap.New[string, any]()
}

// MapFunc bekommt das Blatt des ersten Baums und die Teilbaeume der weiteren.
type MapFunc func(leaf any, rest ...any) (any, error)

// PathFunc bekommt zusaetzlich den Punkt-Pfad des Blatts.
type PathFunc func(path string, leaf any, rest ...any) (any, error)

// Visitor steuert, welche Knoten als Blatt gelten. IsLeaf wird vor der
// Strukturpruefung gefragt, Nicht-Container sind immer Blaetter.
type Visitor struct {
	IsLeaf func(any) bool
}

func (v Visitor) leaf(node any) bool {
	if v.IsLeaf != nil && v.IsLeaf(node) {
		return true
	}
	return !isList(node) && !isDict(node)
}

func isList(node any) bool {
	_, ok := node.([]any)
	return ok
}

func isDict(node any) bool {
	switch n := node.(type) {
	case map[string]any:
		return n != nil
	case *Dict:
		return n != nil
	}
	return false
}

type entry struct {
	key   string
	value any
}

// entries liefert die Eintraege eines Dict-Knotens in Iterationsreihenfolge
func entries(node any) []entry {
	switch n := node.(type) {
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		out := make([]entry, len(keys))
		for i, k := range keys {
			out[i] = entry{k, n[k]}
		}
		return out
	case *Dict:
		out := make([]entry, 0, n.Len())
		for p := n.Oldest(); p != nil; p = p.Next() {
			out = append(out, entry{p.Key, p.Value})
		}
		return out
	}
	return nil
}

func lookup(node any, key string) (any, bool) {
	switch n := node.(type) {
	case map[string]any:
		v, ok := n[key]
		return v, ok
	case *Dict:
		return n.Get(key)
	}
	return nil, false
}

func dictLen(node any) int {
	switch n := node.(type) {
	case map[string]any:
		return len(n)
	case *Dict:
		if n != nil {
			return n.Len()
		}
	}
	return 0
}

// Map wendet fn auf jedes Blatt von tree an. Weitere Baeume in rest muessen
// die Struktur von tree als Praefix enthalten; an Blaettern von tree werden
// ihre Teilbaeume unveraendert an fn gereicht.
func Map(fn MapFunc, tree any, rest ...any) (any, error) {
	return Visitor{}.Map(fn, tree, rest...)
}

// MapWithPath ist Map mit dem Punkt-Pfad des Blatts als erstem Argument
func MapWithPath(fn PathFunc, tree any, rest ...any) (any, error) {
	return Visitor{}.MapWithPath(fn, tree, rest...)
}

func (v Visitor) Map(fn MapFunc, tree any, rest ...any) (any, error) {
	return v.mapTrees(func(_ string, leaf any, rest ...any) (any, error) {
		return fn(leaf, rest...)
	}, append([]any{tree}, rest...), "")
}

func (v Visitor) MapWithPath(fn PathFunc, tree any, rest ...any) (any, error) {
	return v.mapTrees(fn, append([]any{tree}, rest...), "")
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func (v Visitor) mapTrees(fn PathFunc, trees []any, path string) (any, error) {
	current := trees[0]
	if v.leaf(current) {
		return fn(path, current, trees[1:]...)
	}

	if list, ok := current.([]any); ok {
		for _, t := range trees[1:] {
			other, isl := t.([]any)
			if (isl && len(other) != len(list)) || isDict(t) {
				return nil, fmt.Errorf("%w: list at %q", ErrNotPrefix, path)
			}
		}

		out := make([]any, len(list))
		next := make([]any, len(trees))
		for i, item := range list {
			next[0] = item
			for j, t := range trees[1:] {
				if other, ok := t.([]any); ok {
					next[j+1] = other[i]
				} else {
					next[j+1] = t
				}
			}
			mapped, err := v.mapTrees(fn, slices.Clone(next), join(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = mapped
		}
		return out, nil
	}

	for _, t := range trees[1:] {
		if isList(t) {
			return nil, fmt.Errorf("%w: dict at %q", ErrNotPrefix, path)
		}
	}

	es := entries(current)
	results := make([]entry, len(es))
	next := make([]any, len(trees))
	for i, e := range es {
		next[0] = e.value
		for j, t := range trees[1:] {
			if !isDict(t) {
				next[j+1] = t
				continue
			}
			sub, ok := lookup(t, e.key)
			if !ok {
				return nil, fmt.Errorf("%w: key %q missing at %q", ErrNotPrefix, e.key, path)
			}
			next[j+1] = sub
		}
		mapped, err := v.mapTrees(fn, slices.Clone(next), join(path, e.key))
		if err != nil {
			return nil, err
		}
		results[i] = entry{e.key, mapped}
	}

	if _, ok := current.(*Dict); ok {
		out := NewDict()
		for _, e := range results {
			out.Set(e.key, e.value)
		}
		return out, nil
	}
	out := make(map[string]any, len(results))
	for _, e := range results {
		out[e.key] = e.value
	}
	return out, nil
}

// Flatten gibt alle Blaetter mit ihrem Punkt-Pfad zurueck. prefix wird
// jedem Pfad vorangestellt.
func Flatten(tree any, prefix string) *Dict {
	return Visitor{}.Flatten(tree, prefix)
}

func (v Visitor) Flatten(tree any, prefix string) *Dict {
	out := NewDict()
	v.flatten(out, tree, prefix)
	return out
}

func (v Visitor) flatten(out *Dict, node any, path string) {
	if v.leaf(node) {
		out.Set(path, node)
		return
	}
	if list, ok := node.([]any); ok {
		for i, item := range list {
			v.flatten(out, item, join(path, strconv.Itoa(i)))
		}
		return
	}
	for _, e := range entries(node) {
		v.flatten(out, e.value, join(path, e.key))
	}
}

// Unflatten baut aus Punkt-Pfaden wieder einen Baum. Sind alle Schluessel
// einer Ebene Indizes, entsteht eine Liste; Luecken werden mit leeren
// Dicts aufgefuellt.
func Unflatten(flat *Dict) any {
	es := make([]entry, 0, flat.Len())
	for p := flat.Oldest(); p != nil; p = p.Next() {
		es = append(es, entry{p.Key, p.Value})
	}
	return unflatten(es)
}

func unflatten(es []entry) any {
	if len(es) == 1 && es[0].key == "" {
		return es[0].value
	}

	var order []string
	children := make(map[string][]entry)
	for _, e := range es {
		head, tail, _ := strings.Cut(e.key, ".")
		if _, ok := children[head]; !ok {
			order = append(order, head)
		}
		children[head] = append(children[head], entry{tail, e.value})
	}

	indices := make([]int, 0, len(order))
	for _, k := range order {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 || strconv.Itoa(i) != k {
			indices = nil
			break
		}
		indices = append(indices, i)
	}

	if len(indices) > 0 {
		keys := slices.Clone(order)
		slices.SortFunc(keys, func(a, b string) int {
			x, _ := strconv.Atoi(a)
			y, _ := strconv.Atoi(b)
			return x - y
		})
		out := make([]any, slices.Max(indices)+1)
		for i := range out {
			out[i] = NewDict()
		}
		for _, k := range keys {
			i, _ := strconv.Atoi(k)
			out[i] = unflatten(children[k])
		}
		return out
	}

	out := NewDict()
	for _, k := range order {
		out.Set(k, unflatten(children[k]))
	}
	return out
}

// Reduce faltet die Blaetter von tree mit fn. Ohne init ist das erste
// Blatt der Startwert; ein Baum ohne Blaetter ergibt dann nil.
func Reduce(fn func(acc, leaf any) any, tree any, init ...any) any {
	return Visitor{}.Reduce(fn, tree, init...)
}

func (v Visitor) Reduce(fn func(acc, leaf any) any, tree any, init ...any) any {
	var acc any
	started := len(init) > 0
	if started {
		acc = init[0]
	}

	var walk func(node any)
	walk = func(node any) {
		switch {
		case v.leaf(node):
			if started {
				acc = fn(acc, node)
			} else {
				acc, started = node, true
			}
		case isList(node):
			for _, item := range node.([]any) {
				walk(item)
			}
		default:
			for _, e := range entries(node) {
				walk(e.value)
			}
		}
	}
	walk(tree)
	return acc
}

// empty normalisiert fehlende und leere Knoten zu nil
func empty(node any) any {
	switch n := node.(type) {
	case []any:
		if len(n) == 0 {
			return nil
		}
	case map[string]any, *Dict:
		if dictLen(n) == 0 {
			return nil
		}
	}
	return node
}

// Merge vereinigt zwei Baeume. Listen werden elementweise bis zur
// groesseren Laenge vereinigt, Dicts ueber die Vereinigung der Schluessel
// (das Ergebnis ist immer ein *Dict).
// Treffen zwei Blaetter aufeinander, entscheidet fn; ohne fn ist das
// ErrMergeConflict.
func Merge(a, b any, fn func(a, b any) (any, error)) (any, error) {
	return merge(a, b, fn, "")
}

func merge(a, b any, fn func(a, b any) (any, error), path string) (any, error) {
	a, b = empty(a), empty(b)

	switch {
	case a == nil && b != nil:
		return b, nil
	case a != nil && b == nil:
		return a, nil
	case a == nil && b == nil:
		if fn == nil {
			return nil, fmt.Errorf("%w: at %q", ErrMergeConflict, path)
		}
		return fn(nil, nil)
	}

	la, aok := a.([]any)
	lb, bok := b.([]any)
	if aok && bok {
		out := make([]any, max(len(la), len(lb)))
		for i := range out {
			var x, y any
			if i < len(la) {
				x = la[i]
			}
			if i < len(lb) {
				y = lb[i]
			}
			m, err := merge(x, y, fn, join(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = m
		}
		return out, nil
	}

	if isDict(a) && isDict(b) {
		out := NewDict()
		var keys []string
		for _, e := range entries(a) {
			keys = append(keys, e.key)
		}
		for _, e := range entries(b) {
			if _, ok := lookup(a, e.key); !ok {
				keys = append(keys, e.key)
			}
		}
		for _, k := range keys {
			x, _ := lookup(a, k)
			y, _ := lookup(b, k)
			m, err := merge(x, y, fn, join(path, k))
			if err != nil {
				return nil, err
			}
			out.Set(k, m)
		}
		return out, nil
	}

	if fn == nil {
		return nil, fmt.Errorf("%w: at %q", ErrMergeConflict, path)
	}
	return fn(a, b)
}
