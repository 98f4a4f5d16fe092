// ops.go - Operationen ueber HTTP
//
// Enthaelt:
// - ops: Name -> Aufruf der core-Operation mit positionalen Argumenten
// - resolveArgs: {"$ref": id} und {"$typed": {kind, data}} im Argumentbaum ersetzen
// - decodeArgs: JSON mit json.Number, damit Ganzzahlen Ganzzahlen bleiben
package server

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/goccy/go-json"

	"github.com/ollama/mlxbridge/api"
	"github.com/ollama/mlxbridge/args"
	"github.com/ollama/mlxbridge/core"
	"github.com/ollama/mlxbridge/host"
	"github.com/ollama/mlxbridge/shape"
	"github.com/ollama/mlxbridge/streaming"
	"github.com/ollama/mlxbridge/tree"
)

type opFunc func(a []any) (*core.Array, error)

// need prueft die Mindestanzahl positionaler Argumente
func need(op string, a []any, n int) error {
	if len(a) < n {
		return fmt.Errorf("%w: %s expects at least %d arguments, got %d", args.ErrMissingArgument, op, n, len(a))
	}
	return nil
}

// tensorArg verlangt eine Tensor-Referenz an Position i
func tensorArg(op string, a []any, i int) (*core.Array, error) {
	if err := need(op, a, i+1); err != nil {
		return nil, err
	}
	t, ok := a[i].(*core.Array)
	if !ok {
		return nil, fmt.Errorf("%w: %s argument %d must be a tensor reference {\"$ref\": id}, got %T", args.ErrUnrecognizedArgument, op, i, a[i])
	}
	return t, nil
}

func intArg(op string, a []any, i int) (int, error) {
	if err := need(op, a, i+1); err != nil {
		return 0, err
	}
	v, ok := shape.AsInt(a[i])
	if !ok {
		return 0, fmt.Errorf("%w: %s argument %d must be an integer, got %v", args.ErrUnrecognizedArgument, op, i, a[i])
	}
	return v, nil
}

var ops = map[string]opFunc{
	"array": func(a []any) (*core.Array, error) {
		if err := need("array", a, 1); err != nil {
			return nil, err
		}
		return core.NewArray(a[0], a[1:]...)
	},
	"asarray": func(a []any) (*core.Array, error) {
		if err := need("asarray", a, 1); err != nil {
			return nil, err
		}
		return core.AsArray(a[0], a[1:]...)
	},
	"zeros": func(a []any) (*core.Array, error) {
		if err := need("zeros", a, 1); err != nil {
			return nil, err
		}
		return core.Zeros(a[0], a[1:]...)
	},
	"ones": func(a []any) (*core.Array, error) {
		if err := need("ones", a, 1); err != nil {
			return nil, err
		}
		return core.Ones(a[0], a[1:]...)
	},
	"full": func(a []any) (*core.Array, error) {
		if err := need("full", a, 2); err != nil {
			return nil, err
		}
		return core.Full(a[0], a[1], a[2:]...)
	},
	"zeros_like": func(a []any) (*core.Array, error) {
		t, err := tensorArg("zeros_like", a, 0)
		if err != nil {
			return nil, err
		}
		return core.ZerosLike(t, a[1:]...)
	},
	"ones_like": func(a []any) (*core.Array, error) {
		t, err := tensorArg("ones_like", a, 0)
		if err != nil {
			return nil, err
		}
		return core.OnesLike(t, a[1:]...)
	},
	"reshape": func(a []any) (*core.Array, error) {
		t, err := tensorArg("reshape", a, 0)
		if err != nil {
			return nil, err
		}
		if err := need("reshape", a, 2); err != nil {
			return nil, err
		}
		return core.Reshape(t, a[1], a[2:]...)
	},
	"transpose": func(a []any) (*core.Array, error) {
		t, err := tensorArg("transpose", a, 0)
		if err != nil {
			return nil, err
		}
		return core.Transpose(t, a[1:]...)
	},
	"moveaxis": func(a []any) (*core.Array, error) {
		t, err := tensorArg("moveaxis", a, 0)
		if err != nil {
			return nil, err
		}
		if err := need("moveaxis", a, 3); err != nil {
			return nil, err
		}
		return core.MoveAxis(t, a[1], a[2], a[3:]...)
	},
	"swapaxes": func(a []any) (*core.Array, error) {
		t, err := tensorArg("swapaxes", a, 0)
		if err != nil {
			return nil, err
		}
		a1, err := intArg("swapaxes", a, 1)
		if err != nil {
			return nil, err
		}
		a2, err := intArg("swapaxes", a, 2)
		if err != nil {
			return nil, err
		}
		return core.SwapAxes(t, a1, a2, a[3:]...)
	},
	"arange": func(a []any) (*core.Array, error) {
		return core.Arange(a...)
	},
	"add":      binaryOp("add", core.Add),
	"multiply": binaryOp("multiply", core.Multiply),
	"matmul":   binaryOp("matmul", core.Matmul),
	"where": func(a []any) (*core.Array, error) {
		if err := need("where", a, 3); err != nil {
			return nil, err
		}
		return core.Where(a[0], a[1], a[2], a[3:]...)
	},
}

func binaryOp(op string, fn func(a, b any, rest ...any) (*core.Array, error)) opFunc {
	return func(a []any) (*core.Array, error) {
		if err := need(op, a, 2); err != nil {
			return nil, err
		}
		return fn(a[0], a[1], a[2:]...)
	}
}

// OpNames gibt die Namen aller Operationen sortiert zurueck
func OpNames() []string {
	names := make([]string, 0, len(ops))
	for name := range ops {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ============================================================================
// Argumente
// ============================================================================

// decodeArgs liest den Request-Body. Zahlen bleiben json.Number, damit
// 1 und 1.0 unterschiedlich inferiert werden.
func decodeArgs(r io.Reader) ([]any, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var req api.OpRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return req.Args, nil
}

// special meldet Objekte die durch resolveArgs ersetzt werden
func special(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return false
	}
	_, ref := m["$ref"]
	_, typed := m["$typed"]
	return ref || typed
}

// resolveArgs ersetzt Referenzen durch Arrays aus dem Store und $typed
// Objekte durch Host-Buffer. Alle anderen Blaetter bleiben unveraendert.
func (s *Server) resolveArgs(raw []any) ([]any, error) {
	out, err := tree.Visitor{IsLeaf: special}.MapWithPath(func(path string, leaf any, _ ...any) (any, error) {
		if !special(leaf) {
			return leaf, nil
		}

		m := leaf.(map[string]any)
		if ref, ok := m["$ref"]; ok {
			id, ok := ref.(string)
			if !ok {
				return nil, fmt.Errorf("%w: $ref at %q must be a string", ErrInvalidRequest, path)
			}
			return s.store.Get(id)
		}
		return typedBuffer(path, m["$typed"])
	}, raw)
	if err != nil {
		return nil, err
	}

	list, _ := out.([]any)
	return list, nil
}

// typedBuffer liest {"kind": "float32", "data": base64}
func typedBuffer(path string, v any) (host.Buffer, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return host.Buffer{}, fmt.Errorf("%w: $typed at %q must be an object", ErrInvalidRequest, path)
	}

	kind, _ := m["kind"].(string)
	k, err := host.ParseKind(kind)
	if err != nil {
		return host.Buffer{}, fmt.Errorf("$typed at %q: %w", path, err)
	}

	data, _ := m["data"].(string)
	raw, err := streaming.FromBase64(data)
	if err != nil {
		return host.Buffer{}, fmt.Errorf("%w: $typed data at %q: %w", ErrInvalidRequest, path, err)
	}
	return host.Wrap(k, raw)
}
