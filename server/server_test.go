package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/ollama/mlxbridge/core"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine/cpu"
	"github.com/ollama/mlxbridge/host"
	"github.com/ollama/mlxbridge/shape"
	"github.com/ollama/mlxbridge/streaming"
)

// ============================================================================
// Helper
// ============================================================================

func setup(t *testing.T) (*Server, http.Handler, *cpu.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("MLXBRIDGE_HEARTBEAT", "0")

	e := cpu.New(1)
	core.Use(e)

	s := New(nil)
	h, err := s.GenerateRoutes()
	require.NoError(t, err)
	t.Cleanup(s.store.Close)
	return s, h, e
}

// do schickt einen Request mit optionalem JSON-Body und dekodiert die Antwort
func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func create(t *testing.T, h http.Handler, op, body string) string {
	t.Helper()
	code, out := do(t, h, http.MethodPost, "/api/ops/"+op, body)
	require.Equal(t, http.StatusOK, code, out)
	id, ok := out["id"].(string)
	require.True(t, ok, out)
	return id
}

func ref(id string) string {
	return fmt.Sprintf(`{"$ref": %q}`, id)
}

func data(t *testing.T, h http.Handler, id string) (any, string) {
	t.Helper()
	code, out := do(t, h, http.MethodGet, "/api/tensors/"+id, "")
	require.Equal(t, http.StatusOK, code, out)
	return out["data"], out["dtype"].(string)
}

func nums(vals ...float64) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

// ============================================================================
// Allgemein
// ============================================================================

func TestGeneralRoutes(t *testing.T) {
	_, h, _ := setup(t)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "mlxbridge is running", w.Body.String())

	code, out := do(t, h, http.MethodGet, "/api/version", "")
	require.Equal(t, http.StatusOK, code)
	require.Contains(t, out, "version")

	code, out = do(t, h, http.MethodGet, "/api/ops", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["ops"], 16)
	require.Contains(t, out["ops"], "matmul")
	require.Contains(t, out["ops"], "zeros_like")
}

func TestDtypes(t *testing.T) {
	_, h, _ := setup(t)

	code, out := do(t, h, http.MethodGet, "/api/dtypes", "")
	require.Equal(t, http.StatusOK, code)

	list := out["dtypes"].([]any)
	all := dtype.All()
	require.Len(t, list, len(all))
	for i, d := range all {
		entry := list[i].(map[string]any)
		require.Equal(t, d.Key(), entry["key"])
		require.InDelta(t, d.Size(), entry["size"], 0)
		require.Equal(t, d.Category().String(), entry["category"])
	}
}

func TestDevices(t *testing.T) {
	_, h, _ := setup(t)

	code, out := do(t, h, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, code)

	cpuDevice := map[string]any{"type": "cpu", "index": 0.0}
	if diff := cmp.Diff(map[string]any{
		"engine":  "cpu",
		"devices": []any{cpuDevice},
		"default": cpuDevice,
	}, out); diff != "" {
		t.Errorf("devices (-want +got):\n%s", diff)
	}
}

// ============================================================================
// Operationen
// ============================================================================

func TestTensorLifecycle(t *testing.T) {
	s, h, e := setup(t)

	code, out := do(t, h, http.MethodPost, "/api/ops/array", `{"args": [[[1, 2], [3, 4]]]}`)
	require.Equal(t, http.StatusOK, code, out)
	require.Equal(t, "int32", out["dtype"])
	require.Equal(t, nums(2, 2), out["shape"])
	placement := out["placement"].(map[string]any)
	require.Equal(t, "cpu", placement["device"].(map[string]any)["type"])
	id := out["id"].(string)

	got, dt := data(t, h, id)
	require.Equal(t, "int32", dt)
	require.Equal(t, []any{nums(1, 2), nums(3, 4)}, got)

	tr := create(t, h, "transpose", `{"args": [`+ref(id)+`]}`)
	got, _ = data(t, h, tr)
	require.Equal(t, []any{nums(1, 3), nums(2, 4)}, got)

	sum := create(t, h, "add", `{"args": [`+ref(id)+`, 10]}`)
	got, dt = data(t, h, sum)
	require.Equal(t, "int32", dt, "Skalare sind schwach typisiert")
	require.Equal(t, []any{nums(11, 12), nums(13, 14)}, got)

	code, out = do(t, h, http.MethodGet, "/api/tensors", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, out["tensors"], 3)

	code, out = do(t, h, http.MethodDelete, "/api/tensors/"+id, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, out["deleted"])

	code, out = do(t, h, http.MethodDelete, "/api/tensors/"+id, "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "TENSOR_NOT_FOUND", out["code"])

	code, _ = do(t, h, http.MethodGet, "/api/tensors/"+id, "")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, 2, s.Store().Len())

	s.Store().Close()
	require.Equal(t, 0, s.Store().Len())
	require.Equal(t, int64(0), e.Live())
}

func TestOps(t *testing.T) {
	_, h, _ := setup(t)

	cases := []struct {
		op    string
		body  string
		dtype string
		want  any
	}{
		{"zeros", `{"args": [[2]]}`, "float32", nums(0, 0)},
		{"ones", `{"args": [[2], "int32"]}`, "int32", nums(1, 1)},
		{"full", `{"args": [[2], 7]}`, "int32", nums(7, 7)},
		{"full", `{"args": [[2], 1.5]}`, "float32", nums(1.5, 1.5)},
		{"arange", `{"args": [3]}`, "int32", nums(0, 1, 2)},
		{"arange", `{"args": [0, 1, 0.5]}`, "float32", nums(0, 0.5)},
		{"array", `{"args": [[1, 2], "float32"]}`, "float32", nums(1, 2)},
		{"asarray", `{"args": [[true, false]]}`, "bool", []any{true, false}},
		{"where", `{"args": [[true, false], [1, 2], [3, 4]]}`, "int32", nums(1, 4)},
		{"multiply", `{"args": [[1, 2], [3, 4]]}`, "int32", nums(3, 8)},
		{"matmul", `{"args": [[[1.0, 2.0], [3.0, 4.0]], [[0.0, 1.0], [1.0, 0.0]]]}`, "float32", []any{nums(2, 1), nums(4, 3)}},
	}

	for _, tt := range cases {
		t.Run(tt.op, func(t *testing.T) {
			id := create(t, h, tt.op, tt.body)
			got, dt := data(t, h, id)
			require.Equal(t, tt.dtype, dt)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("%s (-want +got):\n%s", tt.op, diff)
			}
		})
	}
}

func TestOpsWithReferences(t *testing.T) {
	_, h, _ := setup(t)

	a := create(t, h, "arange", `{"args": [6]}`)
	m := create(t, h, "reshape", `{"args": [`+ref(a)+`, [2, 3]]}`)
	got, _ := data(t, h, m)
	require.Equal(t, []any{nums(0, 1, 2), nums(3, 4, 5)}, got)

	sw := create(t, h, "swapaxes", `{"args": [`+ref(m)+`, 0, 1]}`)
	got, _ = data(t, h, sw)
	require.Equal(t, []any{nums(0, 3), nums(1, 4), nums(2, 5)}, got)

	mv := create(t, h, "moveaxis", `{"args": [`+ref(m)+`, 0, -1]}`)
	got, _ = data(t, h, mv)
	require.Equal(t, []any{nums(0, 3), nums(1, 4), nums(2, 5)}, got)

	z := create(t, h, "zeros_like", `{"args": [`+ref(m)+`]}`)
	got, dt := data(t, h, z)
	require.Equal(t, "int32", dt)
	require.Equal(t, []any{nums(0, 0, 0), nums(0, 0, 0)}, got)

	o := create(t, h, "ones_like", `{"args": [`+ref(m)+`, "float32"]}`)
	got, dt = data(t, h, o)
	require.Equal(t, "float32", dt)
	require.Equal(t, []any{nums(1, 1, 1), nums(1, 1, 1)}, got)

	// asarray gibt dasselbe Array zurueck, also dieselbe ID
	same := create(t, h, "asarray", `{"args": [`+ref(m)+`]}`)
	require.Equal(t, m, same)

	conv := create(t, h, "asarray", `{"args": [`+ref(m)+`, "float32"]}`)
	require.NotEqual(t, m, conv)

	b := create(t, h, "arange", `{"args": [1, 4]}`)
	w := create(t, h, "where", `{"args": [[true, false, true], `+ref(b)+`, -1]}`)
	got, dt = data(t, h, w)
	require.Equal(t, "int32", dt)
	require.Equal(t, nums(1, -1, 3), got)
}

func TestTypedArgs(t *testing.T) {
	_, h, _ := setup(t)

	raw := host.Of([]float32{1.5, -2, 0.25}).Bytes()
	enc := base64.StdEncoding.EncodeToString(raw)

	id := create(t, h, "array", fmt.Sprintf(`{"args": [{"$typed": {"kind": "float32", "data": %q}}, [3]]}`, enc))
	got, dt := data(t, h, id)
	require.Equal(t, "float32", dt)
	require.Equal(t, nums(1.5, -2, 0.25), got)

	code, out := do(t, h, http.MethodGet, "/api/tensors/"+id+"?typed=1", "")
	require.Equal(t, http.StatusOK, code)
	require.NotContains(t, out, "data")
	typed := out["typed"].(map[string]any)
	require.Equal(t, "float32", typed["kind"])
	require.Equal(t, enc, typed["data"])

	// asarray liest typisierte Buffer 1-D
	id = create(t, h, "asarray", fmt.Sprintf(`{"args": [{"$typed": {"kind": "float32", "data": %q}}]}`, enc))
	code, out = do(t, h, http.MethodGet, "/api/tensors/"+id, "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, nums(3), out["shape"])
}

func TestOpErrors(t *testing.T) {
	_, h, _ := setup(t)

	cases := []struct {
		name   string
		op     string
		body   string
		status int
		code   string
	}{
		{"unknown op", "nope", `{"args": []}`, http.StatusNotFound, "UNKNOWN_OP"},
		{"no args", "array", `{}`, http.StatusBadRequest, "MISSING_ARGUMENT"},
		{"empty body", "zeros", ``, http.StatusBadRequest, "MISSING_ARGUMENT"},
		{"bad json", "array", `{"args": [`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"ragged", "array", `{"args": [[[1, 2], [3]]]}`, http.StatusBadRequest, "RAGGED_SHAPE"},
		{"unsupported value", "array", `{"args": [["a", "b"]]}`, http.StatusBadRequest, "UNSUPPORTED_VALUE"},
		{"typo dtype", "array", `{"args": [[1], "floot32"]}`, http.StatusBadRequest, "UNRECOGNIZED_ARGUMENT"},
		{"gpu on cpu engine", "array", `{"args": [[1], "gpu"]}`, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"missing ref", "transpose", `{"args": [{"$ref": "missing"}]}`, http.StatusNotFound, "TENSOR_NOT_FOUND"},
		{"ref not string", "transpose", `{"args": [{"$ref": 5}]}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"literal for tensor", "transpose", `{"args": [[1, 2]]}`, http.StatusBadRequest, "UNRECOGNIZED_ARGUMENT"},
		{"broadcast", "add", `{"args": [[1, 2], [1, 2, 3]]}`, http.StatusBadRequest, "BROADCAST"},
		{"bad host kind", "array", `{"args": [{"$typed": {"kind": "int128", "data": ""}}, [0]]}`, http.StatusBadRequest, "HOST_KIND"},
		{"bad base64", "array", `{"args": [{"$typed": {"kind": "uint8", "data": "%%%"}}, [1]]}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"typed without shape", "array", `{"args": [{"$typed": {"kind": "uint8", "data": "AQI="}}]}`, http.StatusBadRequest, "MISSING_ARGUMENT"},
		{"shape overflows", "array", `{"args": [{"$typed": {"kind": "float32", "data": ""}}, [4294967296, 4294967296]]}`, http.StatusBadRequest, "INVALID_DIMENSION"},
		{"zeros overflows", "zeros", `{"args": [[4611686018427387904, 8]]}`, http.StatusBadRequest, "INVALID_DIMENSION"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			code, out := do(t, h, http.MethodPost, "/api/ops/"+tt.op, tt.body)
			require.Equal(t, tt.status, code, out)
			require.Equal(t, tt.code, out["code"], out["error"])
			require.NotEmpty(t, out["error"])
		})
	}
}

// ============================================================================
// Streaming
// ============================================================================

func TestStreamTensor(t *testing.T) {
	_, h, _ := setup(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	a := create(t, h, "arange", `{"args": [6, "float32"]}`)
	id := create(t, h, "reshape", `{"args": [`+ref(a)+`, [2, 3]]}`)

	resp, err := http.Get(srv.URL + "/api/tensors/" + id + "/stream?chunk=4")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	msgs, err := streaming.Decode(resp.Body)
	require.NoError(t, err)

	var chunks int
	for _, m := range msgs {
		require.Equal(t, id, m.ID)
		if m.Event == streaming.EventChunk {
			chunks++
		}
	}
	require.Equal(t, 6, chunks)
	require.Equal(t, streaming.EventHeader, msgs[0].Event)
	require.Equal(t, streaming.EventEnd, msgs[len(msgs)-1].Event)

	got, err := streaming.Assemble(streaming.Messages(msgs))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, id, got[0].TensorID)
	require.True(t, got[0].Shape.Equal(shape.Of(2, 3)))
	require.Equal(t, dtype.Float32, got[0].Dtype)

	vals, err := host.View[float32](got[0].Buffer)
	require.NoError(t, err)
	require.Equal(t, []float32{0, 1, 2, 3, 4, 5}, vals)

	p, ok := got[0].Metadata.Get("placement")
	require.True(t, ok)
	require.Contains(t, p, "Stream(cpu")
}

func TestStreamTensorErrors(t *testing.T) {
	_, h, _ := setup(t)
	id := create(t, h, "zeros", `{"args": [[2]]}`)

	cases := []struct {
		name   string
		path   string
		status int
		code   string
	}{
		{"unknown id", "/api/tensors/missing/stream", http.StatusNotFound, "TENSOR_NOT_FOUND"},
		{"negative chunk", "/api/tensors/" + id + "/stream?chunk=-1", http.StatusBadRequest, "CHUNK_SIZE"},
		{"chunk not a number", "/api/tensors/" + id + "/stream?chunk=abc", http.StatusBadRequest, "INVALID_REQUEST"},
		{"bad retry", "/api/tensors/" + id + "/stream?retry=-5", http.StatusBadRequest, "INVALID_REQUEST"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			code, out := do(t, h, http.MethodGet, tt.path, "")
			require.Equal(t, tt.status, code)
			require.Equal(t, tt.code, out["code"])
		})
	}
}

// ============================================================================
// Streams
// ============================================================================

func TestStreams(t *testing.T) {
	_, h, _ := setup(t)

	code, out := do(t, h, http.MethodGet, "/api/streams/default", "")
	require.Equal(t, http.StatusOK, code)
	def := out["stream"].(map[string]any)
	require.Equal(t, "cpu", def["device"].(map[string]any)["type"])

	code, out = do(t, h, http.MethodPost, "/api/streams", "")
	require.Equal(t, http.StatusOK, code, out)
	st := out["stream"].(map[string]any)
	require.NotEqual(t, def["index"], st["index"])

	body, err := json.Marshal(st)
	require.NoError(t, err)

	code, out = do(t, h, http.MethodPost, "/api/synchronize", "")
	require.Equal(t, http.StatusOK, code, out)
	require.Equal(t, true, out["synchronized"])

	code, out = do(t, h, http.MethodPost, "/api/synchronize", `{"stream": `+string(body)+`}`)
	require.Equal(t, http.StatusOK, code, out)

	code, out = do(t, h, http.MethodPut, "/api/streams/default", string(body))
	require.Equal(t, http.StatusOK, code, out)

	code, out = do(t, h, http.MethodGet, "/api/streams/default", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, st, out["stream"])

	// neue Arrays landen auf dem neuen Default-Stream
	code, out = do(t, h, http.MethodPost, "/api/ops/zeros", `{"args": [[1]]}`)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, st, out["placement"])
}

func TestStreamErrors(t *testing.T) {
	_, h, _ := setup(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"gpu default", http.MethodGet, "/api/streams/default?device=gpu", "", http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"bad device", http.MethodGet, "/api/streams/default?device=tpu", "", http.StatusBadRequest, "UNRECOGNIZED_ARGUMENT"},
		{"gpu stream", http.MethodPost, "/api/streams", `{"device": "gpu"}`, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"set gpu default", http.MethodPut, "/api/streams/default", `{"index": 0, "device": {"type": "gpu", "index": 0}}`, http.StatusServiceUnavailable, "UNAVAILABLE"},
		{"set bad json", http.MethodPut, "/api/streams/default", `{"index": `, http.StatusBadRequest, "INVALID_REQUEST"},
		{"synchronize gpu", http.MethodPost, "/api/synchronize", `{"device": {"type": "gpu"}}`, http.StatusServiceUnavailable, "UNAVAILABLE"},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			code, out := do(t, h, tt.method, tt.path, tt.body)
			require.Equal(t, tt.status, code, out)
			require.Equal(t, tt.code, out["code"])
		})
	}
}

// ============================================================================
// Store und Middleware
// ============================================================================

func TestStore(t *testing.T) {
	e := cpu.New(1)
	core.Use(e)

	s := NewStore()
	a, err := core.NewArray([]any{1, 2, 3})
	require.NoError(t, err)

	id := s.Put(a)
	got, err := s.Get(id)
	require.NoError(t, err)
	require.Same(t, a, got)
	require.Equal(t, []string{id}, s.IDs())

	require.NoError(t, s.Delete(id))
	require.ErrorIs(t, s.Delete(id), ErrTensorNotFound)
	_, err = s.Get(id)
	require.ErrorIs(t, err, ErrTensorNotFound)
	require.ErrorIs(t, a.Eval(), core.ErrReleased)

	for range 3 {
		b, err := core.Zeros([]int{4})
		require.NoError(t, err)
		require.NoError(t, b.Eval())
		s.Put(b)
	}
	require.Equal(t, 3, s.Len())

	s.Close()
	require.Equal(t, 0, s.Len())
	require.Equal(t, int64(0), e.Live())
}

func TestAllowedHosts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core.Use(cpu.New(1))

	s := New(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 11500})
	h, err := s.GenerateRoutes()
	require.NoError(t, err)

	cases := []struct {
		host   string
		status int
	}{
		{"localhost", http.StatusOK},
		{"localhost:11500", http.StatusOK},
		{"127.0.0.1:11500", http.StatusOK},
		{"model.localhost", http.StatusOK},
		{"box.internal", http.StatusOK},
		{"example.com", http.StatusForbidden},
		{"evil.example.com:11500", http.StatusForbidden},
	}

	for _, tt := range cases {
		t.Run(tt.host, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/version", nil)
			req.Host = tt.host
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			require.Equal(t, tt.status, w.Code)
		})
	}
}

func TestDecodeArgsKeepsNumbers(t *testing.T) {
	got, err := decodeArgs(bytes.NewBufferString(`{"args": [1, 1.0, [2]]}`))
	require.NoError(t, err)
	require.Equal(t, []any{json.Number("1"), json.Number("1.0"), []any{json.Number("2")}}, got)

	got, err = decodeArgs(bytes.NewBufferString("  "))
	require.NoError(t, err)
	require.Nil(t, got)
}
