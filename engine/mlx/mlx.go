//go:build mlx

// Package mlx - Engine auf Basis von mlx-c
//
// Hauptfunktionen:
// - init: Registrierung als "mlx" und Error-Handler
// - New: Engine erstellen, GPU nur wenn Metal verfuegbar ist
// - Devices, DefaultStream, NewStream, Synchronize
// - buffer: referenzgezaehltes mlx_array mit Bytes im Zeilen-Layout
//
// Alle Aufrufe in mlx-c laufen unter Engine.mu. Der Error-Handler schreibt
// die letzte Meldung in einen statischen Puffer, den check danach liest.
package mlx

/*
#cgo CPPFLAGS: -I${SRCDIR}/../../build/_deps/mlx-c-src
#cgo LDFLAGS: -L${SRCDIR}/../../build/lib/mlxbridge/ -lmlxc -lmlx
#cgo darwin LDFLAGS: -framework Accelerate -framework Metal -framework Foundation
#cgo LDFLAGS: -Wl,-rpath,${SRCDIR}/../../build/lib/mlxbridge/
#include <stdlib.h>
#include <string.h>
#include "mlx/c/mlx.h"

static char last_error[1024];

static void error_handler(const char *msg, void* data) {
	strncpy(last_error, msg, sizeof(last_error) - 1);
	last_error[sizeof(last_error) - 1] = 0;
}
static void set_error_handler() {mlx_set_error_handler(&error_handler, NULL, NULL);}
static void clear_error() {last_error[0] = 0;}
static const char* get_error() {return last_error;}

static const void* array_data(const mlx_array a) {
	switch (mlx_array_dtype(a)) {
	case MLX_BOOL: return (const void*)mlx_array_data_bool(a);
	case MLX_UINT8: return (const void*)mlx_array_data_uint8(a);
	case MLX_UINT16: return (const void*)mlx_array_data_uint16(a);
	case MLX_UINT32: return (const void*)mlx_array_data_uint32(a);
	case MLX_UINT64: return (const void*)mlx_array_data_uint64(a);
	case MLX_INT8: return (const void*)mlx_array_data_int8(a);
	case MLX_INT16: return (const void*)mlx_array_data_int16(a);
	case MLX_INT32: return (const void*)mlx_array_data_int32(a);
	case MLX_INT64: return (const void*)mlx_array_data_int64(a);
	case MLX_FLOAT16: return (const void*)mlx_array_data_float16(a);
	case MLX_FLOAT32: return (const void*)mlx_array_data_float32(a);
	case MLX_FLOAT64: return (const void*)mlx_array_data_float64(a);
	case MLX_BFLOAT16: return (const void*)mlx_array_data_bfloat16(a);
	case MLX_COMPLEX64: return (const void*)mlx_array_data_complex64(a);
	}
	return NULL;
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

func init() {
	C.set_error_handler()
	engine.Register("mlx", func() (engine.Engine, error) {
		return New()
	})
}

var dtypes = map[dtype.Dtype]C.mlx_dtype{
	dtype.Bool:      C.MLX_BOOL,
	dtype.Uint8:     C.MLX_UINT8,
	dtype.Uint16:    C.MLX_UINT16,
	dtype.Uint32:    C.MLX_UINT32,
	dtype.Uint64:    C.MLX_UINT64,
	dtype.Int8:      C.MLX_INT8,
	dtype.Int16:     C.MLX_INT16,
	dtype.Int32:     C.MLX_INT32,
	dtype.Int64:     C.MLX_INT64,
	dtype.Float16:   C.MLX_FLOAT16,
	dtype.Float32:   C.MLX_FLOAT32,
	dtype.Float64:   C.MLX_FLOAT64,
	dtype.Bfloat16:  C.MLX_BFLOAT16,
	dtype.Complex64: C.MLX_COMPLEX64,
}

// Engine reicht alle Operationen an mlx-c weiter.
type Engine struct {
	mu       sync.Mutex
	gpu      bool
	streams  map[placement.Stream]C.mlx_stream
	defaults map[placement.Device]placement.Stream
	live     atomic.Int64
}

var _ engine.Engine = (*Engine)(nil)

// New erstellt die Engine. Ohne Metal gibt es nur das CPU-Device.
func New() (*Engine, error) {
	var available C.bool
	if rc := C.mlx_metal_is_available(&available); rc != 0 {
		return nil, fmt.Errorf("%w: mlx: %s", engine.ErrUnavailable, C.GoString(C.get_error()))
	}

	e := &Engine{
		gpu:      bool(available),
		streams:  make(map[placement.Stream]C.mlx_stream),
		defaults: make(map[placement.Device]placement.Stream),
	}
	slog.Debug("mlx engine initialized", "metal", e.gpu)
	return e, nil
}

func (e *Engine) Name() string { return "mlx" }

// Live gibt die Anzahl nicht freigegebener Buffer zurueck
func (e *Engine) Live() int64 { return e.live.Load() }

func (e *Engine) Devices() []placement.Device {
	if e.gpu {
		return []placement.Device{placement.GPU(0), placement.CPU()}
	}
	return []placement.Device{placement.CPU()}
}

func (e *Engine) PreferredDevice() placement.Device {
	if e.gpu {
		return placement.GPU(0)
	}
	return placement.CPU()
}

// check liest die Meldung des Error-Handlers wenn rc ungleich 0 ist.
// Muss unter e.mu aufgerufen werden.
func (e *Engine) check(op string, rc C.int) error {
	if rc == 0 {
		return nil
	}
	msg := C.GoString(C.get_error())
	C.clear_error()
	return fmt.Errorf("%w: mlx %s: %s", engine.ErrInvalidOp, op, msg)
}

func device(d placement.Device) C.mlx_device {
	if d.Kind == placement.GPUKind {
		return C.mlx_device_new_type(C.MLX_GPU, C.int(d.Index))
	}
	return C.mlx_device_new_type(C.MLX_CPU, C.int(d.Index))
}

func (e *Engine) checkDevice(d placement.Device) error {
	if !engine.HasDevice(e, d) {
		return fmt.Errorf("%w: mlx engine has no %s", engine.ErrUnavailable, d)
	}
	return nil
}

// newStreamLocked legt einen mlx Stream auf d an. Der Index kommt von mlx.
func (e *Engine) newStreamLocked(d placement.Device) (placement.Stream, error) {
	dev := device(d)
	defer C.mlx_device_free(dev)

	cs := C.mlx_stream_new_device(dev)
	var idx C.int
	if err := e.check("stream index", C.mlx_stream_get_index(&idx, cs)); err != nil {
		C.mlx_stream_free(cs)
		return placement.Stream{}, err
	}

	s := placement.Stream{Index: int(idx), Device: d}
	e.streams[s] = cs
	return s, nil
}

func (e *Engine) DefaultStream(d placement.Device) (placement.Stream, error) {
	if err := e.checkDevice(d); err != nil {
		return placement.Stream{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.defaults[d]; ok {
		return s, nil
	}
	s, err := e.newStreamLocked(d)
	if err != nil {
		return placement.Stream{}, err
	}
	e.defaults[d] = s
	return s, nil
}

func (e *Engine) NewStream(d placement.Device) (placement.Stream, error) {
	if err := e.checkDevice(d); err != nil {
		return placement.Stream{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.newStreamLocked(d)
}

// stream gibt den mlx Stream zu s zurueck. Muss unter e.mu aufgerufen werden.
func (e *Engine) stream(s placement.Stream) (C.mlx_stream, error) {
	cs, ok := e.streams[s]
	if !ok {
		return cs, fmt.Errorf("%w: unknown %s", engine.ErrUnavailable, s)
	}
	return cs, nil
}

func (e *Engine) Synchronize(s placement.Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cs, err := e.stream(s)
	if err != nil {
		return err
	}
	return e.check("synchronize", C.mlx_synchronize(cs))
}

// ============================================================================
// Buffer
// ============================================================================

type buffer struct {
	e  *Engine
	a  C.mlx_array
	sh shape.Shape
	dt dtype.Dtype
	s  placement.Stream

	released atomic.Bool
}

var _ engine.Buffer = (*buffer)(nil)

// wrap uebernimmt a. Muss unter e.mu aufgerufen werden.
func (e *Engine) wrap(a C.mlx_array, s placement.Stream) *buffer {
	n := int(C.mlx_array_ndim(a))
	sh := make(shape.Shape, n)
	if n > 0 {
		dims := unsafe.Slice(C.mlx_array_shape(a), n)
		for i, d := range dims {
			sh[i] = int(d)
		}
	}

	var dt dtype.Dtype
	cdt := C.mlx_array_dtype(a)
	for d, c := range dtypes {
		if c == cdt {
			dt = d
			break
		}
	}

	e.live.Add(1)
	return &buffer{e: e, a: a, sh: sh, dt: dt, s: s}
}

func (b *buffer) Shape() shape.Shape       { return b.sh.Clone() }
func (b *buffer) Dtype() dtype.Dtype       { return b.dt }
func (b *buffer) Stream() placement.Stream { return b.s }

func (b *buffer) Eval() error {
	if b.released.Load() {
		return fmt.Errorf("%w: buffer released", engine.ErrInvalidOp)
	}
	b.e.mu.Lock()
	defer b.e.mu.Unlock()
	return b.e.check("eval", C.mlx_array_eval(b.a))
}

// Bytes kopiert die Daten im Zeilen-Layout. Views wie Transpose werden
// dafuer ueber ein 1-D Reshape zusammenhaengend gemacht.
func (b *buffer) Bytes() ([]byte, error) {
	if b.released.Load() {
		return nil, fmt.Errorf("%w: buffer released", engine.ErrInvalidOp)
	}

	n := b.sh.NumElements()
	size := n * b.dt.Size()
	if size == 0 {
		return []byte{}, nil
	}

	b.e.mu.Lock()
	defer b.e.mu.Unlock()

	cs, err := b.e.stream(b.s)
	if err != nil {
		return nil, err
	}

	flat := C.mlx_array_new()
	defer C.mlx_array_free(flat)
	dims := []C.int{C.int(n)}
	if err := b.e.check("reshape", C.mlx_reshape(&flat, b.a, &dims[0], 1, cs)); err != nil {
		return nil, err
	}
	if err := b.e.check("eval", C.mlx_array_eval(flat)); err != nil {
		return nil, err
	}

	ptr := C.array_data(flat)
	if ptr == nil {
		return nil, fmt.Errorf("%w: mlx returned no data for %s", engine.ErrInvalidOp, b.dt)
	}
	return C.GoBytes(ptr, C.int(size)), nil
}

func (b *buffer) Release() {
	if b.released.Swap(true) {
		return
	}
	b.e.mu.Lock()
	defer b.e.mu.Unlock()
	C.mlx_array_free(b.a)
	b.e.live.Add(-1)
}
