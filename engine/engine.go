// engine.go - Schnittstelle zur externen Tensor-Engine
//
// Enthaelt:
// - Buffer: undurchsichtiges, referenzgezaehltes Engine-Array
// - Engine: Erzeugung, Struktur- und Rechenoperationen, Streams
// - Register/Open: Registry der verfuegbaren Engines
//
// Alle Operationen sind lazy. Erst Eval, Bytes oder Synchronize rechnen.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

// ErrUnavailable: die Engine oder ein angefordertes Device kann nicht
// initialisiert werden. Aufrufer koennen auf die CPU-Engine ausweichen.
var ErrUnavailable = errors.New("engine unavailable")

// ErrInvalidOp: die Argumente einer Operation passen nicht zu den Eingaben,
// z.B. unvertraegliche Shapes, doppelte Achsen oder step == 0.
var ErrInvalidOp = errors.New("invalid operation")

// Buffer ist ein Tensor der Engine. Der Besitzer haelt genau eine Referenz
// und gibt sie mit Release genau einmal zurueck.
type Buffer interface {
	Shape() shape.Shape
	Dtype() dtype.Dtype
	Stream() placement.Stream

	// Eval materialisiert den Buffer und blockiert bis die Bytes da sind
	Eval() error

	// Bytes materialisiert und gibt die Daten im Engine-Layout zurueck.
	// Das Slice gehoert der Engine und darf nicht veraendert werden.
	Bytes() ([]byte, error)

	Release()
}

// Engine ist die externe Rechen-Engine.
type Engine interface {
	Name() string

	Devices() []placement.Device
	PreferredDevice() placement.Device
	DefaultStream(placement.Device) (placement.Stream, error)
	NewStream(placement.Device) (placement.Stream, error)
	Synchronize(placement.Stream) error

	// FromBytes kopiert data (Engine-Layout) in einen neuen Buffer
	FromBytes(data []byte, sh shape.Shape, dt dtype.Dtype, s placement.Stream) (Buffer, error)
	Zeros(sh shape.Shape, dt dtype.Dtype, s placement.Stream) (Buffer, error)
	Ones(sh shape.Shape, dt dtype.Dtype, s placement.Stream) (Buffer, error)
	Full(sh shape.Shape, fill Buffer, dt dtype.Dtype, s placement.Stream) (Buffer, error)
	Arange(start, stop, step float64, dt dtype.Dtype, s placement.Stream) (Buffer, error)

	AsType(b Buffer, dt dtype.Dtype, s placement.Stream) (Buffer, error)
	Copy(b Buffer, s placement.Stream) (Buffer, error)
	Reshape(b Buffer, sh shape.Shape, s placement.Stream) (Buffer, error)
	// Transpose mit axes == nil kehrt die Achsen um
	Transpose(b Buffer, axes []int, s placement.Stream) (Buffer, error)
	MoveAxis(b Buffer, src, dst int, s placement.Stream) (Buffer, error)
	SwapAxes(b Buffer, a1, a2 int, s placement.Stream) (Buffer, error)

	Add(a, b Buffer, s placement.Stream) (Buffer, error)
	Multiply(a, b Buffer, s placement.Stream) (Buffer, error)
	Matmul(a, b Buffer, s placement.Stream) (Buffer, error)
	Where(cond, x, y Buffer, s placement.Stream) (Buffer, error)
}

// Factory erzeugt eine Engine.
type Factory func() (Engine, error)

var registry = struct {
	sync.Mutex
	factories map[string]Factory
	open      map[string]Engine
}{
	factories: make(map[string]Factory),
	open:      make(map[string]Engine),
}

// Register registriert eine Engine unter name. Doppelte Namen sind ein
// Programmierfehler.
func Register(name string, f Factory) {
	registry.Lock()
	defer registry.Unlock()
	if _, ok := registry.factories[name]; ok {
		panic("engine: engine already registered: " + name)
	}
	registry.factories[name] = f
}

// Registered gibt die Namen aller registrierten Engines sortiert zurueck
func Registered() []string {
	registry.Lock()
	defer registry.Unlock()
	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open gibt die Engine name zurueck. Jede Engine wird pro Prozess nur
// einmal erzeugt.
func Open(name string) (Engine, error) {
	registry.Lock()
	defer registry.Unlock()

	if e, ok := registry.open[name]; ok {
		return e, nil
	}

	f, ok := registry.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not compiled in (have %v)", ErrUnavailable, name, mapKeys(registry.factories))
	}

	e, err := f()
	if err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
	}

	slog.Debug("engine opened", "engine", name, "devices", e.Devices(), "preferred", e.PreferredDevice())
	registry.open[name] = e
	return e, nil
}

// HasDevice meldet ob e das Device d hat
func HasDevice(e Engine, d placement.Device) bool {
	return slices.Contains(e.Devices(), d)
}

func mapKeys(m map[string]Factory) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
