// cpu.go - Reine Go Referenz-Engine
//
// Enthaelt:
// - Engine: Devices, Streams, Synchronize
// - Registrierung als "cpu" in init()
// - Info: Beschreibung des Host-Prozessors
//
// Die Engine hat genau ein Device (cpu:0). GPU-Placements schlagen mit
// engine.ErrUnavailable fehl.
package cpu

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/envconfig"
	"github.com/ollama/mlxbridge/placement"
)

func init() {
	engine.Register("cpu", func() (engine.Engine, error) {
		return New(envconfig.Threads()), nil
	})
}

// Engine rechnet alle Operationen in Go auf dem Host.
type Engine struct {
	threads int

	mu         sync.Mutex
	nextStream int
	defaults   map[placement.Device]placement.Stream
	streams    map[placement.Stream]map[*node]struct{}

	live atomic.Int64
}

var _ engine.Engine = (*Engine)(nil)

// New erzeugt eine Engine. threads <= 0 nimmt GOMAXPROCS.
func New(threads int) *Engine {
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	return &Engine{
		threads:  threads,
		defaults: make(map[placement.Device]placement.Stream),
		streams:  make(map[placement.Stream]map[*node]struct{}),
	}
}

func (e *Engine) Name() string { return "cpu" }

// Live gibt die Anzahl nicht freigegebener Buffer zurueck
func (e *Engine) Live() int64 { return e.live.Load() }

func (e *Engine) Devices() []placement.Device {
	return []placement.Device{placement.CPU()}
}

func (e *Engine) PreferredDevice() placement.Device {
	return placement.CPU()
}

func (e *Engine) checkDevice(d placement.Device) error {
	if d != placement.CPU() {
		return fmt.Errorf("%w: cpu engine has no %s", engine.ErrUnavailable, d)
	}
	return nil
}

func (e *Engine) checkStream(s placement.Stream) error {
	if err := e.checkDevice(s.Device); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.streams[s]; !ok {
		return fmt.Errorf("%w: unknown %s", engine.ErrUnavailable, s)
	}
	return nil
}

// DefaultStream gibt den impliziten Stream von d zurueck und legt ihn beim
// ersten Aufruf an.
func (e *Engine) DefaultStream(d placement.Device) (placement.Stream, error) {
	if err := e.checkDevice(d); err != nil {
		return placement.Stream{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.defaults[d]; ok {
		return s, nil
	}
	s := e.newStreamLocked(d)
	e.defaults[d] = s
	return s, nil
}

func (e *Engine) NewStream(d placement.Device) (placement.Stream, error) {
	if err := e.checkDevice(d); err != nil {
		return placement.Stream{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.newStreamLocked(d)
	slog.Debug("stream created", "stream", s)
	return s, nil
}

func (e *Engine) newStreamLocked(d placement.Device) placement.Stream {
	s := placement.Stream{Index: e.nextStream, Device: d}
	e.nextStream++
	e.streams[s] = make(map[*node]struct{})
	return s
}

// Synchronize materialisiert alle offenen Buffer auf s
func (e *Engine) Synchronize(s placement.Stream) error {
	if err := e.checkStream(s); err != nil {
		return err
	}

	e.mu.Lock()
	pending := make([]*node, 0, len(e.streams[s]))
	for n := range e.streams[s] {
		pending = append(pending, n)
	}
	e.mu.Unlock()

	slog.Debug("synchronize", "stream", s, "pending", len(pending))
	for _, n := range pending {
		if n.refs.Load() == 0 {
			continue
		}
		if _, err := n.materialize(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) track(n *node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if set, ok := e.streams[n.stream]; ok {
		set[n] = struct{}{}
	}
}

func (e *Engine) untrack(n *node) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.streams[n.stream], n)
}

// Info beschreibt den Host-Prozessor fuer die Device-Ausgabe.
func Info() map[string]any {
	info := map[string]any{
		"arch":    runtime.GOARCH,
		"threads": runtime.GOMAXPROCS(0),
	}
	switch runtime.GOARCH {
	case "amd64":
		info["avx2"] = cpu.X86.HasAVX2
		info["avx512f"] = cpu.X86.HasAVX512F
		info["fma"] = cpu.X86.HasFMA
	case "arm64":
		info["asimd"] = cpu.ARM64.HasASIMD
		info["fphp"] = cpu.ARM64.HasFPHP
	}
	return info
}
