// engine.go - Auswahl der prozessweiten Engine
//
// Enthaelt:
// - Use: Engine explizit setzen (Tests, eingebettete Nutzung)
// - Engine: Engine lazy aus MLXBRIDGE_ENGINE oeffnen
// - Devices: sichtbare Devices unter Beachtung von MLXBRIDGE_NO_GPU
// - resolve: Placement-Angabe in Engine und Stream aufloesen
package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ollama/mlxbridge/engine"
	_ "github.com/ollama/mlxbridge/engine/cpu"
	"github.com/ollama/mlxbridge/envconfig"
	"github.com/ollama/mlxbridge/placement"
)

var current struct {
	sync.Mutex
	e engine.Engine
}

// Use macht e zur Engine aller folgenden Aufrufe und setzt die
// Default-Placement auf das bevorzugte Device von e zurueck.
func Use(e engine.Engine) {
	current.Lock()
	defer current.Unlock()
	current.e = e
	placement.Reset(defaultDevice(e))
	slog.Debug("engine selected", "engine", e.Name(), "device", placement.DefaultDevice())
}

// Engine gibt die aktuelle Engine zurueck und oeffnet sie beim ersten
// Aufruf. mlx faellt auf cpu zurueck wenn die Engine nicht verfuegbar ist.
func Engine() (engine.Engine, error) {
	current.Lock()
	defer current.Unlock()
	if current.e != nil {
		return current.e, nil
	}

	e, err := open(envconfig.Engine())
	if err != nil {
		return nil, err
	}
	current.e = e
	placement.Reset(defaultDevice(e))
	slog.Debug("engine selected", "engine", e.Name(), "device", placement.DefaultDevice())
	return e, nil
}

func open(name string) (engine.Engine, error) {
	switch name {
	case "cpu":
		return engine.Open("cpu")
	case "mlx":
		e, err := engine.Open("mlx")
		if errors.Is(err, engine.ErrUnavailable) {
			slog.Warn("mlx engine unavailable, falling back to cpu", "error", err)
			return engine.Open("cpu")
		}
		return e, err
	default:
		e, err := engine.Open("mlx")
		if errors.Is(err, engine.ErrUnavailable) {
			slog.Debug("mlx engine unavailable, using cpu", "error", err)
			return engine.Open("cpu")
		}
		return e, err
	}
}

// defaultDevice waehlt das Start-Device: MLXBRIDGE_DEVICE falls gesetzt und
// vorhanden, sonst das bevorzugte Device der Engine.
func defaultDevice(e engine.Engine) placement.Device {
	d := e.PreferredDevice()
	if s := envconfig.Device(); s != "" {
		want, err := placement.ParseDevice(s)
		switch {
		case err != nil:
			slog.Warn("invalid MLXBRIDGE_DEVICE, using engine default", "device", s, "error", err)
		case !engine.HasDevice(e, want):
			slog.Warn("device not available, using engine default", "device", want, "engine", e.Name())
		default:
			d = want
		}
	}
	if d.Kind == placement.GPUKind && envconfig.NoGPU() {
		d = placement.CPU()
	}
	return d
}

// Devices gibt die nutzbaren Devices der aktuellen Engine zurueck
func Devices() ([]placement.Device, error) {
	e, err := Engine()
	if err != nil {
		return nil, err
	}

	var devices []placement.Device
	for _, d := range e.Devices() {
		if d.Kind == placement.GPUKind && envconfig.NoGPU() {
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// resolve loest p gegen die Default-Placement auf
func resolve(p placement.Directive) (engine.Engine, placement.Stream, error) {
	e, err := Engine()
	if err != nil {
		return nil, placement.Stream{}, err
	}
	s, err := placement.Resolve(p, e)
	if err != nil {
		return nil, placement.Stream{}, err
	}
	if s.Device.Kind == placement.GPUKind && envconfig.NoGPU() {
		return nil, placement.Stream{}, fmt.Errorf("%w: %s is disabled by MLXBRIDGE_NO_GPU", engine.ErrUnavailable, s.Device)
	}
	return e, s, nil
}
