// stream.go - Placement-Oberflaeche
//
// Enthaelt:
// - DefaultDevice, SetDefaultDevice
// - DefaultStream, NewStream, SetDefaultStream, Synchronize
// - Stream/StreamContext: scoped Override mit Enter/Exit
// - WithStream: fuehrt eine Funktion unter einem Override aus
//
// Default-Device und Default-Streams sind prozessweit. Es darf nur einen
// Schreiber geben.
package core

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ollama/mlxbridge/args"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/placement"
)

// ErrStreamContext: ein StreamContext wurde falsch betreten oder verlassen.
var ErrStreamContext = errors.New("invalid stream context")

// device liest ein optionales Device-Argument. nil ergibt das Default-Device,
// ein Stream sein Device.
func device(v any) (placement.Device, error) {
	if v == nil {
		if _, err := Engine(); err != nil {
			return placement.Device{}, err
		}
		return placement.DefaultDevice(), nil
	}

	p, ok, err := args.ClassifyPlacement(v)
	if err != nil {
		return placement.Device{}, err
	}
	if !ok {
		return placement.Device{}, fmt.Errorf("%w: %v (%T) is not a device", args.ErrUnrecognizedArgument, v, v)
	}
	d, _ := p.Device()
	return d, nil
}

// DefaultDevice gibt das aktuelle Default-Device zurueck
func DefaultDevice() (placement.Device, error) {
	return device(nil)
}

// SetDefaultDevice setzt das Default-Device. Das Device muss in der Engine
// vorhanden sein.
func SetDefaultDevice(v any) error {
	d, err := device(v)
	if err != nil {
		return err
	}
	if _, _, err := resolve(placement.OnDevice(d)); err != nil {
		return err
	}
	placement.SetDefaultDevice(d)
	return nil
}

// DefaultStream gibt den Default-Stream von d zurueck (nil: Default-Device)
func DefaultStream(d any) (placement.Stream, error) {
	dev, err := device(d)
	if err != nil {
		return placement.Stream{}, err
	}
	_, s, err := resolve(placement.OnDevice(dev))
	return s, err
}

// NewStream legt einen neuen Stream auf d an (nil: Default-Device)
func NewStream(d any) (placement.Stream, error) {
	dev, err := device(d)
	if err != nil {
		return placement.Stream{}, err
	}
	e, err := Engine()
	if err != nil {
		return placement.Stream{}, err
	}
	return e.NewStream(dev)
}

// SetDefaultStream macht s zum Default-Stream seines Devices. Das
// Default-Device bleibt unveraendert.
func SetDefaultStream(s placement.Stream) error {
	e, err := Engine()
	if err != nil {
		return err
	}
	if !engine.HasDevice(e, s.Device) {
		return fmt.Errorf("%w: %s is not a device of the %s engine", engine.ErrUnavailable, s.Device, e.Name())
	}
	placement.SetDefaultStream(s)
	return nil
}

// Synchronize wartet bis alle Operationen auf dem Stream fertig sind. v ist
// ein Stream, ein Device (dessen Default-Stream) oder nil.
func Synchronize(v any) error {
	var p placement.Directive
	if v != nil {
		var ok bool
		var err error
		if p, ok, err = args.ClassifyPlacement(v); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: synchronize expects a stream or device, got %v (%T)", args.ErrUnrecognizedArgument, v, v)
		}
	}

	e, s, err := resolve(p)
	if err != nil {
		return err
	}
	return e.Synchronize(s)
}

// ============================================================================
// Scoped Override
// ============================================================================

// StreamContext setzt eine Placement fuer alle Aufrufe ohne eigene
// Placement, zwischen Enter und Exit.
type StreamContext struct {
	mu      sync.Mutex
	target  placement.Directive
	entered bool
	exited  bool
}

// Stream erzeugt einen StreamContext fuer einen Stream oder ein Device
func Stream(v any) (*StreamContext, error) {
	p, ok, err := args.ClassifyPlacement(v)
	if err != nil {
		return nil, err
	}
	if !ok || p.IsNone() {
		return nil, fmt.Errorf("%w: stream expects a stream or device, got %v (%T)", args.ErrUnrecognizedArgument, v, v)
	}
	if _, _, err := resolve(p); err != nil {
		return nil, err
	}
	return &StreamContext{target: p}, nil
}

// Target gibt die Placement des Kontexts zurueck
func (c *StreamContext) Target() placement.Directive { return c.target }

// Enter aktiviert den Override. Ein Kontext kann nur einmal betreten werden.
func (c *StreamContext) Enter() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entered {
		return fmt.Errorf("%w: %s entered twice", ErrStreamContext, c.target)
	}
	c.entered = true
	placement.Push(c.target)
	return nil
}

// Exit beendet den Override. Er muss der innerste aktive Override sein.
func (c *StreamContext) Exit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.entered:
		return fmt.Errorf("%w: %s exited before enter", ErrStreamContext, c.target)
	case c.exited:
		return fmt.Errorf("%w: %s exited twice", ErrStreamContext, c.target)
	}

	if top := placement.Current(); top != c.target {
		return fmt.Errorf("%w: %s is not the innermost context (innermost is %s)", ErrStreamContext, c.target, top)
	}
	placement.Pop()
	c.exited = true
	return nil
}

// WithStream fuehrt fn mit v als Default-Placement aus
func WithStream(v any, fn func() error) error {
	c, err := Stream(v)
	if err != nil {
		return err
	}
	if err := c.Enter(); err != nil {
		return err
	}
	defer c.Exit()
	return fn()
}
