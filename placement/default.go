// default.go - Prozessweite Default-Placement
//
// Enthaelt:
// - DefaultDevice / SetDefaultDevice
// - SetDefaultStream: Default-Stream pro Device ueberschreiben
// - Push/Pop: Stack fuer scoped Overrides (stream(...) Kontexte)
// - Resolve: Directive in einen konkreten Stream aufloesen
//
// Schreibzugriffe sind Konfiguration und gelten fuer alle folgenden Aufrufe
// auf allen Goroutines. Es darf nur einen Schreiber geben, der Mutex schuetzt
// nur den Speicher, nicht die Reihenfolge.
package placement

import (
	"log/slog"
	"sync"

	"github.com/emirpasic/gods/v2/stacks/arraystack"
)

// Source liefert die impliziten Default-Streams eines Devices. Die Engine
// implementiert das.
type Source interface {
	DefaultStream(Device) (Stream, error)
}

var state = struct {
	sync.RWMutex
	device  Device
	streams map[Device]Stream
	scoped  *arraystack.Stack[Directive]
}{
	streams: make(map[Device]Stream),
	scoped:  arraystack.New[Directive](),
}

// DefaultDevice gibt das ambiente Default-Device zurueck
func DefaultDevice() Device {
	state.RLock()
	defer state.RUnlock()
	return state.device
}

// SetDefaultDevice setzt das ambiente Default-Device
func SetDefaultDevice(d Device) {
	state.Lock()
	defer state.Unlock()
	slog.Debug("default device changed", "from", state.device, "to", d)
	state.device = d
}

// SetDefaultStream macht s zum Default-Stream seines Devices
func SetDefaultStream(s Stream) {
	state.Lock()
	defer state.Unlock()
	slog.Debug("default stream changed", "stream", s)
	state.streams[s.Device] = s
}

// DefaultStreamOverride gibt den mit SetDefaultStream gesetzten Stream fuer d zurueck
func DefaultStreamOverride(d Device) (Stream, bool) {
	state.RLock()
	defer state.RUnlock()
	s, ok := state.streams[d]
	return s, ok
}

// Push aktiviert einen scoped Override
func Push(p Directive) {
	state.Lock()
	defer state.Unlock()
	state.scoped.Push(p)
}

// Pop beendet den innersten scoped Override
func Pop() (Directive, bool) {
	state.Lock()
	defer state.Unlock()
	return state.scoped.Pop()
}

// Current gibt den innersten scoped Override zurueck, sonst None
func Current() Directive {
	state.RLock()
	defer state.RUnlock()
	if p, ok := state.scoped.Peek(); ok {
		return p
	}
	return None()
}

// Reset setzt alle Defaults auf d zurueck und leert den Override-Stack
func Reset(d Device) {
	state.Lock()
	defer state.Unlock()
	state.device = d
	clear(state.streams)
	state.scoped.Clear()
}

// Resolve loest p in einen konkreten Stream auf:
//   - Stream: wird direkt verwendet
//   - Device: dessen Default-Stream
//   - None: innerster scoped Override, sonst das Default-Device
func Resolve(p Directive, src Source) (Stream, error) {
	if p.IsNone() {
		p = Current()
	}
	if p.IsNone() {
		p = OnDevice(DefaultDevice())
	}

	if s, ok := p.Stream(); ok {
		return s, nil
	}
	d, _ := p.Device()
	if s, ok := DefaultStreamOverride(d); ok {
		return s, nil
	}
	return src.DefaultStream(d)
}
