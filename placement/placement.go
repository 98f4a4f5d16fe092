// placement.go - Device/Stream Wertmodell
//
// Enthaelt:
// - DeviceKind (cpu, gpu) und Device
// - Stream mit eigenem Device
// - Directive: nichts, Device oder Stream
//
// Alle Typen sind Werte, Gleichheit ist strukturell.
package placement

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDevice: ein Device-Name oder Index ist ungueltig.
var ErrInvalidDevice = errors.New("invalid device")

// DeviceKind ist die Art eines Geraets.
type DeviceKind uint8

const (
	CPUKind DeviceKind = iota
	GPUKind
)

func (k DeviceKind) String() string {
	if k == GPUKind {
		return "gpu"
	}
	return "cpu"
}

// ParseDeviceKind akzeptiert "cpu" und "gpu". Ein leerer Name ist cpu.
func ParseDeviceKind(s string) (DeviceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "cpu":
		return CPUKind, nil
	case "gpu":
		return GPUKind, nil
	}
	return 0, fmt.Errorf("%w: %q, expected \"cpu\" or \"gpu\"", ErrInvalidDevice, s)
}

// Device ist ein Geraet mit Art und Index.
type Device struct {
	Kind  DeviceKind `json:"type"`
	Index int        `json:"index"`
}

// CPU gibt das CPU-Geraet zurueck
func CPU() Device { return Device{Kind: CPUKind} }

// GPU gibt das GPU-Geraet mit Index zurueck
func GPU(index int) Device { return Device{Kind: GPUKind, Index: index} }

func (d Device) String() string {
	return fmt.Sprintf("Device(%s, %d)", d.Kind, d.Index)
}

// MarshalText fuer JSON-Ausgaben wie "gpu:0"
func (k DeviceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText akzeptiert "cpu" und "gpu"
func (k *DeviceKind) UnmarshalText(b []byte) error {
	v, err := ParseDeviceKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ParseDevice liest "cpu", "gpu" oder "gpu:1"
func ParseDevice(s string) (Device, error) {
	name, idx, hasIdx := strings.Cut(s, ":")
	kind, err := ParseDeviceKind(name)
	if err != nil {
		return Device{}, err
	}
	d := Device{Kind: kind}
	if hasIdx {
		if _, err := fmt.Sscanf(idx, "%d", &d.Index); err != nil || d.Index < 0 {
			return Device{}, fmt.Errorf("%w: index %q in %q", ErrInvalidDevice, idx, s)
		}
	}
	return d, nil
}

// Stream ist eine Ausfuehrungswarteschlange auf einem Device.
type Stream struct {
	Index  int    `json:"index"`
	Device Device `json:"device"`
}

func (s Stream) String() string {
	return fmt.Sprintf("Stream(%s, %d)", s.Device.Kind, s.Index)
}

type directiveKind uint8

const (
	directiveNone directiveKind = iota
	directiveDevice
	directiveStream
)

// Directive ist ein Placement-Argument: nichts, ein Device oder ein Stream.
type Directive struct {
	kind   directiveKind
	device Device
	stream Stream
}

// None ist die fehlende Placement-Angabe
func None() Directive { return Directive{} }

// OnDevice platziert auf dem Default-Stream von d
func OnDevice(d Device) Directive { return Directive{kind: directiveDevice, device: d} }

// OnStream platziert auf s
func OnStream(s Stream) Directive { return Directive{kind: directiveStream, stream: s, device: s.Device} }

// IsNone meldet ob keine Angabe vorliegt
func (p Directive) IsNone() bool { return p.kind == directiveNone }

// Device gibt das Device zurueck, fuer Streams deren Device
func (p Directive) Device() (Device, bool) {
	return p.device, p.kind != directiveNone
}

// Stream gibt den Stream zurueck falls einer angegeben ist
func (p Directive) Stream() (Stream, bool) {
	return p.stream, p.kind == directiveStream
}

func (p Directive) String() string {
	switch p.kind {
	case directiveDevice:
		return p.device.String()
	case directiveStream:
		return p.stream.String()
	}
	return "default"
}

// Matches meldet ob ein Buffer auf s die Angabe p bereits erfuellt.
func (p Directive) Matches(s Stream) bool {
	switch p.kind {
	case directiveDevice:
		return s.Device == p.device
	case directiveStream:
		return s == p.stream
	}
	return true
}
