// classify.go - Klassifikation einzelner Argumente
//
// Enthaelt:
// - ClassifyDtype: Dtype-Werte, Key-Objekte und (permissiv) Strings
// - ClassifyPlacement: Streams, Devices, Device-Namen und JSON-Objekte
// - IsNumber, Ints: numerische Argumente fuer arange und Achsen
package args

import (
	"encoding/json"
	"fmt"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
)

// keyed ist jeder Wert der einen kanonischen Dtype-Key anbietet.
type keyed interface {
	Key() string
}

// ClassifyDtype erkennt ein Dtype-Token. Strings zaehlen nur wenn permissive
// gesetzt ist und exakt einem Key entsprechen.
func ClassifyDtype(v any, permissive bool) (dtype.Dtype, bool) {
	switch v := v.(type) {
	case dtype.Dtype:
		return v, v.Valid()
	case *dtype.Dtype:
		if v == nil {
			return 0, false
		}
		return *v, v.Valid()
	case string:
		if !permissive {
			return 0, false
		}
		return dtype.Lookup(v)
	case keyed:
		return dtype.Lookup(v.Key())
	}
	return 0, false
}

// ClassifyPlacement erkennt ein Stream- oder Device-Token. Ein Objekt mit
// numerischem "index" und "device" ist ein Stream, ein Objekt mit "type"
// ein Device. Der Fehler ist gesetzt wenn ein Objekt wie ein Placement
// aussieht aber ungueltige Felder hat.
func ClassifyPlacement(v any) (placement.Directive, bool, error) {
	switch v := v.(type) {
	case placement.Directive:
		return v, true, nil
	case placement.Stream:
		return placement.OnStream(v), true, nil
	case *placement.Stream:
		if v == nil {
			return placement.None(), false, nil
		}
		return placement.OnStream(*v), true, nil
	case placement.Device:
		return placement.OnDevice(v), true, nil
	case *placement.Device:
		if v == nil {
			return placement.None(), false, nil
		}
		return placement.OnDevice(*v), true, nil
	case placement.DeviceKind:
		return placement.OnDevice(placement.Device{Kind: v}), true, nil
	case string:
		d, err := placement.ParseDevice(v)
		if err != nil {
			return placement.None(), false, nil
		}
		return placement.OnDevice(d), true, nil
	case map[string]any:
		return classifyObject(v)
	}
	return placement.None(), false, nil
}

func classifyObject(m map[string]any) (placement.Directive, bool, error) {
	idx, hasIdx := m["index"]
	dev, hasDev := m["device"]
	if hasIdx && hasDev {
		i, ok := shape.AsInt(idx)
		if !ok || i < 0 {
			return placement.None(), false, fmt.Errorf("%w: stream index %v is not a non-negative integer", ErrUnrecognizedArgument, idx)
		}
		d, err := deviceOf(dev)
		if err != nil {
			return placement.None(), false, err
		}
		return placement.OnStream(placement.Stream{Index: i, Device: d}), true, nil
	}

	if _, ok := m["type"]; ok {
		d, err := deviceOf(m)
		if err != nil {
			return placement.None(), false, err
		}
		return placement.OnDevice(d), true, nil
	}
	return placement.None(), false, nil
}

// deviceOf liest ein Device aus einem Namen, einem Device oder einem
// {type, index} Objekt. Fehlende Felder ergeben cpu bzw. Index 0.
func deviceOf(v any) (placement.Device, error) {
	switch v := v.(type) {
	case placement.Device:
		return v, nil
	case string:
		d, err := placement.ParseDevice(v)
		if err != nil {
			return placement.Device{}, fmt.Errorf("%w: %w", ErrUnrecognizedArgument, err)
		}
		return d, nil
	case map[string]any:
		var d placement.Device
		if t, ok := v["type"]; ok && t != nil {
			name, ok := t.(string)
			if !ok {
				return d, fmt.Errorf("%w: device type %v is not a string", ErrUnrecognizedArgument, t)
			}
			kind, err := placement.ParseDeviceKind(name)
			if err != nil {
				return d, fmt.Errorf("%w: %w", ErrUnrecognizedArgument, err)
			}
			d.Kind = kind
		}
		if raw, ok := v["index"]; ok && raw != nil {
			i, ok := shape.AsInt(raw)
			if !ok || i < 0 {
				return d, fmt.Errorf("%w: device index %v is not a non-negative integer", ErrUnrecognizedArgument, raw)
			}
			d.Index = i
		}
		return d, nil
	}
	return placement.Device{}, fmt.Errorf("%w: %v (%T) is not a device", ErrUnrecognizedArgument, v, v)
}

// IsNumber meldet ob v eine Zahl ist. bool zaehlt nicht.
func IsNumber(v any) bool {
	switch v := v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

// Ints liest eine einzelne Ganzzahl oder eine Liste von Ganzzahlen.
func Ints(v any) ([]int, bool) {
	if i, ok := shape.AsInt(v); ok {
		return []int{i}, true
	}

	var list []any
	switch v := v.(type) {
	case []int:
		return append([]int{}, v...), true
	case shape.Shape:
		return append([]int{}, v...), true
	case []any:
		list = v
	default:
		return nil, false
	}

	out := make([]int, len(list))
	for j, e := range list {
		i, ok := shape.AsInt(e)
		if !ok {
			return nil, false
		}
		out[j] = i
	}
	return out, true
}
