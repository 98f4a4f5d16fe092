package placement

import (
	"encoding/json"
	"errors"
	"testing"
)

type fakeSource struct{}

func (fakeSource) DefaultStream(d Device) (Stream, error) {
	if d.Kind == GPUKind && d.Index > 0 {
		return Stream{}, errors.New("kein solches Device")
	}
	return Stream{Index: int(d.Kind), Device: d}, nil
}

func TestParseDevice(t *testing.T) {
	tests := []struct {
		in   string
		want Device
		err  bool
	}{
		{"cpu", CPU(), false},
		{"", CPU(), false},
		{"gpu", GPU(0), false},
		{"GPU:2", GPU(2), false},
		{"tpu", Device{}, true},
		{"gpu:x", Device{}, true},
		{"gpu:-1", Device{}, true},
	}
	for _, tt := range tests {
		got, err := ParseDevice(tt.in)
		if tt.err {
			if !errors.Is(err, ErrInvalidDevice) {
				t.Errorf("ParseDevice(%q): erwartet ErrInvalidDevice, bekommen %v", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseDevice(%q): erwartet %v, bekommen %v (%v)", tt.in, tt.want, got, err)
		}
	}
}

func TestDeviceJSON(t *testing.T) {
	b, err := json.Marshal(Stream{Index: 3, Device: GPU(1)})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"index":3,"device":{"type":"gpu","index":1}}`
	if string(b) != want {
		t.Errorf("Marshal: erwartet %s, bekommen %s", want, b)
	}
}

func TestDirective(t *testing.T) {
	s := Stream{Index: 4, Device: GPU(0)}

	if !None().IsNone() {
		t.Error("None: sollte leer sein")
	}
	if d, ok := OnStream(s).Device(); !ok || d != GPU(0) {
		t.Errorf("OnStream.Device: bekommen %v", d)
	}
	if !OnDevice(GPU(0)).Matches(s) || OnDevice(CPU()).Matches(s) {
		t.Error("Matches(Device): falsches Ergebnis")
	}
	if !OnStream(s).Matches(s) || OnStream(Stream{Index: 5, Device: GPU(0)}).Matches(s) {
		t.Error("Matches(Stream): falsches Ergebnis")
	}
	if !None().Matches(s) {
		t.Error("Matches(None): sollte immer passen")
	}
}

func TestResolve(t *testing.T) {
	Reset(CPU())
	defer Reset(CPU())

	s, err := Resolve(None(), fakeSource{})
	if err != nil || s != (Stream{Index: 0, Device: CPU()}) {
		t.Errorf("Resolve(None): bekommen %v, %v", s, err)
	}

	s, err = Resolve(OnDevice(GPU(0)), fakeSource{})
	if err != nil || s.Device != GPU(0) {
		t.Errorf("Resolve(gpu): bekommen %v, %v", s, err)
	}

	explicit := Stream{Index: 9, Device: CPU()}
	if s, _ := Resolve(OnStream(explicit), fakeSource{}); s != explicit {
		t.Errorf("Resolve(Stream): bekommen %v", s)
	}

	if _, err := Resolve(OnDevice(GPU(3)), fakeSource{}); err == nil {
		t.Error("Resolve(gpu:3): erwartet Fehler")
	}
}

func TestDefaultStreamOverride(t *testing.T) {
	Reset(CPU())
	defer Reset(CPU())

	custom := Stream{Index: 7, Device: CPU()}
	SetDefaultStream(custom)

	if s, _ := Resolve(None(), fakeSource{}); s != custom {
		t.Errorf("Resolve nach SetDefaultStream: erwartet %v, bekommen %v", custom, s)
	}
	// andere Devices bleiben unberuehrt
	if s, _ := Resolve(OnDevice(GPU(0)), fakeSource{}); s.Index != int(GPUKind) {
		t.Errorf("Resolve(gpu): bekommen %v", s)
	}
}

func TestScopedStack(t *testing.T) {
	Reset(CPU())
	defer Reset(CPU())

	Push(OnDevice(GPU(0)))
	inner := Stream{Index: 11, Device: CPU()}
	Push(OnStream(inner))

	if s, _ := Resolve(None(), fakeSource{}); s != inner {
		t.Errorf("innerer Override: erwartet %v, bekommen %v", inner, s)
	}

	Pop()
	if s, _ := Resolve(None(), fakeSource{}); s.Device != GPU(0) {
		t.Errorf("aeusserer Override: bekommen %v", s)
	}

	Pop()
	if !Current().IsNone() {
		t.Errorf("Current: erwartet None, bekommen %v", Current())
	}
	if _, ok := Pop(); ok {
		t.Error("Pop auf leerem Stack: erwartet ok=false")
	}
}
