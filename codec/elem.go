// elem.go - Elementzugriff im Engine-Layout
//
// Enthaelt:
// - Load/Store eines Elements fuer jeden Dtype
// - Pack/Unpack ganzer Puffer
// - Float32s: Konvertierung fuer toFloat32Array
//
// Engine-Layout: little-endian, bool ein Byte (0/1), float16 und bfloat16
// als 16-Bit Muster, complex64 als (real, imag) float32-Paar.
package codec

import (
	"encoding/binary"
	"math"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/ollama/mlxbridge/dtype"
)

var le = binary.LittleEndian

// Load liest Element i aus data
func Load(data []byte, dt dtype.Dtype, i int) Value {
	p := data[i*dt.Size():]
	switch dt {
	case dtype.Bool:
		return BoolValue(p[0] != 0)
	case dtype.Int8:
		return IntValue(int64(int8(p[0])))
	case dtype.Int16:
		return IntValue(int64(int16(le.Uint16(p))))
	case dtype.Int32:
		return IntValue(int64(int32(le.Uint32(p))))
	case dtype.Int64:
		return IntValue(int64(le.Uint64(p)))
	case dtype.Uint8:
		return UintValue(uint64(p[0]))
	case dtype.Uint16:
		return UintValue(uint64(le.Uint16(p)))
	case dtype.Uint32:
		return UintValue(uint64(le.Uint32(p)))
	case dtype.Uint64:
		return UintValue(le.Uint64(p))
	case dtype.Float16:
		return FloatValue(float64(float16.Frombits(le.Uint16(p)).Float32()))
	case dtype.Bfloat16:
		return FloatValue(float64(bf16ToFloat32(le.Uint16(p))))
	case dtype.Float32:
		return FloatValue(float64(math.Float32frombits(le.Uint32(p))))
	case dtype.Float64:
		return FloatValue(math.Float64frombits(le.Uint64(p)))
	case dtype.Complex64:
		re := math.Float32frombits(le.Uint32(p))
		im := math.Float32frombits(le.Uint32(p[4:]))
		return ComplexValue(complex(float64(re), float64(im)))
	}
	return Value{}
}

// Store schreibt v als Element i nach data und konvertiert dabei in dt.
func Store(data []byte, dt dtype.Dtype, i int, v Value) {
	p := data[i*dt.Size():]
	switch dt {
	case dtype.Bool:
		if v.Bool() {
			p[0] = 1
		} else {
			p[0] = 0
		}
	case dtype.Int8:
		p[0] = byte(int8(v.Int()))
	case dtype.Int16:
		le.PutUint16(p, uint16(int16(v.Int())))
	case dtype.Int32:
		le.PutUint32(p, uint32(int32(v.Int())))
	case dtype.Int64:
		le.PutUint64(p, uint64(v.Int()))
	case dtype.Uint8:
		p[0] = byte(v.Uint())
	case dtype.Uint16:
		le.PutUint16(p, uint16(v.Uint()))
	case dtype.Uint32:
		le.PutUint32(p, uint32(v.Uint()))
	case dtype.Uint64:
		le.PutUint64(p, v.Uint())
	case dtype.Float16:
		le.PutUint16(p, float16.Fromfloat32(float32(v.Float())).Bits())
	case dtype.Bfloat16:
		copy(p[:2], bfloat16.EncodeFloat32([]float32{float32(v.Float())}))
	case dtype.Float32:
		le.PutUint32(p, math.Float32bits(float32(v.Float())))
	case dtype.Float64:
		le.PutUint64(p, math.Float64bits(v.Float()))
	case dtype.Complex64:
		c := v.Complex()
		le.PutUint32(p, math.Float32bits(float32(real(c))))
		le.PutUint32(p[4:], math.Float32bits(float32(imag(c))))
	}
}

// bfloat16 ist die obere Haelfte eines float32, das Lesen ist exakt.
func bf16ToFloat32(bits uint16) float32 {
	return math.Float32frombits(uint32(bits) << 16)
}

// Pack schreibt eine Folge von Werten als dt in einen neuen Puffer
func Pack(values []Value, dt dtype.Dtype) []byte {
	data := make([]byte, len(values)*dt.Size())
	if dt == dtype.Bfloat16 {
		fs := make([]float32, len(values))
		for i, v := range values {
			fs[i] = float32(v.Float())
		}
		copy(data, bfloat16.EncodeFloat32(fs))
		return data
	}
	for i, v := range values {
		Store(data, dt, i, v)
	}
	return data
}

// Unpack liest alle Elemente eines Puffers
func Unpack(data []byte, dt dtype.Dtype) []Value {
	n := len(data) / dt.Size()
	out := make([]Value, n)
	for i := range out {
		out[i] = Load(data, dt, i)
	}
	return out
}

// Float32s konvertiert jedes Element nach float32. complex64 liefert den
// Realteil, bool 0 oder 1.
func Float32s(data []byte, dt dtype.Dtype) []float32 {
	n := len(data) / dt.Size()
	switch dt {
	case dtype.Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(le.Uint32(data[i*4:]))
		}
		return out
	case dtype.Bfloat16:
		return bfloat16.DecodeFloat32(data[:n*2])
	}

	out := make([]float32, n)
	for i := range out {
		out[i] = float32(Load(data, dt, i).Float())
	}
	return out
}
