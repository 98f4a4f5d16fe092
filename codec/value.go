// value.go - Einzelnes Element in seiner breitesten Darstellung
//
// Enthaelt:
// - Class: bool, int, uint, float, complex
// - Value mit Konstruktoren und Konvertierungen
//
// Flattener und CPU-Engine tauschen Elemente als Value aus, damit int64 und
// uint64 nicht ueber float64 laufen muessen.
package codec

import (
	"math"
	"strconv"
)

// Class ist die Wertdomaene eines Elements.
type Class uint8

const (
	ClassBool Class = iota
	ClassInt
	ClassUint
	ClassFloat
	ClassComplex
)

func (c Class) String() string {
	switch c {
	case ClassBool:
		return "bool"
	case ClassInt:
		return "int"
	case ClassUint:
		return "uint"
	case ClassFloat:
		return "float"
	case ClassComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Value haelt ein Element. Der Nullwert ist false.
type Value struct {
	class Class
	i     int64
	u     uint64
	f     float64
	c     complex128
}

func BoolValue(b bool) Value {
	v := Value{class: ClassBool}
	if b {
		v.u = 1
	}
	return v
}

func IntValue(i int64) Value          { return Value{class: ClassInt, i: i} }
func UintValue(u uint64) Value        { return Value{class: ClassUint, u: u} }
func FloatValue(f float64) Value      { return Value{class: ClassFloat, f: f} }
func ComplexValue(c complex128) Value { return Value{class: ClassComplex, c: c} }

// Class gibt die Domaene zurueck
func (v Value) Class() Class { return v.class }

// Bool meldet ob der Wert ungleich null ist
func (v Value) Bool() bool {
	switch v.class {
	case ClassInt:
		return v.i != 0
	case ClassFloat:
		return v.f != 0
	case ClassComplex:
		return v.c != 0
	default:
		return v.u != 0
	}
}

// Int konvertiert nach int64. Gleitkomma wird abgeschnitten, NaN ergibt 0.
func (v Value) Int() int64 {
	switch v.class {
	case ClassInt:
		return v.i
	case ClassFloat:
		return floatToInt(v.f)
	case ClassComplex:
		return floatToInt(real(v.c))
	default:
		return int64(v.u)
	}
}

// Uint konvertiert nach uint64. Negative Werte laufen ueber wie in C.
func (v Value) Uint() uint64 {
	switch v.class {
	case ClassInt:
		return uint64(v.i)
	case ClassFloat:
		return floatToUint(v.f)
	case ClassComplex:
		return floatToUint(real(v.c))
	default:
		return v.u
	}
}

// Float konvertiert nach float64, complex gibt den Realteil zurueck.
func (v Value) Float() float64 {
	switch v.class {
	case ClassInt:
		return float64(v.i)
	case ClassFloat:
		return v.f
	case ClassComplex:
		return real(v.c)
	default:
		return float64(v.u)
	}
}

// Complex konvertiert nach complex128
func (v Value) Complex() complex128 {
	if v.class == ClassComplex {
		return v.c
	}
	return complex(v.Float(), 0)
}

// Any gibt den Wert als Go-Wert seiner Domaene zurueck
func (v Value) Any() any {
	switch v.class {
	case ClassBool:
		return v.u != 0
	case ClassInt:
		return v.i
	case ClassUint:
		return v.u
	case ClassFloat:
		return v.f
	default:
		return [2]float32{float32(real(v.c)), float32(imag(v.c))}
	}
}

func (v Value) String() string {
	switch v.class {
	case ClassBool:
		return strconv.FormatBool(v.u != 0)
	case ClassInt:
		return strconv.FormatInt(v.i, 10)
	case ClassUint:
		return strconv.FormatUint(v.u, 10)
	case ClassFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return strconv.FormatComplex(v.c, 'g', -1, 64)
	}
}

func floatToInt(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

func floatToUint(f float64) uint64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f < 0:
		return uint64(floatToInt(f))
	case f >= math.MaxUint64:
		return math.MaxUint64
	}
	return uint64(f)
}
