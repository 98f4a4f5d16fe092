// promote.go - Typ-Promotion fuer binaere Operationen
package dtype

// Promote gibt den Ergebnistyp einer binaeren Operation zurueck.
// Regeln wie bei MLX:
//   - complex gewinnt immer
//   - Gleitkomma gewinnt gegen Integer und bool, float16+bfloat16 ergibt float32
//   - gemischte Integer nehmen den naechstbreiteren vorzeichenbehafteten Typ
//   - uint64 mit einem signed Typ ergibt float32
func Promote(a, b Dtype) Dtype {
	if a == b {
		return a
	}

	switch {
	case a.IsComplex() || b.IsComplex():
		return Complex64
	case a.IsFloating() && b.IsFloating():
		return promoteFloat(a, b)
	case a.IsFloating():
		return a
	case b.IsFloating():
		return b
	case a == Bool:
		return b
	case b == Bool:
		return a
	case a.IsSigned() == b.IsSigned():
		if a.Size() >= b.Size() {
			return a
		}
		return b
	}

	s, u := a, b
	if u.IsSigned() {
		s, u = u, s
	}
	if u.Size() < s.Size() {
		return s
	}
	switch u {
	case Uint8:
		return Int16
	case Uint16:
		return Int32
	case Uint32:
		return Int64
	default:
		return Float32
	}
}

func promoteFloat(a, b Dtype) Dtype {
	switch {
	case a == Float64 || b == Float64:
		return Float64
	case a == Float32 || b == Float32:
		return Float32
	default:
		// float16 mit bfloat16
		return Float32
	}
}
