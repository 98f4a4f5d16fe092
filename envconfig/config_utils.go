// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"MLXBRIDGE_DEBUG":        {"MLXBRIDGE_DEBUG", LogLevel(), "Show additional debug information (e.g. MLXBRIDGE_DEBUG=1)"},
		"MLXBRIDGE_HOST":         {"MLXBRIDGE_HOST", Host(), "IP Address for the bridge server (default 127.0.0.1:11500)"},
		"MLXBRIDGE_ORIGINS":      {"MLXBRIDGE_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"MLXBRIDGE_ENGINE":       {"MLXBRIDGE_ENGINE", Engine(), "Tensor engine to use: cpu, mlx or auto (default auto)"},
		"MLXBRIDGE_DEVICE":       {"MLXBRIDGE_DEVICE", Device(), "Default device, e.g. cpu or gpu:0 (default: engine preference)"},
		"MLXBRIDGE_NO_GPU":       {"MLXBRIDGE_NO_GPU", NoGPU(), "Never place arrays on a GPU"},
		"MLXBRIDGE_CHUNK_BYTES":  {"MLXBRIDGE_CHUNK_BYTES", ChunkBytes(), "Maximum payload bytes per streamed data frame (default 65536)"},
		"MLXBRIDGE_HEARTBEAT":    {"MLXBRIDGE_HEARTBEAT", Heartbeat(), "Interval between heartbeat frames on streams (default \"15s\")"},
		"MLXBRIDGE_MAX_REQUESTS": {"MLXBRIDGE_MAX_REQUESTS", MaxRequests(), "Maximum number of concurrently evaluated requests"},
		"MLXBRIDGE_THREADS":      {"MLXBRIDGE_THREADS", Threads(), "Worker goroutines of the cpu engine (default GOMAXPROCS)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
