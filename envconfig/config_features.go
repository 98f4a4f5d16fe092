// config_features.go - Feature-Flags und Limits
//
// Dieses Modul enthaelt:
// - Feature-Flags (NoGPU)
// - Streaming-Einstellungen
// - Parallelitaets-Einstellungen
package envconfig

// =============================================================================
// Feature-Flags
// =============================================================================

var (
	// NoGPU verbietet GPU-Placements, auch wenn die Engine eine GPU hat
	NoGPU = Bool("MLXBRIDGE_NO_GPU")
)

// =============================================================================
// Streaming
// =============================================================================

var (
	// ChunkBytes ist die maximale Anzahl Nutzbytes pro Data-Frame
	// Konfigurierbar via MLXBRIDGE_CHUNK_BYTES
	ChunkBytes = Uint("MLXBRIDGE_CHUNK_BYTES", 64*1024)
)

// =============================================================================
// Parallelitaets- und Queue-Einstellungen
// =============================================================================

var (
	// MaxRequests begrenzt gleichzeitig laufende Operationen im Server
	// Konfigurierbar via MLXBRIDGE_MAX_REQUESTS
	MaxRequests = Uint("MLXBRIDGE_MAX_REQUESTS", 4)

	// threads setzt die Worker der CPU-Engine, 0 = GOMAXPROCS
	threads = Uint("MLXBRIDGE_THREADS", 0)
)

// Threads gibt die Worker-Anzahl der CPU-Engine zurueck
// Konfigurierbar via MLXBRIDGE_THREADS
// Default: 0 (GOMAXPROCS)
func Threads() int {
	return int(threads())
}
