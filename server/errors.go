// MODUL: errors
// ZWECK: Fehler-Definitionen und Abbildung auf HTTP-Status und API-Codes
// INPUT: Fehler aus core, args, codec, flatten, engine
// OUTPUT: JSON-formatierte Fehler-Responses {"error", "code"}
// NEBENEFFEKTE: HTTP-Responses schreiben
// ABHAENGIGKEITEN: gin-gonic/gin
// HINWEISE: Reihenfolge der Tabelle ist relevant, der erste Treffer gewinnt
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ollama/mlxbridge/args"
	"github.com/ollama/mlxbridge/codec"
	"github.com/ollama/mlxbridge/core"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/engine"
	"github.com/ollama/mlxbridge/flatten"
	"github.com/ollama/mlxbridge/host"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/shape"
	"github.com/ollama/mlxbridge/streaming"
	"github.com/ollama/mlxbridge/tree"
)

// ============================================================================
// Server Fehler-Definitionen
// ============================================================================

var (
	// ErrTensorNotFound wird geworfen wenn eine Tensor-ID nicht im Store ist
	ErrTensorNotFound = errors.New("tensor not found")

	// ErrUnknownOp wird geworfen wenn /api/ops/:op keine bekannte Operation ist
	ErrUnknownOp = errors.New("unknown operation")

	// ErrInvalidRequest wird geworfen bei kaputtem JSON oder falschen Feldern
	ErrInvalidRequest = errors.New("invalid request")
)

// ============================================================================
// Fehler-Code Mapping
// ============================================================================

type errorCode struct {
	err    error
	status int
	code   string
}

var errorCodes = []errorCode{
	{ErrTensorNotFound, http.StatusNotFound, "TENSOR_NOT_FOUND"},
	{ErrUnknownOp, http.StatusNotFound, "UNKNOWN_OP"},
	{ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST"},
	{engine.ErrUnavailable, http.StatusServiceUnavailable, "UNAVAILABLE"},
	{core.ErrReleased, http.StatusGone, "RELEASED"},
	{core.ErrStreamContext, http.StatusConflict, "STREAM_CONTEXT"},
	{dtype.ErrUnknownDtype, http.StatusBadRequest, "UNKNOWN_DTYPE"},
	{codec.ErrDtypeBufferMismatch, http.StatusBadRequest, "DTYPE_BUFFER_MISMATCH"},
	{codec.ErrShapeLengthMismatch, http.StatusBadRequest, "SHAPE_LENGTH_MISMATCH"},
	{flatten.ErrRaggedShape, http.StatusBadRequest, "RAGGED_SHAPE"},
	{flatten.ErrUnsupportedValue, http.StatusBadRequest, "UNSUPPORTED_VALUE"},
	{args.ErrUnrecognizedArgument, http.StatusBadRequest, "UNRECOGNIZED_ARGUMENT"},
	{args.ErrMissingArgument, http.StatusBadRequest, "MISSING_ARGUMENT"},
	{shape.ErrInvalidDimension, http.StatusBadRequest, "INVALID_DIMENSION"},
	{shape.ErrNotShape, http.StatusBadRequest, "NOT_A_SHAPE"},
	{shape.ErrBroadcast, http.StatusBadRequest, "BROADCAST"},
	{shape.ErrAxis, http.StatusBadRequest, "AXIS_OUT_OF_RANGE"},
	{engine.ErrInvalidOp, http.StatusBadRequest, "INVALID_OP"},
	{host.ErrKind, http.StatusBadRequest, "HOST_KIND"},
	{host.ErrBounds, http.StatusBadRequest, "HOST_BOUNDS"},
	{placement.ErrInvalidDevice, http.StatusBadRequest, "INVALID_DEVICE"},
	{streaming.ErrChunkSize, http.StatusBadRequest, "CHUNK_SIZE"},
	{tree.ErrNotPrefix, http.StatusBadRequest, "INVALID_TREE"},
}

// errInvalid markiert einen Bind-Fehler als ErrInvalidRequest
func errInvalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
}

// classify gibt Status und Code fuer err zurueck. Unbekannte Fehler sind 500.
func classify(err error) (int, string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR"
}

// ============================================================================
// HTTP Response Helper
// ============================================================================

// writeError schreibt err als JSON Response und bricht die Kette ab
func writeError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	} else {
		slog.Debug("request rejected", "path", c.FullPath(), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "code": code})
}
