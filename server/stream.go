// stream.go - SSE-Streaming eines Tensors
// Enthaelt: StreamTensorHandler mit Heartbeats und optionalem retry

package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/ollama/mlxbridge/streaming"
)

// StreamTensorHandler sendet GET /api/tensors/:id/stream als text/event-stream:
// tensor-header, tensor-chunk*, tensor-end und dazwischen heartbeat.
// Query: chunk (Bytes pro Chunk), retry (Millisekunden fuer den Client).
func (s *Server) StreamTensorHandler(c *gin.Context) {
	id := c.Param("id")
	a, err := s.store.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}

	chunk := s.chunk
	if q := c.Query("chunk"); q != "" {
		if chunk, err = strconv.Atoi(q); err != nil {
			writeError(c, errInvalid(err))
			return
		}
	}
	if chunk < 0 {
		writeError(c, fmt.Errorf("%w: %d", streaming.ErrChunkSize, chunk))
		return
	}
	var retry uint64
	if q := c.Query("retry"); q != "" {
		if retry, err = strconv.ParseUint(q, 10, 32); err != nil {
			writeError(c, errInvalid(err))
			return
		}
	}

	opts := streaming.Options{
		ChunkBytes: chunk,
		ID:         func(int) string { return id },
		Metadata:   streaming.NewMetadata("placement", a.Placement().String()),
	}

	ctx := c.Request.Context()
	ch := make(chan streaming.Frame)
	go func() {
		defer close(ch)
		for f, err := range streaming.Frames(opts, a) {
			if err != nil {
				slog.Debug("tensor stream failed", "id", id, "error", err)
				f = streaming.Error(id, err, false)
			}
			select {
			case ch <- f:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var tick <-chan time.Time
	if s.heartbeat > 0 {
		t := time.NewTicker(s.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	c.Header("Content-Type", sse.ContentType)
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if retry > 0 {
		if _, err := (streaming.Message{Retry: uint(retry)}).WriteTo(c.Writer); err != nil {
			return
		}
	}

	c.Stream(func(w io.Writer) bool {
		select {
		case f, ok := <-ch:
			if !ok {
				return false
			}
			return writeFrame(w, f)
		case t := <-tick:
			return writeFrame(w, streaming.Heartbeat(t))
		case <-ctx.Done():
			return false
		}
	})
}

func writeFrame(w io.Writer, f streaming.Frame) bool {
	m, err := streaming.ToMessage(f)
	if err != nil {
		slog.Error("tensor stream: encoding frame failed", "type", f.Type, "error", err)
		return false
	}
	if _, err := m.WriteTo(w); err != nil {
		slog.Info("tensor stream: write failed", "error", err)
		return false
	}
	return f.Type != streaming.TypeError
}
