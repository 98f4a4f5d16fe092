// Package api - Stream-basierte Client-Methoden.
// Dieses Modul enthaelt alle Methoden, die text/event-stream Responses verwenden.

package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ollama/mlxbridge/streaming"
)

// StreamFunc is a function that [Client.StreamTensor] invokes for every
// frame received from the server, heartbeats included. If this function
// returns an error, [Client.StreamTensor] stops and returns this error.
type StreamFunc func(streaming.Frame) error

// StreamTensor reads GET /api/tensors/:id/stream. chunk is the payload
// size per data frame; 0 lets the server pick.
func (c *Client) StreamTensor(ctx context.Context, id string, chunk int, fn StreamFunc) error {
	var q url.Values
	if chunk != 0 {
		q = url.Values{"chunk": {strconv.Itoa(chunk)}}
	}

	request, err := c.request(ctx, http.MethodGet, "/api/tensors/"+url.PathEscape(id)+"/stream", q, nil)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "text/event-stream")

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		body, err := io.ReadAll(response.Body)
		if err != nil {
			return err
		}
		return checkError(response, body)
	}

	msgs, err := streaming.Decode(response.Body)
	if err != nil {
		return err
	}

	for _, m := range msgs {
		f, err := streaming.FromMessage(m)
		if err != nil {
			return err
		}
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// Download streams one array and assembles it into a host buffer.
func (c *Client) Download(ctx context.Context, id string, chunk int) (*streaming.Assembled, error) {
	var frames []streaming.Frame
	if err := c.StreamTensor(ctx, id, chunk, func(f streaming.Frame) error {
		frames = append(frames, f)
		return nil
	}); err != nil {
		return nil, err
	}

	out, err := streaming.Assemble(func(yield func(streaming.Frame, error) bool) {
		for _, f := range frames {
			if !yield(f, nil) {
				return
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: expected one tensor in stream %q, got %d", streaming.ErrFrameOrder, id, len(out))
	}
	return &out[0], nil
}
