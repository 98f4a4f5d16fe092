// Package api - Einfache API-Methoden des Clients.
// Dieses Modul enthaelt alle nicht-streaming API-Methoden.

package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ollama/mlxbridge/placement"
)

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	if err := c.do(ctx, http.MethodHead, "/", nil, nil, nil); err != nil {
		return err
	}
	return nil
}

// Version returns the server version as a string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version struct {
		Version string `json:"version"`
	}

	if err := c.do(ctx, http.MethodGet, "/api/version", nil, nil, &version); err != nil {
		return "", err
	}

	return version.Version, nil
}

// Dtypes lists the dtypes the server knows, in registry order.
func (c *Client) Dtypes(ctx context.Context) ([]DtypeInfo, error) {
	var resp DtypesResponse
	if err := c.do(ctx, http.MethodGet, "/api/dtypes", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Dtypes, nil
}

// Devices returns the engine name, its devices and the default device.
func (c *Client) Devices(ctx context.Context) (*DevicesResponse, error) {
	var resp DevicesResponse
	if err := c.do(ctx, http.MethodGet, "/api/devices", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Ops lists the names of all operations.
func (c *Client) Ops(ctx context.Context) ([]string, error) {
	var resp struct {
		Ops []string `json:"ops"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/ops", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Ops, nil
}

// Op runs an operation on the server. The result stays in the server's
// store until it is deleted; only its description is returned.
func (c *Client) Op(ctx context.Context, op string, args ...any) (*TensorResponse, error) {
	var resp TensorResponse
	if err := c.do(ctx, http.MethodPost, "/api/ops/"+url.PathEscape(op), nil, &OpRequest{Args: args}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List lists the arrays held by the server.
func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	var lr ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/tensors", nil, nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Tensor fetches an array with its values. With typed set the values come
// back as a base64 host buffer in TensorResponse.Typed, otherwise as nested
// lists in TensorResponse.Data.
func (c *Client) Tensor(ctx context.Context, id string, typed bool) (*TensorResponse, error) {
	var q url.Values
	if typed {
		q = url.Values{"typed": {"1"}}
	}

	var resp TensorResponse
	if err := c.do(ctx, http.MethodGet, "/api/tensors/"+url.PathEscape(id), q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Delete releases an array on the server.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tensors/"+url.PathEscape(id), nil, nil, nil)
}

// DefaultStream returns the default stream of device, or of the default
// device if device is empty.
func (c *Client) DefaultStream(ctx context.Context, device string) (*StreamResponse, error) {
	var q url.Values
	if device != "" {
		q = url.Values{"device": {device}}
	}

	var resp StreamResponse
	if err := c.do(ctx, http.MethodGet, "/api/streams/default", q, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NewStream creates a stream on the device named in req.
func (c *Client) NewStream(ctx context.Context, req *PlacementRequest) (*StreamResponse, error) {
	var resp StreamResponse
	if err := c.do(ctx, http.MethodPost, "/api/streams", nil, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SetDefaultStream makes st the default stream of its device.
func (c *Client) SetDefaultStream(ctx context.Context, st placement.Stream) error {
	return c.do(ctx, http.MethodPut, "/api/streams/default", nil, st, nil)
}

// Synchronize waits for all pending work on a stream or device. A nil req
// synchronizes the default stream.
func (c *Client) Synchronize(ctx context.Context, req *PlacementRequest) error {
	var body any
	if req != nil {
		body = req
	}
	return c.do(ctx, http.MethodPost, "/api/synchronize", nil, body, nil)
}
