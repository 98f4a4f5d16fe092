// types.go - Request- und Response-Typen der HTTP-API
// Enthaelt: StatusError, OpRequest, TensorResponse, TypedData, DtypeInfo, DevicesResponse, PlacementRequest
package api

import (
	"fmt"

	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/placement"
)

// StatusError is an error with an HTTP status code, message and API code.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
	Code         string `json:"code"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the mlxbridge server logs for details"
	}
}

// OpRequest ist der Body von POST /api/ops/:op. Args sind die positionalen
// Argumente der Operation. Ein Objekt {"$ref": id} steht fuer ein Array im
// Store, {"$typed": TypedData} fuer einen Host-Buffer.
type OpRequest struct {
	Args []any `json:"args"`
}

// Ref verweist in OpRequest.Args auf ein Array im Store
func Ref(id string) map[string]any {
	return map[string]any{"$ref": id}
}

// Typed bettet einen Host-Buffer in OpRequest.Args ein
func Typed(t TypedData) map[string]any {
	return map[string]any{"$typed": t}
}

// TensorResponse beschreibt ein Array im Store
type TensorResponse struct {
	ID        string           `json:"id"`
	Shape     []int            `json:"shape"`
	Dtype     dtype.Dtype      `json:"dtype"`
	Placement placement.Stream `json:"placement"`
	Data      any              `json:"data,omitempty"`
	Typed     *TypedData       `json:"typed,omitempty"`
}

// TypedData ist ein Host-Buffer auf dem Draht: Elementart und base64-Bytes
type TypedData struct {
	Kind string `json:"kind"`
	Data string `json:"data"`
}

// ListResponse ist die Antwort von GET /api/tensors
type ListResponse struct {
	Tensors []TensorResponse `json:"tensors"`
}

// DtypeInfo ist ein Eintrag von GET /api/dtypes
type DtypeInfo struct {
	Key      string `json:"key"`
	Size     int    `json:"size"`
	Category string `json:"category"`
}

type DtypesResponse struct {
	Dtypes []DtypeInfo `json:"dtypes"`
}

// DevicesResponse ist die Antwort von GET /api/devices
type DevicesResponse struct {
	Engine  string             `json:"engine"`
	Devices []placement.Device `json:"devices"`
	Default placement.Device   `json:"default"`
}

// PlacementRequest ist der Body von POST /api/streams und /api/synchronize.
// Device ist ein Name wie "gpu:0" oder ein {type, index} Objekt.
type PlacementRequest struct {
	Device any               `json:"device,omitempty"`
	Stream *placement.Stream `json:"stream,omitempty"`
}

type StreamResponse struct {
	Stream placement.Stream `json:"stream"`
}
