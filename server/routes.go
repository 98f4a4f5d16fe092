// Package server - HTTP-Oberflaeche fuer die Aufruf-Schnittstelle
// Beinhaltet: Server-Struct, Router-Registrierung, Handler fuer Ops, Tensoren und Streams
package server

import (
	"encoding/base64"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/ollama/mlxbridge/api"
	"github.com/ollama/mlxbridge/core"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/envconfig"
	"github.com/ollama/mlxbridge/placement"
	"github.com/ollama/mlxbridge/version"
)

var mode string = gin.DebugMode

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// Server verwaltet Router, Tensor-Store und das Request-Limit
type Server struct {
	addr      net.Addr
	store     *Store
	sem       *semaphore.Weighted
	heartbeat time.Duration
	chunk     int
}

// New erstellt einen Server mit Limits aus envconfig. addr darf nil sein.
func New(addr net.Addr) *Server {
	return &Server{
		addr:      addr,
		store:     NewStore(),
		sem:       semaphore.NewWeighted(int64(max(envconfig.MaxRequests(), 1))),
		heartbeat: envconfig.Heartbeat(),
		chunk:     int(envconfig.ChunkBytes()),
	}
}

// Store gibt den Tensor-Store zurueck
func (s *Server) Store() *Store { return s.store }

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() (http.Handler, error) {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
		"Last-Event-ID",
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS"}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "mlxbridge is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "mlxbridge is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"version": version.Version}) })

	// Registry
	r.GET("/api/dtypes", s.DtypesHandler)
	r.GET("/api/devices", s.DevicesHandler)
	r.GET("/api/ops", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ops": OpNames()}) })

	// Operationen und Tensoren
	r.POST("/api/ops/:op", s.limit(), s.OpHandler)
	r.GET("/api/tensors", s.ListHandler)
	r.GET("/api/tensors/:id", s.limit(), s.TensorHandler)
	r.GET("/api/tensors/:id/stream", s.StreamTensorHandler)
	r.DELETE("/api/tensors/:id", s.DeleteHandler)

	// Streams
	r.GET("/api/streams/default", s.DefaultStreamHandler)
	r.PUT("/api/streams/default", s.SetDefaultStreamHandler)
	r.POST("/api/streams", s.NewStreamHandler)
	r.POST("/api/synchronize", s.limit(), s.SynchronizeHandler)

	return r, nil
}

// ============================================================================
// Handler
// ============================================================================

func describe(id string, a *core.Array) api.TensorResponse {
	return api.TensorResponse{
		ID:        id,
		Shape:     a.Shape(),
		Dtype:     a.Dtype(),
		Placement: a.Placement(),
	}
}

func (s *Server) DtypesHandler(c *gin.Context) {
	all := dtype.All()
	resp := api.DtypesResponse{Dtypes: make([]api.DtypeInfo, len(all))}
	for i, d := range all {
		resp.Dtypes[i] = api.DtypeInfo{Key: d.Key(), Size: d.Size(), Category: d.Category().String()}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) DevicesHandler(c *gin.Context) {
	devices, err := core.Devices()
	if err != nil {
		writeError(c, err)
		return
	}
	def, err := core.DefaultDevice()
	if err != nil {
		writeError(c, err)
		return
	}
	e, err := core.Engine()
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.DevicesResponse{Engine: e.Name(), Devices: devices, Default: def})
}

// OpHandler fuehrt POST /api/ops/:op aus und legt das Ergebnis im Store ab
func (s *Server) OpHandler(c *gin.Context) {
	op := c.Param("op")
	fn, ok := ops[op]
	if !ok {
		writeError(c, ErrUnknownOp)
		return
	}

	raw, err := decodeArgs(c.Request.Body)
	if err != nil {
		writeError(c, err)
		return
	}
	a, err := s.resolveArgs(raw)
	if err != nil {
		writeError(c, err)
		return
	}

	out, err := fn(a)
	if err != nil {
		writeError(c, err)
		return
	}

	// asarray darf ein vorhandenes Array unveraendert zurueckgeben, das
	// bekommt keine zweite ID
	for _, v := range a {
		if in, ok := v.(*core.Array); ok && in == out {
			c.JSON(http.StatusOK, describe(s.idOf(in), in))
			return
		}
	}

	id := s.store.Put(out)
	c.JSON(http.StatusOK, describe(id, out))
}

func (s *Server) idOf(a *core.Array) string {
	for _, id := range s.store.IDs() {
		if got, err := s.store.Get(id); err == nil && got == a {
			return id
		}
	}
	return ""
}

func (s *Server) ListHandler(c *gin.Context) {
	ids := s.store.IDs()
	resp := api.ListResponse{Tensors: make([]api.TensorResponse, 0, len(ids))}
	for _, id := range ids {
		if a, err := s.store.Get(id); err == nil {
			resp.Tensors = append(resp.Tensors, describe(id, a))
		}
	}
	c.JSON(http.StatusOK, resp)
}

// TensorHandler liefert Metadaten und Werte. Mit ?typed=1 kommen die Werte
// als base64 Host-Buffer statt als verschachtelte Liste.
func (s *Server) TensorHandler(c *gin.Context) {
	id := c.Param("id")
	a, err := s.store.Get(id)
	if err != nil {
		writeError(c, err)
		return
	}

	resp := describe(id, a)
	if typed := c.Query("typed"); typed == "1" || typed == "true" {
		buf, err := a.ToTypedArray()
		if err != nil {
			writeError(c, err)
			return
		}
		resp.Typed = &api.TypedData{Kind: buf.Kind.String(), Data: base64.StdEncoding.EncodeToString(buf.Bytes())}
	} else {
		if resp.Data, err = a.ToArray(); err != nil {
			writeError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) DeleteHandler(c *gin.Context) {
	if err := s.store.Delete(c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// ============================================================================
// Streams
// ============================================================================

// target ist der Stream falls angegeben, sonst das Device
func target(b api.PlacementRequest) any {
	if b.Stream != nil {
		return *b.Stream
	}
	return b.Device
}

func bindPlacement(c *gin.Context) (api.PlacementRequest, error) {
	var b api.PlacementRequest
	if c.Request.ContentLength == 0 {
		return b, nil
	}
	if err := c.ShouldBindJSON(&b); err != nil {
		return b, errInvalid(err)
	}
	return b, nil
}

func (s *Server) DefaultStreamHandler(c *gin.Context) {
	var d any
	if q := c.Query("device"); q != "" {
		d = q
	}
	st, err := core.DefaultStream(d)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.StreamResponse{Stream: st})
}

func (s *Server) NewStreamHandler(c *gin.Context) {
	b, err := bindPlacement(c)
	if err != nil {
		writeError(c, err)
		return
	}
	st, err := core.NewStream(b.Device)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.StreamResponse{Stream: st})
}

func (s *Server) SetDefaultStreamHandler(c *gin.Context) {
	var st placement.Stream
	if err := c.ShouldBindJSON(&st); err != nil {
		writeError(c, errInvalid(err))
		return
	}
	if err := core.SetDefaultStream(st); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, api.StreamResponse{Stream: st})
}

func (s *Server) SynchronizeHandler(c *gin.Context) {
	b, err := bindPlacement(c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := core.Synchronize(target(b)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"synchronized": true})
}

// ============================================================================
// Limit
// ============================================================================

// limit begrenzt gleichzeitig rechnende Requests auf MLXBRIDGE_MAX_REQUESTS
func (s *Server) limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Acquire scheitert nur wenn der Client abbricht
		if err := s.sem.Acquire(c.Request.Context(), 1); err != nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		defer s.sem.Release(1)
		c.Next()
	}
}
