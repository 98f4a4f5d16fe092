// routes_serve.go - Server-Start und Lifecycle-Management
// Enthaelt: Serve() - Hauptfunktion zum Starten des HTTP-Servers

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ollama/mlxbridge/core"
	"github.com/ollama/mlxbridge/envconfig"
	"github.com/ollama/mlxbridge/logutil"
	"github.com/ollama/mlxbridge/version"
)

// Serve startet den HTTP-Server auf ln und blockiert bis SIGINT/SIGTERM.
// Beim Beenden werden alle Tensoren im Store freigegeben.
func Serve(ln net.Listener) error {
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))
	slog.Info("server config", "env", envconfig.Values())

	// Engine frueh oeffnen damit Fallbacks beim Start geloggt werden
	e, err := core.Engine()
	if err != nil {
		return err
	}
	def, err := core.DefaultDevice()
	if err != nil {
		return err
	}
	slog.Info("engine ready", "engine", e.Name(), "devices", e.Devices(), "default", def)

	s := New(ln.Addr())
	h, err := s.GenerateRoutes()
	if err != nil {
		return err
	}

	ctx, done := context.WithCancel(context.Background())
	defer done()

	slog.Info(fmt.Sprintf("Listening on %s (version %s)", ln.Addr(), version.Version))
	srvr := &http.Server{Handler: h}

	// listen for a ctrl+c and release all tensors
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-signals
		srvr.Close()
		s.store.Close()
		done()
	}()

	err = srvr.Serve(ln)
	// If server is closed from the signal handler, wait for the ctx to be done
	// otherwise error out quickly
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-ctx.Done()
	return nil
}
