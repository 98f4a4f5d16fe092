// cmd_serve.go - Server starten und Version
// Hauptfunktionen: RunServer, versionHandler
package cmd

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ollama/mlxbridge/api"
	"github.com/ollama/mlxbridge/envconfig"
	"github.com/ollama/mlxbridge/server"
	"github.com/ollama/mlxbridge/version"
)

// RunServer - Startet den Bridge-Server
func RunServer(_ *cobra.Command, _ []string) error {
	ln, err := net.Listen("tcp", envconfig.Host().Host)
	if err != nil {
		return err
	}

	err = server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// versionHandler - Zeigt Server- und Client-Version an
func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	out := cmd.OutOrStdout()
	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Fprintln(out, "Warning: could not connect to a running mlxbridge instance")
	}

	if serverVersion != "" {
		fmt.Fprintf(out, "mlxbridge version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Fprintf(out, "Warning: client version is %s\n", version.Version)
	}
}

// newServeCmd - Erstellt den serve Command
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the bridge server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}
}
