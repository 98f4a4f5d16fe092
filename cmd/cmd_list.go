// cmd_list.go - Auflistende Commands
// Hauptfunktionen: ListHandler, DtypesHandler, DevicesHandler, EnvHandler
package cmd

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ollama/mlxbridge/api"
	"github.com/ollama/mlxbridge/dtype"
	"github.com/ollama/mlxbridge/envconfig"
)

// ListHandler - Listet alle Arrays im Store des Servers
func ListHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	resp, err := client.List(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var data [][]string
	for _, t := range resp.Tensors {
		if len(args) > 0 && !strings.HasPrefix(t.ID, args[0]) {
			continue
		}
		if plainText(out) {
			fmt.Fprintln(out, t.ID)
			continue
		}
		data = append(data, []string{t.ID, formatShape(t.Shape), t.Dtype.Key(), t.Placement.String()})
	}

	if !plainText(out) {
		renderTable(out, []string{"ID", "SHAPE", "DTYPE", "PLACEMENT"}, data)
	}
	return nil
}

// DtypesHandler - Zeigt die Dtype-Registry, ohne Server
func DtypesHandler(cmd *cobra.Command, _ []string) error {
	var data [][]string
	for _, d := range dtype.All() {
		data = append(data, []string{d.Key(), fmt.Sprint(d.Size()), d.Category().String()})
	}
	renderTable(cmd.OutOrStdout(), []string{"DTYPE", "SIZE", "CATEGORY"}, data)
	return nil
}

// DevicesHandler - Zeigt Engine und Devices des Servers
func DevicesHandler(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	resp, err := client.Devices(cmd.Context())
	if err != nil {
		return err
	}

	var data [][]string
	for _, d := range resp.Devices {
		def := ""
		if d == resp.Default {
			def = "*"
		}
		data = append(data, []string{resp.Engine, fmt.Sprintf("%s:%d", d.Kind, d.Index), def})
	}
	renderTable(cmd.OutOrStdout(), []string{"ENGINE", "DEVICE", "DEFAULT"}, data)
	return nil
}

// EnvHandler - Zeigt die wirksame Konfiguration aus der Umgebung
func EnvHandler(cmd *cobra.Command, _ []string) error {
	vars := envconfig.AsMap()

	var data [][]string
	for _, k := range slices.Sorted(maps.Keys(vars)) {
		v := vars[k]
		data = append(data, []string{v.Name, fmt.Sprint(v.Value), v.Description})
	}
	renderTable(cmd.OutOrStdout(), []string{"NAME", "VALUE", "DESCRIPTION"}, data)
	return nil
}

// newListCmd - Erstellt den list Command
func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list [PREFIX]",
		Aliases: []string{"ls"},
		Short:   "List arrays held by the server",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    ListHandler,
	}
}

func newDtypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dtypes",
		Short: "List supported dtypes",
		Args:  cobra.ExactArgs(0),
		RunE:  DtypesHandler,
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "devices",
		Short:   "List devices of the server's engine",
		Args:    cobra.ExactArgs(0),
		PreRunE: checkServerHeartbeat,
		RunE:    DevicesHandler,
	}
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show configuration from the environment",
		Args:  cobra.ExactArgs(0),
		RunE:  EnvHandler,
	}
}
