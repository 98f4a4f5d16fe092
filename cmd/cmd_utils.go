// cmd_utils.go - Hilfsfunktionen fuer die Commands
// Hauptfunktionen: checkServerHeartbeat, plainText, renderTable, printJSON
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/mlxbridge/api"
)

// checkServerHeartbeat - Prueft ob ein Server laeuft
func checkServerHeartbeat(cmd *cobra.Command, _ []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}
	if err := client.Heartbeat(cmd.Context()); err != nil {
		if strings.Contains(err.Error(), " refused") || strings.Contains(err.Error(), "could not connect") {
			return fmt.Errorf("mlxbridge server not responding, start it with 'mlxbridge serve' - %w", err)
		}
		return err
	}
	return nil
}

// plainText meldet ob die Ausgabe nicht an ein Terminal geht. Dann werden
// statt Tabellen nur IDs bzw. kompaktes JSON geschrieben.
func plainText(w io.Writer) bool {
	f, ok := w.(*os.File)
	return !ok || !term.IsTerminal(int(f.Fd()))
}

// renderTable - Schreibt eine linksbuendige Tabelle ohne Rahmen
func renderTable(w io.Writer, header []string, data [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

// printJSON - Gibt v als JSON aus, im Terminal eingerueckt
func printJSON(w io.Writer, v any) error {
	var bts []byte
	var err error
	if plainText(w) {
		bts, err = json.Marshal(v)
	} else {
		bts, err = json.MarshalIndent(v, "", "  ")
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(bts))
	return err
}

// formatShape - [2 3] als "2x3", Skalare als "scalar"
func formatShape(sh []int) string {
	if len(sh) == 0 {
		return "scalar"
	}
	parts := make([]string, len(sh))
	for i, d := range sh {
		parts[i] = fmt.Sprint(d)
	}
	return strings.Join(parts, "x")
}
