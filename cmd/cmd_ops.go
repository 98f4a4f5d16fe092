// cmd_ops.go - Operationen und Arrays auf dem Server
// Hauptfunktionen: OpHandler, ShowHandler, PullHandler, DeleteHandler, SyncHandler
package cmd

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/ollama/mlxbridge/api"
)

// parseArg liest ein Kommandozeilen-Argument fuer eine Operation:
// "@ID" ist eine Referenz, gueltiges JSON wird dekodiert (Zahlen bleiben
// json.Number), alles andere bleibt ein String wie "float32" oder "gpu".
func parseArg(s string) any {
	if id, ok := strings.CutPrefix(s, "@"); ok && id != "" {
		return api.Ref(id)
	}

	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	return v
}

// OpHandler - Fuehrt eine Operation aus und gibt die ID des Ergebnisses aus
func OpHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	opArgs := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		opArgs = append(opArgs, parseArg(a))
	}

	resp, err := client.Op(cmd.Context(), args[0], opArgs...)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if show, _ := cmd.Flags().GetBool("show"); show {
		t, err := client.Tensor(cmd.Context(), resp.ID, false)
		if err != nil {
			return err
		}
		return printJSON(out, t)
	}

	if plainText(out) {
		fmt.Fprintln(out, resp.ID)
		return nil
	}
	renderTable(out, []string{"ID", "SHAPE", "DTYPE", "PLACEMENT"}, [][]string{
		{resp.ID, formatShape(resp.Shape), resp.Dtype.Key(), resp.Placement.String()},
	})
	return nil
}

// ShowHandler - Gibt ein Array mit Werten als JSON aus
func ShowHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	typed, _ := cmd.Flags().GetBool("typed")
	resp, err := client.Tensor(cmd.Context(), args[0], typed)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), resp)
}

// PullHandler - Laedt die Bytes eines Arrays per Stream herunter
func PullHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	chunk, _ := cmd.Flags().GetInt("chunk")
	got, err := client.Download(cmd.Context(), args[0], chunk)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if _, err := io.Copy(w, bytes.NewReader(got.Buffer.Bytes())); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "pulled %s: %s %s, %d bytes\n", got.TensorID, formatShape(got.Shape), got.Dtype, len(got.Buffer.Bytes()))
	return nil
}

// DeleteHandler - Gibt Arrays auf dem Server frei
func DeleteHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	for _, arg := range args {
		if err := client.Delete(cmd.Context(), arg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted '%s'\n", arg)
	}
	return nil
}

// SyncHandler - Wartet auf ausstehende Arbeit eines Devices
func SyncHandler(cmd *cobra.Command, args []string) error {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return err
	}

	var req *api.PlacementRequest
	if len(args) > 0 {
		req = &api.PlacementRequest{Device: args[0]}
	}
	return client.Synchronize(cmd.Context(), req)
}

// newOpCmd - Erstellt den op Command
func newOpCmd() *cobra.Command {
	opCmd := &cobra.Command{
		Use:   "op OPERATION [ARG...]",
		Short: "Run an operation on the server",
		Long: `Run an operation on the server and print the id of the result.

Arguments are JSON values ([[1,2],[3,4]], 2.5, true), references to arrays
on the server (@ID) or plain words such as dtypes and devices (float32, gpu:0).`,
		Example: `  mlxbridge op array '[[1,2],[3,4]]' float32
  mlxbridge op matmul @ID @ID --show`,
		Args:    cobra.MinimumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    OpHandler,
	}
	opCmd.Flags().Bool("show", false, "Print the result with its values")
	return opCmd
}

func newShowCmd() *cobra.Command {
	showCmd := &cobra.Command{
		Use:     "show ID",
		Short:   "Show an array and its values",
		Args:    cobra.ExactArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    ShowHandler,
	}
	showCmd.Flags().Bool("typed", false, "Show the values as a base64 host buffer")
	return showCmd
}

func newPullCmd() *cobra.Command {
	pullCmd := &cobra.Command{
		Use:     "pull ID",
		Short:   "Stream the raw bytes of an array",
		Args:    cobra.ExactArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    PullHandler,
	}
	pullCmd.Flags().StringP("output", "o", "", "Write the bytes to a file instead of stdout")
	pullCmd.Flags().Int("chunk", 0, "Bytes per streamed frame (default: server setting)")
	return pullCmd
}

// newDeleteCmd - Erstellt den rm Command
func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID [ID...]",
		Short:   "Release arrays on the server",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    DeleteHandler,
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "sync [DEVICE]",
		Short:   "Wait for pending work on a device",
		Args:    cobra.MaximumNArgs(1),
		PreRunE: checkServerHeartbeat,
		RunE:    SyncHandler,
	}
}
