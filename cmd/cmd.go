// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/mlxbridge/envconfig"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "mlxbridge",
		Short:         "Tensor engine bridge",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	// Commands erstellen
	serveCmd := newServeCmd()
	opCmd := newOpCmd()
	showCmd := newShowCmd()
	pullCmd := newPullCmd()
	listCmd := newListCmd()
	deleteCmd := newDeleteCmd()
	syncCmd := newSyncCmd()
	dtypesCmd := newDtypesCmd()
	devicesCmd := newDevicesCmd()
	envCmd := newEnvCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["MLXBRIDGE_HOST"]}

	for _, cmd := range []*cobra.Command{
		serveCmd,
		opCmd,
		showCmd,
		pullCmd,
		listCmd,
		deleteCmd,
		syncCmd,
		devicesCmd,
	} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["MLXBRIDGE_DEBUG"],
				envVars["MLXBRIDGE_HOST"],
				envVars["MLXBRIDGE_ORIGINS"],
				envVars["MLXBRIDGE_ENGINE"],
				envVars["MLXBRIDGE_DEVICE"],
				envVars["MLXBRIDGE_NO_GPU"],
				envVars["MLXBRIDGE_THREADS"],
				envVars["MLXBRIDGE_MAX_REQUESTS"],
				envVars["MLXBRIDGE_CHUNK_BYTES"],
				envVars["MLXBRIDGE_HEARTBEAT"],
			})
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		serveCmd,
		opCmd,
		showCmd,
		pullCmd,
		listCmd,
		deleteCmd,
		syncCmd,
		dtypesCmd,
		devicesCmd,
		envCmd,
	)

	return rootCmd
}
