// Command aula is the academic-program client: it sends one room
// request to a faculty gateway and prints the resolution.
package main

import (
	"log/slog"
	"os"

	"aula/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	if err := logging.Configure(logging.LevelWarn); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aula",
		Short: "Classroom reservation client",
	}
	cmd.AddCommand(requestCmd())
	return cmd
}
