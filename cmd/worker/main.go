// Command worker runs the AMQP task dispatcher: a daemon subcommand for
// long-running Infinite-mode consumption, and a run-once subcommand that
// consumes exactly one delivery to terminal ack then exits. Mirrors the
// teacher's cmd/comet root-command-plus-subcommand shape.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/oriys/taskworker/internal/config"
	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "worker",
		Short: "Task worker",
		Long:  "Run the AMQP task worker via the daemon or run-once subcommand",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to JSON config file")
	rootCmd.AddCommand(daemonCmd())
	rootCmd.AddCommand(runOnceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var valErr *config.ValidationError
		if errors.As(err, &valErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
