package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	projectDir  string
	outputJSON  bool
	noProgress  bool
	verbose     bool
	metricsFile string
)

// Execute runs the root cobra command.
func Execute(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cppdev",
		Short:         "C++ toolchain provisioning and build orchestration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&projectDir, "project", "", "Path to project directory")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")
	cmd.PersistentFlags().BoolVar(&noProgress, "no-progress", false, "Disable the interactive progress view")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Write debug entries to the log file")
	cmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile on exit")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newToolsCmd())
	cmd.AddCommand(newDepsCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}
