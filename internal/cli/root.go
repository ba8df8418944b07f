// Package cli wires the enrolytics commands: batch analysis, the
// result server, configuration inspection and build information.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/enrolytics/enrolytics/internal/config"
	"github.com/enrolytics/enrolytics/internal/version"
)

// app carries the flag values shared across commands.
type app struct {
	cfgFile  string
	logLevel string

	// Per-command overrides, applied on top of the loaded config.
	inputDir  string
	outputDir string
	database  string
	host      string
	port      int

	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand returns the enrolytics root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

// NewRootCommandWithIO returns the root command writing to the given
// streams, for tests.
func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(out, errOut)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "enrolytics",
		Short:         "Consensus anomaly detection over enrolment time series",
		Long:          "enrolytics cross-checks per-region registration and update series with three independent detectors and reports the regions they agree on.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Version,
	}

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "enrolytics.yaml", "path to the configuration file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	cmd.AddCommand(
		newRunCmd(a),
		newServeCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)

	cmd.SetVersionTemplate(fmt.Sprintf("enrolytics {{.Version}} (commit %s, built %s)\n", version.Commit, version.BuildDate))
	cmd.SetErrPrefix("enrolytics: ")
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)
	return cmd
}

// loadConfig loads the configuration, applies flag overrides and
// validates the result.
func (a *app) loadConfig(ctx context.Context) (config.Manager, *config.Config, error) {
	mgr, err := config.NewManager(a.cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, nil, err
	}

	cfg := mgr.Get(ctx)
	a.applyOverrides(cfg)

	if err := mgr.Validate(ctx); err != nil {
		return nil, nil, err
	}
	return mgr, cfg, nil
}

// applyOverrides writes flag values over the loaded configuration.
// Flags beat the file and the environment.
func (a *app) applyOverrides(cfg *config.Config) {
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if a.inputDir != "" {
		cfg.Input.Dir = a.inputDir
	}
	if a.outputDir != "" {
		cfg.Output.Dir = a.outputDir
	}
	if a.database != "" {
		cfg.Output.Database = a.database
	}
	if a.host != "" {
		cfg.Server.Host = a.host
	}
	if a.port != 0 {
		cfg.Server.Port = a.port
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show build information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			return nil
		},
	}
}
