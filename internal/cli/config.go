package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(newConfigShowCmd(a))
	return cmd
}

// newConfigShowCmd renders the effective configuration: defaults, file
// and environment merged, flag overrides applied.
func newConfigShowCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, cfg, err := a.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			switch strings.ToLower(strings.TrimSpace(output)) {
			case "", "yaml":
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), string(out))
			case "json":
				out, err := json.MarshalIndent(cfg, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			default:
				return fmt.Errorf("unsupported --output %q (supported: yaml, json)", output)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "yaml", "output format: yaml|json")
	return cmd
}
