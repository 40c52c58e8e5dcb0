package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/forkboot/internal/config"
	"github.com/mattjoyce/forkboot/internal/doctor"
	"github.com/mattjoyce/forkboot/internal/provider"
)

func (c *cli) checkCmd() *cobra.Command {
	var format string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "check <boot-config|->",
		Short: "Validate a boot configuration without running it",
		Long: `Validates a boot configuration offline. Pass - to read it from stdin,
for example when the parent generates it on the fly.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOut {
				format = "json"
			}
			cfg, err := c.loadForCheck(args[0])
			if err != nil {
				return err
			}
			result := doctor.New(cfg, provider.DefaultRegistry()).Validate()

			var out string
			switch format {
			case "json":
				out, err = doctor.FormatJSON(result)
				out += "\n"
			case "yaml":
				out, err = doctor.FormatYAML(result)
			case "human", "":
				out = doctor.FormatHuman(result)
			default:
				return fmt.Errorf("unknown format %q (want human, json or yaml)", format)
			}
			if err != nil {
				return fmt.Errorf("render result: %w", err)
			}
			fmt.Fprint(c.stdout, out)

			if !result.Valid {
				c.code = 1
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "human", "Output format: human, json or yaml")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Shorthand for --format json")
	return cmd
}

func (c *cli) loadForCheck(path string) (*config.Config, error) {
	if path == "-" {
		return config.LoadReader(c.stdin)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("boot config %s not found", path)
	}
	return config.Load(path)
}
