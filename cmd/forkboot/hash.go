package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/forkboot/internal/config"
)

func (c *cli) hashCmd() *cobra.Command {
	var verify, dryRun, verbose bool
	cmd := &cobra.Command{
		Use:   "hash <boot-config>...",
		Short: "Write or verify BLAKE3 checksum sidecars for boot configs",
		Long: `Writes <boot-config>.b3 next to each file. The worker refuses to boot
from a file whose sidecar does not match its content.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				switch {
				case verify:
					data, err := os.ReadFile(path)
					if err == nil {
						// A missing sidecar passes at boot but not here.
						_, err = os.Stat(config.ChecksumPath(path))
					}
					if err == nil {
						err = config.VerifyChecksumFile(path, data)
					}
					if err != nil {
						fmt.Fprintf(c.stderr, "FAIL %s: %v\n", path, err)
						failed++
						continue
					}
					fmt.Fprintf(c.stdout, "OK   %s\n", path)
				case dryRun:
					digest, err := config.ComputeBlake3Hash(path)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.stdout, "would write %s (%s)\n", config.ChecksumPath(path), digest)
				default:
					digest, err := config.WriteChecksum(path)
					if err != nil {
						return err
					}
					if verbose {
						fmt.Fprintf(c.stdout, "wrote %s (%s)\n", config.ChecksumPath(path), digest)
					}
				}
			}
			if failed > 0 {
				c.code = 1
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&verify, "verify", false, "Check existing sidecars instead of writing them")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print digests without writing sidecars")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Print each sidecar written")
	return cmd
}
