package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/forkboot/internal/booter"
)

func main() {
	os.Exit(runCLI(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// cli carries the process streams and the exit code chosen by a command.
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	code   int
}

func runCLI(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	root := c.rootCmd()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return c.code
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "forkboot <boot-config> [system-properties]",
		Short: "forkboot - forked test worker",
		Long: `forkboot is launched by a build coordinator to run one test workload.

It reads its boot configuration from <boot-config>, listens for commands on
stdin, and reports the outcome as frames on stdout. Exit code 0 means the run
completed (test failures are reported as frames); 1 means bootstrap failed,
the parent asked the worker to stop, or the parent stopped pinging.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       currentVersionInfo().Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := booter.Options{
				BootConfig: args[0],
				Stdin:      c.stdin,
				Stdout:     c.stdout,
				Stderr:     c.stderr,
			}
			if len(args) > 1 {
				opts.SystemProperties = args[1]
			}
			c.code = booter.New(opts).Run(cmd.Context())
			return nil
		},
	}
	root.SetVersionTemplate(versionTemplate())

	root.AddCommand(c.checkCmd())
	root.AddCommand(c.hashCmd())
	root.AddCommand(c.versionCmd())
	return root
}
