// Package cli handles command-line parsing and dispatch for labforge.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/NielsdaWheelz/labforge/internal/commands"
	"github.com/NielsdaWheelz/labforge/internal/errors"
	"github.com/NielsdaWheelz/labforge/internal/exec"
	"github.com/NielsdaWheelz/labforge/internal/fs"
	"github.com/NielsdaWheelz/labforge/internal/version"
)

const rootLong = `labforge - scaffolding for numbered OAuth lab instances

Creates lab<N> from an existing lab, rewrites its instance identifiers,
extends the shared Caddyfile, compose manifest and SQL bootstrap scripts,
and writes development configs with freshly minted credentials.`

const newExample = `  labforge new -n 7
  labforge new -n 12 -b lab03 --root ~/src/oauth-labs
  labforge new -n 7 --dry-run`

// Run parses arguments and dispatches to the appropriate subcommand.
// Returns an error if the command fails; the caller should print the error and exit.
func Run(args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	cmd, err := root.ExecuteC()
	if err == nil {
		return nil
	}
	if _, ok := errors.AsLabError(err); ok {
		return err
	}
	// anything cobra rejected before a command body ran is a usage error
	fmt.Fprint(stdout, cmd.UsageString())
	return errors.New(errors.EUsage, err.Error())
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "labforge",
		Short:         "scaffold numbered OAuth lab instances",
		Long:          rootLong,
		Version:       version.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprint(stdout, cmd.UsageString())
			return errors.New(errors.EUsage, "no command specified")
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("labforge {{.Version}}\n")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newNewCmd(stdout, stderr), newCheckCmd(stdout), newVersionCmd(stdout))
	return root
}

func newNewCmd(stdout, stderr io.Writer) *cobra.Command {
	var opts commands.NewOpts
	cmd := &cobra.Command{
		Use:     "new -n <number>",
		Short:   "create lab<number> from a base lab",
		Example: newExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return commands.New(cmdContext(cmd), exec.NewRealRunner(), fs.NewRealFS(), opts, stdout, stderr)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.Number, "number", "n", "", "instance number to create (0-99)")
	f.StringVarP(&opts.Base, "base", "b", "", "base lab directory to clone (default: config base, lab00)")
	f.StringVar(&opts.Root, "root", "", "lab root directory (default: config root, current directory)")
	f.StringVar(&opts.ConfigFile, "config", "", "config file (default: <root>/labforge.yaml)")
	f.BoolVar(&opts.DryRun, "dry-run", false, "stage every change and report it without writing")
	f.BoolVar(&opts.JSON, "json", false, "write the result as JSON")
	_ = cmd.MarkFlagRequired("number")
	return cmd
}

func newCheckCmd(stdout io.Writer) *cobra.Command {
	var opts commands.CheckOpts
	cmd := &cobra.Command{
		Use:   "check",
		Short: "report config keys read without a registered default",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return commands.Check(fs.NewRealFS(), opts, stdout)
		},
	}
	cmd.Flags().StringVar(&opts.Root, "root", "", "lab root directory (default: config root, current directory)")
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "config file (default: <root>/labforge.yaml)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "write the report as JSON")
	return cmd
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the labforge version",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(stdout, "labforge %s\n", version.String())
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
