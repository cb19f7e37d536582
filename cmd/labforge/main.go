// Command labforge scaffolds numbered OAuth lab instances.
package main

import (
	"os"

	"github.com/NielsdaWheelz/labforge/internal/cli"
	"github.com/NielsdaWheelz/labforge/internal/errors"
)

func main() {
	err := cli.Run(os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		errors.Print(os.Stderr, err)
		os.Exit(errors.ExitCode(err))
	}
}
