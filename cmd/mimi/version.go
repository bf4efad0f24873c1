package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

const modulePath = "github.com/mesh-intelligence/mimi"

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mimi version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flagJSON {
				return a.printJSON(map[string]string{"version": version, "module": modulePath})
			}
			fmt.Fprintf(a.stdout, "mimi v%s\nmodule: %s\n", version, modulePath)
			return nil
		},
	}
}
