// Command sqlited is the server's CLI entry point: initdb bootstraps a
// new data directory, server runs the listener. See spec.md §6.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:           "sqlited",
		Short:         "sqlited - a MySQL-wire-compatible embedded SQL server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newInitDBCommand())
	root.AddCommand(newServerCommand())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.Println("sqlited v" + version)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "sqlited:", err)
		os.Exit(1)
	}
}
