package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sqlited/sqlited/internal/bootstrap"
)

func newInitDBCommand() *cobra.Command {
	var (
		dataDir  string
		password string
	)

	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Bootstrap a new data directory and its super-admin user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dataDir == "" {
				return fmt.Errorf("-D/--data-dir is required")
			}
			pw := password
			if pw == "" {
				prompted, err := promptPassword(cmd)
				if err != nil {
					return err
				}
				pw = prompted
			}
			if err := bootstrap.InitDB(cmd.Context(), dataDir, pw); err != nil {
				return err
			}
			cmd.Printf("initialized data directory %q\n", dataDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dataDir, "data-dir", "D", "", "data directory to create")
	cmd.Flags().StringVarP(&password, "password", "p", "", "super-admin password (prompted if omitted)")
	return cmd
}

// promptPassword reads the super-admin password from the terminal without
// echoing it, per SPEC_FULL.md's CLI section: production CLIs avoid
// leaking secrets into shell history or process listings.
func promptPassword(cmd *cobra.Command) (string, error) {
	cmd.Print("Super-admin password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	cmd.Println()
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
