// init.go implements the inbox init subcommand (scaffold .inbox/).
package inboxcli

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

//go:embed config.yaml
var initConfig string

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Scaffold .inbox/config.yaml in the current directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			force, _ := cmd.Flags().GetBool("force")
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			return runInit(cmd, filepath.Join(cwd, configDirName), force)
		},
	}
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing config")
	return cmd
}

func runInit(cmd *cobra.Command, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, "config.yaml")
	out := cmd.OutOrStdout()
	if !force {
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintf(out, "  %s already exists (use --force to overwrite)\n", path)
			return nil
		}
	}
	if err := os.WriteFile(path, []byte(initConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Fprintf(out, "  Created %s\n", path)
	fmt.Fprintln(out, "Next: set identity in the config, then run:")
	fmt.Fprintln(out, "  inbox open <guest> <host>")
	return nil
}
