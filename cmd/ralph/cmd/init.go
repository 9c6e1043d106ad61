package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ralph-tui/ralph-tui/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .ralph-tui/config.toml in the current directory",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
}

func runInit(_ *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return exitErr(ExitFailedOrNone, "resolving working directory: %w", err)
	}

	path := filepath.Join(cwd, config.ConfigDirName, config.ConfigFileName)
	if _, statErr := os.Stat(path); statErr != nil && !os.IsNotExist(statErr) {
		return exitErr(ExitFailedOrNone, "checking existing config: %w", statErr)
	} else if statErr == nil && !initForce {
		return exitErr(ExitFailedOrNone, "config already exists at %s, use --force to overwrite", path)
	}

	if initForce {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return exitErr(ExitFailedOrNone, "creating config directory: %w", err)
		}
		if err := os.WriteFile(path, []byte(config.DefaultConfigTOML), 0o600); err != nil {
			return exitErr(ExitFailedOrNone, "writing config: %w", err)
		}
		fmt.Println("wrote", path)
		return nil
	}

	written, err := config.EnsureConfigFile(cwd)
	if err != nil {
		return exitErr(ExitFailedOrNone, "writing default config: %w", err)
	}
	fmt.Println("wrote", written)
	return nil
}
