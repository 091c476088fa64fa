package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective release configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the merged configuration",
	Long: `Show prints the workspace-level configuration merged with every named
per-package override, in human-readable TOML or, with --output json, as a
single JSON document.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if outputJSON {
		return json.NewEncoder(os.Stdout).Encode(cfg)
	}

	out, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("rendering merged configuration: %w", err)
	}
	_, err = os.Stdout.Write(out)
	return err
}
