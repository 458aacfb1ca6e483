package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/steveyegge/bughunter/internal/config"
	"github.com/steveyegge/bughunter/internal/scan"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration a scan in the current directory would use: defaults,
.bughunter/config.yaml, .env files and environment variables combined.
Secrets are redacted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		projectRoot, err := projectRootFor(".")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(scan.ExitFatal)
		}
		if err := showConfig(projectRoot, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(scan.ExitFatal)
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func showConfig(projectRoot string, out io.Writer) error {
	cfg, err := loadConfig(projectRoot)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}

	fmt.Fprintf(out, "# project root: %s\n", projectRoot)
	if _, err := os.Stat(config.FilePath(projectRoot)); err == nil {
		fmt.Fprintf(out, "# config file: %s\n", config.FilePath(projectRoot))
	} else {
		fmt.Fprintln(out, "# config file: none (defaults)")
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "# INVALID: %v\n", err)
	}
	_, err = out.Write(data)
	return err
}
