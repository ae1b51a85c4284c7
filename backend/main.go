package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/AnTengye/compliancecheck/backend/config"
	"github.com/AnTengye/compliancecheck/backend/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "compliancecheck",
	Short: "Contract compliance checker",
	Long: `compliancecheck reviews contracts against data protection and commercial
regulations. It splits a contract into clauses, rates every clause with a
language model, suggests remediations and exports the combined report.

Run without a subcommand to start the web service.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Init(&logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
			Output: cmd.ErrOrStderr(),
		})
		slog.Info("configuration loaded", "path", configPath)
		return nil
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, analyzeCmd)
}

// loadConfig reads path, falling back to the built-in defaults when the
// file does not exist.
func loadConfig(path string) (*config.Config, error) {
	c, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Warn("config file not found, using defaults", "path", path)
		c = config.Default()
		config.GlobalConfig = c
		return c, nil
	}
	return c, err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
