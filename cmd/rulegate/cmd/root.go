// Package cmd provides the CLI commands for RuleGate.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rulegate/rulegate/internal/adapter/outbound/state"
	"github.com/rulegate/rulegate/internal/config"
	"github.com/rulegate/rulegate/internal/service"
)

var cfgFile string
var rulesFilePath string

var rootCmd = &cobra.Command{
	Use:   "rulegate",
	Short: "RuleGate - user rule policy layer for tool-using agents",
	Long: `RuleGate turns free-text user preferences ("never send emails",
"always confirm before forwarding") into durable structured rules, and
enforces those rules deterministically before any agent tool call executes.

Quick start:
  1. Add a rule:    rulegate add "never send emails"
  2. Check a tool:  rulegate check gmail_execute_draft
  3. Serve the API: rulegate serve

Configuration:
  Config is loaded from rulegate.yaml in the current directory,
  $HOME/.rulegate/, or /etc/rulegate/.

  Environment variables can override config values with the RULEGATE_ prefix.
  Example: RULEGATE_STORE_RULES_PATH=/var/lib/rulegate/rules.json

Commands:
  serve       Start the HTTP rules API
  add         Compile user text into a rule and store it
  list        List stored rules
  enable      Enable a rule by id
  disable     Disable a rule by id
  delete      Delete a rule by id
  check       Evaluate one tool call against the stored rules
  prompt      Render the prompt-instruction block for a scope
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./rulegate.yaml)")
	rootCmd.PersistentFlags().StringVar(&rulesFilePath, "rules", "", "path to rules.json file (default: from config)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads and validates the configuration, applying the --rules
// flag and RULEGATE_STORE_RULES_PATH override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if rulesFilePath != "" {
		cfg.Store.RulesPath = rulesFilePath
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Logs go to stderr so stdout stays
// clean for command output.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newRuleService opens the file store and wraps it in a RuleService.
// Shared by every command that touches rules.
func newRuleService(cfg *config.Config, logger *slog.Logger) (*service.RuleService, error) {
	store, err := state.NewFileRuleStore(cfg.Store.RulesPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule store: %w", err)
	}
	return service.NewRuleService(store, logger, service.WithCacheSize(cfg.Cache.MaxEntries))
}
