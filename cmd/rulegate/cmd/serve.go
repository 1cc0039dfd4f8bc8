package cmd

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	httpapi "github.com/rulegate/rulegate/internal/adapter/inbound/http"
	"github.com/rulegate/rulegate/internal/adapter/outbound/audit"
	"github.com/rulegate/rulegate/internal/adapter/outbound/state"
	"github.com/rulegate/rulegate/internal/config"
	"github.com/rulegate/rulegate/internal/service"
)

var devMode bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the RuleGate HTTP rules API",
	Long: `Start the RuleGate server.

The server exposes the rules API over HTTP: rule CRUD, free-text rule
compilation, tool-call checks, prompt-instruction rendering, and
Prometheus metrics. It binds to localhost by default.

Examples:
  # Start with default settings
  rulegate serve

  # Start in development mode (debug logging, local rules file)
  rulegate serve --dev

  # Start with a custom config file
  rulegate serve --config /path/to/rulegate.yaml`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "enable development mode (debug logging)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if devMode {
		cfg.DevMode = true
	}

	logger := newLogger(cfg)

	logger.Info("starting rulegate",
		"version", Version,
		"http_addr", cfg.Server.HTTPAddr,
		"rules_path", cfg.Store.RulesPath,
		"dev_mode", cfg.DevMode,
	)
	if path := config.ConfigFileUsed(); path != "" {
		logger.Info("loaded config file", "path", path)
	}

	store, err := state.NewFileRuleStore(cfg.Store.RulesPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open rule store: %w", err)
	}

	opts := []service.RuleServiceOption{service.WithCacheSize(cfg.Cache.MaxEntries)}
	if cfg.Audit.Enabled() {
		declog, err := audit.NewFileLog(audit.FileLogConfig{
			Dir:           cfg.Audit.Dir,
			RetentionDays: cfg.Audit.RetentionDays,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to open decision log: %w", err)
		}
		defer func() { _ = declog.Close() }()
		logger.Info("decision log enabled", "dir", cfg.Audit.Dir)
		opts = append(opts, service.WithDecisionLog(declog))
	}

	svc, err := service.NewRuleService(store, logger, opts...)
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(svc, cfg, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		logger.Error("server exited with error", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("rulegate stopped")
	return nil
}
