// Package cli implements the statsctl commands: maintenance of the snapshot
// store and ad-hoc reads against the same database and search index the
// server uses.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/app"
	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/config"
	"github.com/openeduhub/metaqs/pkg/logging"
)

// Version is reported by --version and passed to the config loader.
var Version = "dev"

// env is one command's loaded configuration and logger.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func loadEnv() (*env, error) {
	cfg, err := config.Load(Version)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	// Keep stdout for command output; logs go to stderr at warn and above
	// unless LOG_LEVEL asks for more.
	level := cfg.LogLevel
	if level == "info" {
		level = "warn"
	}
	logger, err := logging.NewLogger(cfg.Env, level)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	return &env{cfg: cfg, logger: logger}, nil
}

// withApp loads the configuration, connects and runs fn. SIGINT cancels
// the context.
func withApp(fn func(ctx context.Context, e *env, a *app.App) error) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer func() { _ = e.logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, e.cfg, app.Options{}, e.logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, e, a)
}

// nodeRefArg parses the optional node id argument; absent means def.
func nodeRefArg(args []string, def uuid.UUID) (uuid.UUID, error) {
	if len(args) == 0 || args[0] == "" {
		return def, nil
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q is not a UUID", apperrors.ErrMalformedReference, args[0])
	}
	return id, nil
}

// NewRootCmd builds the statsctl command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "statsctl",
		Short:   "Maintain and inspect metadata quality statistics",
		Version: Version,
		Long: `statsctl computes, seeds, clears and reads the statistic snapshots of the
collection hierarchy. It reads the same configuration as the server
(config.yaml or CONFIG_PATH, overridden by environment variables).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringP("output", "o", outputText, "Output format: text, json or yaml")

	rootCmd.AddCommand(MigrateCmd())
	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(SeedCmd())
	rootCmd.AddCommand(ClearCmd())
	rootCmd.AddCommand(TimelineCmd())
	rootCmd.AddCommand(ShowCmd())
	rootCmd.AddCommand(ScoreCmd())
	rootCmd.AddCommand(TreeCmd())

	return rootCmd
}
