package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/app"
	"github.com/openeduhub/metaqs/pkg/models"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Apply all pending migrations, or revert the last N with --down N.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative")
			}
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer func() { _ = e.logger.Sync() }()

			if down > 0 {
				if err := app.Rollback(e.cfg, down, e.logger); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Reverted %d migration(s)\n", down)
				return nil
			}
			if err := app.Migrate(e.cfg, e.logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Migrations applied")
			return nil
		},
	}
	cmd.Flags().IntVar(&down, "down", 0, "Revert the last N migrations instead of applying")
	return cmd
}

type runSummary struct {
	Reports []*models.RunReport `json:"reports"`
	Errors  map[string]string   `json:"errors,omitempty"`
}

// RunCmd returns the run command
func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [noderef_id]",
		Short: "Compute and store statistics now",
		Long: `Compute every statistic for a collection subtree and store the snapshots.
Without an argument, or with the portal root, every direct child portal is
computed in turn. Runs in the foreground; the server's background
dispatcher is not involved.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, e *env, a *app.App) error {
				id, err := nodeRefArg(args, e.cfg.Stats.PortalRootID)
				if err != nil {
					return err
				}
				targets, err := a.Dispatcher.Targets(ctx, id)
				if err != nil {
					return err
				}

				summary := runTargets(ctx, targets, a.Stats.RunStats, e.logger)
				if err := render(cmd.OutOrStdout(), format, summary, summary.text); err != nil {
					return err
				}
				if len(summary.Errors) > 0 {
					return fmt.Errorf("%d of %d run(s) failed", len(summary.Errors), len(targets))
				}
				return nil
			})
		},
	}
}

func runTargets(ctx context.Context, targets []uuid.UUID, run func(context.Context, uuid.UUID) (*models.RunReport, error), logger *zap.Logger) *runSummary {
	summary := &runSummary{Reports: []*models.RunReport{}}
	for _, id := range targets {
		if ctx.Err() != nil {
			break
		}
		report, err := run(ctx, id)
		if err != nil {
			logger.Warn("Run failed", zap.String("noderef_id", id.String()), zap.Error(err))
			if summary.Errors == nil {
				summary.Errors = make(map[string]string)
			}
			summary.Errors[id.String()] = err.Error()
			continue
		}
		summary.Reports = append(summary.Reports, report)
	}
	return summary
}

func (s *runSummary) text(w io.Writer) error {
	for _, r := range s.Reports {
		fmt.Fprintf(w, "✓ %s at %s: %s\n", r.NodeRefID, r.DerivedAt.Format("2006-01-02T15:04:05Z07:00"), joinStatTypes(r.Written))
		if len(r.Failed) > 0 {
			fmt.Fprintf(w, "  skipped: %s\n", joinStatTypes(r.Failed))
		}
	}
	for id, msg := range s.Errors {
		fmt.Fprintf(w, "✗ %s: %s\n", id, msg)
	}
	return nil
}

func joinStatTypes(types []models.StatType) string {
	if len(types) == 0 {
		return "-"
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

// SeedCmd returns the seed command
func SeedCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "seed [noderef_id]",
		Short: "Backfill snapshot history",
		Long: `Copy the earliest snapshot of every statistic to each of the N days before
it, so that timelines have history right after the first run. With the
portal root every direct child portal is seeded.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, e *env, a *app.App) error {
				if !cmd.Flags().Changed("days") {
					days = e.cfg.Stats.SeedDays
				}
				if days < 0 {
					return fmt.Errorf("--days must not be negative")
				}
				id, err := nodeRefArg(args, e.cfg.Stats.PortalRootID)
				if err != nil {
					return err
				}
				targets, err := a.Dispatcher.Targets(ctx, id)
				if err != nil {
					return err
				}

				total := 0
				for _, target := range targets {
					n, err := a.Seed.SeedBackward(ctx, target, days)
					if err != nil {
						return fmt.Errorf("failed to seed %s: %w", target, err)
					}
					total += n
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Seeded %d snapshot(s) for %d node(s) over %d day(s)\n", total, len(targets), days)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Number of days to backfill (default: stats.seed_days)")
	return cmd
}

// errNotConfirmed is returned when a destructive command lacks --yes.
var errNotConfirmed = errors.New("refusing to clear all snapshots without --yes")

// ClearCmd returns the clear command
func ClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every stored snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNotConfirmed
			}
			return withApp(func(ctx context.Context, e *env, a *app.App) error {
				if err := a.Seed.ClearAll(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Cleared all snapshots")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deleting all snapshots")
	return cmd
}
