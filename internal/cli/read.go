package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openeduhub/metaqs/pkg/app"
	"github.com/openeduhub/metaqs/pkg/models"
	"github.com/openeduhub/metaqs/pkg/stats"
)

func parseStatTypeFlag(raw string) (*models.StatType, error) {
	if raw == "" {
		return nil, nil
	}
	st, err := models.ParseStatType(raw)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func parseAtFlag(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--at must be an RFC 3339 timestamp: %w", err)
	}
	return &at, nil
}

// TimelineCmd returns the timeline command
func TimelineCmd() *cobra.Command {
	var statType string

	cmd := &cobra.Command{
		Use:   "timeline <noderef_id>",
		Short: "List the times statistics were derived for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			st, err := parseStatTypeFlag(statType)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, e *env, a *app.App) error {
				id, err := nodeRefArg(args, uuid.Nil)
				if err != nil {
					return err
				}
				times, err := a.Stats.Timeline(ctx, id, st)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), format, map[string]any{"timeline": times}, func(w io.Writer) error {
					for _, t := range times {
						fmt.Fprintln(w, t.Format(time.RFC3339))
					}
					return nil
				})
			})
		},
	}
	cmd.Flags().StringVar(&statType, "stat-type", "", "Restrict to one statistic kind")
	return cmd
}

// ShowCmd returns the show command
func ShowCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "show <noderef_id> <stat_type>",
		Short: "Print a stored snapshot",
		Long: fmt.Sprintf(`Print the newest snapshot of a statistic kind, or the newest one derived
at or before --at. Kinds: %s.`, strings.Join(statTypeNames(), ", ")),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			st, err := models.ParseStatType(args[1])
			if err != nil {
				return err
			}
			atTime, err := parseAtFlag(at)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, e *env, a *app.App) error {
				id, err := nodeRefArg(args, uuid.Nil)
				if err != nil {
					return err
				}
				stat, err := a.Stats.ReadStats(ctx, id, st, atTime)
				if err != nil {
					return err
				}
				out := map[string]any{"derived_at": stat.DerivedAt, "stats": stat.Stats}
				return render(cmd.OutOrStdout(), format, out, func(w io.Writer) error {
					fmt.Fprintf(w, "%s %s derived at %s\n", stat.NodeRefID, stat.StatType, stat.DerivedAt.Format(time.RFC3339))
					return writeIndented(w, stat.Stats)
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC 3339 timestamp; defaults to the latest snapshot")
	return cmd
}

func statTypeNames() []string {
	all := models.AllStatTypes()
	names := make([]string, len(all))
	for i, st := range all {
		names[i] = string(st)
	}
	return names
}

func writeIndented(w io.Writer, raw json.RawMessage) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("stored snapshot is not valid JSON: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// ScoreCmd returns the score command
func ScoreCmd() *cobra.Command {
	var modulator string

	cmd := &cobra.Command{
		Use:   "score [noderef_id]",
		Short: "Compute the live quality score of a subtree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}
			if _, err := stats.ParseModulator(modulator); err != nil {
				return err
			}
			return withApp(func(ctx context.Context, e *env, a *app.App) error {
				id, err := nodeRefArg(args, e.cfg.Stats.PortalRootID)
				if err != nil {
					return err
				}
				result, err := a.Stats.Score(ctx, id, modulator)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), format, result, func(w io.Writer) error {
					return writeScore(w, result)
				})
			})
		},
	}
	cmd.Flags().StringVar(&modulator, "modulator", "", "Score curve: linear, sqrt or square (default: stats.score_modulator)")
	return cmd
}

func writeScore(w io.Writer, r *models.ScoreResult) error {
	if r.Score == nil {
		fmt.Fprintln(w, "Score: n/a (empty subtree)")
	} else {
		fmt.Fprintf(w, "Score: %.3f\n", *r.Score)
	}
	for _, part := range []struct {
		name   string
		counts models.ValidationCounts
	}{{"Collections", r.Collections}, {"Materials", r.Materials}} {
		fmt.Fprintf(w, "\n%s (%d):\n", part.name, part.counts.Total)
		for _, field := range part.counts.FieldNames() {
			fmt.Fprintf(w, "  %-24s %d\n", field, part.counts.Fields[field])
		}
	}
	return nil
}

// TreeCmd returns the tree command
func TreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree [noderef_id]",
		Short: "Print the live collection hierarchy",
		Args:  cobra.MaximumNArgs(1),
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
				tree, err := a.Collections.PortalTree(ctx, id)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), format, tree, func(w io.Writer) error {
					writeTree(w, tree, 0)
					fmt.Fprintf(w, "\n%d collection(s)\n", stats.CountTree(tree))
					return nil
				})
			})
		},
	}
}

func writeTree(w io.Writer, nodes []*models.PortalTreeNode, depth int) {
	for _, n := range nodes {
		fmt.Fprintf(w, "%s%s  %s\n", strings.Repeat("  ", depth), n.Title, n.NodeRefID)
		writeTree(w, n.Children, depth+1)
	}
}
