// Package tools provides the read-only MCP tools of the statistics service.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/models"
	"github.com/openeduhub/metaqs/pkg/stats"
)

// StatsReader is the part of the statistics service the tools read from.
type StatsReader interface {
	ReadStats(ctx context.Context, nodeRefID uuid.UUID, statType models.StatType, at *time.Time) (*models.Stat, error)
	Timeline(ctx context.Context, nodeRefID uuid.UUID, statType *models.StatType) ([]time.Time, error)
	Score(ctx context.Context, nodeRefID uuid.UUID, modulator string) (*models.ScoreResult, error)
}

// TreeReader assembles the live collection hierarchy.
type TreeReader interface {
	PortalTree(ctx context.Context, root uuid.UUID) ([]*models.PortalTreeNode, error)
}

// StatsToolDeps contains dependencies for the statistics tools.
type StatsToolDeps struct {
	Stats        StatsReader
	Collections  TreeReader
	PortalRootID uuid.UUID
	Logger       *zap.Logger
}

// RegisterStatsTools registers the statistics MCP tools.
func RegisterStatsTools(s *server.MCPServer, deps *StatsToolDeps) {
	registerReadStatsTool(s, deps)
	registerTimelineTool(s, deps)
	registerScoreTool(s, deps)
	registerPortalTreeTool(s, deps)
}

func statTypeNames() []string {
	all := models.AllStatTypes()
	names := make([]string, len(all))
	for i, st := range all {
		names[i] = string(st)
	}
	return names
}

func statTypeArg(req mcp.CallToolRequest, required bool) (*models.StatType, *mcp.CallToolResult) {
	raw := trimString(req.GetString("stat_type", ""))
	if raw == "" {
		if required {
			return nil, NewErrorResultWithDetails("invalid_parameters", "parameter 'stat_type' is required",
				map[string]any{"valid_stat_types": statTypeNames()})
		}
		return nil, nil
	}
	st, err := models.ParseStatType(raw)
	if err != nil {
		return nil, NewErrorResultWithDetails("invalid_parameters", err.Error(),
			map[string]any{"valid_stat_types": statTypeNames()})
	}
	return &st, nil
}

type snapshotResult struct {
	NodeRefID uuid.UUID       `json:"noderef_id"`
	StatType  models.StatType `json:"stat_type"`
	DerivedAt time.Time       `json:"derived_at"`
	Stats     any             `json:"stats"`
}

func registerReadStatsTool(s *server.MCPServer, deps *StatsToolDeps) {
	tool := mcp.NewTool(
		"read_stats",
		mcp.WithDescription(
			"Read a stored statistics snapshot for a collection. "+
				"Returns the snapshot valid at the given time (latest when 'at' is omitted) as {derived_at, stats}. "+
				"Example: read_stats(noderef_id='5e40e372-735c-4b17-bbf7-e827a5702b57', stat_type='material-types').",
		),
		mcp.WithString(
			"noderef_id",
			mcp.Required(),
			mcp.Description("Collection node id (UUID)"),
		),
		mcp.WithString(
			"stat_type",
			mcp.Required(),
			mcp.Description("Statistic kind"),
			mcp.Enum(statTypeNames()...),
		),
		mcp.WithString(
			"at",
			mcp.Description("Optional - RFC 3339 timestamp; the newest snapshot derived at or before it is returned"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, bad := nodeRefArg(req, "noderef_id", uuid.Nil)
		if bad != nil {
			return bad, nil
		}
		statType, bad := statTypeArg(req, true)
		if bad != nil {
			return bad, nil
		}
		at, bad := timeArg(req, "at")
		if bad != nil {
			return bad, nil
		}

		stat, err := deps.Stats.ReadStats(ctx, id, *statType, at)
		if err != nil {
			return serviceResult(err)
		}

		return jsonResult(snapshotResult{
			NodeRefID: stat.NodeRefID,
			StatType:  stat.StatType,
			DerivedAt: stat.DerivedAt,
			Stats:     stat.Stats,
		})
	})
}

func registerTimelineTool(s *server.MCPServer, deps *StatsToolDeps) {
	tool := mcp.NewTool(
		"stats_timeline",
		mcp.WithDescription(
			"List the times at which statistics were derived for a collection, newest first. "+
				"Use the returned timestamps as 'at' for read_stats to compare snapshots over time.",
		),
		mcp.WithString(
			"noderef_id",
			mcp.Required(),
			mcp.Description("Collection node id (UUID)"),
		),
		mcp.WithString(
			"stat_type",
			mcp.Description("Optional - restrict the timeline to one statistic kind"),
			mcp.Enum(statTypeNames()...),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, bad := nodeRefArg(req, "noderef_id", uuid.Nil)
		if bad != nil {
			return bad, nil
		}
		statType, bad := statTypeArg(req, false)
		if bad != nil {
			return bad, nil
		}

		times, err := deps.Stats.Timeline(ctx, id, statType)
		if err != nil {
			return serviceResult(err)
		}
		return jsonResult(map[string]any{"timeline": times, "count": len(times)})
	})
}

func registerScoreTool(s *server.MCPServer, deps *StatsToolDeps) {
	tool := mcp.NewTool(
		"stats_score",
		mcp.WithDescription(
			"Compute the live metadata quality score (0..1) for a collection subtree, together with the "+
				"per-field gap counts of its collections and materials. The score is null for an empty subtree.",
		),
		mcp.WithString(
			"noderef_id",
			mcp.Description("Optional - collection node id (UUID); defaults to the portal root"),
		),
		mcp.WithString(
			"modulator",
			mcp.Description("Optional - curve applied to the linear score"),
			mcp.Enum("linear", "sqrt", "square"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, bad := nodeRefArg(req, "noderef_id", deps.PortalRootID)
		if bad != nil {
			return bad, nil
		}
		modulator := trimString(req.GetString("modulator", ""))
		if _, err := stats.ParseModulator(modulator); err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}

		result, err := deps.Stats.Score(ctx, id, modulator)
		if err != nil {
			return serviceResult(err)
		}
		return jsonResult(result)
	})
}

func registerPortalTreeTool(s *server.MCPServer, deps *StatsToolDeps) {
	tool := mcp.NewTool(
		"portal_tree",
		mcp.WithDescription(
			"Return the live collection hierarchy below a node as nested {noderef_id, title, children}. "+
				"Use it to discover the node ids the other tools take.",
		),
		mcp.WithString(
			"noderef_id",
			mcp.Description("Optional - collection node id (UUID); defaults to the portal root"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, bad := nodeRefArg(req, "noderef_id", deps.PortalRootID)
		if bad != nil {
			return bad, nil
		}

		tree, err := deps.Collections.PortalTree(ctx, id)
		if err != nil {
			if deps.Logger != nil {
				deps.Logger.Warn("portal_tree failed", zap.String("noderef_id", id.String()), zap.Error(err))
			}
			return serviceResult(fmt.Errorf("failed to build portal tree: %w", err))
		}
		return jsonResult(map[string]any{
			"noderef_id": id,
			"count":      stats.CountTree(tree),
			"children":   tree,
		})
	})
}
