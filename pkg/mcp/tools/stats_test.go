package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openeduhub/metaqs/pkg/apperrors"
	"github.com/openeduhub/metaqs/pkg/models"
)

var (
	portalRoot = uuid.MustParse("5e40e372-735c-4b17-bbf7-e827a5702b57")
	physics    = uuid.MustParse("94f22c9b-0d3a-4c1c-8987-4c8e83f3a92e")
)

type fakeStats struct {
	stat  *models.Stat
	times []time.Time
	score *models.ScoreResult
	err   error

	gotID   uuid.UUID
	gotType *models.StatType
	gotAt   *time.Time
	gotMod  string
}

func (f *fakeStats) ReadStats(_ context.Context, id uuid.UUID, st models.StatType, at *time.Time) (*models.Stat, error) {
	f.gotID, f.gotType, f.gotAt = id, &st, at
	return f.stat, f.err
}

func (f *fakeStats) Timeline(_ context.Context, id uuid.UUID, st *models.StatType) ([]time.Time, error) {
	f.gotID, f.gotType = id, st
	return f.times, f.err
}

func (f *fakeStats) Score(_ context.Context, id uuid.UUID, modulator string) (*models.ScoreResult, error) {
	f.gotID, f.gotMod = id, modulator
	return f.score, f.err
}

type fakeTree struct {
	tree  []*models.PortalTreeNode
	err   error
	gotID uuid.UUID
}

func (f *fakeTree) PortalTree(_ context.Context, id uuid.UUID) ([]*models.PortalTreeNode, error) {
	f.gotID = id
	return f.tree, f.err
}

type toolReply struct {
	IsError bool
	Text    string
	RPCErr  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
}

func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) toolReply {
	t.Helper()
	req, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": name, "arguments": args},
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), req))
	require.NoError(t, err)

	var resp struct {
		Result struct {
			IsError bool `json:"isError"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"result"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))

	reply := toolReply{IsError: resp.Result.IsError, RPCErr: resp.Error}
	if len(resp.Result.Content) > 0 {
		reply.Text = resp.Result.Content[0].Text
	}
	return reply
}

func newStatsToolServer(st *fakeStats, tree *fakeTree) *server.MCPServer {
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterStatsTools(s, &StatsToolDeps{
		Stats:        st,
		Collections:  tree,
		PortalRootID: portalRoot,
		Logger:       zap.NewNop(),
	})
	return s
}

func TestRegisterStatsTools_ListsTools(t *testing.T) {
	s := newStatsToolServer(&fakeStats{}, &fakeTree{})

	raw, err := json.Marshal(s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tools/list","id":1}`)))
	require.NoError(t, err)

	var resp struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(raw, &resp))

	var names []string
	for _, tool := range resp.Result.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"read_stats", "stats_timeline", "stats_score", "portal_tree"}, names)
}

func TestReadStatsTool(t *testing.T) {
	derived := time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC)
	st := &fakeStats{stat: &models.Stat{
		NodeRefID: physics,
		StatType:  models.StatTypeMaterialTypes,
		Stats:     json.RawMessage(`{"physics":{"video":2,"total":2}}`),
		DerivedAt: derived,
	}}
	s := newStatsToolServer(st, &fakeTree{})

	reply := callTool(t, s, "read_stats", map[string]any{
		"noderef_id": physics.String(),
		"stat_type":  "material-types",
		"at":         "2024-05-02T00:00:00Z",
	})

	require.False(t, reply.IsError, reply.Text)
	assert.JSONEq(t, `{
		"noderef_id":"94f22c9b-0d3a-4c1c-8987-4c8e83f3a92e",
		"stat_type":"material-types",
		"derived_at":"2024-05-01T03:00:00Z",
		"stats":{"physics":{"video":2,"total":2}}
	}`, reply.Text)
	assert.Equal(t, physics, st.gotID)
	require.NotNil(t, st.gotAt)
	assert.True(t, st.gotAt.Equal(time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)))
}

func TestReadStatsTool_InputErrors(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"missing node", map[string]any{"stat_type": "search"}, "'noderef_id' is required"},
		{"bad node", map[string]any{"noderef_id": "x", "stat_type": "search"}, "must be a UUID"},
		{"missing stat type", map[string]any{"noderef_id": physics.String()}, "valid_stat_types"},
		{"unknown stat type", map[string]any{"noderef_id": physics.String(), "stat_type": "popularity"}, "invalid stat type"},
		{"bad time", map[string]any{"noderef_id": physics.String(), "stat_type": "search", "at": "yesterday"}, "RFC 3339"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStats{}
			reply := callTool(t, newStatsToolServer(st, &fakeTree{}), "read_stats", tt.args)

			assert.True(t, reply.IsError)
			assert.Contains(t, reply.Text, tt.want)
			assert.Nil(t, st.gotType, "service must not be called")
		})
	}
}

func TestReadStatsTool_NotFoundIsToolError(t *testing.T) {
	st := &fakeStats{err: fmt.Errorf("%w: no search snapshot", apperrors.ErrNotFound)}

	reply := callTool(t, newStatsToolServer(st, &fakeTree{}), "read_stats", map[string]any{
		"noderef_id": physics.String(),
		"stat_type":  "search",
	})

	assert.True(t, reply.IsError)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(reply.Text), &body))
	assert.Equal(t, "not_found", body.Code)
}

func TestTimelineTool(t *testing.T) {
	st := &fakeStats{times: []time.Time{
		time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC),
		time.Date(2024, 5, 1, 3, 0, 0, 0, time.UTC),
	}}

	reply := callTool(t, newStatsToolServer(st, &fakeTree{}), "stats_timeline", map[string]any{
		"noderef_id": physics.String(),
	})

	require.False(t, reply.IsError, reply.Text)
	assert.JSONEq(t, `{"timeline":["2024-05-02T03:00:00Z","2024-05-01T03:00:00Z"],"count":2}`, reply.Text)
	assert.Nil(t, st.gotType)
}

func TestScoreTool_DefaultsToPortalRoot(t *testing.T) {
	score := 0.75
	st := &fakeStats{score: &models.ScoreResult{Score: &score}}

	reply := callTool(t, newStatsToolServer(st, &fakeTree{}), "stats_score", map[string]any{"modulator": "sqrt"})

	require.False(t, reply.IsError, reply.Text)
	assert.Equal(t, portalRoot, st.gotID)
	assert.Equal(t, "sqrt", st.gotMod)
	assert.Contains(t, reply.Text, `"score":0.75`)
}

func TestScoreTool_UnknownModulator(t *testing.T) {
	st := &fakeStats{}

	reply := callTool(t, newStatsToolServer(st, &fakeTree{}), "stats_score", map[string]any{"modulator": "cubic"})

	assert.True(t, reply.IsError)
	assert.Empty(t, st.gotMod)
}

func TestScoreTool_UpstreamFailureIsProtocolError(t *testing.T) {
	st := &fakeStats{err: fmt.Errorf("%w: timeout", apperrors.ErrUpstreamQuery)}

	reply := callTool(t, newStatsToolServer(st, &fakeTree{}), "stats_score", nil)

	assert.False(t, reply.IsError)
	require.NotNil(t, reply.RPCErr)
	assert.Contains(t, reply.RPCErr.Message, "upstream query failed")
}

func TestPortalTreeTool(t *testing.T) {
	tree := &fakeTree{tree: []*models.PortalTreeNode{{
		NodeRefID: physics,
		Title:     "Physik",
		Children: []*models.PortalTreeNode{
			{NodeRefID: uuid.New(), Title: "Optik", Children: []*models.PortalTreeNode{}},
		},
	}}}

	reply := callTool(t, newStatsToolServer(&fakeStats{}, tree), "portal_tree", nil)

	require.False(t, reply.IsError, reply.Text)
	assert.Equal(t, portalRoot, tree.gotID)

	var body struct {
		Count    int                      `json:"count"`
		Children []*models.PortalTreeNode `json:"children"`
	}
	require.NoError(t, json.Unmarshal([]byte(reply.Text), &body))
	assert.Equal(t, 2, body.Count)
	require.Len(t, body.Children, 1)
	assert.Equal(t, "Optik", body.Children[0].Children[0].Title)
}

func TestPortalTreeTool_Failure(t *testing.T) {
	tree := &fakeTree{err: errors.New("connection refused")}

	reply := callTool(t, newStatsToolServer(&fakeStats{}, tree), "portal_tree", map[string]any{"noderef_id": physics.String()})

	require.NotNil(t, reply.RPCErr)
	assert.Equal(t, physics, tree.gotID)
}
