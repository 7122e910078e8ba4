package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestStatWritten(t *testing.T) {
	before := testutil.ToFloat64(statsWritten.WithLabelValues("search", "run"))
	StatWritten("search", "run")
	assert.Equal(t, before+1, testutil.ToFloat64(statsWritten.WithLabelValues("search", "run")))
}

func TestRunsInFlight(t *testing.T) {
	before := testutil.ToFloat64(runsInFlight)
	RunStarted()
	assert.Equal(t, before+1, testutil.ToFloat64(runsInFlight))
	RunFinished()
	assert.Equal(t, before, testutil.ToFloat64(runsInFlight))
}

func TestObserveSearch_LabelsByOutcome(t *testing.T) {
	ObserveSearch(10*time.Millisecond, nil)
	ObserveSearch(10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(searchDuration))
}

func TestScoreCacheLookup(t *testing.T) {
	before := testutil.ToFloat64(scoreCache.WithLabelValues("hit"))
	ScoreCacheLookup(true)
	assert.Equal(t, before+1, testutil.ToFloat64(scoreCache.WithLabelValues("hit")))
}

func TestToolCalled(t *testing.T) {
	before := testutil.ToFloat64(toolCalls.WithLabelValues("read_stats", "error"))
	ToolCalled("read_stats", true)
	assert.Equal(t, before+1, testutil.ToFloat64(toolCalls.WithLabelValues("read_stats", "error")))
}

func TestObserveHTTP_UnmatchedRoute(t *testing.T) {
	ObserveHTTP("", 404, time.Millisecond)
	ObserveHTTP("GET /health", 200, time.Millisecond)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(httpDuration), 2)
}
