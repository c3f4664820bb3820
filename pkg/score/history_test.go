package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryBoundsSamples(t *testing.T) {
	history := NewHistory(3)

	for i := 0; i < 5; i++ {
		history.Observe(Record{
			ModuleID: "cv-renderer",
			Score:    90 + i,
			Status:   StatusHealthy,
			ScoredAt: time.Unix(int64(i), 0),
		})
	}

	trend := history.Trend("cv-renderer")
	require.Len(t, trend, 3)
	assert.Equal(t, 92, trend[0].Score)
	assert.Equal(t, 94, trend[2].Score)
}

func TestHistoryIsolatesModules(t *testing.T) {
	history := NewHistory(10)
	history.Observe(Record{ModuleID: "a", Score: 50, Status: StatusCritical})

	assert.Nil(t, history.Trend("b"))
	require.Len(t, history.Trend("a"), 1)
}

func TestHistoryTrendReturnsCopy(t *testing.T) {
	history := NewHistory(10)
	history.Observe(Record{ModuleID: "a", Score: 50, Status: StatusCritical})

	trend := history.Trend("a")
	trend[0].Score = 0

	assert.Equal(t, 50, history.Trend("a")[0].Score)
}
