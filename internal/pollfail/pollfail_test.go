package pollfail

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icysupport/bridgewatch/internal/bridgelog"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func TestPercent(t *testing.T) {
	assert.Equal(t, 20.0, Percent(100, 20))
	assert.Equal(t, 0.0, Percent(0, 5))
	assert.Equal(t, 0.0, Percent(0, 0))
	assert.Equal(t, 33.3, Percent(3, 1))
	assert.Equal(t, 66.7, Percent(3, 2))
	assert.Equal(t, 150.0, Percent(2, 3))
}

func TestEvaluate_FilterAndOrder(t *testing.T) {
	bridges := []bridgelog.Bridge{
		{BridgeID: 1, State: "OPEN", PollingCount: 100, PollFailureCount: 20},
		{BridgeID: 2, State: "CLOSED", PollingCount: 100, PollFailureCount: 90, LastChanged: now.Add(-2 * time.Hour)},
		{BridgeID: 3, State: "CLOSED", PollingCount: 100, PollFailureCount: 90, LastChanged: now.AddDate(0, 0, -3)},
		{BridgeID: 4, State: "open ", PollingCount: 100, PollFailureCount: 10},
		{BridgeID: 5, State: "open", PollingCount: 0, PollFailureCount: 50},
		{BridgeID: 6, State: "OPEN", PollingCount: 50, PollFailureCount: 25},
	}

	rows := Evaluate(bridges, Criteria{Threshold: 10, RecencyDays: 1}, now)
	require.Len(t, rows, 4)

	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.BridgeID)
	}
	assert.Equal(t, []int64{2, 6, 1, 5}, ids)
	assert.Equal(t, 0.0, rows[3].PollFailPercent)
}

func TestEvaluate_TiesKeepInputOrder(t *testing.T) {
	bridges := []bridgelog.Bridge{
		{BridgeID: 9, State: "OPEN", PollingCount: 100, PollFailureCount: 50},
		{BridgeID: 4, State: "OPEN", PollingCount: 200, PollFailureCount: 100},
		{BridgeID: 7, State: "OPEN", PollingCount: 22, PollFailureCount: 11},
	}
	rows := Evaluate(bridges, DefaultCriteria(), now)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(9), rows[0].BridgeID)
	assert.Equal(t, int64(4), rows[1].BridgeID)
	assert.Equal(t, int64(7), rows[2].BridgeID)
}

func TestEvaluate_EmptyIsNotNil(t *testing.T) {
	rows := Evaluate(nil, DefaultCriteria(), now)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestOpenOrRecent(t *testing.T) {
	bridges := []bridgelog.Bridge{
		{BridgeID: 1, State: "CLOSED", LastChanged: now.AddDate(0, 0, -5)},
		{BridgeID: 2, State: "OPEN"},
		{BridgeID: 3, State: "CLOSED", LastChanged: now.AddDate(0, 0, -1)},
		{BridgeID: 4, State: "CLOSED"},
	}
	rows := OpenOrRecent(bridges, 1, now)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].BridgeID)
	assert.Equal(t, int64(3), rows[1].BridgeID, "the recency boundary is inclusive")
}
