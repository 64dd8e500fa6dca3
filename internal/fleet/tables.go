package fleet

import (
	"github.com/icysupport/bridgewatch/internal/bridgelog"
	"github.com/icysupport/bridgewatch/internal/export"
)

var healthColumns = []string{
	"database", "inbridgeid", "hostname", "bridgetype", "bridgestate",
	"total", "restart", "restarts_in_window", "max_restarts_in_day", "date_max_restarts",
	"days_with_restarts_over_threshold", "ab", "gaps_over_threshold", "max_gap_min",
	"pollfail_percent", "recurring", "comment",
}

// HealthTable lays out flagged rows for export.
func HealthTable(name string, rows []Row) export.Table {
	t := export.Table{Name: name, Columns: healthColumns, Rows: make([][]any, 0, len(rows))}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{
			r.Database, r.BridgeID, r.Hostname, r.BridgeType, r.State,
			r.TotalEvents, r.RestartCount, r.RestartsInWindow, r.MaxRestartsInDay, r.DateOfMax,
			r.DaysOverRestartThreshold, r.ActivityMarkerCount, r.GapCountOverThreshold, r.MaxGapMinutes,
			r.PollFailPercent, r.Recurring, r.Comment,
		})
	}
	return t
}

var pollColumns = []string{
	"database", "inbridgeid", "hostname", "bridgetype", "swversion", "bridgestate",
	"polling", "pollfailure", "pollfail_percent", "changetimestamp", "comment",
}

func PollTable(name string, rows []PollRow) export.Table {
	t := export.Table{Name: name, Columns: pollColumns, Rows: make([][]any, 0, len(rows))}
	for _, r := range rows {
		t.Rows = append(t.Rows, []any{
			r.Database, r.BridgeID, r.Hostname, r.BridgeType, r.SWVersion, r.State,
			r.PollingCount, r.PollFailureCount, r.PollFailPercent, r.LastChanged, r.Comment,
		})
	}
	return t
}

// PollTablesBySource splits rows into one table per database, in first-seen
// order, for per-source workbook sheets.
func PollTablesBySource(rows []PollRow) []export.Table {
	var order []string
	groups := make(map[string][]PollRow)
	for _, r := range rows {
		if _, ok := groups[r.Database]; !ok {
			order = append(order, r.Database)
		}
		groups[r.Database] = append(groups[r.Database], r)
	}
	out := make([]export.Table, 0, len(order))
	for _, db := range order {
		out = append(out, PollTable(db, groups[db]))
	}
	return out
}

// RowsBySource splits health rows by database, in first-seen order.
func RowsBySource(rows []Row) ([]string, map[string][]Row) {
	var order []string
	groups := make(map[string][]Row)
	for _, r := range rows {
		if _, ok := groups[r.Database]; !ok {
			order = append(order, r.Database)
		}
		groups[r.Database] = append(groups[r.Database], r)
	}
	return order, groups
}

var bridgeColumns = []string{
	"inbridgeid", "hostname", "bridgetype", "swversion", "bridgestate",
	"polling", "pollfailure", "changetimestamp", "comment", "errortext", "localip",
}

func BridgeTable(name string, bridges []bridgelog.Bridge) export.Table {
	t := export.Table{Name: name, Columns: bridgeColumns, Rows: make([][]any, 0, len(bridges))}
	for _, b := range bridges {
		t.Rows = append(t.Rows, []any{
			b.BridgeID, b.Hostname, b.BridgeType, b.SWVersion, b.State,
			b.PollingCount, b.PollFailureCount, b.LastChanged, b.Comment, b.ErrorText, b.LocalIP,
		})
	}
	return t
}

var restartColumns = []string{"communicationlogid", "timestamp", "ip_address", "uptime_seconds", "starttime"}

func RestartTable(name string, details []bridgelog.RestartDetail) export.Table {
	t := export.Table{Name: name, Columns: restartColumns, Rows: make([][]any, 0, len(details))}
	for _, d := range details {
		t.Rows = append(t.Rows, []any{d.EventID, d.Timestamp, d.Address.String(), int64(d.Uptime.Seconds()), d.StartedAt})
	}
	return t
}
