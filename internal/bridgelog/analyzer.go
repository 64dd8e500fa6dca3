package bridgelog

import (
	"math"
	"sort"
	"time"
)

// Event is one communicationlog row.
type Event struct {
	ID        int64
	BridgeID  int64
	Timestamp time.Time
	Comment   string
}

// Thresholds drive the per-bridge reduction and the flagging decision.
type Thresholds struct {
	// GapMinutes is the gap length above which a gap is counted and the bridge flagged.
	GapMinutes float64
	// RestartDayThreshold is the per-day restart count at which a day counts as "over".
	RestartDayThreshold int
	// WindowDays is the trailing window for RestartsInWindow.
	WindowDays int
	// RestartWindowThreshold flags a bridge when RestartsInWindow exceeds it.
	RestartWindowThreshold int
	// MinRestartDays marks a record Recurring when DaysOverRestartThreshold reaches it. 0 disables.
	MinRestartDays int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		GapMinutes:             15,
		RestartDayThreshold:    3,
		WindowDays:             4,
		RestartWindowThreshold: 20,
		MinRestartDays:         2,
	}
}

// HealthRecord is the derived per-bridge, per-scan summary. It is rebuilt on
// every scan.
type HealthRecord struct {
	BridgeID                 int64   `json:"inbridgeid"`
	TotalEvents              int     `json:"total"`
	RestartCount             int     `json:"restart"`
	MaxRestartsInDay         int     `json:"max_restarts_in_day"`
	DateOfMax                string  `json:"date_max_restarts,omitempty"`
	DaysOverRestartThreshold int     `json:"days_with_restarts_over_threshold"`
	RestartsInWindow         int     `json:"restarts_in_window"`
	ActivityMarkerCount      int     `json:"ab"`
	GapCountOverThreshold    int     `json:"gaps_over_threshold"`
	MaxGapMinutes            float64 `json:"max_gap_min"`
	PollFailPercent          float64 `json:"pollfail_percent"`
	Flagged                  bool    `json:"flagged"`
	Recurring                bool    `json:"recurring"`
}

// Analyzer reduces one bridge's events into a HealthRecord.
type Analyzer struct {
	classifier *Classifier
	th         Thresholds
	loc        *time.Location
	now        func() time.Time
}

func NewAnalyzer(classifier *Classifier, th Thresholds) *Analyzer {
	if classifier == nil {
		classifier = DefaultClassifier()
	}
	return &Analyzer{
		classifier: classifier,
		th:         th,
		loc:        time.Local,
		now:        time.Now,
	}
}

// WithClock overrides the clock used for the trailing window.
func (a *Analyzer) WithClock(now func() time.Time) *Analyzer {
	if now != nil {
		a.now = now
	}
	return a
}

// WithLocation sets the zone whose calendar dates key the day buckets.
func (a *Analyzer) WithLocation(loc *time.Location) *Analyzer {
	if loc != nil {
		a.loc = loc
	}
	return a
}

func (a *Analyzer) Thresholds() Thresholds { return a.th }

// Analyze performs a single forward pass over events. events must all belong
// to bridgeID; an unsorted slice is sorted on a copy, never in place.
func (a *Analyzer) Analyze(bridgeID int64, events []Event) HealthRecord {
	rec := HealthRecord{BridgeID: bridgeID, TotalEvents: len(events)}
	if len(events) == 0 {
		return rec
	}
	events = sortedCopy(events)

	cutoff := a.now().AddDate(0, 0, -a.th.WindowDays)

	// Buckets keep first-encounter order; the max date is resolved against it.
	var dayOrder []string
	dayCounts := make(map[string]int)

	var prev time.Time
	var maxGap float64
	for _, ev := range events {
		switch a.classifier.Classify(ev.Comment) {
		case Restart:
			rec.RestartCount++
			if !ev.Timestamp.IsZero() {
				day := ev.Timestamp.In(a.loc).Format(time.DateOnly)
				if _, ok := dayCounts[day]; !ok {
					dayOrder = append(dayOrder, day)
				}
				dayCounts[day]++
				if !ev.Timestamp.Before(cutoff) {
					rec.RestartsInWindow++
				}
			}
		case ActivityMarker:
			rec.ActivityMarkerCount++
		}

		if ev.Timestamp.IsZero() {
			continue
		}
		if !prev.IsZero() {
			gap := ev.Timestamp.Sub(prev).Minutes()
			if gap > maxGap {
				maxGap = gap
			}
			if gap > a.th.GapMinutes {
				rec.GapCountOverThreshold++
			}
		}
		prev = ev.Timestamp
	}

	for _, day := range dayOrder {
		c := dayCounts[day]
		if c > rec.MaxRestartsInDay {
			rec.MaxRestartsInDay = c
			rec.DateOfMax = day
		}
		if c >= a.th.RestartDayThreshold {
			rec.DaysOverRestartThreshold++
		}
	}

	rec.MaxGapMinutes = Round1(maxGap)
	rec.Flagged = IsFlagged(rec, a.th)
	rec.Recurring = a.th.MinRestartDays > 0 && rec.DaysOverRestartThreshold >= a.th.MinRestartDays
	return rec
}

// IsFlagged reports whether either threshold disjunct holds for rec.
func IsFlagged(rec HealthRecord, th Thresholds) bool {
	return rec.RestartsInWindow > th.RestartWindowThreshold || rec.MaxGapMinutes > th.GapMinutes
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func sortedCopy(events []Event) []Event {
	if sort.SliceIsSorted(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	}) {
		return events
	}
	out := make([]Event, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// GroupByBridge splits events by BridgeID, keeping first-seen bridge order
// and the relative order of events inside each group.
func GroupByBridge(events []Event) ([]int64, map[int64][]Event) {
	var order []int64
	groups := make(map[int64][]Event)
	for _, ev := range events {
		if _, ok := groups[ev.BridgeID]; !ok {
			order = append(order, ev.BridgeID)
		}
		groups[ev.BridgeID] = append(groups[ev.BridgeID], ev)
	}
	return order, groups
}

// Bridge is the metadata row joined to a HealthRecord by BridgeID.
type Bridge struct {
	BridgeID         int64     `json:"inbridgeid"`
	Hostname         string    `json:"hostname"`
	BridgeType       string    `json:"bridgetype"`
	SWVersion        string    `json:"swversion"`
	State            string    `json:"bridgestate"`
	PollingCount     int64     `json:"polling"`
	PollFailureCount int64     `json:"pollfailure"`
	LastChanged      time.Time `json:"changetimestamp"`
	Comment          string    `json:"comment"`
	ErrorText        string    `json:"errortext,omitempty"`
	LocalIP          string    `json:"localip,omitempty"`
}
