package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/BoweryJG/clearverify-patient/internal/failure"
	"github.com/BoweryJG/clearverify-patient/internal/store"
)

// PortalHealth summarizes one insurer's verifications in the window.
type PortalHealth struct {
	InsurerKey  string  `json:"insurer_key"`
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	SuccessRate float64 `json:"success_rate"`
}

// MetricsSnapshot holds a point-in-time view of verification health.
type MetricsSnapshot struct {
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`

	FailuresByCategory map[failure.Category]int `json:"failures_by_category"`
	Portals            []PortalHealth           `json:"portals"`

	// Learning tests that failed in the window.
	LearningFailures int `json:"learning_failures"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from verification and learning history.
type Collector struct {
	history store.HistoryStore
	now     func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(history store.HistoryStore) *Collector {
	return &Collector{history: history, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	snap := &MetricsSnapshot{
		FailuresByCategory: make(map[failure.Category]int),
		LookbackHours:      lookbackHours,
		CollectedAt:        now,
	}

	records, err := c.history.ListVerifications(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list verifications")
	}

	byPortal := make(map[string]*PortalHealth)
	for _, r := range records {
		snap.Total++
		ph, ok := byPortal[r.InsurerKey]
		if !ok {
			ph = &PortalHealth{InsurerKey: r.InsurerKey}
			byPortal[r.InsurerKey] = ph
		}
		ph.Total++
		if r.Success {
			snap.Succeeded++
			ph.Succeeded++
			continue
		}
		snap.Failed++
		snap.FailuresByCategory[failure.CategoryOf(r.ErrorKind)]++
	}
	if snap.Total > 0 {
		snap.SuccessRate = float64(snap.Succeeded) / float64(snap.Total)
	}

	for _, ph := range byPortal {
		ph.SuccessRate = float64(ph.Succeeded) / float64(ph.Total)
		snap.Portals = append(snap.Portals, *ph)
	}
	sort.Slice(snap.Portals, func(i, j int) bool {
		return snap.Portals[i].InsurerKey < snap.Portals[j].InsurerKey
	})

	events, err := c.history.ListLearningEvents(ctx, "")
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list learning events")
	}
	for _, ev := range events {
		if !ev.Timestamp.Before(cutoff) {
			snap.LearningFailures++
		}
	}

	return snap, nil
}
