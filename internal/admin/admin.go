// Package admin holds the maintenance operations run from the API and kvkctl.
package admin

import (
	"context"
	"fmt"
	"time"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/camps"
	"kvkstats/internal/docstore"
	"kvkstats/internal/logging"
	"kvkstats/internal/rollup"
)

// Invalidator drops cached read projections.
type Invalidator interface {
	ClearCache(ctx context.Context) error
}

// Report summarises what a maintenance run touched.
type Report struct {
	PlayersDeleted    int `json:"playersDeleted"`
	AggregatesDeleted int `json:"aggregatesDeleted"`
	KingdomsReset     int `json:"kingdomsReset"`
	Replayed          int `json:"replayed"`
	Skipped           int `json:"skipped,omitempty"`
}

// Service runs maintenance against the document store.
type Service struct {
	docs        docstore.Store
	table       *camps.Table
	rollups     *rollup.Store
	invalidator Invalidator
	now         func() time.Time
}

// NewService creates a maintenance service. invalidator may be nil.
func NewService(docs docstore.Store, table *camps.Table, invalidator Invalidator) *Service {
	return &Service{
		docs:        docs,
		table:       table,
		rollups:     rollup.NewStore(docs, table),
		invalidator: invalidator,
		now:         time.Now,
	}
}

// ClearEventData deletes every player record and per-event aggregate, zeroes
// the cumulative kingdom documents and rebuilds the cumulative camps.
func (s *Service) ClearEventData(ctx context.Context) (*Report, error) {
	logger := logging.Logger()
	report := &Report{}

	n, err := s.docs.DeleteCollection(ctx, rollup.EventsPrefix())
	if err != nil {
		return nil, fmt.Errorf("delete player records: %w", err)
	}
	report.PlayersDeleted = n

	for _, prefix := range []string{rollup.KingdomEventsPrefix(), rollup.CampEventsPrefix()} {
		n, err := s.docs.DeleteCollection(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", prefix, err)
		}
		report.AggregatesDeleted += n
	}

	kingdoms, err := s.docs.List(ctx, rollup.CumulativeKingdomsPrefix())
	if err != nil {
		return nil, fmt.Errorf("list cumulative kingdoms: %w", err)
	}
	for _, d := range kingdoms {
		err := s.docs.Update(ctx, d.Path, func(_ docstore.Reader, current []byte, exists bool) (any, error) {
			var doc rollup.CumulativeKingdomAggregate
			if exists {
				if err := docstore.Unmarshal(current, &doc); err != nil {
					return nil, fmt.Errorf("decode %s: %w", d.Path, err)
				}
			}
			return rollup.CumulativeKingdomAggregate{
				KDNumber:    doc.KDNumber,
				Camp:        doc.Camp,
				Events:      map[string]aggregate.Totals{},
				LastUpdated: s.now(),
			}, nil
		})
		if err != nil {
			return nil, fmt.Errorf("reset %s: %w", d.Path, err)
		}
		report.KingdomsReset++
	}

	if err := s.rebuildCamps(ctx); err != nil {
		return nil, err
	}

	logger.Infof("cleared event data: %d players, %d aggregates, %d cumulative kingdoms reset",
		report.PlayersDeleted, report.AggregatesDeleted, report.KingdomsReset)
	s.clearCache(ctx)
	return report, nil
}

// ResetDatabase deletes every player record and every aggregate tier.
func (s *Service) ResetDatabase(ctx context.Context) (*Report, error) {
	report := &Report{}

	n, err := s.docs.DeleteCollection(ctx, rollup.EventsPrefix())
	if err != nil {
		return nil, fmt.Errorf("delete player records: %w", err)
	}
	report.PlayersDeleted = n

	n, err = s.docs.DeleteCollection(ctx, rollup.AggregatesPrefix())
	if err != nil {
		return nil, fmt.Errorf("delete aggregates: %w", err)
	}
	report.AggregatesDeleted = n

	logging.Logger().Warnf("database reset: %d players, %d aggregates deleted",
		report.PlayersDeleted, report.AggregatesDeleted)
	s.clearCache(ctx)
	return report, nil
}

// Rebuild drops the camp and cumulative tiers and replays every stored
// kingdom-event aggregate through them. Kingdoms outside the camp table are
// skipped.
func (s *Service) Rebuild(ctx context.Context) (*Report, error) {
	logger := logging.Logger()
	startTime := time.Now()
	report := &Report{}

	docs, err := s.docs.List(ctx, rollup.KingdomEventsPrefix())
	if err != nil {
		return nil, fmt.Errorf("list kingdom-event aggregates: %w", err)
	}

	aggs := make([]*aggregate.KingdomEventAggregate, 0, len(docs))
	for _, d := range docs {
		agg := new(aggregate.KingdomEventAggregate)
		if err := d.Decode(agg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Path, err)
		}
		camp, ok := s.table.CampOf(agg.KDNumber)
		if !ok || !s.table.HasEvent(agg.EventName) {
			logger.Warnf("rebuild: skipping %s, kingdom or event no longer configured", d.Path)
			report.Skipped++
			continue
		}
		agg.Camp = camp
		aggs = append(aggs, agg)
	}

	for _, prefix := range []string{rollup.CampEventsPrefix(), rollup.CumulativePrefix()} {
		n, err := s.docs.DeleteCollection(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("delete %s: %w", prefix, err)
		}
		report.AggregatesDeleted += n
	}

	for _, agg := range aggs {
		if _, err := s.rollups.UpdateCampTier(ctx, agg); err != nil {
			return nil, fmt.Errorf("replay kingdom %d event %q: %w", agg.KDNumber, agg.EventName, err)
		}
		if _, err := s.rollups.UpdateCumulativeKingdom(ctx, agg); err != nil {
			return nil, fmt.Errorf("replay kingdom %d event %q: %w", agg.KDNumber, agg.EventName, err)
		}
		report.Replayed++
	}

	if err := s.rebuildCamps(ctx); err != nil {
		return nil, err
	}

	logger.Infof("rebuild replayed %d kingdom-event aggregates in %v (%d skipped)",
		report.Replayed, time.Since(startTime), report.Skipped)
	s.clearCache(ctx)
	return report, nil
}

func (s *Service) rebuildCamps(ctx context.Context) error {
	for _, camp := range s.table.Order {
		if _, err := s.rollups.RebuildCumulativeCamp(ctx, camp); err != nil {
			return fmt.Errorf("rebuild cumulative camp %s: %w", camp, err)
		}
	}
	return nil
}

func (s *Service) clearCache(ctx context.Context) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.ClearCache(ctx); err != nil {
		logging.Logger().Warnf("cache invalidation after maintenance failed: %v", err)
	}
}
