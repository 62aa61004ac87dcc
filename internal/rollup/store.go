package rollup

import (
	"context"
	"fmt"
	"time"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/camps"
	"kvkstats/internal/docstore"
)

// Store applies kingdom-event contributions to the dependent tiers.
type Store struct {
	docs  docstore.Store
	table *camps.Table
	now   func() time.Time
}

// NewStore creates a rollup store over the document store.
func NewStore(docs docstore.Store, table *camps.Table) *Store {
	return &Store{docs: docs, table: table, now: time.Now}
}

// UpdateCampTier replaces the kingdom's contribution in its camp-event document.
func (s *Store) UpdateCampTier(ctx context.Context, agg *aggregate.KingdomEventAggregate) (*CampEventAggregate, error) {
	path := CampEventPath(agg.Camp, agg.EventName)

	return updateDoc(ctx, s.docs, path, func(_ docstore.Reader, doc *CampEventAggregate) error {
		if doc.Kingdoms == nil {
			doc.Kingdoms = make(map[int]aggregate.Totals)
		}
		doc.Camp = agg.Camp
		doc.EventName = agg.EventName
		doc.Totals = ApplyDelta(doc.Totals, doc.Kingdoms, agg.KDNumber, agg.Contribution())
		doc.KingdomCount = len(doc.Kingdoms)
		doc.LastUpdated = s.now()
		return nil
	})
}

// UpdateCumulativeKingdom replaces the event's contribution in the kingdom's cumulative document.
func (s *Store) UpdateCumulativeKingdom(ctx context.Context, agg *aggregate.KingdomEventAggregate) (*CumulativeKingdomAggregate, error) {
	path := CumulativeKingdomPath(agg.KDNumber)

	return updateDoc(ctx, s.docs, path, func(_ docstore.Reader, doc *CumulativeKingdomAggregate) error {
		if doc.Events == nil {
			doc.Events = make(map[string]aggregate.Totals)
		}
		doc.KDNumber = agg.KDNumber
		doc.Camp = agg.Camp
		doc.Totals = ApplyDelta(doc.Totals, doc.Events, agg.EventName, agg.Contribution())
		doc.EventCount = len(doc.Events)
		doc.LastUpdated = s.now()
		return nil
	})
}

// RebuildCumulativeCamp sums the cumulative documents of the camp's kingdoms.
// The camp document is held locked while its kingdoms are read, so concurrent
// rebuilds of one camp serialize and the last one sees every committed kingdom.
func (s *Store) RebuildCumulativeCamp(ctx context.Context, camp string) (*CumulativeCampAggregate, error) {
	kingdoms := s.table.Kingdoms(camp)
	if kingdoms == nil {
		return nil, fmt.Errorf("camp %q is not configured", camp)
	}

	path := CumulativeCampPath(camp)
	return updateDoc(ctx, s.docs, path, func(tx docstore.Reader, doc *CumulativeCampAggregate) error {
		var total aggregate.Totals
		count := 0
		for _, kd := range kingdoms {
			var kdDoc CumulativeKingdomAggregate
			ok, err := tx.Get(ctx, CumulativeKingdomPath(kd), &kdDoc)
			if err != nil {
				return fmt.Errorf("read cumulative kingdom %d: %w", kd, err)
			}
			if !ok {
				continue
			}
			total = total.Add(kdDoc.Totals)
			count++
		}

		*doc = CumulativeCampAggregate{
			Camp:         camp,
			Totals:       total,
			KingdomCount: count,
			LastUpdated:  s.now(),
		}
		return nil
	})
}

// Apply runs every tier update for one kingdom-event aggregate in order.
func (s *Store) Apply(ctx context.Context, agg *aggregate.KingdomEventAggregate) error {
	if _, err := s.UpdateCampTier(ctx, agg); err != nil {
		return fmt.Errorf("update camp tier: %w", err)
	}
	if _, err := s.UpdateCumulativeKingdom(ctx, agg); err != nil {
		return fmt.Errorf("update cumulative kingdom: %w", err)
	}
	if _, err := s.RebuildCumulativeCamp(ctx, agg.Camp); err != nil {
		return fmt.Errorf("rebuild cumulative camp: %w", err)
	}
	return nil
}

// updateDoc decodes the document at path (zero when absent), lets mutate change
// it and writes it back inside the store's transactional update. Other
// documents mutate needs must be read through tx.
func updateDoc[T any](ctx context.Context, docs docstore.Store, path string, mutate func(tx docstore.Reader, doc *T) error) (*T, error) {
	var out *T
	err := docs.Update(ctx, path, func(tx docstore.Reader, current []byte, exists bool) (any, error) {
		doc := new(T)
		if exists {
			if err := docstore.Unmarshal(current, doc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
		if err := mutate(tx, doc); err != nil {
			return nil, err
		}
		out = doc
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
