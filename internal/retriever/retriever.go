// Package retriever serves read-only projections over the aggregate tiers.
//
// Results are cached for a fixed TTL keyed by query shape. A miss always reads
// the latest committed state; ClearCache drops everything at once. On storage
// failure every projection returns a zero-filled fallback together with the
// error, so callers always have something to render.
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/cache"
	"kvkstats/internal/camps"
	"kvkstats/internal/docstore"
	"kvkstats/internal/logging"
	"kvkstats/internal/metrics"
	"kvkstats/internal/rollup"
)

// Retriever reads projections for the dashboard.
type Retriever struct {
	docs  docstore.Store
	table *camps.Table
	cache cache.Cache
	now   func() time.Time
}

// New creates a retriever over the document store and read cache.
func New(docs docstore.Store, table *camps.Table, c cache.Cache) *Retriever {
	return &Retriever{docs: docs, table: table, cache: c, now: time.Now}
}

// ClearCache invalidates every cached projection.
func (r *Retriever) ClearCache(ctx context.Context) error {
	if err := r.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear read cache: %w", err)
	}
	return nil
}

// CampOf returns the kingdom's camp, or camps.Unknown.
func (r *Retriever) CampOf(kd int) string {
	if camp, ok := r.table.CampOf(kd); ok {
		return camp
	}
	return camps.Unknown
}

// ViewData fetches camps, kingdoms and the top players for event concurrently.
func (r *Retriever) ViewData(ctx context.Context, event string) (*ViewData, error) {
	return cached(ctx, r, "view_"+event, "view", func() (*ViewData, error) {
		if err := r.checkEvent(event); err != nil {
			return r.fallbackView(event), err
		}

		view := &ViewData{Event: event, Timestamp: r.now()}

		g, gCtx := errgroup.WithContext(ctx)
		g.Go(func() error {
			rows, err := r.campPerformance(gCtx, event)
			view.Camps = rows
			return err
		})
		g.Go(func() error {
			rows, err := r.kingdomPerformance(gCtx, event, true)
			view.Kingdoms = rows
			return err
		})
		g.Go(func() error {
			players, err := r.topPlayers(gCtx, event, DefaultPlayerLimit)
			view.Players = players
			return err
		})
		if err := g.Wait(); err != nil {
			return r.fallbackView(event), err
		}
		return view, nil
	})
}

// CampPerformance returns one row per configured camp, in display order.
func (r *Retriever) CampPerformance(ctx context.Context, event string) ([]CampRow, error) {
	return cached(ctx, r, "camps_"+event, "camps", func() ([]CampRow, error) {
		if err := r.checkEvent(event); err != nil {
			return r.emptyCampRows(), err
		}
		rows, err := r.campPerformance(ctx, event)
		if err != nil {
			return r.emptyCampRows(), err
		}
		return rows, nil
	})
}

// CampComparison returns camp rows with each metric as a percentage of the best camp.
func (r *Retriever) CampComparison(ctx context.Context, event string) ([]CampComparisonRow, error) {
	rows, err := r.CampPerformance(ctx, event)

	var best aggregate.Totals
	for _, row := range rows {
		best.T4 = max(best.T4, row.T4)
		best.T5 = max(best.T5, row.T5)
		best.Deaths = max(best.Deaths, row.Deaths)
		best.Healed = max(best.Healed, row.Healed)
		best.DKP = max(best.DKP, row.DKP)
		best.KillPoints = max(best.KillPoints, row.KillPoints)
	}

	out := make([]CampComparisonRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, CampComparisonRow{
			CampRow: row,
			Percentages: Percentages{
				T4:     percentOf(row.T4, best.T4),
				T5:     percentOf(row.T5, best.T5),
				Deaths: percentOf(row.Deaths, best.Deaths),
				Healed: percentOf(row.Healed, best.Healed),
				DKP:    percentOf(row.DKP, best.DKP),
				KP:     percentOf(row.KillPoints, best.KillPoints),
			},
		})
	}
	return out, err
}

// KingdomPerformance returns every configured kingdom, either grouped by camp
// order and then DKP, or ranked by DKP alone.
func (r *Retriever) KingdomPerformance(ctx context.Context, event string, groupByCamp bool) ([]KingdomRow, error) {
	key := fmt.Sprintf("kingdoms_%s_%t", event, groupByCamp)
	return cached(ctx, r, key, "kingdoms", func() ([]KingdomRow, error) {
		if err := r.checkEvent(event); err != nil {
			return r.emptyKingdomRows(groupByCamp), err
		}
		rows, err := r.kingdomPerformance(ctx, event, groupByCamp)
		if err != nil {
			return r.emptyKingdomRows(groupByCamp), err
		}
		return rows, nil
	})
}

// TopPlayers returns the best player records by DKP. For the cumulative
// filter it uses the latest configured event that has any player data.
func (r *Retriever) TopPlayers(ctx context.Context, event string, limit int) ([]aggregate.PlayerRecord, error) {
	if limit <= 0 {
		limit = DefaultPlayerLimit
	}
	key := fmt.Sprintf("players_%s_%d", event, limit)
	return cached(ctx, r, key, "players", func() ([]aggregate.PlayerRecord, error) {
		if err := r.checkEvent(event); err != nil {
			return []aggregate.PlayerRecord{}, err
		}
		players, err := r.topPlayers(ctx, event, limit)
		if err != nil {
			return []aggregate.PlayerRecord{}, err
		}
		return players, nil
	})
}

// KingdomDetails returns a kingdom's aggregate and its players sorted by DKP.
// For the cumulative filter, players are merged across events by character ID.
func (r *Retriever) KingdomDetails(ctx context.Context, kd int, event string) (*KingdomDetails, error) {
	key := fmt.Sprintf("kingdom_%d_%s", kd, event)
	return cached(ctx, r, key, "kingdom", func() (*KingdomDetails, error) {
		fallback := &KingdomDetails{
			Kingdom: KingdomRow{KDNumber: kd, Camp: r.CampOf(kd)},
			Players: []aggregate.PlayerRecord{},
		}
		if _, ok := r.table.CampOf(kd); !ok {
			return fallback, &aggregate.UnknownKingdomError{KDNumber: kd}
		}
		if err := r.checkEvent(event); err != nil {
			return fallback, err
		}

		details, err := r.kingdomDetails(ctx, kd, event)
		if err != nil {
			return fallback, err
		}
		return details, nil
	})
}

// UploadStatus classifies every configured kingdom by how many events it has data for.
func (r *Retriever) UploadStatus(ctx context.Context) (map[int]UploadStatus, error) {
	return cached(ctx, r, "status", "status", func() (map[int]UploadStatus, error) {
		status := make(map[int]UploadStatus)
		for _, kd := range r.table.AllKingdoms() {
			status[kd] = StatusNoData
		}

		docs, err := r.docs.List(ctx, rollup.CumulativeKingdomsPrefix())
		if err != nil {
			return status, fmt.Errorf("list cumulative kingdoms: %w", err)
		}

		for _, d := range docs {
			kd, err := strconv.Atoi(d.ID())
			if err != nil {
				continue
			}
			if _, ok := status[kd]; !ok {
				continue
			}
			var doc rollup.CumulativeKingdomAggregate
			if err := d.Decode(&doc); err != nil {
				return status, fmt.Errorf("decode %s: %w", d.Path, err)
			}
			switch {
			case doc.EventCount <= 0:
				status[kd] = StatusNoData
			case doc.EventCount < len(r.table.Events):
				status[kd] = StatusPartialData
			default:
				status[kd] = StatusHasData
			}
		}
		return status, nil
	})
}

func (r *Retriever) checkEvent(event string) error {
	if event == camps.Cumulative || r.table.HasEvent(event) {
		return nil
	}
	return &aggregate.UnknownEventError{EventName: event}
}

func (r *Retriever) campPerformance(ctx context.Context, event string) ([]CampRow, error) {
	rows := r.emptyCampRows()

	if event == camps.Cumulative {
		docs, err := r.docs.List(ctx, rollup.CumulativeCampsPrefix())
		if err != nil {
			return nil, fmt.Errorf("list cumulative camps: %w", err)
		}
		byCamp := make(map[string]docstore.Document, len(docs))
		for _, d := range docs {
			byCamp[d.ID()] = d
		}
		for i := range rows {
			d, ok := byCamp[rows[i].Camp]
			if !ok {
				continue
			}
			var doc rollup.CumulativeCampAggregate
			if err := d.Decode(&doc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", d.Path, err)
			}
			rows[i].Totals = doc.Totals
			rows[i].KingdomCount = doc.KingdomCount
			rows[i].LastUpdated = doc.LastUpdated
		}
		return rows, nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	for i := range rows {
		g.Go(func() error {
			var doc rollup.CampEventAggregate
			ok, err := r.docs.Get(gCtx, rollup.CampEventPath(rows[i].Camp, event), &doc)
			if err != nil {
				return fmt.Errorf("get camp %s: %w", rows[i].Camp, err)
			}
			if ok {
				rows[i].Totals = doc.Totals
				rows[i].KingdomCount = doc.KingdomCount
				rows[i].LastUpdated = doc.LastUpdated
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Retriever) kingdomPerformance(ctx context.Context, event string, groupByCamp bool) ([]KingdomRow, error) {
	rows := r.emptyKingdomRows(false)

	if event == camps.Cumulative {
		docs, err := r.docs.List(ctx, rollup.CumulativeKingdomsPrefix())
		if err != nil {
			return nil, fmt.Errorf("list cumulative kingdoms: %w", err)
		}
		byKD := make(map[int]docstore.Document, len(docs))
		for _, d := range docs {
			if kd, err := strconv.Atoi(d.ID()); err == nil {
				byKD[kd] = d
			}
		}
		for i := range rows {
			d, ok := byKD[rows[i].KDNumber]
			if !ok {
				continue
			}
			var doc rollup.CumulativeKingdomAggregate
			if err := d.Decode(&doc); err != nil {
				return nil, fmt.Errorf("decode %s: %w", d.Path, err)
			}
			kd, camp := rows[i].KDNumber, rows[i].Camp
			rows[i] = kingdomRowFromCumulative(&doc)
			rows[i].KDNumber = kd
			if rows[i].Camp == "" {
				rows[i].Camp = camp
			}
		}
	} else {
		g, gCtx := errgroup.WithContext(ctx)
		for i := range rows {
			g.Go(func() error {
				var agg aggregate.KingdomEventAggregate
				ok, err := r.docs.Get(gCtx, rollup.KingdomEventPath(rows[i].KDNumber, event), &agg)
				if err != nil {
					return fmt.Errorf("get kingdom %d: %w", rows[i].KDNumber, err)
				}
				if ok {
					camp := rows[i].Camp
					rows[i] = kingdomRowFromEvent(&agg)
					rows[i].Camp = camp
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	r.sortKingdoms(rows, groupByCamp)
	return rows, nil
}

func (r *Retriever) topPlayers(ctx context.Context, event string, limit int) ([]aggregate.PlayerRecord, error) {
	events := []string{event}
	if event == camps.Cumulative {
		events = make([]string, 0, len(r.table.Events))
		for i := len(r.table.Events) - 1; i >= 0; i-- {
			events = append(events, r.table.Events[i])
		}
	}

	for _, ev := range events {
		players, err := r.listPlayers(ctx, rollup.EventPlayersPrefix(ev))
		if err != nil {
			return nil, err
		}
		if len(players) == 0 {
			continue
		}
		sortByDKP(players)
		if len(players) > limit {
			players = players[:limit]
		}
		return players, nil
	}
	return []aggregate.PlayerRecord{}, nil
}

func (r *Retriever) kingdomDetails(ctx context.Context, kd int, event string) (*KingdomDetails, error) {
	details := &KingdomDetails{Kingdom: KingdomRow{KDNumber: kd, Camp: r.CampOf(kd)}}

	if event != camps.Cumulative {
		var agg aggregate.KingdomEventAggregate
		ok, err := r.docs.Get(ctx, rollup.KingdomEventPath(kd, event), &agg)
		if err != nil {
			return nil, fmt.Errorf("get kingdom %d: %w", kd, err)
		}
		if ok {
			details.Kingdom = kingdomRowFromEvent(&agg)
		}

		players, err := r.listPlayers(ctx, rollup.PlayersPrefix(event, kd))
		if err != nil {
			return nil, err
		}
		sortByDKP(players)
		details.Players = players
		return details, nil
	}

	var doc rollup.CumulativeKingdomAggregate
	ok, err := r.docs.Get(ctx, rollup.CumulativeKingdomPath(kd), &doc)
	if err != nil {
		return nil, fmt.Errorf("get cumulative kingdom %d: %w", kd, err)
	}
	if ok {
		details.Kingdom = kingdomRowFromCumulative(&doc)
	}

	merged := make(map[string]int)
	players := []aggregate.PlayerRecord{}
	for _, ev := range r.table.Events {
		eventPlayers, err := r.listPlayers(ctx, rollup.PlayersPrefix(ev, kd))
		if err != nil {
			return nil, err
		}
		for _, p := range eventPlayers {
			i, seen := merged[p.PlayerID]
			if !seen {
				p.EventName = camps.Cumulative
				merged[p.PlayerID] = len(players)
				players = append(players, p)
				continue
			}
			mergePlayer(&players[i], p)
		}
	}
	sortByDKP(players)
	details.Players = players
	return details, nil
}

// mergePlayer folds a later event's record into the running cumulative one.
// Counters add up; power and name follow the later event.
func mergePlayer(acc *aggregate.PlayerRecord, p aggregate.PlayerRecord) {
	acc.PlayerName = p.PlayerName
	acc.Power = p.Power
	acc.HighestPower = max(acc.HighestPower, p.HighestPower)
	acc.T1Kills += p.T1Kills
	acc.T2Kills += p.T2Kills
	acc.T3Kills += p.T3Kills
	acc.T4Kills += p.T4Kills
	acc.T5Kills += p.T5Kills
	acc.Deaths += p.Deaths
	acc.Healed += p.Healed
	acc.ResourcesGathered += p.ResourcesGathered
	acc.AllianceHelps += p.AllianceHelps
	acc.KillPoints += p.KillPoints
	acc.DKP += p.DKP
	if p.UploadedAt.After(acc.UploadedAt) {
		acc.UploadedAt = p.UploadedAt
	}
}

func (r *Retriever) listPlayers(ctx context.Context, prefix string) ([]aggregate.PlayerRecord, error) {
	docs, err := r.docs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list players %s: %w", prefix, err)
	}

	players := make([]aggregate.PlayerRecord, 0, len(docs))
	for _, d := range docs {
		var p aggregate.PlayerRecord
		if err := d.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode %s: %w", d.Path, err)
		}
		players = append(players, p)
	}
	return players, nil
}

func sortByDKP(players []aggregate.PlayerRecord) {
	sort.SliceStable(players, func(i, j int) bool {
		return players[i].DKP > players[j].DKP
	})
}

func (r *Retriever) sortKingdoms(rows []KingdomRow, groupByCamp bool) {
	sort.SliceStable(rows, func(i, j int) bool {
		if groupByCamp && rows[i].Camp != rows[j].Camp {
			return r.table.CampIndex(rows[i].Camp) < r.table.CampIndex(rows[j].Camp)
		}
		return rows[i].DKP > rows[j].DKP
	})
}

func (r *Retriever) emptyCampRows() []CampRow {
	rows := make([]CampRow, 0, len(r.table.Order))
	for _, camp := range r.table.Order {
		rows = append(rows, CampRow{Camp: camp})
	}
	return rows
}

func (r *Retriever) emptyKingdomRows(groupByCamp bool) []KingdomRow {
	var rows []KingdomRow
	for _, camp := range r.table.Order {
		for _, kd := range r.table.Kingdoms(camp) {
			rows = append(rows, KingdomRow{KDNumber: kd, Camp: camp})
		}
	}
	r.sortKingdoms(rows, groupByCamp)
	return rows
}

func (r *Retriever) fallbackView(event string) *ViewData {
	return &ViewData{
		Event:     event,
		Camps:     r.emptyCampRows(),
		Kingdoms:  r.emptyKingdomRows(true),
		Players:   []aggregate.PlayerRecord{},
		Timestamp: r.now(),
	}
}

// cached serves key from the read cache or runs load and stores its result.
// Failed loads are never cached; their fallback value is returned as is.
func cached[T any](ctx context.Context, r *Retriever, key, projection string, load func() (T, error)) (T, error) {
	logger := logging.Logger()

	var hit T
	ok, err := r.cache.Get(ctx, key, &hit)
	if err != nil {
		logger.Warnf("read cache get %s: %v", key, err)
	}
	if ok && err == nil {
		metrics.CacheRequests.WithLabelValues("hit").Inc()
		return hit, nil
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	value, err := load()
	if err != nil {
		metrics.ReadFailures.WithLabelValues(projection).Inc()
		logger.Warnf("read %s failed, serving fallback: %v", key, err)
		return value, err
	}

	if err := r.cache.Set(ctx, key, value); err != nil {
		logger.Warnf("read cache set %s: %v", key, err)
	}
	return value, nil
}
