package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/camps"
	"kvkstats/internal/docstore"
)

var fixedNow = time.Date(2025, 10, 3, 7, 4, 0, 0, time.UTC)

func newTestStore() (*Store, *docstore.Memory) {
	mem := docstore.NewMemory()
	s := NewStore(mem, camps.Default())
	s.now = func() time.Time { return fixedNow }
	return s, mem
}

func kingdomAgg(kd int, camp, event string, totals aggregate.Totals) *aggregate.KingdomEventAggregate {
	return &aggregate.KingdomEventAggregate{KDNumber: kd, Camp: camp, EventName: event, Totals: totals}
}

func TestApplyDelta(t *testing.T) {
	breakdown := map[string]aggregate.Totals{}
	var total aggregate.Totals

	total = ApplyDelta(total, breakdown, "A", aggregate.Totals{T4: 10})
	total = ApplyDelta(total, breakdown, "B", aggregate.Totals{T4: 20})
	require.Equal(t, int64(30), total.T4)

	total = ApplyDelta(total, breakdown, "A", aggregate.Totals{T4: 15})
	require.Equal(t, int64(35), total.T4)
	require.Equal(t, aggregate.Totals{T4: 15}, breakdown["A"])

	again := ApplyDelta(total, breakdown, "A", aggregate.Totals{T4: 15})
	require.Equal(t, total, again)
}

func TestUpdateCampTier_DeltaReplace(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	_, err := s.UpdateCampTier(ctx, kingdomAgg(1400, "Fire", "Pass 7", aggregate.Totals{T4: 10, DKP: 50, PlayerCount: 3}))
	require.NoError(t, err)
	_, err = s.UpdateCampTier(ctx, kingdomAgg(1068, "Fire", "Pass 7", aggregate.Totals{T4: 20, DKP: 100, PlayerCount: 4}))
	require.NoError(t, err)

	doc, err := s.UpdateCampTier(ctx, kingdomAgg(1400, "Fire", "Pass 7", aggregate.Totals{T4: 15, DKP: 75, PlayerCount: 3}))
	require.NoError(t, err)
	require.Equal(t, int64(35), doc.T4)
	require.Equal(t, int64(175), doc.DKP)
	require.Equal(t, int64(7), doc.PlayerCount)
	require.Equal(t, 2, doc.KingdomCount)

	var stored CampEventAggregate
	ok, err := s.docs.Get(ctx, CampEventPath("Fire", "Pass 7"), &stored)
	require.NoError(t, err)
	require.True(t, ok)
	if diff := cmp.Diff(*doc, stored); diff != "" {
		t.Fatalf("stored camp tier mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateCumulativeKingdom_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	p7 := kingdomAgg(1400, "Fire", "Pass 7", aggregate.Totals{T5: 4, Deaths: 2, DKP: 70})
	p8 := kingdomAgg(1400, "Fire", "Pass 8", aggregate.Totals{T5: 1, DKP: 10})

	_, err := s.UpdateCumulativeKingdom(ctx, p7)
	require.NoError(t, err)
	first, err := s.UpdateCumulativeKingdom(ctx, p8)
	require.NoError(t, err)

	second, err := s.UpdateCumulativeKingdom(ctx, p8)
	require.NoError(t, err)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("re-applying changed the document (-first +second):\n%s", diff)
	}
	require.Equal(t, 2, second.EventCount)
	require.Equal(t, int64(80), second.DKP)
	require.Equal(t, "Fire", second.Camp)
}

func TestRebuildCumulativeCamp(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()
	table := camps.Default()

	var want int64
	for i, kd := range table.Kingdoms("Fire") {
		agg := kingdomAgg(kd, "Fire", "Pass 7", aggregate.Totals{DKP: int64(100 * (i + 1)), PlayerCount: 1})
		require.NoError(t, s.Apply(ctx, agg))
		want += agg.DKP
	}
	// Another camp must not leak in.
	require.NoError(t, s.Apply(ctx, kingdomAgg(1244, "Earth", "Pass 7", aggregate.Totals{DKP: 9999})))

	doc, err := s.RebuildCumulativeCamp(ctx, "Fire")
	require.NoError(t, err)
	require.Equal(t, want, doc.DKP)
	require.Equal(t, len(table.Kingdoms("Fire")), doc.KingdomCount)

	var sum int64
	for _, kd := range table.Kingdoms("Fire") {
		var kdDoc CumulativeKingdomAggregate
		ok, err := s.docs.Get(ctx, CumulativeKingdomPath(kd), &kdDoc)
		require.NoError(t, err)
		require.True(t, ok)
		sum += kdDoc.DKP
	}
	require.Equal(t, sum, doc.DKP)
}

func TestRebuildCumulativeCamp_PartialAndUnknown(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore()

	doc, err := s.RebuildCumulativeCamp(ctx, "Water")
	require.NoError(t, err)
	require.Zero(t, doc.KingdomCount)
	require.Equal(t, aggregate.Totals{}, doc.Totals)

	require.NoError(t, s.Apply(ctx, kingdomAgg(3554, "Water", "Pass 8", aggregate.Totals{T4: 3})))
	doc, err = s.RebuildCumulativeCamp(ctx, "Water")
	require.NoError(t, err)
	require.Equal(t, 1, doc.KingdomCount)
	require.Equal(t, int64(3), doc.T4)

	_, err = s.RebuildCumulativeCamp(ctx, "Lava")
	require.Error(t, err)
}

func TestPaths(t *testing.T) {
	require.Equal(t, "aggregates/kingdoms/1400/Pass 7", KingdomEventPath(1400, "Pass 7"))
	require.Equal(t, "aggregates/camps/Fire/Pass 7", CampEventPath("Fire", "Pass 7"))
	require.Equal(t, "aggregates/cumulative/kingdoms/1400", CumulativeKingdomPath(1400))
	require.Equal(t, "aggregates/cumulative/camps/Fire", CumulativeCampPath("Fire"))
	require.Equal(t, "events/Pass 7/kingdoms/1400/players/77", PlayerPath("Pass 7", 1400, "77"))
	require.Equal(t, "events/Pass 7/kingdoms/1400/players/A%2F1", PlayerPath("Pass 7", 1400, "A/1"))
	for _, id := range []string{"x/", "a//b", "/"} {
		require.NoError(t, docstore.ValidatePath(PlayerPath("Pass 7", 1400, id)), id)
	}
	require.Equal(t, "events/Pass 7/kingdoms/1400/players/", PlayersPrefix("Pass 7", 1400))
}
