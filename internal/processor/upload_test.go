package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/camps"
	"kvkstats/internal/docstore"
	"kvkstats/internal/rollup"
)

// recordingStore traces every write and can fail writes whose path matches failPrefix.
type recordingStore struct {
	*docstore.Memory

	mu         sync.Mutex
	trace      []string
	failPrefix string
}

var errWriteFailed = errors.New("write failed")

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: docstore.NewMemory()}
}

func (s *recordingStore) record(op, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trace = append(s.trace, op+" "+path)
	if s.failPrefix != "" && strings.HasPrefix(path, s.failPrefix) {
		return errWriteFailed
	}
	return nil
}

func (s *recordingStore) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.trace...)
}

func (s *recordingStore) Set(ctx context.Context, path string, value any, merge bool) error {
	if err := s.record("set", path); err != nil {
		return err
	}
	return s.Memory.Set(ctx, path, value, merge)
}

func (s *recordingStore) Batch(ctx context.Context, writes []docstore.Write) error {
	for _, w := range writes {
		if err := s.record("batch", w.Path); err != nil {
			return err
		}
	}
	return s.Memory.Batch(ctx, writes)
}

func (s *recordingStore) Update(ctx context.Context, path string, fn docstore.UpdateFunc) error {
	if err := s.record("update", path); err != nil {
		return err
	}
	return s.Memory.Update(ctx, path, fn)
}

type fakeInvalidator struct {
	calls int
	err   error
}

func (f *fakeInvalidator) ClearCache(context.Context) error {
	f.calls++
	return f.err
}

func rows(n int, t4 int64) []aggregate.PlayerRow {
	out := make([]aggregate.PlayerRow, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, aggregate.PlayerRow{
			CharacterID:     fmt.Sprintf("c%03d", i),
			Username:        fmt.Sprintf("player %d", i),
			T4Kills:         t4,
			T5Kills:         int64(i),
			Deaths:          1,
			TotalKillPoints: 100,
		})
	}
	return out
}

type tierSnapshot struct {
	Camp              rollup.CampEventAggregate
	CumulativeKingdom rollup.CumulativeKingdomAggregate
	CumulativeCamp    rollup.CumulativeCampAggregate
}

func snapshot(t *testing.T, docs docstore.Store, kd int, camp, event string) tierSnapshot {
	t.Helper()
	ctx := context.Background()
	var s tierSnapshot
	_, err := docs.Get(ctx, rollup.CampEventPath(camp, event), &s.Camp)
	require.NoError(t, err)
	_, err = docs.Get(ctx, rollup.CumulativeKingdomPath(kd), &s.CumulativeKingdom)
	require.NoError(t, err)
	_, err = docs.Get(ctx, rollup.CumulativeCampPath(camp), &s.CumulativeCamp)
	require.NoError(t, err)
	return s
}

// ignoreTimestamps drops LastUpdated so snapshots taken at different times compare equal.
var ignoreTimestamps = cmp.FilterPath(func(p cmp.Path) bool {
	return p.Last().String() == ".LastUpdated"
}, cmp.Ignore())

func TestProcessUpload_Success(t *testing.T) {
	ctx := context.Background()
	docs := newRecordingStore()
	inv := &fakeInvalidator{}
	p := NewUploadProcessor(docs, camps.Default(), inv)

	res := p.ProcessUpload(ctx, 1400, "Pass 7", &aggregate.Upload{Rows: rows(3, 10)})
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.Aggregate)
	require.Equal(t, "Fire", res.Aggregate.Camp)
	require.Equal(t, int64(3), res.Aggregate.PlayerCount)
	require.Equal(t, 1, inv.calls)

	var stored aggregate.KingdomEventAggregate
	ok, err := docs.Get(ctx, rollup.KingdomEventPath(1400, "Pass 7"), &stored)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, res.Aggregate.DKP, stored.DKP)

	players, err := docs.List(ctx, rollup.PlayersPrefix("Pass 7", 1400))
	require.NoError(t, err)
	require.Len(t, players, 3)

	s := snapshot(t, docs, 1400, "Fire", "Pass 7")
	require.Equal(t, res.Aggregate.DKP, s.Camp.DKP)
	require.Equal(t, res.Aggregate.DKP, s.CumulativeKingdom.DKP)
	require.Equal(t, res.Aggregate.DKP, s.CumulativeCamp.DKP)

	// Stage order: batch, camp tier, cumulative kingdom, cumulative camp.
	trace := docs.writes()
	require.Equal(t, "update "+rollup.CampEventPath("Fire", "Pass 7"), trace[len(trace)-3])
	require.Equal(t, "update "+rollup.CumulativeKingdomPath(1400), trace[len(trace)-2])
	require.Equal(t, "update "+rollup.CumulativeCampPath("Fire"), trace[len(trace)-1])
}

func TestProcessUpload_IdempotentReupload(t *testing.T) {
	ctx := context.Background()
	docs := newRecordingStore()
	p := NewUploadProcessor(docs, camps.Default(), nil)
	upload := &aggregate.Upload{Rows: rows(5, 7)}

	require.True(t, p.ProcessUpload(ctx, 1068, "Pass 8", upload).Success)
	require.True(t, p.ProcessUpload(ctx, 1400, "Pass 8", &aggregate.Upload{Rows: rows(2, 1)}).Success)
	first := snapshot(t, docs, 1068, "Fire", "Pass 8")

	require.True(t, p.ProcessUpload(ctx, 1068, "Pass 8", upload).Success)
	second := snapshot(t, docs, 1068, "Fire", "Pass 8")

	if diff := cmp.Diff(first, second, ignoreTimestamps); diff != "" {
		t.Fatalf("re-upload changed the tiers (-first +second):\n%s", diff)
	}
}

func TestProcessUpload_DeltaReplace(t *testing.T) {
	ctx := context.Background()
	docs := newRecordingStore()
	p := NewUploadProcessor(docs, camps.Default(), nil)

	one := func(t4 int64) *aggregate.Upload {
		return &aggregate.Upload{Rows: []aggregate.PlayerRow{{CharacterID: "x", Username: "x", T4Kills: t4}}}
	}

	require.True(t, p.ProcessUpload(ctx, 1400, "Pass 7", one(10)).Success)
	require.True(t, p.ProcessUpload(ctx, 1068, "Pass 7", one(20)).Success)
	require.True(t, p.ProcessUpload(ctx, 1400, "Pass 7", one(15)).Success)

	s := snapshot(t, docs, 1400, "Fire", "Pass 7")
	require.Equal(t, int64(35), s.Camp.T4)
	require.Equal(t, int64(35), s.CumulativeCamp.T4)
	require.Equal(t, 2, s.Camp.KingdomCount)
}

func TestProcessUpload_UnknownKingdomWritesNothing(t *testing.T) {
	ctx := context.Background()
	docs := newRecordingStore()
	inv := &fakeInvalidator{}
	p := NewUploadProcessor(docs, camps.Default(), inv)

	res := p.ProcessUpload(ctx, 99999, "Pass 7", &aggregate.Upload{Rows: rows(3, 1)})
	require.False(t, res.Success)
	require.Contains(t, res.Message, "99999")
	require.Nil(t, res.Aggregate)
	require.Empty(t, docs.writes())
	require.Zero(t, docs.Len())
	require.Zero(t, inv.calls)

	res = p.ProcessUpload(ctx, 1400, "Pass 99", &aggregate.Upload{Rows: rows(3, 1)})
	require.False(t, res.Success)
	require.Empty(t, docs.writes())
}

func TestProcessUpload_StorageFailureSelfHeals(t *testing.T) {
	ctx := context.Background()
	docs := newRecordingStore()
	p := NewUploadProcessor(docs, camps.Default(), nil)
	upload := &aggregate.Upload{Rows: rows(4, 3)}

	// The kingdom-event batch commits, the camp tier fails.
	docs.failPrefix = rollup.CampEventsPrefix()
	res := p.ProcessUpload(ctx, 1471, "Great ziggurat", upload)
	require.False(t, res.Success)
	require.Contains(t, res.Message, StageCampTier)

	var stored aggregate.KingdomEventAggregate
	ok, err := docs.Get(ctx, rollup.KingdomEventPath(1471, "Great ziggurat"), &stored)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = p.Process(ctx, 1471, "Great ziggurat", upload)
	var storageErr *StorageWriteError
	require.ErrorAs(t, err, &storageErr)
	require.Equal(t, StageCampTier, storageErr.Stage)
	require.ErrorIs(t, err, errWriteFailed)
	require.True(t, IsRetryable(err))

	docs.failPrefix = ""
	res = p.ProcessUpload(ctx, 1471, "Great ziggurat", upload)
	require.True(t, res.Success)

	s := snapshot(t, docs, 1471, "Fire", "Great ziggurat")
	require.Equal(t, stored.DKP, s.Camp.DKP)
	require.Equal(t, stored.DKP, s.CumulativeKingdom.DKP)
	require.Equal(t, stored.DKP, s.CumulativeCamp.DKP)
}

func TestProcessUpload_BatchFailureIsAtomic(t *testing.T) {
	ctx := context.Background()
	docs := newRecordingStore()
	p := NewUploadProcessor(docs, camps.Default(), nil)

	docs.failPrefix = rollup.KingdomEventsPrefix()
	res := p.ProcessUpload(ctx, 1400, "Pass 7", &aggregate.Upload{Rows: rows(3, 1)})
	require.False(t, res.Success)
	require.Contains(t, res.Message, StagePersist)
	require.Zero(t, docs.Len())
}

func TestProcessUpload_RemovesStalePlayers(t *testing.T) {
	ctx := context.Background()
	docs := newRecordingStore()
	p := NewUploadProcessor(docs, camps.Default(), nil)

	require.True(t, p.ProcessUpload(ctx, 1400, "Pass 7", &aggregate.Upload{Rows: rows(5, 1)}).Success)
	require.True(t, p.ProcessUpload(ctx, 1400, "Pass 7", &aggregate.Upload{Rows: rows(2, 1)}).Success)

	players, err := docs.List(ctx, rollup.PlayersPrefix("Pass 7", 1400))
	require.NoError(t, err)
	require.Len(t, players, 2)
	require.Equal(t, "c000", players[0].ID())
	require.Equal(t, "c001", players[1].ID())
}

func TestProcessUpload_ReuploadKeepsIDsWithSlashes(t *testing.T) {
	ctx := context.Background()
	docs := newRecordingStore()
	p := NewUploadProcessor(docs, camps.Default(), nil)

	upload := &aggregate.Upload{Rows: []aggregate.PlayerRow{
		{CharacterID: "A/1", Username: "slash", T4Kills: 5},
		{CharacterID: "x/", Username: "trailing", T4Kills: 1},
	}}
	for i := 0; i < 2; i++ {
		res := p.ProcessUpload(ctx, 1400, "Pass 7", upload)
		require.True(t, res.Success, res.Message)
	}

	players, err := docs.List(ctx, rollup.PlayersPrefix("Pass 7", 1400))
	require.NoError(t, err)
	require.Len(t, players, 2)

	var rec aggregate.PlayerRecord
	ok, err := docs.Get(ctx, rollup.PlayerPath("Pass 7", 1400, "A/1"), &rec)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "A/1", rec.PlayerID)
}

func TestProcessUpload_ConcurrentKingdomsKeepTiersConsistent(t *testing.T) {
	ctx := context.Background()
	table := camps.Default()
	docs := docstore.NewMemory()
	p := NewUploadProcessor(docs, table, nil)
	fire := table.Kingdoms("Fire")

	var wg sync.WaitGroup
	for i, kd := range fire {
		for round := 0; round < 3; round++ {
			wg.Add(1)
			go func(i, kd, round int) {
				defer wg.Done()
				res := p.ProcessUpload(ctx, kd, "Pass 7", &aggregate.Upload{Rows: rows(i+2, int64(round+1))})
				require.True(t, res.Success, res.Message)
			}(i, kd, round)
		}
	}
	wg.Wait()

	var campDoc rollup.CampEventAggregate
	_, err := docs.Get(ctx, rollup.CampEventPath("Fire", "Pass 7"), &campDoc)
	require.NoError(t, err)
	require.Len(t, campDoc.Kingdoms, len(fire))

	var fromMap aggregate.Totals
	for _, contribution := range campDoc.Kingdoms {
		fromMap = fromMap.Add(contribution)
	}
	require.Equal(t, fromMap, campDoc.Totals)

	var fromKingdoms aggregate.Totals
	for _, kd := range fire {
		var doc rollup.CumulativeKingdomAggregate
		ok, err := docs.Get(ctx, rollup.CumulativeKingdomPath(kd), &doc)
		require.NoError(t, err)
		require.True(t, ok)
		fromKingdoms = fromKingdoms.Add(doc.Totals)
	}

	var cumulative rollup.CumulativeCampAggregate
	_, err = docs.Get(ctx, rollup.CumulativeCampPath("Fire"), &cumulative)
	require.NoError(t, err)
	require.Equal(t, fromKingdoms, cumulative.Totals)
	require.Equal(t, len(fire), cumulative.KingdomCount)
}

func TestProcessUpload_InvalidationFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	inv := &fakeInvalidator{err: errors.New("redis down")}
	p := NewUploadProcessor(newRecordingStore(), camps.Default(), inv)

	res := p.ProcessUpload(ctx, 1400, "Pass 7", &aggregate.Upload{Rows: rows(1, 1)})
	require.True(t, res.Success)
	require.Equal(t, 1, inv.calls)
}

func TestProcessUpload_CumulativeCampMatchesKingdoms(t *testing.T) {
	ctx := context.Background()
	table := camps.Default()
	docs := newRecordingStore()
	p := NewUploadProcessor(docs, table, nil)

	for i, kd := range table.Kingdoms("Fire") {
		for _, ev := range []string{"Pass 7", "Pass 8"} {
			res := p.ProcessUpload(ctx, kd, ev, &aggregate.Upload{Rows: rows(i+1, int64(i+2))})
			require.True(t, res.Success, res.Message)
		}
	}

	var sum int64
	for _, kd := range table.Kingdoms("Fire") {
		var doc rollup.CumulativeKingdomAggregate
		_, err := docs.Get(ctx, rollup.CumulativeKingdomPath(kd), &doc)
		require.NoError(t, err)
		sum += doc.DKP
	}

	var campDoc rollup.CumulativeCampAggregate
	_, err := docs.Get(ctx, rollup.CumulativeCampPath("Fire"), &campDoc)
	require.NoError(t, err)
	require.Equal(t, sum, campDoc.DKP)
	require.Equal(t, len(table.Kingdoms("Fire")), campDoc.KingdomCount)
}

func TestProcessUpload_DeclaredKillPointsWin(t *testing.T) {
	ctx := context.Background()
	p := NewUploadProcessor(newRecordingStore(), camps.Default(), nil)

	declared := int64(123456)
	res := p.ProcessUpload(ctx, 1400, "Pass 7", &aggregate.Upload{
		Rows:     rows(3, 1),
		Declared: &aggregate.DeclaredTotals{TotalKillPoints: &declared},
	})
	require.True(t, res.Success)
	require.Equal(t, declared, res.Aggregate.KillPoints)
}

func TestProcessUpload_RowTolerance(t *testing.T) {
	ctx := context.Background()
	p := NewUploadProcessor(newRecordingStore(), camps.Default(), nil)

	r := rows(4, 1)
	r = append(r, aggregate.PlayerRow{Username: "no id", T4Kills: 1000})

	res := p.ProcessUpload(ctx, 1400, "Pass 7", &aggregate.Upload{Rows: r, SkippedRows: 2})
	require.True(t, res.Success)
	require.Equal(t, int64(4), res.Aggregate.PlayerCount)
	require.Equal(t, 3, res.SkippedRows)
}
