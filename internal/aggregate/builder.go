package aggregate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"kvkstats/internal/camps"
)

// UnknownKingdomError rejects uploads for kingdoms outside every camp.
type UnknownKingdomError struct {
	KDNumber int
}

func (e *UnknownKingdomError) Error() string {
	return fmt.Sprintf("kingdom %d not found in any camp", e.KDNumber)
}

// UnknownEventError rejects uploads for events missing from the camp table.
type UnknownEventError struct {
	EventName string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("event %q is not a configured event", e.EventName)
}

// KingdomEventSet is everything one upload produces before persistence.
type KingdomEventSet struct {
	Aggregate *KingdomEventAggregate
	Players   []PlayerRecord
	Skipped   int // rows dropped for a missing character ID
}

// BuildKingdomEvent reduces one upload into player records and the kingdom-event aggregate.
func BuildKingdomEvent(table *camps.Table, kd int, eventName string, upload *Upload, now time.Time) (*KingdomEventSet, error) {
	camp, ok := table.CampOf(kd)
	if !ok {
		return nil, &UnknownKingdomError{KDNumber: kd}
	}
	if !table.HasEvent(eventName) {
		return nil, &UnknownEventError{EventName: eventName}
	}
	if upload == nil {
		return nil, fmt.Errorf("upload for kingdom %d is empty", kd)
	}

	agg := &KingdomEventAggregate{
		KDNumber:    kd,
		Camp:        camp,
		EventName:   eventName,
		LastUpdated: now,
	}
	top := newTopN(TopPlayerLimit)
	players := make([]PlayerRecord, 0, len(upload.Rows))
	skipped := 0

	for _, row := range upload.Rows {
		id := strings.TrimSpace(row.CharacterID)
		if id == "" {
			skipped++
			continue
		}

		rec := buildPlayerRecord(row, id, kd, eventName, now)
		players = append(players, rec)

		agg.T1 += rec.T1Kills
		agg.T2 += rec.T2Kills
		agg.T3 += rec.T3Kills
		agg.T4 += rec.T4Kills
		agg.T5 += rec.T5Kills
		agg.Deaths += rec.Deaths
		agg.Healed += rec.Healed
		agg.KillPoints += rec.KillPoints
		agg.PlayerCount++
		agg.TotalPower += rec.Power
		agg.ResourcesGathered += rec.ResourcesGathered

		top.offer(TopPlayer{
			PlayerID:   rec.PlayerID,
			PlayerName: rec.PlayerName,
			DKP:        rec.DKP,
			Power:      rec.Power,
		})
	}

	applyDeclared(agg, upload.Declared)

	// Computed once from the final totals; never the sum of player DKP.
	agg.DKP = Score(agg.T4, agg.T5, agg.Deaths)
	agg.TopPlayers = top.items

	return &KingdomEventSet{
		Aggregate: agg,
		Players:   players,
		Skipped:   skipped,
	}, nil
}

// buildPlayerRecord converts a parsed row into its stored form.
func buildPlayerRecord(row PlayerRow, id string, kd int, eventName string, now time.Time) PlayerRecord {
	name := strings.TrimSpace(row.Username)
	if name == "" {
		name = UnknownPlayerName
	}

	return PlayerRecord{
		PlayerID:          id,
		PlayerName:        name,
		Power:             row.CurrentPower,
		HighestPower:      row.HighestPower,
		T1Kills:           row.T1Kills,
		T2Kills:           row.T2Kills,
		T3Kills:           row.T3Kills,
		T4Kills:           row.T4Kills,
		T5Kills:           row.T5Kills,
		Deaths:            row.Deaths,
		Healed:            row.Healed,
		ResourcesGathered: row.ResourcesGathered,
		AllianceHelps:     row.AllianceHelps,
		KillPoints:        row.TotalKillPoints,
		DKP:               Score(row.T4Kills, row.T5Kills, row.Deaths),
		KDNumber:          kd,
		EventName:         eventName,
		UploadedAt:        now,
	}
}

// applyDeclared lets the sheet's own totals win over the row sums.
func applyDeclared(agg *KingdomEventAggregate, d *DeclaredTotals) {
	if d == nil {
		return
	}
	if d.T4Kills != nil {
		agg.T4 = *d.T4Kills
	}
	if d.T5Kills != nil {
		agg.T5 = *d.T5Kills
	}
	if d.Deaths != nil {
		agg.Deaths = *d.Deaths
	}
	if d.TotalKillPoints != nil {
		agg.KillPoints = *d.TotalKillPoints
	}
	if d.ResourcesGathered != nil {
		agg.ResourcesGathered = *d.ResourcesGathered
	}
}

// topN keeps the best entries by DKP; equal DKP keeps arrival order.
type topN struct {
	limit int
	items []TopPlayer
}

func newTopN(limit int) *topN {
	return &topN{limit: limit, items: make([]TopPlayer, 0, limit)}
}

func (t *topN) offer(p TopPlayer) {
	i := sort.Search(len(t.items), func(i int) bool {
		return t.items[i].DKP < p.DKP
	})
	if i >= t.limit {
		return
	}

	t.items = append(t.items, TopPlayer{})
	copy(t.items[i+1:], t.items[i:])
	t.items[i] = p

	if len(t.items) > t.limit {
		t.items = t.items[:t.limit]
	}
}
