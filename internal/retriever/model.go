package retriever

import (
	"time"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/rollup"
)

// DefaultPlayerLimit is the leaderboard length used by ViewData.
const DefaultPlayerLimit = 100

// CampRow is one camp's figures for an event, or across all events.
type CampRow struct {
	Camp string `json:"camp"`
	aggregate.Totals
	KingdomCount int       `json:"kingdomCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Percentages expresses a camp's figures relative to the best camp per metric.
type Percentages struct {
	T4     float64 `json:"t4"`
	T5     float64 `json:"t5"`
	Deaths float64 `json:"deaths"`
	Healed float64 `json:"healed"`
	DKP    float64 `json:"dkp"`
	KP     float64 `json:"kp"`
}

// CampComparisonRow is a CampRow plus its relative standing.
type CampComparisonRow struct {
	CampRow
	Percentages Percentages `json:"percentages"`
}

// KingdomRow is one kingdom's figures for an event, or across all events.
type KingdomRow struct {
	KDNumber int    `json:"kdNumber"`
	Camp     string `json:"camp"`
	aggregate.Totals
	TotalPower        int64                 `json:"totalPower"`
	ResourcesGathered int64                 `json:"resourcesGathered"`
	EventCount        int                   `json:"eventCount,omitempty"` // cumulative only
	TopPlayers        []aggregate.TopPlayer `json:"topPlayers,omitempty"`
	LastUpdated       time.Time             `json:"lastUpdated"`
}

// ViewData is everything the dashboard needs for one event filter.
type ViewData struct {
	Event     string                   `json:"event"`
	Camps     []CampRow                `json:"camps"`
	Kingdoms  []KingdomRow             `json:"kingdoms"`
	Players   []aggregate.PlayerRecord `json:"players"`
	Timestamp time.Time                `json:"timestamp"`
}

// KingdomDetails is one kingdom's aggregate with its player records.
type KingdomDetails struct {
	Kingdom KingdomRow               `json:"kingdom"`
	Players []aggregate.PlayerRecord `json:"players"`
}

// UploadStatus reports how many configured events a kingdom has data for.
type UploadStatus string

const (
	StatusNoData      UploadStatus = "no-data"
	StatusPartialData UploadStatus = "partial-data"
	StatusHasData     UploadStatus = "has-data"
)

func kingdomRowFromEvent(agg *aggregate.KingdomEventAggregate) KingdomRow {
	return KingdomRow{
		KDNumber:          agg.KDNumber,
		Camp:              agg.Camp,
		Totals:            agg.Totals,
		TotalPower:        agg.TotalPower,
		ResourcesGathered: agg.ResourcesGathered,
		TopPlayers:        agg.TopPlayers,
		LastUpdated:       agg.LastUpdated,
	}
}

func kingdomRowFromCumulative(doc *rollup.CumulativeKingdomAggregate) KingdomRow {
	return KingdomRow{
		KDNumber:    doc.KDNumber,
		Camp:        doc.Camp,
		Totals:      doc.Totals,
		EventCount:  doc.EventCount,
		LastUpdated: doc.LastUpdated,
	}
}

func percentOf(v, best int64) float64 {
	if best <= 0 {
		return 0
	}
	return float64(v) / float64(best) * 100
}
