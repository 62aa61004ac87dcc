package rollup

import (
	"time"

	"kvkstats/internal/aggregate"
)

// CampEventAggregate mirrors aggregates/camps/{camp}/{event}.
type CampEventAggregate struct {
	Camp      string `json:"camp"`
	EventName string `json:"eventName"`
	aggregate.Totals
	KingdomCount int                      `json:"kingdomCount"`
	Kingdoms     map[int]aggregate.Totals `json:"kingdoms"` // last applied contribution per kingdom
	LastUpdated  time.Time                `json:"lastUpdated"`
}

// CumulativeKingdomAggregate mirrors aggregates/cumulative/kingdoms/{kd}.
type CumulativeKingdomAggregate struct {
	KDNumber int    `json:"kdNumber"`
	Camp     string `json:"camp"`
	aggregate.Totals
	EventCount  int                         `json:"eventCount"`
	Events      map[string]aggregate.Totals `json:"events"` // last applied contribution per event
	LastUpdated time.Time                   `json:"lastUpdated"`
}

// CumulativeCampAggregate mirrors aggregates/cumulative/camps/{camp}.
// It has no breakdown; it is rebuilt from the camp's cumulative kingdoms.
type CumulativeCampAggregate struct {
	Camp string `json:"camp"`
	aggregate.Totals
	KingdomCount int       `json:"kingdomCount"`
	LastUpdated  time.Time `json:"lastUpdated"`
}
