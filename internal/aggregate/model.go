package aggregate

import (
	"time"
)

// TopPlayerLimit bounds the per kingdom-event leaderboard.
const TopPlayerLimit = 10

// UnknownPlayerName replaces an empty username on stored records.
const UnknownPlayerName = "Unknown"

// PlayerRow is one parsed spreadsheet line for a single character.
type PlayerRow struct {
	CharacterID       string `json:"characterId"`
	Username          string `json:"username"`
	CurrentPower      int64  `json:"currentPower"`
	HighestPower      int64  `json:"highestPower"`
	Deaths            int64  `json:"deaths"`
	TotalKillPoints   int64  `json:"totalKillPoints"` // game supplied, never derived
	ResourcesGathered int64  `json:"resourcesGathered"`
	T1Kills           int64  `json:"t1Kills"`
	T2Kills           int64  `json:"t2Kills"`
	T3Kills           int64  `json:"t3Kills"`
	T4Kills           int64  `json:"t4Kills"`
	T5Kills           int64  `json:"t5Kills"`
	Healed            int64  `json:"healed"`
	AllianceHelps     int64  `json:"allianceHelps"`
}

// DeclaredTotals holds the totals a spreadsheet states about itself.
// A nil field means the sheet did not declare it.
type DeclaredTotals struct {
	T4Kills           *int64 `json:"t4Kills,omitempty"`
	T5Kills           *int64 `json:"t5Kills,omitempty"`
	Deaths            *int64 `json:"deaths,omitempty"`
	TotalKillPoints   *int64 `json:"totalKillPoints,omitempty"`
	ResourcesGathered *int64 `json:"resourcesGathered,omitempty"`
}

// Upload is the parsed content of one (kingdom, event) spreadsheet.
type Upload struct {
	Rows        []PlayerRow     `json:"rows"`
	Declared    *DeclaredTotals `json:"declared,omitempty"`
	SkippedRows int             `json:"skippedRows"` // rows the parser could not use
}

// PlayerRecord mirrors events/{event}/kingdoms/{kd}/players/{characterId}.
type PlayerRecord struct {
	PlayerID          string    `json:"playerId"`
	PlayerName        string    `json:"playerName"`
	Power             int64     `json:"power"`
	HighestPower      int64     `json:"highestPower"`
	T1Kills           int64     `json:"t1Kills"`
	T2Kills           int64     `json:"t2Kills"`
	T3Kills           int64     `json:"t3Kills"`
	T4Kills           int64     `json:"t4Kills"`
	T5Kills           int64     `json:"t5Kills"`
	Deaths            int64     `json:"deaths"`
	Healed            int64     `json:"healed"`
	ResourcesGathered int64     `json:"resourcesGathered"`
	AllianceHelps     int64     `json:"allianceHelps"`
	KillPoints        int64     `json:"killPoints"`
	DKP               int64     `json:"dkp"`
	KDNumber          int       `json:"kdNumber"`
	EventName         string    `json:"eventName"`
	UploadedAt        time.Time `json:"uploadedAt"`
}

// TopPlayer is a leaderboard entry inside a kingdom-event aggregate.
type TopPlayer struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	DKP        int64  `json:"dkp"`
	Power      int64  `json:"power"`
}

// Totals is the numeric field set every rollup tier carries per contributor.
type Totals struct {
	T1          int64 `json:"totalT1"`
	T2          int64 `json:"totalT2"`
	T3          int64 `json:"totalT3"`
	T4          int64 `json:"totalT4"`
	T5          int64 `json:"totalT5"`
	Deaths      int64 `json:"totalDeaths"`
	Healed      int64 `json:"totalHealed"`
	DKP         int64 `json:"totalDKP"`
	KillPoints  int64 `json:"totalKillPoints"`
	PlayerCount int64 `json:"playerCount"`
}

// Add returns the field-wise sum.
func (t Totals) Add(o Totals) Totals {
	return Totals{
		T1:          t.T1 + o.T1,
		T2:          t.T2 + o.T2,
		T3:          t.T3 + o.T3,
		T4:          t.T4 + o.T4,
		T5:          t.T5 + o.T5,
		Deaths:      t.Deaths + o.Deaths,
		Healed:      t.Healed + o.Healed,
		DKP:         t.DKP + o.DKP,
		KillPoints:  t.KillPoints + o.KillPoints,
		PlayerCount: t.PlayerCount + o.PlayerCount,
	}
}

// Sub returns the field-wise difference.
func (t Totals) Sub(o Totals) Totals {
	return Totals{
		T1:          t.T1 - o.T1,
		T2:          t.T2 - o.T2,
		T3:          t.T3 - o.T3,
		T4:          t.T4 - o.T4,
		T5:          t.T5 - o.T5,
		Deaths:      t.Deaths - o.Deaths,
		Healed:      t.Healed - o.Healed,
		DKP:         t.DKP - o.DKP,
		KillPoints:  t.KillPoints - o.KillPoints,
		PlayerCount: t.PlayerCount - o.PlayerCount,
	}
}

// KingdomEventAggregate mirrors aggregates/kingdoms/{kd}/{event}.
// It is the sole owner of its pair and is always written whole.
type KingdomEventAggregate struct {
	KDNumber  int    `json:"kdNumber"`
	Camp      string `json:"camp"`
	EventName string `json:"eventName"`
	Totals
	TotalPower        int64       `json:"totalPower"`
	ResourcesGathered int64       `json:"resourcesGathered"`
	TopPlayers        []TopPlayer `json:"topPlayers"`
	LastUpdated       time.Time   `json:"lastUpdated"`
}

// Contribution is the share this aggregate adds to its parent tiers.
func (a *KingdomEventAggregate) Contribution() Totals {
	return a.Totals
}
