package rollup

import (
	"net/url"
	"strconv"

	"kvkstats/internal/docstore"
)

const (
	aggregatesRoot = "aggregates"
	eventsRoot     = "events"
)

// KingdomEventPath is the document holding one kingdom's aggregate for an event.
func KingdomEventPath(kd int, event string) string {
	return docstore.Path(aggregatesRoot, "kingdoms", strconv.Itoa(kd), event)
}

// KingdomEventsPrefix covers every kingdom-event aggregate.
func KingdomEventsPrefix() string {
	return docstore.Collection(aggregatesRoot, "kingdoms")
}

// CampEventPath is the camp tier document for an event.
func CampEventPath(camp, event string) string {
	return docstore.Path(aggregatesRoot, "camps", camp, event)
}

// CampEventsPrefix covers every camp tier document.
func CampEventsPrefix() string {
	return docstore.Collection(aggregatesRoot, "camps")
}

// CumulativeKingdomPath is the all-events document of a kingdom.
func CumulativeKingdomPath(kd int) string {
	return docstore.Path(aggregatesRoot, "cumulative", "kingdoms", strconv.Itoa(kd))
}

// CumulativeCampPath is the all-events document of a camp.
func CumulativeCampPath(camp string) string {
	return docstore.Path(aggregatesRoot, "cumulative", "camps", camp)
}

// CumulativeKingdomsPrefix covers every cumulative kingdom document.
func CumulativeKingdomsPrefix() string {
	return docstore.Collection(aggregatesRoot, "cumulative", "kingdoms")
}

// CumulativeCampsPrefix covers every cumulative camp document.
func CumulativeCampsPrefix() string {
	return docstore.Collection(aggregatesRoot, "cumulative", "camps")
}

// CumulativePrefix covers both cumulative tiers.
func CumulativePrefix() string {
	return docstore.Collection(aggregatesRoot, "cumulative")
}

// AggregatesPrefix covers every aggregate tier.
func AggregatesPrefix() string {
	return docstore.Collection(aggregatesRoot)
}

// PlayerPath is the record of one character for a kingdom and event. The
// character ID is escaped so it always forms exactly one path segment.
func PlayerPath(event string, kd int, characterID string) string {
	return docstore.Path(eventsRoot, event, "kingdoms", strconv.Itoa(kd), "players", url.PathEscape(characterID))
}

// PlayersPrefix covers the player records of a kingdom for an event.
func PlayersPrefix(event string, kd int) string {
	return docstore.Collection(eventsRoot, event, "kingdoms", strconv.Itoa(kd), "players")
}

// EventPlayersPrefix covers the player records of every kingdom for an event.
func EventPlayersPrefix(event string) string {
	return docstore.Collection(eventsRoot, event)
}

// EventsPrefix covers every player record.
func EventsPrefix() string {
	return docstore.Collection(eventsRoot)
}
