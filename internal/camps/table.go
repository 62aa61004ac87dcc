package camps

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Cumulative is the pseudo event name used by read paths for all-events figures.
const Cumulative = "cumulative"

// Unknown is reported by read paths for kingdoms outside every camp.
const Unknown = "Unknown"

// Table is the static camp membership and event list, loaded once at start.
type Table struct {
	// Order lists camp names in display order.
	Order  []string         `yaml:"order"`
	Camps  map[string][]int `yaml:"camps"`
	Events []string         `yaml:"events"`

	campOf map[int]string
}

// Default returns the built-in season configuration.
func Default() *Table {
	t := &Table{
		Order: []string{"Fire", "Earth", "Water", "Wind"},
		Camps: map[string][]int{
			"Fire":  {1400, 1068, 1471, 2162, 2197, 1520},
			"Earth": {1244, 1694, 2944, 3590, 2546, 1014},
			"Water": {3554, 1896, 1569, 3152, 3596, 2711, 1267},
			"Wind":  {2352, 2973, 1477, 1294, 1732, 2509, 1359},
		},
		Events: []string{"Pass 4*", "Altar of darkness", "Pass 7", "Pass 8", "Great ziggurat"},
	}
	if err := t.index(); err != nil {
		panic(err)
	}
	return t
}

// Load reads a YAML camp table. An empty path yields Default().
func Load(path string) (*Table, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read camp table: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML camp table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal camp table: %w", err)
	}
	if err := t.index(); err != nil {
		return nil, err
	}
	return &t, nil
}

// index validates the table and builds the kingdom lookup.
func (t *Table) index() error {
	if len(t.Camps) == 0 {
		return fmt.Errorf("camp table has no camps")
	}
	if len(t.Events) == 0 {
		return fmt.Errorf("camp table has no events")
	}

	if len(t.Order) == 0 {
		for camp := range t.Camps {
			t.Order = append(t.Order, camp)
		}
		sort.Strings(t.Order)
	}
	if len(t.Order) != len(t.Camps) {
		return fmt.Errorf("camp order lists %d camps, table has %d", len(t.Order), len(t.Camps))
	}
	for _, camp := range t.Order {
		if _, ok := t.Camps[camp]; !ok {
			return fmt.Errorf("camp order names unknown camp %q", camp)
		}
		if strings.Contains(camp, "/") {
			return fmt.Errorf("invalid camp name %q", camp)
		}
	}

	seenEvents := make(map[string]struct{}, len(t.Events))
	for _, ev := range t.Events {
		if ev == "" || ev == Cumulative || strings.Contains(ev, "/") {
			return fmt.Errorf("invalid event name %q", ev)
		}
		if _, dup := seenEvents[ev]; dup {
			return fmt.Errorf("duplicate event %q", ev)
		}
		seenEvents[ev] = struct{}{}
	}

	t.campOf = make(map[int]string)
	for camp, kingdoms := range t.Camps {
		for _, kd := range kingdoms {
			if other, dup := t.campOf[kd]; dup {
				return fmt.Errorf("kingdom %d belongs to both %s and %s", kd, other, camp)
			}
			t.campOf[kd] = camp
		}
	}

	return nil
}

// CampOf returns the camp a kingdom belongs to.
func (t *Table) CampOf(kd int) (string, bool) {
	camp, ok := t.campOf[kd]
	return camp, ok
}

// Kingdoms returns the fixed kingdom list of a camp.
func (t *Table) Kingdoms(camp string) []int {
	return t.Camps[camp]
}

// AllKingdoms returns every kingdom grouped by camp order.
func (t *Table) AllKingdoms() []int {
	var out []int
	for _, camp := range t.Order {
		out = append(out, t.Camps[camp]...)
	}
	return out
}

// HasEvent reports whether ev is a configured event.
func (t *Table) HasEvent(ev string) bool {
	for _, known := range t.Events {
		if known == ev {
			return true
		}
	}
	return false
}

// CampIndex returns the display position of a camp, or len(Order) when unknown.
func (t *Table) CampIndex(camp string) int {
	for i, c := range t.Order {
		if c == camp {
			return i
		}
	}
	return len(t.Order)
}
