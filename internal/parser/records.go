package parser

import (
	"math"
	"strconv"
	"strings"

	"kvkstats/internal/aggregate"
)

type column int

const (
	colCharacterID column = iota
	colUsername
	colCurrentPower
	colHighestPower
	colDeaths
	colTotalKillPoints
	colResourcesGathered
	colT5
	colT4
	colT3
	colT2
	colT1
	colAllianceHelps
	colHealed
	numColumns
)

// headerNames lists accepted header spellings per column, in the order of
// the fixed export layout (A through N).
var headerNames = [numColumns][]string{
	colCharacterID:       {"Character ID", "CharacterID", "ID", "Governor ID"},
	colUsername:          {"Username", "Name", "Governor Name", "Player"},
	colCurrentPower:      {"Current Power", "Power"},
	colHighestPower:      {"Highest Power"},
	colDeaths:            {"Deaths", "Dead", "Dead Troops"},
	colTotalKillPoints:   {"Total Kill Points", "Kill Points", "KP"},
	colResourcesGathered: {"Resources Gathered", "RSS Gathered"},
	colT5:                {"T5", "T5 Kills"},
	colT4:                {"T4", "T4 Kills"},
	colT3:                {"T3", "T3 Kills"},
	colT2:                {"T2", "T2 Kills"},
	colT1:                {"T1", "T1 Kills"},
	colAllianceHelps:     {"Alliance Helps", "Helps"},
	colHealed:            {"Healed", "Healed Troops"},
}

var totalsLabels = map[string]struct{}{"total": {}, "totals": {}, "sum": {}}

type layout [numColumns]int

// fixedLayout is the export's column order when the header is not recognised.
func fixedLayout() layout {
	var l layout
	for i := range l {
		l[i] = i
	}
	return l
}

// headerLayout maps columns by header name. It reports false unless both the
// character ID and username columns are present.
func headerLayout(header []string) (layout, bool) {
	var l layout
	for c := range l {
		l[c] = findColumn(header, headerNames[c])
	}
	return l, l[colCharacterID] >= 0 && l[colUsername] >= 0
}

// findColumn searches for a column by multiple possible names, ignoring case,
// spaces, underscores and hyphens.
func findColumn(header []string, possibleNames []string) int {
	for _, name := range possibleNames {
		want := normalizeHeader(name)
		for i, col := range header {
			if normalizeHeader(col) == want {
				return i
			}
		}
	}
	return -1
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}

func (l layout) cell(row []string, c column) string {
	idx := l[c]
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (l layout) number(row []string, c column) int64 {
	return parseNumber(l.cell(row, c))
}

// declared reads a totals cell; an empty cell stays undeclared.
func (l layout) declared(row []string, c column) *int64 {
	s := l.cell(row, c)
	if s == "" {
		return nil
	}
	v := parseNumber(s)
	return &v
}

// buildUpload converts raw records, header first, into an upload.
func buildUpload(records [][]string) (*aggregate.Upload, error) {
	l, ok := headerLayout(records[0])
	if !ok {
		l = fixedLayout()
	}

	upload := &aggregate.Upload{Rows: make([]aggregate.PlayerRow, 0, len(records)-1)}
	for _, row := range records[1:] {
		if isBlank(row) {
			continue
		}

		if len(row) > 0 && isTotalsLabel(row[0]) {
			upload.Declared = &aggregate.DeclaredTotals{
				T4Kills:           l.declared(row, colT4),
				T5Kills:           l.declared(row, colT5),
				Deaths:            l.declared(row, colDeaths),
				TotalKillPoints:   l.declared(row, colTotalKillPoints),
				ResourcesGathered: l.declared(row, colResourcesGathered),
			}
			continue
		}

		id := l.cell(row, colCharacterID)
		name := l.cell(row, colUsername)
		if id == "" || name == "" {
			upload.SkippedRows++
			continue
		}

		upload.Rows = append(upload.Rows, aggregate.PlayerRow{
			CharacterID:       id,
			Username:          name,
			CurrentPower:      l.number(row, colCurrentPower),
			HighestPower:      l.number(row, colHighestPower),
			Deaths:            l.number(row, colDeaths),
			TotalKillPoints:   l.number(row, colTotalKillPoints),
			ResourcesGathered: l.number(row, colResourcesGathered),
			T1Kills:           l.number(row, colT1),
			T2Kills:           l.number(row, colT2),
			T3Kills:           l.number(row, colT3),
			T4Kills:           l.number(row, colT4),
			T5Kills:           l.number(row, colT5),
			Healed:            l.number(row, colHealed),
			AllianceHelps:     l.number(row, colAllianceHelps),
		})
	}
	return upload, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func isTotalsLabel(s string) bool {
	_, ok := totalsLabels[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// parseNumber reads spreadsheet numbers like "1,234", "1.36E+08" or "".
// Anything unreadable or outside the int64 range counts as zero.
func parseNumber(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Round(f)
	// 2^63 is exact as a float64; MaxInt64 is not.
	if f >= math.Exp2(63) || f < -math.Exp2(63) {
		return 0
	}
	return int64(f)
}
