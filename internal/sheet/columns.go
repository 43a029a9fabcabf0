package sheet

import (
	"strings"

	"github.com/sells-group/pointsync/internal/address"
)

// Mapping maps a field to the index of the column that feeds it.
type Mapping map[Field]int

// Has reports whether the field is mapped.
func (m Mapping) Has(f Field) bool {
	_, ok := m[f]
	return ok
}

// Value returns the cell feeding f, or "" when the field is unmapped or the
// row is short.
func (m Mapping) Value(row []string, f Field) string {
	i, ok := m[f]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ColumnMapper assigns header cells to record fields.
type ColumnMapper struct {
	rules []ColumnRule
}

// NewColumnMapper builds a mapper over the column rules of r.
func NewColumnMapper(r *Rules) *ColumnMapper {
	return &ColumnMapper{rules: r.Columns}
}

// match is a candidate column for a field. rank orders candidates: exact
// labels before contains labels, earlier labels first.
type match struct {
	col  int
	rank int
}

// Map assigns each field at most one column and each column at most one
// field. Fields are served in priority order; a field takes its best
// candidate that no earlier field claimed. Unmatched headers are returned.
func (m *ColumnMapper) Map(header []string) (Mapping, []string) {
	norm := make([]string, len(header))
	for i, h := range header {
		norm[i] = address.Normalize(h)
	}

	out := make(Mapping)
	taken := make(map[int]bool)
	for _, rule := range m.rules {
		if out.Has(rule.Field) {
			continue
		}
		best := match{col: -1}
		for col, h := range norm {
			if h == "" || taken[col] {
				continue
			}
			rank := rankHeader(h, rule)
			if rank < 0 {
				continue
			}
			if best.col < 0 || rank < best.rank {
				best = match{col: col, rank: rank}
			}
		}
		if best.col >= 0 {
			out[rule.Field] = best.col
			taken[best.col] = true
		}
	}

	var unmatched []string
	for col, h := range header {
		if !taken[col] && strings.TrimSpace(h) != "" {
			unmatched = append(unmatched, h)
		}
	}
	return out, unmatched
}

// rankHeader returns the rank of header h under rule, or -1 when it does
// not match.
func rankHeader(h string, rule ColumnRule) int {
	for i, label := range rule.Exact {
		if h == label {
			return i
		}
	}
	padded := " " + h + " "
	for i, label := range rule.Contains {
		if strings.Contains(padded, " "+label+" ") || strings.HasPrefix(h, label) {
			return len(rule.Exact) + i
		}
	}
	return -1
}
