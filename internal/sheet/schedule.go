package sheet

import (
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/pointsync/internal/address"
	"github.com/sells-group/pointsync/internal/model"
)

// Frequency values understood by the backing store.
const (
	FrequencyDaily    = "diaria"
	FrequencyWeekly   = "semanal"
	FrequencyBiweekly = "quinzenal"
	FrequencyMonthly  = "mensal"
	FrequencyCustom   = "personalizada"
)

var ordinalMarks = strings.NewReplacer("ª", "a", "º", "a", "°", "a")

func normalizeOrdinals(s string) string {
	return address.Normalize(ordinalMarks.Replace(s))
}

// ScheduleInterpreter turns free-text schedule descriptions into a
// model.Schedule.
type ScheduleInterpreter struct {
	rules ScheduleRules
	// multi-word week phrases, longest first
	weekPhrases []string
}

// NewScheduleInterpreter builds an interpreter over the schedule rules of r.
func NewScheduleInterpreter(r *Rules) *ScheduleInterpreter {
	si := &ScheduleInterpreter{rules: r.Schedule}
	for k := range r.Schedule.Weeks {
		if strings.Contains(k, " ") {
			si.weekPhrases = append(si.weekPhrases, k)
		}
	}
	sort.Slice(si.weekPhrases, func(i, j int) bool {
		if len(si.weekPhrases[i]) != len(si.weekPhrases[j]) {
			return len(si.weekPhrases[i]) > len(si.weekPhrases[j])
		}
		return si.weekPhrases[i] < si.weekPhrases[j]
	})
	return si
}

// Interpret reads frequency, weekdays and weeks of the month from one
// description, e.g. "quinzenal, segunda a sexta" or "1ª e 3ª terça".
func (si *ScheduleInterpreter) Interpret(text string) model.Schedule {
	norm := normalizeOrdinals(text)
	if norm == "" {
		return model.Schedule{}
	}

	weeks, rest := si.weeks(norm, false)
	s := model.Schedule{
		Frequency:    si.frequency(norm),
		DaysOfWeek:   si.days(rest, false),
		WeeksOfMonth: weeks,
	}
	if s.Frequency == "" {
		s.Frequency = inferFrequency(s)
	}
	return s
}

// InterpretFrequency reads a frequency column. Unknown text yields "".
func (si *ScheduleInterpreter) InterpretFrequency(text string) string {
	return si.frequency(normalizeOrdinals(text))
}

// InterpretDays reads a days column: names, ranges or numbers 1-7.
func (si *ScheduleInterpreter) InterpretDays(text string) []int {
	return si.days(normalizeOrdinals(text), true)
}

// InterpretWeeks reads a weeks column: ordinals or numbers 1-4.
func (si *ScheduleInterpreter) InterpretWeeks(text string) []int {
	weeks, _ := si.weeks(normalizeOrdinals(text), true)
	return weeks
}

func (si *ScheduleInterpreter) frequency(norm string) string {
	if norm == "" {
		return ""
	}
	padded := " " + norm + " "
	for _, f := range si.rules.Frequencies {
		for _, p := range f.Phrases {
			if strings.Contains(padded, " "+p+" ") {
				return f.Value
			}
		}
	}
	return ""
}

// weeks extracts week ordinals and returns the text with them removed, so
// "segunda semana" is not read as Monday.
func (si *ScheduleInterpreter) weeks(norm string, numeric bool) ([]int, string) {
	seen := make(map[int]bool)
	padded := " " + norm + " "
	for _, p := range si.weekPhrases {
		for strings.Contains(padded, " "+p+" ") {
			seen[si.rules.Weeks[p]] = true
			padded = strings.Replace(padded, " "+p+" ", " ", 1)
		}
	}

	var kept []string
	for _, tok := range strings.Fields(padded) {
		if w, ok := si.rules.Weeks[tok]; ok {
			seen[w] = true
			continue
		}
		if numeric {
			if n, err := strconv.Atoi(tok); err == nil && n >= 1 && n <= 4 {
				seen[n] = true
				continue
			}
		}
		kept = append(kept, tok)
	}
	return sortedKeys(seen), strings.Join(kept, " ")
}

func (si *ScheduleInterpreter) days(norm string, numeric bool) []int {
	if norm == "" {
		return nil
	}
	padded := " " + norm + " "
	for _, p := range si.rules.AllDays {
		if strings.Contains(padded, " "+p+" ") {
			return []int{1, 2, 3, 4, 5, 6, 7}
		}
	}

	seen := make(map[int]bool)
	for _, p := range si.rules.Weekdays {
		if strings.Contains(padded, " "+p+" ") {
			for d := 1; d <= 5; d++ {
				seen[d] = true
			}
		}
	}

	var tokens []string
	for _, tok := range strings.Fields(norm) {
		if tok != "feira" && tok != "feiras" {
			tokens = append(tokens, tok)
		}
	}
	for i := 0; i < len(tokens); i++ {
		d, ok := si.day(tokens[i], numeric)
		if !ok {
			continue
		}
		if i+2 < len(tokens) && si.isRangeWord(tokens[i+1]) {
			if end, ok := si.day(tokens[i+2], numeric); ok {
				for _, v := range dayRange(d, end) {
					seen[v] = true
				}
				i += 2
				continue
			}
		}
		seen[d] = true
	}
	return sortedKeys(seen)
}

func (si *ScheduleInterpreter) day(tok string, numeric bool) (int, bool) {
	if d, ok := si.rules.Days[tok]; ok {
		return d, true
	}
	// "segundas", "sextas feiras"
	if d, ok := si.rules.Days[strings.TrimSuffix(tok, "s")]; ok && len(tok) > 4 {
		return d, true
	}
	if numeric {
		if n, err := strconv.Atoi(tok); err == nil && n >= 1 && n <= 7 {
			return n, true
		}
	}
	return 0, false
}

func (si *ScheduleInterpreter) isRangeWord(tok string) bool {
	for _, w := range si.rules.RangeWords {
		if tok == w {
			return true
		}
	}
	return false
}

// dayRange returns the inclusive run from start to end, wrapping past
// Sunday ("sexta a segunda" is 5,6,7,1).
func dayRange(start, end int) []int {
	var out []int
	for d := start; ; d = d%7 + 1 {
		out = append(out, d)
		if d == end {
			return out
		}
	}
}

// inferFrequency fills in a frequency when the text gives only days or
// weeks.
func inferFrequency(s model.Schedule) string {
	switch {
	case len(s.WeeksOfMonth) == 1:
		return FrequencyMonthly
	case len(s.WeeksOfMonth) == 2 && s.WeeksOfMonth[1]-s.WeeksOfMonth[0] == 2:
		return FrequencyBiweekly
	case len(s.WeeksOfMonth) > 0:
		return FrequencyCustom
	case len(s.DaysOfWeek) == 7:
		return FrequencyDaily
	case len(s.DaysOfWeek) > 0:
		return FrequencyWeekly
	default:
		return ""
	}
}

func sortedKeys(m map[int]bool) []int {
	if len(m) == 0 {
		return nil
	}
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}
