package sheet

import (
	_ "embed"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pointsync/internal/address"
)

//go:embed rules.yaml
var defaultRules []byte

// Field names a record field a column can feed.
type Field string

const (
	FieldExternalID   Field = "external_id"
	FieldName         Field = "name"
	FieldAddress      Field = "address"
	FieldNeighborhood Field = "neighborhood"
	FieldCity         Field = "city"
	FieldState        Field = "state"
	FieldZipCode      Field = "zip_code"
	FieldPhone        Field = "phone"
	FieldEmail        Field = "email"
	FieldNotes        Field = "notes"
	FieldLatitude     Field = "latitude"
	FieldLongitude    Field = "longitude"
	FieldFrequency    Field = "frequency"
	FieldDaysOfWeek   Field = "days_of_week"
	FieldWeeksOfMonth Field = "weeks_of_month"
	FieldSchedule     Field = "schedule"
)

var knownFields = map[Field]bool{
	FieldExternalID: true, FieldName: true, FieldAddress: true, FieldNeighborhood: true,
	FieldCity: true, FieldState: true, FieldZipCode: true, FieldPhone: true,
	FieldEmail: true, FieldNotes: true, FieldLatitude: true, FieldLongitude: true,
	FieldFrequency: true, FieldDaysOfWeek: true, FieldWeeksOfMonth: true, FieldSchedule: true,
}

// Rules is the table driving both the column mapper and the schedule
// interpreter.
type Rules struct {
	Columns  []ColumnRule  `yaml:"columns"`
	Schedule ScheduleRules `yaml:"schedule"`
}

// ColumnRule lists the header labels that identify a field.
type ColumnRule struct {
	Field    Field    `yaml:"field"`
	Priority int      `yaml:"priority"`
	Exact    []string `yaml:"exact"`
	Contains []string `yaml:"contains"`
}

// FrequencyRule maps phrases to a frequency value.
type FrequencyRule struct {
	Value   string   `yaml:"value"`
	Phrases []string `yaml:"phrases"`
}

// ScheduleRules holds the vocabulary of the schedule interpreter.
type ScheduleRules struct {
	Frequencies []FrequencyRule `yaml:"frequencies"`
	Days        map[string]int  `yaml:"days"`
	RangeWords  []string        `yaml:"range_words"`
	Weeks       map[string]int  `yaml:"weeks"`
	AllDays     []string        `yaml:"all_days"`
	Weekdays    []string        `yaml:"weekdays"`
}

// DefaultRules returns the embedded rule table.
func DefaultRules() *Rules {
	r, err := ParseRules(defaultRules)
	if err != nil {
		panic(err)
	}
	return r
}

// LoadRules reads a rule table from a YAML file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sheet: read rules %s", path)
	}
	return ParseRules(data)
}

// ParseRules decodes and checks a YAML rule table. Labels are normalized so
// the file may be written with accents and any casing.
func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, eris.Wrap(err, "sheet: parse rules")
	}
	if len(r.Columns) == 0 {
		return nil, eris.New("sheet: rules define no columns")
	}

	for i := range r.Columns {
		c := &r.Columns[i]
		if !knownFields[c.Field] {
			return nil, eris.Errorf("sheet: unknown field %q in rules", c.Field)
		}
		c.Exact = normalizeAll(c.Exact)
		c.Contains = normalizeAll(c.Contains)
	}
	sort.SliceStable(r.Columns, func(i, j int) bool {
		return r.Columns[i].Priority < r.Columns[j].Priority
	})

	s := &r.Schedule
	for i := range s.Frequencies {
		s.Frequencies[i].Phrases = normalizeAll(s.Frequencies[i].Phrases)
	}
	s.Days = normalizeKeys(s.Days)
	s.Weeks = normalizeKeys(s.Weeks)
	s.RangeWords = normalizeAll(s.RangeWords)
	s.AllDays = normalizeAll(s.AllDays)
	s.Weekdays = normalizeAll(s.Weekdays)
	for k, v := range s.Days {
		if v < 1 || v > 7 {
			return nil, eris.Errorf("sheet: day %q out of range: %d", k, v)
		}
	}
	for k, v := range s.Weeks {
		if v < 1 || v > 4 {
			return nil, eris.Errorf("sheet: week %q out of range: %d", k, v)
		}
	}
	return &r, nil
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := address.Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func normalizeKeys(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[normalizeOrdinals(k)] = v
	}
	return out
}
