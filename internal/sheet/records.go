package sheet

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pointsync/internal/model"
)

// ErrNoHeader is returned when no row carries a recognizable header.
var ErrNoHeader = eris.New("sheet: no recognizable header row")

// Parser converts raw rows into import records.
type Parser struct {
	mapper *ColumnMapper
	sched  *ScheduleInterpreter
}

// NewParser builds a parser over r. A nil r uses the embedded rules.
func NewParser(r *Rules) *Parser {
	if r == nil {
		r = DefaultRules()
	}
	return &Parser{mapper: NewColumnMapper(r), sched: NewScheduleInterpreter(r)}
}

// Result is the outcome of parsing one sheet.
type Result struct {
	Records   []model.ImportRecord
	Mapping   Mapping
	Unmatched []string
	// HeaderRow is the 0-based position of the header in the input rows.
	HeaderRow int
}

// Line returns the 1-based spreadsheet line of the record with index idx.
func (r *Result) Line(idx int) int { return r.HeaderRow + idx + 2 }

// Parse reads the first non-empty row as the header and every following
// row as a record. Record.Index is the row's position after the header, so
// blank rows are skipped without shifting the index of later rows.
func (p *Parser) Parse(rows [][]string) (*Result, error) {
	header := -1
	for i, row := range rows {
		if !blank(row) {
			header = i
			break
		}
	}
	if header < 0 {
		return nil, ErrNoHeader
	}

	mapping, unmatched := p.mapper.Map(rows[header])
	if !mapping.Has(FieldAddress) && !mapping.Has(FieldName) && !mapping.Has(FieldCity) {
		return nil, eris.Wrapf(ErrNoHeader, "sheet: header %q", rows[header])
	}
	if len(unmatched) > 0 {
		zap.L().Debug("sheet: unmatched columns", zap.Strings("headers", unmatched))
	}

	res := &Result{Mapping: mapping, Unmatched: unmatched, HeaderRow: header}
	for i, row := range rows[header+1:] {
		if blank(row) {
			continue
		}
		res.Records = append(res.Records, p.record(i, row, mapping))
	}
	return res, nil
}

func (p *Parser) record(idx int, row []string, m Mapping) model.ImportRecord {
	rec := model.ImportRecord{
		Index:        idx,
		ExternalID:   cleanID(m.Value(row, FieldExternalID)),
		Name:         m.Value(row, FieldName),
		Address:      m.Value(row, FieldAddress),
		Neighborhood: m.Value(row, FieldNeighborhood),
		City:         m.Value(row, FieldCity),
		State:        m.Value(row, FieldState),
		ZipCode:      m.Value(row, FieldZipCode),
		Phone:        m.Value(row, FieldPhone),
		Email:        m.Value(row, FieldEmail),
		Notes:        m.Value(row, FieldNotes),
		Schedule:     p.schedule(row, m),
		Status:       model.StatusPending,
	}

	lat, latOK := parseCoordinate(m.Value(row, FieldLatitude))
	lon, lonOK := parseCoordinate(m.Value(row, FieldLongitude))
	if latOK && lonOK {
		rec.SetCoordinates(lat, lon)
	}
	return rec
}

// schedule merges the free-text schedule column with the dedicated
// frequency, days and weeks columns. Dedicated columns win.
func (p *Parser) schedule(row []string, m Mapping) model.Schedule {
	s := p.sched.Interpret(m.Value(row, FieldSchedule))
	inferred := s.Frequency != "" && p.sched.InterpretFrequency(m.Value(row, FieldSchedule)) == ""

	if f := p.sched.InterpretFrequency(m.Value(row, FieldFrequency)); f != "" {
		s.Frequency = f
		inferred = false
	}
	if d := p.sched.InterpretDays(m.Value(row, FieldDaysOfWeek)); len(d) > 0 {
		s.DaysOfWeek = d
	}
	if w := p.sched.InterpretWeeks(m.Value(row, FieldWeeksOfMonth)); len(w) > 0 {
		s.WeeksOfMonth = w
	}
	if s.Frequency == "" || inferred {
		s.Frequency = inferFrequency(s)
	}
	return s
}

// parseCoordinate accepts both '.' and ',' as decimal separator.
func parseCoordinate(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// cleanID drops the ".0" spreadsheets append to numeric ids.
func cleanID(s string) string {
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.Atoi(strings.TrimSuffix(s, ".0")); err == nil {
			return strings.TrimSuffix(s, ".0")
		}
	}
	return s
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// LoadFile reads and parses a spreadsheet file in one step.
func LoadFile(path string, opts XLSXOptions, r *Rules) (*Result, error) {
	rows, err := ReadFile(path, opts)
	if err != nil {
		return nil, err
	}
	res, err := NewParser(r).Parse(rows)
	if err != nil {
		return nil, err
	}
	zap.L().Info("sheet: loaded",
		zap.String("path", path),
		zap.Int("records", len(res.Records)),
		zap.Int("mapped_columns", len(res.Mapping)),
	)
	return res, nil
}
