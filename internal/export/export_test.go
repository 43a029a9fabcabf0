package export

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/jonas-p/go-shp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pointsync/internal/model"
)

func record(idx int, id string, lat, lon float64) model.ImportRecord {
	r := model.ImportRecord{
		Index:      idx,
		ExternalID: id,
		Name:       "Ecoponto " + id,
		Address:    "Rua São João, 10",
		City:       "Campinas",
		State:      "sp",
		Status:     model.StatusSuccess,
		Source:     model.SourceGeocoded,
		Variant:    "full_address",
		Quality:    model.QualityHigh,
		Score:      0.9125,
		Schedule:   model.Schedule{Frequency: "semanal", DaysOfWeek: []int{1, 3}},
	}
	r.SetCoordinates(lat, lon)
	return r
}

func attr(r *shp.Reader, row, field int) string {
	return strings.TrimRight(r.ReadAttribute(row, field), "\x00 ")
}

func TestShapefile(t *testing.T) {
	noCoords := model.ImportRecord{Index: 2, ExternalID: "C", Status: model.StatusError}
	recs := []model.ImportRecord{
		record(0, "A", -22.9056, -47.0608),
		record(1, "B", -23.5505, -46.6333),
		noCoords,
	}

	path := filepath.Join(t.TempDir(), "pontos.shp")
	n, err := Shapefile(path, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cpg, err := os.ReadFile(filepath.Join(filepath.Dir(path), "pontos.cpg"))
	require.NoError(t, err)
	assert.Equal(t, "1252", string(cpg))

	r, err := shp.Open(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	assert.Equal(t, shp.POINT, r.GeometryType)
	require.Len(t, r.Fields(), len(pointFields))

	var points []shp.Point
	for r.Next() {
		_, s := r.Shape()
		p, ok := s.(*shp.Point)
		require.True(t, ok)
		points = append(points, *p)
	}
	require.Len(t, points, 2)
	assert.InDelta(t, -47.0608, points[0].X, 1e-9)
	assert.InDelta(t, -22.9056, points[0].Y, 1e-9)

	assert.Equal(t, "A", attr(r, 0, 0))
	assert.Equal(t, "B", attr(r, 1, 0))
	assert.Equal(t, "SP", attr(r, 0, 5))
	assert.Equal(t, "success", attr(r, 0, 7))
	assert.Equal(t, "0.9125", attr(r, 0, 11))
	assert.Equal(t, "1,3", attr(r, 0, 13))
	// "ã" is one byte in Windows-1252.
	assert.Equal(t, "Rua S\xe3o Jo\xe3o, 10", attr(r, 0, 2))
}

func TestDBFString(t *testing.T) {
	assert.Equal(t, "S\xe3o", dbfString("São", 10))
	assert.Equal(t, "abc", dbfString("abcdef", 3))
	assert.Equal(t, "a?b", dbfString("a世b", 10))
	assert.Equal(t, "", dbfString("", 5))
}

func TestGeoJSON(t *testing.T) {
	recs := []model.ImportRecord{
		record(0, "A", -22.9, -47.1),
		record(1, "B", -23.5, -46.6),
		{Index: 2, ExternalID: "C"},
	}

	var buf bytes.Buffer
	n, err := GeoJSON(&buf, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var doc struct {
		Type     string    `json:"type"`
		BBox     []float64 `json:"bbox"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))

	assert.Equal(t, "FeatureCollection", doc.Type)
	assert.Equal(t, []float64{-47.1, -23.5, -46.6, -22.9}, doc.BBox)
	require.Len(t, doc.Features, 2)
	assert.Equal(t, "A", doc.Features[0].ID)
	assert.Equal(t, "Point", doc.Features[0].Geometry.Type)
	assert.Equal(t, []float64{-47.1, -22.9}, doc.Features[0].Geometry.Coordinates)
	assert.Equal(t, "geocoded", doc.Features[0].Properties["source"])
	assert.Equal(t, []any{1.0, 3.0}, doc.Features[0].Properties["days_of_week"])
	assert.NotContains(t, doc.Features[0].Properties, "zip_code")
}

func TestGeoJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := GeoJSON(&buf, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), `"features": []`)
	assert.NotContains(t, buf.String(), "bbox")
}

func TestRecordsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resolved.json")
	in := &RecordsFile{JobID: "job-1", Source: "pontos.xlsx", Records: []model.ImportRecord{record(0, "A", -22.9, -47.1)}}

	require.NoError(t, SaveRecords(path, in))
	out, err := LoadRecords(path)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRecords_Errors(t *testing.T) {
	_, err := LoadRecords(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "export: open")

	_, err = ReadRecords(strings.NewReader("{"))
	assert.ErrorContains(t, err, "export: decode records")
}

func TestWriteRecords_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRecords(&buf, &RecordsFile{}))
	assert.Contains(t, buf.String(), `"records": []`)
}
