package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/pointsync/internal/model"
)

// GeoJSON writes records with valid coordinates as a FeatureCollection of
// points. The collection carries the bounding box of its features.
func GeoJSON(w io.Writer, recs []model.ImportRecord) (int, error) {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	bounds := geom.NewBounds(geom.XY)

	for _, rec := range recs {
		if !rec.HasValidCoordinates() {
			continue
		}
		pt := geom.NewPointFlat(geom.XY, []float64{*rec.Longitude, *rec.Latitude})
		bounds.Extend(pt)
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         rec.ExternalID,
			Geometry:   pt,
			Properties: properties(rec),
		})
	}
	if len(fc.Features) > 0 {
		fc.BBox = bounds
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(fc); err != nil {
		return 0, eris.Wrap(err, "export: encode geojson")
	}
	return len(fc.Features), nil
}

func properties(rec model.ImportRecord) map[string]any {
	props := map[string]any{
		"index":   rec.Index,
		"name":    rec.Name,
		"address": rec.Address,
		"city":    rec.City,
		"state":   rec.State,
		"status":  string(rec.Status),
	}
	optional := map[string]string{
		"neighborhood": rec.Neighborhood,
		"zip_code":     rec.ZipCode,
		"source":       rec.Source,
		"variant":      rec.Variant,
		"quality":      rec.Quality,
		"frequency":    rec.Schedule.Frequency,
	}
	for k, v := range optional {
		if v != "" {
			props[k] = v
		}
	}
	if rec.Score > 0 {
		props["score"] = rec.Score
	}
	if len(rec.Schedule.DaysOfWeek) > 0 {
		props["days_of_week"] = rec.Schedule.DaysOfWeek
	}
	if len(rec.Schedule.WeeksOfMonth) > 0 {
		props["weeks_of_month"] = rec.Schedule.WeeksOfMonth
	}
	return props
}
