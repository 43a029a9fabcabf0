// Package export writes resolved collection points to GIS and JSON files.
package export

import (
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"github.com/sells-group/pointsync/internal/model"
)

// DBF attribute layout. Names are limited to 10 characters.
var pointFields = []shp.Field{
	shp.StringField("EXT_ID", 50),
	shp.StringField("NAME", 120),
	shp.StringField("ADDRESS", 160),
	shp.StringField("BAIRRO", 80),
	shp.StringField("CITY", 80),
	shp.StringField("UF", 2),
	shp.StringField("CEP", 9),
	shp.StringField("STATUS", 24),
	shp.StringField("SOURCE", 10),
	shp.StringField("VARIANT", 24),
	shp.StringField("QUALITY", 5),
	shp.FloatField("SCORE", 8, 4),
	shp.StringField("FREQ", 16),
	shp.StringField("DAYS", 16),
	shp.StringField("WEEKS", 10),
}

// Shapefile writes every record with valid coordinates as a POINT feature
// to path (plus the .shx, .dbf and .cpg sidecars) and returns the number of
// features written.
func Shapefile(path string, recs []model.ImportRecord) (int, error) {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return 0, eris.Wrapf(err, "export: create shapefile %s", path)
	}
	defer w.Close()

	if err := w.SetFields(pointFields); err != nil {
		return 0, eris.Wrap(err, "export: set dbf fields")
	}

	n := 0
	for _, rec := range recs {
		if !rec.HasValidCoordinates() {
			continue
		}
		row := int(w.Write(&shp.Point{X: *rec.Longitude, Y: *rec.Latitude}))
		for i, v := range attributes(rec) {
			if err := w.WriteAttribute(row, i, v); err != nil {
				return n, eris.Wrapf(err, "export: write attribute %d of %s", i, rec.Key())
			}
		}
		n++
	}

	if err := writeCPG(path); err != nil {
		return n, err
	}
	zap.L().Info("export: shapefile written",
		zap.String("path", path),
		zap.Int("features", n),
		zap.Int("skipped", len(recs)-n),
	)
	return n, nil
}

func attributes(rec model.ImportRecord) []any {
	vals := []string{
		rec.ExternalID,
		rec.Name,
		rec.Address,
		rec.Neighborhood,
		rec.City,
		strings.ToUpper(rec.State),
		rec.ZipCode,
		string(rec.Status),
		rec.Source,
		rec.Variant,
		rec.Quality,
	}
	out := make([]any, 0, len(pointFields))
	for i, v := range vals {
		out = append(out, dbfString(v, int(pointFields[i].Size)))
	}
	out = append(out,
		rec.Score,
		dbfString(rec.Schedule.Frequency, 16),
		dbfString(model.JoinInts(rec.Schedule.DaysOfWeek), 16),
		dbfString(model.JoinInts(rec.Schedule.WeeksOfMonth), 10),
	)
	return out
}

// dbfString encodes s to Windows-1252, the code page GIS tools assume for
// DBF files, and truncates it to size bytes. Runes outside the code page
// become '?'.
func dbfString(s string, size int) string {
	buf := make([]byte, 0, min(len(s), size))
	for _, r := range s {
		if len(buf) == size {
			break
		}
		b, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			b = '?'
		}
		buf = append(buf, b)
	}
	return string(buf)
}

func writeCPG(shpPath string) error {
	cpg := strings.TrimSuffix(shpPath, ".shp") + ".cpg"
	if err := os.WriteFile(cpg, []byte("1252"), 0o644); err != nil {
		return eris.Wrap(err, "export: write cpg")
	}
	return nil
}
