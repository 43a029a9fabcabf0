package export

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointsync/internal/model"
)

// RecordsFile is the JSON document the resolve command writes and the
// import and export commands read back.
type RecordsFile struct {
	JobID   string               `json:"job_id,omitempty"`
	Source  string               `json:"source,omitempty"`
	Records []model.ImportRecord `json:"records"`
}

// WriteRecords encodes f as indented JSON.
func WriteRecords(w io.Writer, f *RecordsFile) error {
	if f.Records == nil {
		f.Records = []model.ImportRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		return eris.Wrap(err, "export: encode records")
	}
	return nil
}

// ReadRecords decodes a document written by WriteRecords.
func ReadRecords(r io.Reader) (*RecordsFile, error) {
	var f RecordsFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, eris.Wrap(err, "export: decode records")
	}
	return &f, nil
}

// SaveRecords writes f to path.
func SaveRecords(path string, f *RecordsFile) error {
	out, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	if err := WriteRecords(out, f); err != nil {
		_ = out.Close()
		return err
	}
	return eris.Wrapf(out.Close(), "export: close %s", path)
}

// LoadRecords reads a records document from path.
func LoadRecords(path string) (*RecordsFile, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "export: open %s", path)
	}
	defer func() { _ = in.Close() }()
	return ReadRecords(in)
}
