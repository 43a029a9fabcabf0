package reconcile

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/pointsync/internal/address"
	"github.com/sells-group/pointsync/internal/model"
)

// Eligible reports whether a record may be persisted: resolved with valid
// coordinates, or explicitly allowed to wait for geolocation.
func Eligible(rec model.ImportRecord) bool {
	switch rec.Status {
	case model.StatusSuccess:
		return rec.HasValidCoordinates()
	case model.StatusAwaitingGeolocation:
		return true
	default:
		return false
	}
}

// AwaitGeolocation marks records that could not be geocoded as waiting for
// geolocation so they can be persisted without coordinates. Records that
// ended in error qualify, as do skipped records that still have an address.
// It returns how many records were moved.
func AwaitGeolocation(recs []model.ImportRecord) int {
	n := 0
	for i := range recs {
		r := &recs[i]
		switch {
		case r.Status == model.StatusError:
		case r.Status == model.StatusSkipped && strings.TrimSpace(r.Address) != "":
		default:
			continue
		}
		if !r.HasValidCoordinates() {
			r.Latitude, r.Longitude = nil, nil
		}
		r.Status = model.StatusAwaitingGeolocation
		n++
	}
	return n
}

// digits strips every non-digit rune.
func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

// NormalizeCEP formats a Brazilian postal code as 00000-000.
func NormalizeCEP(cep string) (string, error) {
	if strings.TrimSpace(cep) == "" {
		return "", nil
	}
	d := digits(cep)
	if len(d) != 8 {
		return "", eris.Errorf("CEP deve conter 8 dígitos: %q", cep)
	}
	return d[:5] + "-" + d[5:], nil
}

// FormatPhone formats a Brazilian phone number as (XX) XXXX-XXXX or
// (XX) X XXXX-XXXX.
func FormatPhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", nil
	}
	d := digits(phone)
	// Drop the country code when present.
	if len(d) > 11 && strings.HasPrefix(d, "55") {
		d = d[2:]
	}
	switch len(d) {
	case 10:
		return fmt.Sprintf("(%s) %s-%s", d[:2], d[2:6], d[6:]), nil
	case 11:
		return fmt.Sprintf("(%s) %s %s-%s", d[:2], d[2:3], d[3:7], d[7:]), nil
	default:
		return "", eris.Errorf("telefone inválido: %q", phone)
	}
}

// Validate checks a record against persistence rules and returns the point
// to persist with normalized CEP, phone and state. All problems are
// reported, joined with "; ".
func Validate(rec model.ImportRecord) (model.CollectionPoint, error) {
	p := model.PointFromRecord(rec)
	var problems []string

	required := []struct {
		label, value string
	}{
		{"Nome", p.Name},
		{"Endereço", p.Address},
		{"Cidade", p.City},
		{"UF", p.State},
	}
	for _, f := range required {
		if f.value == "" {
			problems = append(problems, f.label+" é obrigatório")
		}
	}

	if p.State != "" && !address.IsUF(p.State) {
		problems = append(problems, fmt.Sprintf("UF inválida: %q", p.State))
	}

	if cep, err := NormalizeCEP(p.ZipCode); err != nil {
		problems = append(problems, err.Error())
	} else {
		p.ZipCode = cep
	}

	if phone, err := FormatPhone(p.Phone); err != nil {
		problems = append(problems, err.Error())
	} else {
		p.Phone = phone
	}

	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			problems = append(problems, fmt.Sprintf("e-mail inválido: %q", p.Email))
		}
	}

	if rec.Latitude != nil && !model.ValidLatitude(*rec.Latitude) {
		problems = append(problems, fmt.Sprintf("latitude fora do intervalo: %v", *rec.Latitude))
	}
	if rec.Longitude != nil && !model.ValidLongitude(*rec.Longitude) {
		problems = append(problems, fmt.Sprintf("longitude fora do intervalo: %v", *rec.Longitude))
	}
	if rec.Status == model.StatusSuccess && !rec.HasValidCoordinates() {
		problems = append(problems, "coordenadas ausentes")
	}

	if len(problems) > 0 {
		return p, eris.New(strings.Join(problems, "; "))
	}
	return p, nil
}
