package geocode

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/pointsync/internal/model"
)

// DefaultBaseURL is the public Nominatim instance.
const DefaultBaseURL = "https://nominatim.openstreetmap.org"

// Candidate is one provider match for a query.
type Candidate struct {
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Importance  float64 `json:"importance"`
	Class       string  `json:"class"`
	Type        string  `json:"type"`
	DisplayName string  `json:"display_name"`
	Address     Address `json:"address"`
}

// Address is the structured address Nominatim attaches when addressdetails=1.
type Address struct {
	Road         string `json:"road,omitempty"`
	Suburb       string `json:"suburb,omitempty"`
	City         string `json:"city,omitempty"`
	Town         string `json:"town,omitempty"`
	Village      string `json:"village,omitempty"`
	Municipality string `json:"municipality,omitempty"`
	State        string `json:"state,omitempty"`
	StateCode    string `json:"ISO3166-2-lvl4,omitempty"`
	Postcode     string `json:"postcode,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}

// Localities returns the non-empty settlement names of the address.
func (a Address) Localities() []string {
	var out []string
	for _, s := range []string{a.City, a.Town, a.Village, a.Municipality} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DefaultViewbox covers Brazil.
func DefaultViewbox() *geom.Bounds {
	return geom.NewBounds(geom.XY).Set(-74.0, -33.8, -34.7, 5.3)
}

// nominatimPlace is one element of the /search response. format=jsonv2
// reports the class as "category"; format=json uses "class".
type nominatimPlace struct {
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	Importance  *float64 `json:"importance"`
	Class       string   `json:"class"`
	Category    string   `json:"category"`
	Type        string   `json:"type"`
	DisplayName string   `json:"display_name"`
	Address     Address  `json:"address"`
}

// decodeCandidates parses a /search body, dropping entries without usable
// coordinates.
func decodeCandidates(body []byte) ([]Candidate, error) {
	var places []nominatimPlace
	if err := json.Unmarshal(body, &places); err != nil {
		return nil, eris.Wrap(err, "geocode: decode response")
	}

	out := make([]Candidate, 0, len(places))
	for _, p := range places {
		lat, errLat := strconv.ParseFloat(strings.TrimSpace(p.Lat), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(p.Lon), 64)
		if errLat != nil || errLon != nil || !model.ValidLatitude(lat) || !model.ValidLongitude(lon) {
			continue
		}

		class := p.Category
		if class == "" {
			class = p.Class
		}
		c := Candidate{
			Latitude:    lat,
			Longitude:   lon,
			Class:       strings.ToLower(class),
			Type:        strings.ToLower(p.Type),
			DisplayName: p.DisplayName,
			Address:     p.Address,
		}
		if p.Importance != nil {
			c.Importance = clamp01(*p.Importance)
		}
		out = append(out, c)
	}
	return out, nil
}

// searchURL builds the /search request URL for query.
func (c *Client) searchURL(query string) string {
	params := url.Values{
		"q":              {query},
		"format":         {"jsonv2"},
		"addressdetails": {"1"},
		"limit":          {strconv.Itoa(c.limit)},
	}
	if c.countryCodes != "" {
		params.Set("countrycodes", c.countryCodes)
	}
	if vb := formatViewbox(c.viewbox); vb != "" {
		params.Set("viewbox", vb)
		params.Set("bounded", "1")
	}
	return strings.TrimRight(c.baseURL, "/") + "/search?" + params.Encode()
}

// formatViewbox renders bounds as Nominatim's "x1,y1,x2,y2" (lon/lat).
func formatViewbox(b *geom.Bounds) string {
	if b == nil || b.IsEmpty() {
		return ""
	}
	return fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(b.Min(0)), formatCoord(b.Max(1)),
		formatCoord(b.Max(0)), formatCoord(b.Min(1)),
	)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
