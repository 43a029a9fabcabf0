package address

import (
	"sort"
	"strings"

	"github.com/sells-group/pointsync/internal/model"
)

// Kind identifies how a query variant was composed.
type Kind string

const (
	KindFullAddress         Kind = "full_address"
	KindAddressNoNumber     Kind = "address_without_number"
	KindRawAddress          Kind = "raw_address"
	KindAddressNeighborhood Kind = "address_neighborhood"
	KindNameCityState       Kind = "name_city_state"
	KindCityState           Kind = "city_state"
	KindAddressCity         Kind = "address_city"
)

// Variant is one candidate search string for a record.
type Variant struct {
	Kind             Kind   `json:"kind"`
	Query            string `json:"query"`
	Priority         int    `json:"priority"`
	MinPartsRequired int    `json:"min_parts_required"`
	Parts            int    `json:"parts"`
}

// Usable reports whether the variant has enough non-empty components to be
// sent to the geocoder.
func (v Variant) Usable() bool {
	return v.Parts >= v.MinPartsRequired
}

// variantRule describes one entry of the generation table. anchor returns the
// component that defines the variant; when it is empty the variant is not
// generated at all. parts returns every component in query order.
type variantRule struct {
	kind     Kind
	priority int
	minParts int
	anchor   func(f fields) string
	parts    func(f fields) []string
}

type fields struct {
	name, raw, normalized, noNumber, neighborhood, city, state string
}

var variantRules = []variantRule{
	{
		kind: KindFullAddress, priority: 1, minParts: 2,
		anchor: func(f fields) string { return f.normalized },
		parts:  func(f fields) []string { return []string{f.normalized, f.city, f.state} },
	},
	{
		kind: KindAddressNoNumber, priority: 2, minParts: 2,
		anchor: func(f fields) string { return f.noNumber },
		parts:  func(f fields) []string { return []string{f.noNumber, f.city, f.state} },
	},
	{
		kind: KindRawAddress, priority: 3, minParts: 2,
		anchor: func(f fields) string { return f.raw },
		parts:  func(f fields) []string { return []string{f.raw, f.city, f.state} },
	},
	{
		kind: KindAddressNeighborhood, priority: 4, minParts: 3,
		anchor: func(f fields) string {
			if f.neighborhood == "" {
				return ""
			}
			return f.raw
		},
		parts: func(f fields) []string { return []string{f.raw, f.neighborhood, f.city, f.state} },
	},
	{
		kind: KindNameCityState, priority: 5, minParts: 2,
		anchor: func(f fields) string { return f.name },
		parts:  func(f fields) []string { return []string{f.name, f.city, f.state} },
	},
	{
		kind: KindCityState, priority: 6, minParts: 2,
		anchor: func(f fields) string { return f.city },
		parts:  func(f fields) []string { return []string{f.city, f.state} },
	},
	{
		kind: KindAddressCity, priority: 7, minParts: 2,
		anchor: func(f fields) string { return f.raw },
		parts:  func(f fields) []string { return []string{f.raw, f.city} },
	},
}

// BuildVariants returns the de-duplicated, priority-ordered query variants
// for rec. The result is non-empty whenever rec has an address or a name.
func BuildVariants(rec model.ImportRecord) []Variant {
	raw := collapse(rec.Address)
	normalized := Normalize(rec.Address)
	f := fields{
		name:         collapse(rec.Name),
		raw:          raw,
		normalized:   normalized,
		noNumber:     StripNumber(normalized),
		neighborhood: collapse(rec.Neighborhood),
		city:         collapse(rec.City),
		state:        collapse(rec.State),
	}

	out := make([]Variant, 0, len(variantRules))
	for _, rule := range variantRules {
		if rule.anchor(f) == "" {
			continue
		}
		var present []string
		for _, p := range rule.parts(f) {
			if p != "" {
				present = append(present, p)
			}
		}
		out = append(out, Variant{
			Kind:             rule.kind,
			Query:            strings.Join(present, ", "),
			Priority:         rule.priority,
			MinPartsRequired: rule.minParts,
			Parts:            len(present),
		})
	}
	return dedupe(out)
}

// dedupe drops variants whose composed query repeats an earlier one, keeping
// the occurrence with the lowest priority value, and sorts by priority.
func dedupe(vs []Variant) []Variant {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Priority < vs[j].Priority })
	seen := make(map[string]bool, len(vs))
	out := vs[:0]
	for _, v := range vs {
		key := strings.ToLower(v.Query)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
