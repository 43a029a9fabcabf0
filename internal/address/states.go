package address

import "strings"

// ufNames maps each Brazilian UF code to the state's full name.
var ufNames = map[string]string{
	"AC": "Acre",
	"AL": "Alagoas",
	"AP": "Amapá",
	"AM": "Amazonas",
	"BA": "Bahia",
	"CE": "Ceará",
	"DF": "Distrito Federal",
	"ES": "Espírito Santo",
	"GO": "Goiás",
	"MA": "Maranhão",
	"MT": "Mato Grosso",
	"MS": "Mato Grosso do Sul",
	"MG": "Minas Gerais",
	"PA": "Pará",
	"PB": "Paraíba",
	"PR": "Paraná",
	"PE": "Pernambuco",
	"PI": "Piauí",
	"RJ": "Rio de Janeiro",
	"RN": "Rio Grande do Norte",
	"RS": "Rio Grande do Sul",
	"RO": "Rondônia",
	"RR": "Roraima",
	"SC": "Santa Catarina",
	"SP": "São Paulo",
	"SE": "Sergipe",
	"TO": "Tocantins",
}

// IsUF reports whether s is one of the 27 Brazilian state codes.
func IsUF(s string) bool {
	_, ok := ufNames[strings.ToUpper(strings.TrimSpace(s))]
	return ok
}

// StateName returns the full name for a UF code.
func StateName(uf string) (string, bool) {
	name, ok := ufNames[strings.ToUpper(strings.TrimSpace(uf))]
	return name, ok
}

// SameState reports whether a and b name the same state, accepting either
// the UF code or the full name on both sides ("SP" matches "São Paulo").
func SameState(a, b string) bool {
	fa, fb := stateKey(a), stateKey(b)
	return fa != "" && fa == fb
}

func stateKey(s string) string {
	s = strings.TrimSpace(s)
	if name, ok := StateName(s); ok {
		return Fold(name)
	}
	// ISO 3166-2 form, e.g. "BR-SP".
	if len(s) == 5 && strings.EqualFold(s[:3], "BR-") {
		if name, ok := StateName(s[3:]); ok {
			return Fold(name)
		}
	}
	return Fold(s)
}
