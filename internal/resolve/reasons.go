package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/pointsync/pkg/geocode"
)

// Field labels as they appear in the spreadsheet headers.
const (
	FieldAddress = "Endereço"
	FieldCity    = "Cidade"
)

// maxReasonLen bounds the generic fallback reason.
const maxReasonLen = 100

// InsufficientDataError means a record lacks the fields needed for any query.
type InsufficientDataError struct {
	Missing []string
}

func (e *InsufficientDataError) Error() string {
	if len(e.Missing) == 0 {
		return "resolve: insufficient data for any query variant"
	}
	return fmt.Sprintf("resolve: missing required fields: %s", strings.Join(e.Missing, ", "))
}

// reasonRule maps an error class to the message shown to operators. Rules are
// evaluated in order; the first match wins.
type reasonRule struct {
	match  func(err error) bool
	reason string
}

var reasonRules = []reasonRule{
	{
		match:  func(err error) bool { return errors.Is(err, context.Canceled) },
		reason: "Processamento cancelado",
	},
	{
		match: func(err error) bool {
			var te *geocode.TimeoutError
			return errors.As(err, &te) || errors.Is(err, context.DeadlineExceeded)
		},
		reason: "Tempo limite excedido ao consultar o serviço de geolocalização",
	},
	{
		match: func(err error) bool {
			var ne *geocode.NetworkError
			return errors.As(err, &ne)
		},
		reason: "Falha de conexão com o serviço de geolocalização",
	},
	{
		match: func(err error) bool {
			var rl *geocode.RateLimitedError
			return errors.As(err, &rl)
		},
		reason: "Limite de requisições do serviço de geolocalização excedido",
	},
	{
		match:  func(err error) bool { return errors.Is(err, geocode.ErrNoResults) },
		reason: "Nenhum resultado encontrado para o endereço",
	},
	{
		match: func(err error) bool {
			var lq *geocode.LowQualityError
			return errors.As(err, &lq)
		},
		reason: "Nenhum resultado com precisão suficiente",
	},
	{
		match: func(err error) bool {
			var ide *InsufficientDataError
			return errors.As(err, &ide)
		},
		reason: "Dados insuficientes para geolocalização",
	},
}

// Reason returns the operator-facing explanation for err. Unknown errors fall
// back to their own message, truncated.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, rule := range reasonRules {
		if rule.match(err) {
			return rule.reason
		}
	}
	return truncate(err.Error(), maxReasonLen)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
