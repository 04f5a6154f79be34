package signed

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opengraphlabs/layerinfer/pkg/errors"
)

// Parse reads a comma-separated list of decimal numbers. Whitespace around tokens and empty
// tokens are ignored. It returns InputInvalid when nothing remains or when any token is not
// a number; no partial vector is returned in either case.
func Parse(text string) (Vector, error) {
	var tokens []string
	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return Vector{}, errors.InputInvalid.Explain("Input vector is empty. Please provide comma-separated numbers.")
	}

	values := make([]decimal.Decimal, 0, len(tokens))
	for _, tok := range tokens {
		d, err := decimal.NewFromString(tok)
		if err != nil {
			return Vector{}, errors.InputInvalid.
				Explain("Invalid number format: %q. Please provide valid numbers.", tok).
				WithField("format", "input", tok)
		}
		values = append(values, d)
	}
	return FromDecimals(values), nil
}
