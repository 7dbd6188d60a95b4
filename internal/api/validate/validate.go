package validate

import (
	"strings"

	"github.com/shopspring/decimal"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string { // error interface
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Helpers

func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

// Amount parses a decimal-string monetary amount and requires it positive.
// Amounts travel as strings on the wire; floats are never accepted.
func Amount(field, value string) (decimal.Decimal, *ErrField) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, &ErrField{Field: field, Msg: "required"}
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, &ErrField{Field: field, Msg: "must be a decimal string"}
	}
	if d.Sign() <= 0 {
		return decimal.Zero, &ErrField{Field: field, Msg: "must be > 0"}
	}
	return d, nil
}

// Currency requires a 3-5 letter alphabetic code (ISO currency or token
// symbol), normalized to upper case.
func Currency(field, value string) (string, *ErrField) {
	v := strings.ToUpper(strings.TrimSpace(value))
	if len(v) < 3 || len(v) > 5 {
		return "", &ErrField{Field: field, Msg: "must be a 3-5 letter code"}
	}
	for _, c := range v {
		if c < 'A' || c > 'Z' {
			return "", &ErrField{Field: field, Msg: "must be alphabetic"}
		}
	}
	return v, nil
}
