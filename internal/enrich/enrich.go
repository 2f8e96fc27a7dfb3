// Package enrich turns raw column names into descriptive text suitable
// for embedding. Raw identifiers like "UnitPrice" embed poorly; a short
// sentence anchors them in the vector space of real questions.
package enrich

import (
	"fmt"
	"strings"
	"unicode"
)

// Describer maps a column name to descriptive text.
type Describer interface {
	Describe(column string) (string, error)
}

// Static describes columns from an optional override map, falling back
// to a templated sentence built from the humanized column name.
type Static struct {
	table     string
	overrides map[string]string
}

func NewStatic(table string, overrides map[string]string) *Static {
	return &Static{table: table, overrides: overrides}
}

func (s *Static) Describe(column string) (string, error) {
	if strings.TrimSpace(column) == "" {
		return "", fmt.Errorf("column name is required")
	}
	if description, ok := s.overrides[column]; ok && strings.TrimSpace(description) != "" {
		return description, nil
	}
	table := s.table
	if table == "" {
		table = "data"
	}
	return fmt.Sprintf("Column %s of the %s table, containing the %s.", column, table, Humanize(column)), nil
}

// Humanize splits identifier casing and separators into lowercase words:
// "UnitPrice" -> "unit price", "invoice_no" -> "invoice no".
func Humanize(name string) string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, strings.ToLower(current.String()))
			current.Reset()
		}
	}

	runes := []rune(name)
	for i, r := range runes {
		switch {
		case r == '_' || r == '-' || r == ' ' || r == '.':
			flush()
		case unicode.IsUpper(r):
			// Break before an upper rune that starts a new word, keeping
			// acronym runs like "ID" together.
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				flush()
			} else if i > 0 && i+1 < len(runes) && unicode.IsUpper(runes[i-1]) && unicode.IsLower(runes[i+1]) {
				flush()
			}
			current.WriteRune(r)
		default:
			current.WriteRune(r)
		}
	}
	flush()
	if len(words) == 0 {
		return strings.ToLower(name)
	}
	return strings.Join(words, " ")
}
