package cleanse

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// headerSymbols spell out symbols that carry meaning in export headers.
var headerSymbols = strings.NewReplacer(
	"#", " no ",
	"%", " pct ",
	"&", " and ",
	"@", " at ",
)

// NormalizeHeader converts an upstream column header to a snake_case ASCII
// field name: "Material #" becomes "material_no" and "GR Amount $ (AOP FX)"
// becomes "gr_amount_aop_fx". Headers that normalize to nothing return "".
func NormalizeHeader(h string) string {
	h = stripMarks(h)
	h = headerSymbols.Replace(h)

	var b strings.Builder
	b.Grow(len(h))
	underscore := false
	for _, r := range h {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
			underscore = false
		case b.Len() > 0 && !underscore:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimRight(b.String(), "_")
}

// stripMarks folds compatibility characters and removes diacritics so that
// "Désignation" and "Designation" land on the same field.
func stripMarks(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
