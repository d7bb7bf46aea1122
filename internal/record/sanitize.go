package record

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// nullTokens are strings that upstream exports use to spell "no value".
var nullTokens = map[string]bool{
	"nan":  true,
	"none": true,
	"null": true,
}

// Sanitize converts one raw scalar to its canonical persistable form:
// null, or a trimmed non-empty string that is not a null token.
func Sanitize(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		if !x.valid {
			return x
		}
		return SanitizeString(x.s)
	case *string:
		if x == nil {
			return Null()
		}
		return SanitizeString(*x)
	case string:
		return SanitizeString(x)
	case []byte:
		return SanitizeString(string(x))
	case float64:
		if math.IsNaN(x) {
			return Null()
		}
		return SanitizeString(formatFloat(x, 64))
	case float32:
		if math.IsNaN(float64(x)) {
			return Null()
		}
		return SanitizeString(formatFloat(float64(x), 32))
	case int:
		return String(strconv.Itoa(x))
	case int64:
		return String(strconv.FormatInt(x, 10))
	case int32:
		return String(strconv.FormatInt(int64(x), 10))
	case uint64:
		return String(strconv.FormatUint(x, 10))
	case bool:
		return String(strconv.FormatBool(x))
	case fmt.Stringer:
		return SanitizeString(x.String())
	default:
		return SanitizeString(fmt.Sprint(x))
	}
}

// SanitizeString trims s and maps empty strings and null tokens to null.
func SanitizeString(s string) Value {
	s = strings.TrimSpace(s)
	if s == "" || nullTokens[strings.ToLower(s)] {
		return Null()
	}
	return String(s)
}

// formatFloat renders integral floats without a fractional part so that a
// spreadsheet cell holding 5.0 reads back as "5".
func formatFloat(f float64, bits int) string {
	if math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, bits)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}
