package parser

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// DateLayout is the portal's date format (DD/MM/YYYY).
const DateLayout = "02/01/2006"

var (
	dateFormat     = regexp.MustCompile(`^\d{2}/\d{2}/\d{4}$`)
	numericBody    = regexp.MustCompile(`^[-+]?[\d.,]+$`)
	commaThousands = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+$`)
	dotThousands   = regexp.MustCompile(`^[-+]?\d{1,3}(\.\d{3}){2,}$`)
)

// IsValidDateFormat reports whether s is a DD/MM/YYYY date string.
func IsValidDateFormat(s string) bool {
	return dateFormat.MatchString(s)
}

// FormatDate renders t in the portal's date format.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// NormalizeText replaces non-breaking spaces, collapses runs of whitespace and trims.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeNumber turns a portal quantity such as "12,000.50 (KG)" into "12000.50".
//
// A trailing unit suffix is stripped, thousands separators are removed and a
// decimal comma becomes a decimal point. Values without digits normalize to ""
// and values that do not look numeric are returned as normalized text.
func NormalizeNumber(raw string) string {
	text := NormalizeText(raw)
	if !strings.ContainsFunc(text, unicode.IsDigit) {
		return ""
	}

	s := strings.TrimRightFunc(text, func(r rune) bool { return !unicode.IsDigit(r) })
	s = strings.ReplaceAll(s, " ", "")
	if !numericBody.MatchString(s) {
		return text
	}

	hasComma := strings.Contains(s, ",")
	hasDot := strings.Contains(s, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case hasComma:
		if commaThousands.MatchString(s) {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case hasDot:
		if dotThousands.MatchString(s) {
			s = strings.ReplaceAll(s, ".", "")
		}
	}
	return s
}

// ParseQuantity normalizes s and parses it as a float.
func ParseQuantity(s string) (float64, bool) {
	n := NormalizeNumber(s)
	if n == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatQuantity renders a quantity without trailing zeros.
func FormatQuantity(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// NormalizeUnit turns a unit token such as "(kg)" into "KG".
func NormalizeUnit(s string) string {
	s = strings.NewReplacer("(", "", ")", "").Replace(NormalizeText(s))
	return strings.ToUpper(s)
}

func looksNumeric(s string) bool {
	_, ok := ParseQuantity(s)
	if !ok {
		return false
	}
	return numericBody.MatchString(strings.ReplaceAll(NormalizeText(s), " ", ""))
}
