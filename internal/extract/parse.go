package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	numberToken     = regexp.MustCompile(`^\d[\d.,]*$`)
	timePhrase      = regexp.MustCompile(`son\s+\d+\s*(saat|gün|dakika|hafta|ay)\w*`)
	countPattern    = regexp.MustCompile(`(\d+(?:[.,]\d+)*)\s*(bin|mn|b|k|m)?\b`)
	ratingPattern   = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	discountPattern = regexp.MustCompile(`%\s*(\d+(?:[.,]\d+)?)|(\d+(?:[.,]\d+)?)\s*%`)
	currencyTokens  = strings.NewReplacer("TL", " ", "TRY", " ", "₺", " ", "€", " ", "$", " ", "\u00a0", " ", "\u202f", " ")
)

// ParsePrice reads a price from display text such as "1.234,56 TL" or
// "₺499,90". Percentages like "%20" are ignored. The text must hold exactly
// one amount; negative, malformed or ambiguous text is reported as absent.
func ParsePrice(text string) (float64, bool) {
	var amount string
	for _, field := range strings.Fields(currencyTokens.Replace(text)) {
		field = strings.Trim(field, "():;")
		if !strings.ContainsAny(field, "0123456789") || strings.Contains(field, "%") {
			continue
		}
		if !numberToken.MatchString(field) || amount != "" {
			return 0, false
		}
		amount = field
	}
	if amount == "" {
		return 0, false
	}
	return normalizeNumber(amount)
}

// normalizeNumber resolves locale separators. With both "." and "," present
// the right-most one is the decimal mark. A single separator kind that
// appears once with at most two trailing digits is decimal, anything else
// is grouping. Grouping must split the integer part into runs of three.
func normalizeNumber(s string) (float64, bool) {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	var intPart, fracPart, grouping string
	switch {
	case lastDot >= 0 && lastComma >= 0:
		decimal := max(lastDot, lastComma)
		intPart, fracPart = s[:decimal], s[decimal+1:]
		grouping = string(s[min(lastDot, lastComma)])
		if strings.ContainsAny(intPart, string(s[decimal])) || fracPart == "" {
			return 0, false
		}
	case lastDot >= 0 || lastComma >= 0:
		sep, idx := ".", lastDot
		if lastComma >= 0 {
			sep, idx = ",", lastComma
		}
		trailing := len(s) - idx - 1
		if strings.Count(s, sep) == 1 && trailing >= 1 && trailing <= 2 {
			intPart, fracPart = s[:idx], s[idx+1:]
		} else {
			intPart, grouping = s, sep
		}
	default:
		intPart = s
	}

	if grouping != "" && !validGrouping(intPart, grouping) {
		return 0, false
	}

	normalized := intPart
	if grouping != "" {
		normalized = strings.ReplaceAll(intPart, grouping, "")
	}
	if fracPart != "" {
		normalized += "." + fracPart
	}

	v, err := strconv.ParseFloat(normalized, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// validGrouping accepts "1.234.567" but not "1..2" or "12.34".
func validGrouping(s, sep string) bool {
	groups := strings.Split(s, sep)
	if len(groups[0]) < 1 || len(groups[0]) > 3 {
		return false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

var countMultipliers = map[string]float64{
	"bin": 1e3,
	"b":   1e3,
	"k":   1e3,
	"mn":  1e6,
	"m":   1e6,
}

// ParseCount reads social-proof style counters: "1,2B kişi favoriledi",
// "Son 24 saatte 3.4k kişi görüntüledi", "12 bin".
func ParseCount(text string) (int64, bool) {
	t := strings.ToLower(strings.ReplaceAll(text, "\u00a0", " "))
	t = timePhrase.ReplaceAllString(t, " ")
	t = strings.ReplaceAll(t, "kişi", " ")

	m := countPattern.FindStringSubmatch(t)
	if m == nil {
		return 0, false
	}

	v, ok := normalizeNumber(m[1])
	if !ok {
		return 0, false
	}
	if mult, found := countMultipliers[m[2]]; found {
		v *= mult
	}
	return int64(math.Round(v)), true
}

// ParseRating reads an average rating on a 0..5 scale.
func ParseRating(text string) (float64, bool) {
	match := ratingPattern.FindString(text)
	if match == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(match, ",", ".", 1), 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseDiscountBadge turns "%25" or "25 %" into 0.25.
func ParseDiscountBadge(text string) (float64, bool) {
	m := discountPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil || v <= 0 || v >= 100 {
		return 0, false
	}
	return round4(v / 100), true
}

// DiscountRate derives the markdown fraction from list and discounted prices.
func DiscountRate(list, discounted float64) (float64, bool) {
	if list <= 0 || discounted <= 0 || discounted > list {
		return 0, false
	}
	return round4((list - discounted) / list), true
}

// NormalizeListPrice applies the display rules: a missing list price means
// no markdown was shown, and a list price below the selling price is not a
// real list price.
func NormalizeListPrice(discounted float64, list *float64) float64 {
	if list == nil || *list < discounted {
		return discounted
	}
	return *list
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
