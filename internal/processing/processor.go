package processing

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespace   = regexp.MustCompile(`\s+`)
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// LegacyURLPrefix is a broken mirror path still present in older treaty and literature records.
const (
	LegacyURLPrefix = "http://www.ecolex.org/server2.php/server2neu.php/"
	FixedURLPrefix  = "http://www.ecolex.org/server2neu.php/"
)

// CleanText unescapes HTML entities and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// StripAccents folds a string to its unaccented form ("Amérique" -> "Amerique").
func StripAccents(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, input)
	if err != nil {
		return input
	}
	return out
}

// FoldLabel is the lookup key used for case-insensitive, accent-insensitive labels.
func FoldLabel(input string) string {
	return strings.ToLower(strings.TrimSpace(whitespace.ReplaceAllString(StripAccents(input), " ")))
}

// Slugify lowercases the input, drops accents and collapses every run of
// non-alphanumerics into a single hyphen.
func Slugify(parts ...string) string {
	joined := strings.ToLower(StripAccents(strings.Join(parts, " ")))
	slug := nonSlugChars.ReplaceAllString(joined, "-")
	return strings.Trim(slug, "-")
}

// StripAuthorMarkers removes the inline ^a marker and turns ^b into a space.
func StripAuthorMarkers(author string) string {
	author = strings.ReplaceAll(author, "^a", "")
	author = strings.ReplaceAll(author, "^b", " ")
	return strings.TrimSpace(whitespace.ReplaceAllString(author, " "))
}

// RewriteURL replaces the known-bad mirror prefix.
func RewriteURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, LegacyURLPrefix) {
		return FixedURLPrefix + strings.TrimPrefix(raw, LegacyURLPrefix)
	}
	return raw
}

// Dedupe drops empty and repeated values while keeping first-seen order.
func Dedupe(values []string) []string {
	if values == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// FirstNonEmpty returns the first non-blank value.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
