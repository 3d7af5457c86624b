package fact

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxObjectBytes caps the UTF-8 length of candidate objects; longer ones are
// cut at a word boundary, or at a rune boundary when no space is near.
const MaxObjectBytes = 2000

func validPredicateChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_'
}

// SanitizePredicate normalizes a predicate to snake_case [a-z0-9_].
// Spaces, dots, slashes and hyphens become a single underscore; anything else
// is dropped.
func SanitizePredicate(p string) string {
	var b strings.Builder
	prevSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(p)) {
		switch {
		case validPredicateChar(r):
			b.WriteRune(r)
			prevSep = r == '_'
		case r == ' ' || r == '.' || r == '/' || r == '-':
			if !prevSep && b.Len() > 0 {
				b.WriteByte('_')
				prevSep = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// Validate checks a candidate from an untrusted extractor and returns a
// cleaned copy. Type and source are required.
func (c ExtractedFactCandidate) Validate() (ExtractedFactCandidate, error) {
	c.Subject = strings.TrimSpace(c.Subject)
	if c.Subject == "" {
		return c, fmt.Errorf("%w: empty subject", ErrInvalid)
	}

	c.Predicate = SanitizePredicate(c.Predicate)
	if c.Predicate == "" {
		return c, fmt.Errorf("%w: empty predicate after sanitization", ErrInvalid)
	}

	c.Object = strings.TrimSpace(c.Object)
	if c.Object == "" {
		return c, fmt.Errorf("%w: empty object", ErrInvalid)
	}
	if len(c.Object) > MaxObjectBytes {
		c.Object = truncateClean(c.Object, MaxObjectBytes)
	}

	if c.Type == "" {
		return c, fmt.Errorf("%w: empty type", ErrInvalid)
	}
	if !c.Type.Valid() {
		return c, fmt.Errorf("%w: unknown type %q", ErrInvalid, c.Type)
	}
	if c.Source == "" {
		return c, fmt.Errorf("%w: empty source", ErrInvalid)
	}
	if !c.Source.Valid() {
		return c, fmt.Errorf("%w: unknown source %q", ErrInvalid, c.Source)
	}
	c.Confidence = ClampConfidence(c.Confidence)
	c.Entities = normalizeEntities(c.Entities)
	return c, nil
}

// normalizeEntities trims, lowercases and dedupes entity names.
func normalizeEntities(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" || seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// truncateClean truncates s to at most maxLen bytes, cutting at the last word
// boundary when one is close, and never inside a rune.
func truncateClean(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	truncated := s[:cut]

	// Back up to last space
	if idx := strings.LastIndexFunc(truncated, unicode.IsSpace); idx > maxLen-200 {
		truncated = truncated[:idx]
	}
	return strings.TrimSpace(truncated)
}
