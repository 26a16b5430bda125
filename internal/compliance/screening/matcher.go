package screening

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity returns a normalized edit-distance similarity between a and b on
// a 0..100 scale, where 100 is an exact match. Distance and length are both
// counted in runes; watchlist names carry diacritics and a byte length would
// inflate the score for them. Two empty strings are defined as identical,
// which keeps the division safe and makes an empty query effectively
// unmatchable against real entity names.
func Similarity(a, b string) float64 {
	maxLen := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > maxLen {
		maxLen = n
	}
	if maxLen == 0 {
		return 100.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return (1.0 - float64(dist)/float64(maxLen)) * 100.0
}

// NormalizeName lowercases a name and collapses runs of whitespace so that
// cache keys and comparisons are stable across trivial formatting differences.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// NormalizeAddress canonicalizes a blockchain address for exact matching.
// The engine does no checksum validation; matching is plain string equality
// on the lowercased form.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// nameMatch is the best-scoring candidate found during a name screening.
type nameMatch struct {
	score       float64
	source      string
	entityID    string
	entityName  string
	matchedName string
}

// bestNameMatch scans every entity name and alias across all lists and keeps
// the single highest-scoring candidate. Lists must be in source priority
// order: a strictly-greater comparison means the first source encountered
// with the best score wins ties.
func bestNameMatch(normalizedQuery string, lists []SourceList) (nameMatch, bool) {
	var best nameMatch
	found := false

	for _, list := range lists {
		for i := range list.Entities {
			entity := &list.Entities[i]
			candidates := append([]string{entity.Name}, entity.Aliases...)
			for _, candidate := range candidates {
				score := Similarity(normalizedQuery, NormalizeName(candidate))
				if !found || score > best.score {
					best = nameMatch{
						score:       score,
						source:      list.Source,
						entityID:    entity.ID,
						entityName:  entity.Name,
						matchedName: candidate,
					}
					found = true
				}
			}
		}
	}

	return best, found
}
