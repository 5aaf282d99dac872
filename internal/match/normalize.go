// Package match scores receipts against transactions and ranks candidates
// for automatic and suggested assignment. Scoring is pure: no I/O, no
// randomness, equal inputs always produce equal ranking.
package match

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)
	spaces   = regexp.MustCompile(`\s+`)
)

// legalSuffixes are trailing corporate-form tokens that differ between a
// receipt's printed merchant name and a statement's descriptor without
// meaning a different merchant.
var legalSuffixes = map[string]struct{}{
	"gmbh": {}, "ag": {}, "kg": {}, "ug": {}, "ohg": {}, "ev": {},
	"ltd": {}, "inc": {}, "llc": {}, "plc": {}, "co": {}, "corp": {},
	"sa": {}, "se": {}, "bv": {}, "nv": {},
}

// Normalize canonicalizes a merchant name for comparison: accents stripped,
// lowercased, punctuation removed, trailing legal suffixes dropped, and
// whitespace collapsed. "Café Müller GmbH" and "CAFE MULLER" normalize
// equal.
func Normalize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, name)
	if err != nil {
		s = name
	}

	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(strings.TrimSpace(s), " ")

	fields := strings.Fields(s)
	for len(fields) > 1 {
		if _, ok := legalSuffixes[fields[len(fields)-1]]; !ok {
			break
		}
		fields = fields[:len(fields)-1]
	}
	return strings.Join(fields, " ")
}

// Similarity returns a [0,1] similarity between two merchant names based on
// normalized Levenshtein distance. Empty inputs (after normalization) score
// zero: absence of a name is not evidence of a match.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	ra, rb := []rune(na), []rune(nb)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes edit distance with a rolling single-row buffer.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		cur := prev[0] + 1
		for j := 1; j <= len(b); j++ {
			cost := prev[j-1]
			if a[i-1] != b[j-1] {
				cost++
			}
			if v := prev[j] + 1; v < cost {
				cost = v
			}
			if v := cur + 1; v < cost {
				cost = v
			}
			prev[j-1], cur = cur, cost
		}
		prev[len(b)] = cur
	}
	return prev[len(b)]
}
