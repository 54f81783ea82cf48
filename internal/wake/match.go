package wake

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Confidence scores how closely a transcribed chunk matches the activation
// phrase, in [0, 1]. Both inputs are normalized (lowercased, punctuation
// stripped) before comparison. A literal substring match scores 1.0;
// otherwise a sliding window of phrase-length word groups is compared using
// edit distance over both the raw words and their phonetic codes, so common
// mishearings ("hay sonik" for "hey sonic") still score high.
func Confidence(heard, phrase string) float64 {
	heard = normalizeText(heard)
	phrase = normalizeText(phrase)
	if heard == "" || phrase == "" {
		return 0
	}
	if strings.Contains(heard, phrase) {
		return 1
	}

	heardWords := strings.Fields(heard)
	phraseWords := strings.Fields(phrase)
	if len(heardWords) < len(phraseWords) {
		return similarity(heard, phrase)
	}

	best := 0.0
	for i := 0; i+len(phraseWords) <= len(heardWords); i++ {
		candidate := strings.Join(heardWords[i:i+len(phraseWords)], " ")
		if s := similarity(candidate, phrase); s > best {
			best = s
		}
	}
	return best
}

// similarity compares two normalized strings by edit-distance ratio, taking
// the better of the literal and phonetic comparisons.
func similarity(a, b string) float64 {
	lit := editRatio(a, b)
	phon := editRatio(phoneticKey(a), phoneticKey(b))
	if phon > lit {
		return phon
	}
	return lit
}

// editRatio is 1 minus the normalized Levenshtein distance.
func editRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 0
	}
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	d := matchr.Levenshtein(a, b)
	return 1 - float64(d)/float64(n)
}

// phoneticKey joins the primary Double Metaphone code of each word.
func phoneticKey(s string) string {
	words := strings.Fields(s)
	codes := make([]string, 0, len(words))
	for _, w := range words {
		primary, _ := matchr.DoubleMetaphone(w)
		codes = append(codes, primary)
	}
	return strings.Join(codes, " ")
}

// normalizeText lowercases s and strips everything but letters, digits, and
// spaces, collapsing runs of whitespace.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
