// Package practice spots curriculum vocabulary in what a child says during a
// live conversation.
//
// Children's speech is transcribed imperfectly, so words are matched with
// Double Metaphone phonetic codes plus Jaro-Winkler similarity rather than
// exact comparison:
//
//  1. Phonetic candidates: a window of the utterance whose Double Metaphone
//     codes overlap the vocabulary item's codes is accepted when its
//     Jaro-Winkler score reaches the phonetic threshold.
//
//  2. Fuzzy fallback: without phonetic overlap a window needs the higher
//     fuzzy threshold.
//
// Multi-word items ("good morning") are compared against windows of the same
// number of words.
package practice

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// Tokens shorter than this must match exactly.
	minFuzzyRunes = 3
)

// Option is a functional option for configuring a [Spotter].
type Option func(*Spotter)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a
// phonetically matching window. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(s *Spotter) { s.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score when no phonetic
// overlap exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(s *Spotter) { s.fuzzyThreshold = threshold }
}

// Hit is one vocabulary item found in an utterance.
type Hit struct {
	// Word is the vocabulary item as written in the curriculum.
	Word string `json:"word"`

	// Heard is the matching span of the utterance.
	Heard string `json:"heard"`

	// Score is the Jaro-Winkler similarity in [0, 1]. Exact matches score 1.
	Score float64 `json:"score"`

	pos int
}

// Spotter finds vocabulary in utterances. It is read-only after construction
// and safe for concurrent use.
type Spotter struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a Spotter configured with opts.
func New(opts ...Option) *Spotter {
	s := &Spotter{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Spot returns every vocabulary item heard in utterance, ordered by where it
// first occurs. Each item appears at most once.
func (s *Spotter) Spot(utterance string, vocabulary []string) []Hit {
	tokens := tokenize(utterance)
	if len(tokens) == 0 {
		return nil
	}

	var hits []Hit
	for _, word := range vocabulary {
		target := tokenize(word)
		if len(target) == 0 || len(target) > len(tokens) {
			continue
		}
		if h, ok := s.best(tokens, target); ok {
			h.Word = word
			hits = append(hits, h)
		}
	}
	slices.SortStableFunc(hits, func(a, b Hit) int { return a.pos - b.pos })
	return hits
}

// best slides a window of len(target) tokens over the utterance and returns
// the highest scoring accepted window.
func (s *Spotter) best(tokens, target []string) (Hit, bool) {
	targetFull := strings.Join(target, " ")
	targetCodes := codesForTokens(target)

	var (
		best  Hit
		found bool
	)
	for i := 0; i+len(target) <= len(tokens); i++ {
		window := tokens[i : i+len(target)]
		heard := strings.Join(window, " ")

		if heard == targetFull {
			return Hit{Heard: heard, Score: 1, pos: i}, true
		}
		if !fuzzyEligible(window, target) || !lengthClose(heard, targetFull) {
			continue
		}

		score := matchr.JaroWinkler(heard, targetFull, false)
		threshold := s.fuzzyThreshold
		if codesOverlap(codesForTokens(window), targetCodes) {
			threshold = s.phoneticThreshold
		}
		if score >= threshold && (!found || score > best.Score) {
			best, found = Hit{Heard: heard, Score: score, pos: i}, true
		}
	}
	return best, found
}

// fuzzyEligible rejects approximate matches on very short words, where one
// wrong letter changes the word entirely ("in" and "on").
func fuzzyEligible(window, target []string) bool {
	for i := range target {
		if utf8.RuneCountInString(target[i]) < minFuzzyRunes && window[i] != target[i] {
			return false
		}
	}
	return true
}

// lengthClose rejects windows whose length differs from the target by more
// than a third, so a prefix ("good") does not count as the longer word
// ("goodbye").
func lengthClose(a, b string) bool {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return diff <= max(1, max(la, lb)/3)
}

// tokenize lower-cases s and splits it into words, dropping punctuation.
// Apostrophes and hyphens inside words are kept ("let's", "t-shirt").
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

// codesForTokens returns the union of all Double Metaphone codes for tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
