// Package moderation screens public chat text before it is stored and fanned
// out. A Filter combines a keyword blocklist, matched on whole words and
// phrases with common leetspeak folded, and a set of spam heuristics.
package moderation

import (
	"strings"
	"unicode"
)

// Reasons reported in Result.Reason.
const (
	ReasonKeyword = "blocked_keyword"
	ReasonSpam    = "spam_pattern"
)

// DefaultTerms is the blocklist used by NewFilter.
var DefaultTerms = []string{
	"kill yourself",
	"go die",
	"send nudes",
	"child porn",
	"bomb threat",
	"free bitcoin",
	"crypto giveaway",
}

// Result is the outcome of Filter.Check. Term is the matched blocklist entry
// or the name of the spam check that fired.
type Result struct {
	Blocked bool
	Reason  string
	Term    string
}

// Filter is safe for concurrent use; it is never mutated after construction.
type Filter struct {
	words   map[string]struct{}
	phrases [][]string
}

// NewFilter returns a Filter using DefaultTerms.
func NewFilter() *Filter {
	return NewFilterWithTerms(DefaultTerms)
}

// NewFilterWithTerms builds a Filter from terms. Terms are case-insensitive;
// a term containing spaces is matched as a phrase of consecutive words.
func NewFilterWithTerms(terms []string) *Filter {
	f := &Filter{words: make(map[string]struct{})}
	for _, term := range terms {
		parts := tokenizePlain(strings.ToLower(term))
		switch len(parts) {
		case 0:
		case 1:
			f.words[parts[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, parts)
		}
	}
	return f
}

// Check screens text. Blocklist matches take precedence over spam checks.
func (f *Filter) Check(text string) Result {
	lower := strings.ToLower(text)

	plain := tokenizePlain(lower)
	folded := tokenizeLeet(lower)
	for i, tok := range folded {
		folded[i] = strings.TrimFunc(normalizeLeet(tok), isPunct)
	}

	for _, tokens := range [][]string{plain, folded} {
		if term, ok := f.matchTokens(tokens); ok {
			return Result{Blocked: true, Reason: ReasonKeyword, Term: term}
		}
	}
	return checkSpam(text)
}

func (f *Filter) matchTokens(tokens []string) (string, bool) {
	for _, tok := range tokens {
		if _, ok := f.words[tok]; ok {
			return tok, true
		}
	}
	for _, phrase := range f.phrases {
		if containsRun(tokens, phrase) {
			return strings.Join(phrase, " "), true
		}
	}
	return "", false
}

func containsRun(tokens, run []string) bool {
	for i := 0; i+len(run) <= len(tokens); i++ {
		match := true
		for j, w := range run {
			if tokens[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

var leet = map[rune]rune{
	'0': 'o',
	'1': 'i',
	'3': 'e',
	'4': 'a',
	'5': 's',
	'7': 't',
	'@': 'a',
	'$': 's',
	'!': 'i',
}

// normalizeLeet folds common character substitutions back to letters.
func normalizeLeet(s string) string {
	return strings.Map(func(r rune) rune {
		if to, ok := leet[r]; ok {
			return to
		}
		return r
	}, s)
}

// tokenizePlain splits on anything that is not a letter or digit.
func tokenizePlain(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// tokenizeLeet splits on whitespace only, keeping substitution characters
// inside a word.
func tokenizeLeet(s string) []string {
	return strings.FieldsFunc(s, unicode.IsSpace)
}

func isPunct(r rune) bool {
	return unicode.IsPunct(r) || unicode.IsSymbol(r)
}
