package store

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// TokenizeText splits prose into lowercased word tokens. Anything that is
// not a letter or digit separates tokens, so "cell-membrane" yields "cell"
// and "membrane". Tokens shorter than minLen runes are dropped.
func TokenizeText(text string, minLen int) []string {
	if minLen < 1 {
		minLen = 1
	}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= minLen {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a slice of stop words to a map for efficient lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}

// analyze runs the tokenizer and stop filter shared by both BM25 backends.
func analyze(text string, cfg BM25Config, stop map[string]struct{}) []string {
	return FilterStopWords(TokenizeText(text, cfg.MinTokenLength), stop)
}
