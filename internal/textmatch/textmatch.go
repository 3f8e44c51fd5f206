// Package textmatch holds the keyword tokenizer and overlap scoring shared
// by heuristic tool selection and the episode embedder.
package textmatch

import (
	"math"
	"strings"
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"into": true, "that": true, "this": true, "then": true, "than": true,
	"are": true, "was": true, "were": true, "has": true, "have": true,
	"of": true, "to": true, "in": true, "on": true, "at": true, "by": true,
	"an": true, "or": true, "is": true, "be": true, "it": true, "as": true,
	"me": true, "my": true, "all": true, "any": true, "please": true,
}

// Tokenize splits text into lowercase word tokens, dropping single
// characters. Path separators and dots split tokens.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '_' || r == '-' ||
			r > 127)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(f)
		if len(w) > 1 {
			out = append(out, w)
		}
	}
	return out
}

// Keywords returns the distinct non-stopword tokens of text in order.
// Snake and kebab case tokens also contribute their parts.
func Keywords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(w string) {
		if len(w) > 1 && !stopwords[w] && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	for _, tok := range Tokenize(text) {
		add(tok)
		if strings.ContainsAny(tok, "_-") {
			for _, part := range strings.FieldsFunc(tok, func(r rune) bool { return r == '_' || r == '-' }) {
				add(part)
			}
		}
	}
	return out
}

// Similarity scores how well keywords cover a tool's name and description.
// Exact token hits weigh 1.0 and substring hits 0.7; the result blends a
// Jaccard overlap with keyword coverage and lies in [0, 1].
func Similarity(keywords []string, name, description string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	target := strings.ToLower(name + " " + description)
	targetSet := make(map[string]bool)
	for _, w := range Keywords(target) {
		targetSet[w] = true
	}

	var matched int
	var weighted float64
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		switch {
		case targetSet[kw]:
			matched++
			weighted += 1.0
		case len(kw) > 2 && strings.Contains(target, kw):
			matched++
			weighted += 0.7
		}
	}
	if matched == 0 {
		return 0
	}

	union := float64(len(keywords) + len(targetSet) - matched)
	jaccard := float64(matched) / math.Max(union, 1)
	coverage := weighted / float64(len(keywords))
	return 0.4*jaccard + 0.6*coverage
}
