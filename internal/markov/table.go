// Package markov builds n-gram transition tables and samples utterances from
// them.
package markov

import (
	"math/rand/v2"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/sampling"
)

type Transition struct {
	Token       string
	Probability float64
}

// Table maps a prefix of one or two tokens to its next-token distribution.
// Transitions keep first-seen order so seeded generation is reproducible.
type Table struct {
	order int
	next  map[string][]Transition
}

func prefixKey(prefix []string) string {
	return strings.Join(prefix, "\x00")
}

// Build groups n-grams by everything but their last token and normalizes the
// next-token counts per prefix. N-grams shorter than two tokens are ignored.
func Build(ngrams [][]string) *Table {
	counts := make(map[string]map[string]int)
	seen := make(map[string][]string)
	order := 0

	for _, gram := range ngrams {
		if len(gram) < 2 {
			continue
		}
		prefix := gram[:len(gram)-1]
		k := prefixKey(prefix)
		tok := gram[len(gram)-1]

		if counts[k] == nil {
			counts[k] = make(map[string]int)
		}
		if counts[k][tok] == 0 {
			seen[k] = append(seen[k], tok)
		}
		counts[k][tok]++

		if len(prefix) > order {
			order = len(prefix)
		}
	}

	t := &Table{order: order, next: make(map[string][]Transition, len(counts))}
	for k, toks := range seen {
		var total int
		for _, tok := range toks {
			total += counts[k][tok]
		}
		transitions := make([]Transition, len(toks))
		for i, tok := range toks {
			transitions[i] = Transition{Token: tok, Probability: float64(counts[k][tok]) / float64(total)}
		}
		t.next[k] = transitions
	}
	return t
}

// Len is the number of distinct prefixes.
func (t *Table) Len() int {
	return len(t.next)
}

// Order is the longest prefix length in the table.
func (t *Table) Order() int {
	return t.order
}

func (t *Table) Lookup(prefix []string) []Transition {
	return t.next[prefixKey(prefix)]
}

type Options struct {
	MaxWords int
	// Fallback is drawn from uniformly whenever the current prefix is unknown.
	Fallback []string
	// CommonWords is the last resort once the prefix cannot be shortened.
	CommonWords []string
}

// Generate walks the table from the start sentinel. On an unknown prefix it
// tries, in order: the fallback pool, a prefix shortened by its oldest token,
// the common-words pool, and otherwise stops. Generation ends on the end
// sentinel or after MaxWords words. Sentinels are never emitted.
func Generate(t *Table, rng *rand.Rand, opts Options) []string {
	maxWords := opts.MaxWords
	if maxWords <= 0 {
		maxWords = DefaultConfig().MaxWords
	}
	fallback := withoutSentinels(opts.Fallback)
	common := withoutSentinels(opts.CommonWords)
	order := max(t.order, 1)

	history := []string{corpus.StartToken}
	prefix := history
	var words []string

	for len(words) < maxWords {
		var next string

		candidates := t.Lookup(prefix)
		switch {
		case len(candidates) > 0:
			weights := make([]float64, len(candidates))
			for i, c := range candidates {
				weights[i] = c.Probability
			}
			idx, err := sampling.ChooseIndex(rng, weights)
			if err != nil {
				return words
			}
			next = candidates[idx].Token
		case len(fallback) > 0:
			next, _ = sampling.Uniform(rng, fallback)
		case len(prefix) > 1:
			prefix = prefix[1:]
			continue
		case len(common) > 0:
			next, _ = sampling.Uniform(rng, common)
		default:
			return words
		}

		if corpus.IsSentinel(next) {
			break
		}

		words = append(words, next)
		history = append(history, next)
		prefix = history[max(0, len(history)-order):]
	}

	return words
}

// Capitalize joins words into an utterance with an upper-case first letter
// and everything after it lower-cased.
func Capitalize(words []string) string {
	s := strings.Join(words, " ")
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

func withoutSentinels(tokens []string) []string {
	var out []string
	for _, t := range tokens {
		if !corpus.IsSentinel(t) && t != "" {
			out = append(out, t)
		}
	}
	return out
}
