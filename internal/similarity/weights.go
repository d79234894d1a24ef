// Package similarity ranks a user's past messages by lexical overlap with a
// query utterance.
package similarity

import (
	"math"
)

// WordWeights maps a lemma to its inverse z-score weight.
type WordWeights map[string]float64

// ComputeWeights derives 1/(1+|count-mean|/stddev) for every lemma over the
// global lemma-count distribution. Words whose frequency sits near the mean
// weigh close to 1; rare and very frequent words weigh less.
func ComputeWeights(lemmaLists [][]string) WordWeights {
	counts := make(map[string]int)
	var total int
	for _, lemmas := range lemmaLists {
		for _, w := range lemmas {
			counts[w]++
			total++
		}
	}

	weights := make(WordWeights, len(counts))
	if len(counts) == 0 {
		return weights
	}

	mean := float64(total) / float64(len(counts))
	var variance float64
	for _, c := range counts {
		d := float64(c) - mean
		variance += d * d
	}
	std := math.Sqrt(variance / float64(len(counts)))

	for w, c := range counts {
		if std == 0 {
			weights[w] = 1
			continue
		}
		weights[w] = 1 / (1 + math.Abs(float64(c)-mean)/std)
	}
	return weights
}
