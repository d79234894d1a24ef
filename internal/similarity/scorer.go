package similarity

import (
	"sort"

	"github.com/strrl/replicant/internal/corpus"
)

type Config struct {
	MaxResults int
	// MinScore drops matches scoring below it. Zero disables thresholding.
	MinScore float64
}

func DefaultConfig() Config {
	return Config{
		MaxResults: 10,
	}
}

type entry struct {
	id    int64
	words map[string]struct{}
}

// Scorer holds every user's lemmatized messages. It is read-only after
// construction and safe for concurrent use.
type Scorer struct {
	config  Config
	weights WordWeights
	byUser  map[string][]entry
	// lemmas maps a normalized surface word to the lemma the corpus gave it.
	lemmas map[string]string
}

func NewScorer(messages []corpus.Message, weights WordWeights, cfg Config) *Scorer {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultConfig().MaxResults
	}

	byUser := make(map[string][]entry)
	lemmas := make(map[string]string)
	for _, m := range messages {
		indexLemmas(lemmas, m)

		words := m.Words()
		if len(words) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(words))
		for _, w := range words {
			set[w] = struct{}{}
		}
		byUser[m.UserID] = append(byUser[m.UserID], entry{id: m.ID, words: set})
	}

	return &Scorer{config: cfg, weights: weights, byUser: byUser, lemmas: lemmas}
}

// indexLemmas records token → lemma pairs of messages whose tokens and lemmas
// align one to one. The first lemma seen for a word wins.
func indexLemmas(lemmas map[string]string, m corpus.Message) {
	if len(m.Lemmas) == 0 || len(m.Tokens) != len(m.Lemmas) {
		return
	}
	for i, tok := range m.Tokens {
		words := corpus.Normalize(tok)
		if len(words) != 1 {
			continue
		}
		if _, ok := lemmas[words[0]]; !ok {
			lemmas[words[0]] = m.Lemmas[i]
		}
	}
}

// Query turns an utterance into the words messages are indexed under: the
// text is normalized and every word the corpus lemmatized is replaced by its
// lemma.
func (s *Scorer) Query(text string) []string {
	words := corpus.Normalize(text)
	for i, w := range words {
		if l, ok := s.lemmas[w]; ok {
			words[i] = l
		}
	}
	return words
}

type Match struct {
	MessageID int64
	Score     float64
}

// Rank scores the user's messages against query by the mean weight of the
// distinct words they share. Messages without overlap are left out.
func (s *Scorer) Rank(query []string, userID string) []Match {
	q := make(map[string]struct{}, len(query))
	for _, w := range query {
		q[w] = struct{}{}
	}

	var matches []Match
	for _, e := range s.byUser[userID] {
		var sum float64
		var common int
		for w := range q {
			if _, ok := e.words[w]; !ok {
				continue
			}
			sum += s.weights[w]
			common++
		}
		if common == 0 {
			continue
		}

		score := sum / float64(common)
		if s.config.MinScore > 0 && score < s.config.MinScore {
			continue
		}
		matches = append(matches, Match{MessageID: e.id, Score: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].MessageID > matches[j].MessageID
	})

	if len(matches) > s.config.MaxResults {
		matches = matches[:s.config.MaxResults]
	}
	return matches
}

// Similar returns the ids of the best matching messages. An empty result means
// no similarity match; callers fall back to an unbiased model.
func (s *Scorer) Similar(query []string, userID string) []int64 {
	matches := s.Rank(query, userID)
	ids := make([]int64, len(matches))
	for i, m := range matches {
		ids[i] = m.MessageID
	}
	return ids
}
