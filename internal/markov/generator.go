package markov

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"

	"github.com/strrl/replicant/internal/corpus"
)

var (
	ErrGenerationFailed = errors.New("text generation failed")
	ErrNoCorpus         = errors.New("no corpus for user")
)

type Config struct {
	MaxWords    int
	MaxAttempts int
	CommonWords int
}

func DefaultConfig() Config {
	return Config{
		MaxWords:    25,
		MaxAttempts: 5,
		CommonWords: 10,
	}
}

type userCorpus struct {
	byMessage map[int64][][]string
	all       [][]string
	starters  [][]string
	common    []string
}

// Generator produces utterances for individual users. Transition tables are
// rebuilt for every call from the slice of n-grams the call selects, so the
// generator itself holds only read-only corpora and is safe for concurrent use.
type Generator struct {
	config Config
	users  map[string]*userCorpus
	logger *zap.Logger
}

type Option func(*Generator)

func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) {
		g.logger = l
	}
}

// NewGenerator indexes the n-grams of every message by user. Messages are
// expected in stream order with cluster ids set; the first message of each
// cluster feeds its sender's starter corpus.
func NewGenerator(messages []corpus.Message, cfg Config, opts ...Option) *Generator {
	def := DefaultConfig()
	if cfg.MaxWords <= 0 {
		cfg.MaxWords = def.MaxWords
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.CommonWords <= 0 {
		cfg.CommonWords = def.CommonWords
	}

	g := &Generator{
		config: cfg,
		users:  make(map[string]*userCorpus),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}

	openers := make(map[int]struct{})
	for _, m := range messages {
		opener := false
		if m.ClusterID != 0 {
			if _, ok := openers[m.ClusterID]; !ok {
				openers[m.ClusterID] = struct{}{}
				opener = true
			}
		}

		grams := corpus.MessageNGrams(m)
		if len(grams) == 0 {
			continue
		}

		u := g.users[m.UserID]
		if u == nil {
			u = &userCorpus{byMessage: make(map[int64][][]string)}
			g.users[m.UserID] = u
		}
		u.byMessage[m.ID] = append(u.byMessage[m.ID], grams...)
		u.all = append(u.all, grams...)
		if opener {
			u.starters = append(u.starters, grams...)
		}
	}

	for _, u := range g.users {
		u.common = corpus.CommonWords(u.all, cfg.CommonWords)
	}

	return g
}

func (g *Generator) Has(userID string) bool {
	_, ok := g.users[userID]
	return ok
}

func (g *Generator) Users() []string {
	users := make([]string, 0, len(g.users))
	for u := range g.users {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Starter generates an opening utterance from the user's cluster-opening
// messages, or from the whole user corpus when the user never opened one.
func (g *Generator) Starter(rng *rand.Rand, userID string) (string, error) {
	u, ok := g.users[userID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoCorpus, userID)
	}

	grams := u.starters
	if len(grams) == 0 {
		grams = u.all
	}
	return g.generate(rng, userID, grams, u.common)
}

// Reply generates an utterance biased toward the given similar messages. With
// no usable similar messages it falls back to the user's full corpus.
func (g *Generator) Reply(rng *rand.Rand, userID string, similar []int64) (string, error) {
	u, ok := g.users[userID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoCorpus, userID)
	}

	var grams [][]string
	for _, id := range similar {
		grams = append(grams, u.byMessage[id]...)
	}
	if len(grams) == 0 {
		g.logger.Debug("no similar n-grams, using full corpus", zap.String("user", userID))
		grams = u.all
	}
	return g.generate(rng, userID, grams, u.common)
}

func (g *Generator) generate(rng *rand.Rand, userID string, grams [][]string, common []string) (string, error) {
	table := Build(grams)
	if table.Len() == 0 {
		return "", fmt.Errorf("%w: empty transition table for %s", ErrGenerationFailed, userID)
	}

	opts := Options{MaxWords: g.config.MaxWords, CommonWords: common}
	for attempt := 1; attempt <= g.config.MaxAttempts; attempt++ {
		words := Generate(table, rng, opts)
		if len(words) > 0 {
			return Capitalize(words), nil
		}
		g.logger.Debug("empty utterance, regenerating",
			zap.String("user", userID), zap.Int("attempt", attempt))
	}

	return "", fmt.Errorf("%w: %s produced no words after %d attempts", ErrGenerationFailed, userID, g.config.MaxAttempts)
}
