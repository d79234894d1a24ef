package simulator

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/strrl/replicant/internal/markov"
	"github.com/strrl/replicant/internal/model"
	"github.com/strrl/replicant/internal/similarity"
)

// Models is everything a simulation reads. It is built once and shared
// read-only between concurrent runs.
type Models struct {
	Set       *model.Set
	Scorer    *similarity.Scorer
	Generator *markov.Generator
	names     map[string]string
}

func NewModels(set *model.Set, sim similarity.Config, mk markov.Config, logger *zap.Logger) (*Models, error) {
	if err := set.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Models{
		Set:       set,
		Scorer:    similarity.NewScorer(set.Messages, set.Weights, sim),
		Generator: markov.NewGenerator(set.Messages, mk, markov.WithLogger(logger)),
		names:     set.Names(),
	}, nil
}

func (m *Models) Name(userID string) string {
	if n, ok := m.names[userID]; ok {
		return n
	}
	return userID
}
