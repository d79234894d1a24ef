// Package pipeline turns an ingested message stream into a model.Set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strrl/replicant/internal/cluster"
	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/model"
	"github.com/strrl/replicant/internal/participation"
	"github.com/strrl/replicant/internal/similarity"
)

var ErrNoMessages = errors.New("no usable messages")

type Config struct {
	Cluster      cluster.Config
	Participants []string
	Source       string
}

type Pipeline struct {
	config    Config
	clusterer *cluster.Clusterer
	builder   *participation.Builder
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:    cfg,
		clusterer: cluster.NewClusterer(cfg.Cluster),
		builder:   participation.NewBuilder(cfg.Participants, participation.WithLogger(logger)),
		logger:    logger,
		now:       time.Now,
	}
}

type Stats struct {
	InputMessages int
	Duplicates    int
	Empty         int
	Messages      int
	Clusters      int
	Oversized     int
	Users         int
	Starters      int
	Words         int
}

// Build runs filter, segmentation, profiling and weighting. The messages are
// expected in timestamp order.
func (p *Pipeline) Build(ctx context.Context, messages []corpus.Message) (*model.Set, Stats, error) {
	stats := Stats{InputMessages: len(messages)}

	kept, fstats := NewFilter().Filter(messages)
	stats.Duplicates = fstats.Duplicates
	stats.Empty = fstats.Empty
	stats.Messages = len(kept)
	if len(kept) == 0 {
		return nil, stats, ErrNoMessages
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	clusters := p.clusterer.Segment(kept)
	stats.Clusters = len(clusters)
	for _, cl := range clusters {
		if cl.Size() > p.config.Cluster.MaxClusterSize {
			stats.Oversized++
		}
	}
	p.logger.Debug("segmented stream", zap.Int("clusters", len(clusters)), zap.Int("oversized", stats.Oversized))

	profile := p.clusterer.BuildProfile(clusters)

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	starters := p.builder.Starters(clusters)
	stats.Starters = len(starters.Entries)
	part := p.builder.Participation(clusters)

	flat := cluster.Flatten(clusters)
	stats.Users = len(corpus.Users(flat))

	lemmaLists := make([][]string, 0, len(flat))
	for _, m := range flat {
		lemmaLists = append(lemmaLists, m.Words())
	}
	weights := similarity.ComputeWeights(lemmaLists)
	stats.Words = len(weights)

	set := &model.Set{
		Meta: model.Meta{
			BuildID:        uuid.New(),
			BuiltAt:        p.now().UTC(),
			Source:         p.config.Source,
			Participants:   p.config.Participants,
			GapThreshold:   p.config.Cluster.GapThreshold,
			MaxClusterSize: p.config.Cluster.MaxClusterSize,
			Messages:       len(flat),
			Clusters:       len(clusters),
		},
		Profile:       profile,
		Starters:      starters,
		Participation: part,
		Weights:       weights,
		Messages:      flat,
	}

	if err := set.Validate(); err != nil {
		return nil, stats, fmt.Errorf("failed to build model: %w", err)
	}

	p.logger.Info("built model",
		zap.String("build_id", set.Meta.BuildID.String()),
		zap.Int("messages", stats.Messages),
		zap.Int("clusters", stats.Clusters),
		zap.Int("starters", stats.Starters))

	return set, stats, nil
}
