package cmd

import (
	"context"
	"fmt"

	"github.com/strrl/replicant/internal/config"
	"github.com/strrl/replicant/internal/model"
	"github.com/strrl/replicant/internal/simulator"
	"github.com/strrl/replicant/internal/store"
)

func loadSet(ctx context.Context, cfg *config.Config) (*model.Set, error) {
	s, err := store.New(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open model store: %w", err)
	}
	defer s.Close()

	set, err := s.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load model from %s: %w", cfg.Database, err)
	}
	return set, nil
}

func loadModels(ctx context.Context, cfg *config.Config) (*simulator.Models, error) {
	set, err := loadSet(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return simulator.NewModels(set, cfg.SimilarityConfig(), cfg.MarkovConfig(), logger)
}
