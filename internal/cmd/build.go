package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/strrl/replicant/internal/parser"
	"github.com/strrl/replicant/internal/pipeline"
	"github.com/strrl/replicant/internal/store"
)

var (
	buildInput        string
	buildParticipants []string
	buildGap          time.Duration
	buildMaxSize      int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the model tables from a chat export",
	Long: `Read a newline-delimited JSON chat export, split it into conversation
clusters and compute the length, starter, participation and word weight
tables. The result replaces any model already stored in the database.`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildInput, "input", "i", "", "JSONL export file or glob (overrides config)")
	buildCmd.Flags().StringSliceVar(&buildParticipants, "participants", nil, "User ids allowed in the model (default: config, else everyone)")
	buildCmd.Flags().DurationVar(&buildGap, "gap", 0, "Silence that separates clusters (overrides config)")
	buildCmd.Flags().IntVar(&buildMaxSize, "max-size", 0, "Largest cluster length bucket (overrides config)")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if buildInput != "" {
		cfg.Input = buildInput
	}
	if buildGap > 0 {
		cfg.Cluster.GapThreshold = buildGap
	}
	if buildMaxSize > 0 {
		cfg.Cluster.MaxSize = buildMaxSize
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Input == "" {
		return errors.New("no input given: pass --input or set input in the config")
	}

	participants := cfg.ParticipantIDs()
	if len(buildParticipants) > 0 {
		participants = buildParticipants
	}

	fmt.Printf("Reading chat export: %s\n", cfg.Input)

	p, err := parser.NewParser(logger)
	if err != nil {
		return fmt.Errorf("failed to create parser: %w", err)
	}

	messages, pstats, err := p.ReadMessages(cfg.Input)
	if err != nil {
		return fmt.Errorf("failed to read messages: %w", err)
	}
	if pstats.Messages == 0 {
		return fmt.Errorf("no usable messages found in %s", cfg.Input)
	}

	fmt.Printf("Found %d messages from %d users between %s and %s (%d rows skipped)\n",
		pstats.Messages, pstats.Users,
		pstats.First.Format("2006-01-02"), pstats.Last.Format("2006-01-02"),
		pstats.Skipped)

	pl := pipeline.New(pipeline.Config{
		Cluster:      cfg.ClusterConfig(),
		Participants: participants,
		Source:       cfg.Input,
	}, logger)

	set, stats, err := pl.Build(cmd.Context(), messages)
	if err != nil {
		return fmt.Errorf("failed to build model: %w", err)
	}

	fmt.Printf("Built model %s:\n", set.Meta.BuildID)
	fmt.Printf("  - %d messages kept (%d duplicates, %d empty)\n", stats.Messages, stats.Duplicates, stats.Empty)
	fmt.Printf("  - %d clusters (%d longer than %d)\n", stats.Clusters, stats.Oversized, cfg.Cluster.MaxSize)
	fmt.Printf("  - %d users, %d starters\n", stats.Users, stats.Starters)
	fmt.Printf("  - %d weighted words\n", stats.Words)

	s, err := store.New(cfg.Database, store.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to open model store: %w", err)
	}
	defer s.Close()

	if err := s.Save(cmd.Context(), set); err != nil {
		return fmt.Errorf("failed to save model: %w", err)
	}

	fmt.Printf("Saved model to %s\n", cfg.Database)
	return nil
}
