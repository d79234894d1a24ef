package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strrl/replicant/internal/config"
	"github.com/strrl/replicant/internal/delivery"
	"github.com/strrl/replicant/internal/retry"
	"github.com/strrl/replicant/internal/simulator"
)

var (
	simulateRooms     int
	simulateMaxEvents int
	simulateDuration  time.Duration
	simulateSink      string
	simulateSeed      uint64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run simulated conversations from the stored model",
	Long: `Replay synthetic conversations from the stored model in real time. Each
room runs its own conversation stream. Events go to stdout as text lines or
JSONL, or are posted to a Matrix room as the configured participant accounts.`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)

	simulateCmd.Flags().IntVar(&simulateRooms, "rooms", 0, "Number of independent rooms (overrides config)")
	simulateCmd.Flags().IntVarP(&simulateMaxEvents, "max-events", "n", 0, "Stop each room after this many events (0 = no limit)")
	simulateCmd.Flags().DurationVarP(&simulateDuration, "duration", "d", 0, "Stop each room after this long (0 = no limit)")
	simulateCmd.Flags().StringVar(&simulateSink, "sink", "", "Delivery sink: text, jsonl or matrix (overrides config)")
	simulateCmd.Flags().Uint64Var(&simulateSeed, "seed", 0, "Random seed; 0 seeds from the clock (overrides config)")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("rooms") {
		cfg.Simulation.Rooms = simulateRooms
	}
	if flags.Changed("max-events") {
		cfg.Simulation.MaxEvents = simulateMaxEvents
	}
	if flags.Changed("duration") {
		cfg.Simulation.MaxDuration = simulateDuration
	}
	if flags.Changed("sink") {
		cfg.Delivery.Sink = simulateSink
	}
	if flags.Changed("seed") {
		cfg.Simulation.Seed = simulateSeed
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	models, err := loadModels(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	sinkFor, err := openSink(cfg)
	if err != nil {
		return err
	}

	rooms := roomNames(cfg.Simulation.Rooms)
	simCfg := simulator.Config{
		Seed:       cfg.Simulation.Seed,
		MinTurns:   cfg.Simulation.MinTurns,
		MaxTurns:   cfg.Simulation.MaxTurns,
		IntraScale: cfg.Simulation.IntraScale,
		InterScale: cfg.Simulation.InterScale,
	}
	run := simulator.RunConfig{
		MaxEvents:   cfg.Simulation.MaxEvents,
		MaxDuration: cfg.Simulation.MaxDuration,
	}

	logger.Info("starting simulation",
		zap.String("build_id", models.Set.Meta.BuildID.String()),
		zap.Int("rooms", len(rooms)),
		zap.String("sink", cfg.Delivery.Sink),
		zap.Uint64("seed", cfg.Simulation.Seed))

	results, err := simulator.RunRooms(cmd.Context(), models, simCfg, run, rooms, sinkFor, logger)

	names := make([]string, 0, len(results))
	for room := range results {
		names = append(names, room)
	}
	sort.Strings(names)
	for _, room := range names {
		st := results[room]
		logger.Info("room finished",
			zap.String("room", room),
			zap.Int("events", st.Events),
			zap.Int("clusters", st.Clusters),
			zap.Duration("elapsed", st.Elapsed))
	}

	if err != nil && errors.Is(err, context.Canceled) && cmd.Context().Err() != nil {
		logger.Info("simulation interrupted")
		return nil
	}
	return err
}

func roomNames(n int) []string {
	if n <= 1 {
		return []string{""}
	}
	rooms := make([]string, n)
	for i := range rooms {
		rooms[i] = fmt.Sprintf("room-%d", i+1)
	}
	return rooms
}

// openSink returns one shared sink for every room.
func openSink(cfg *config.Config) (func(room string) (simulator.Sink, error), error) {
	var sink simulator.Sink

	switch cfg.Delivery.Sink {
	case "text", "jsonl":
		w, err := delivery.NewWriterSink(os.Stdout, delivery.Format(cfg.Delivery.Sink))
		if err != nil {
			return nil, err
		}
		sink = w

	case "matrix":
		if cfg.Simulation.Rooms > 1 {
			return nil, errors.New("matrix delivery posts to a single room; use --rooms 1")
		}
		accounts := make([]delivery.Account, 0, len(cfg.Participants))
		for _, p := range cfg.Participants {
			accounts = append(accounts, delivery.Account{
				Participant: p.ID,
				MatrixUser:  p.MatrixUser,
				Token:       p.Token(),
			})
		}
		policy := retry.DefaultPolicy()
		policy.Attempts = cfg.Matrix.RetryAttempts
		policy.InitialDelay = cfg.Matrix.RetryDelay

		m, err := delivery.NewMatrixSink(delivery.MatrixConfig{
			Homeserver:    cfg.Matrix.Homeserver,
			RoomID:        cfg.Matrix.RoomID,
			RatePerSecond: cfg.Matrix.RatePerSecond,
			Burst:         cfg.Matrix.Burst,
			Retry:         policy,
		}, accounts, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to set up matrix delivery: %w", err)
		}
		sink = m

	default:
		return nil, fmt.Errorf("unknown delivery sink %q", cfg.Delivery.Sink)
	}

	return func(string) (simulator.Sink, error) { return sink, nil }, nil
}
