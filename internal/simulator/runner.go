package simulator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Sink receives events in order. Delivery is the sink's concern, including any
// rate limiting toward external services.
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) Deliver(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

type RunConfig struct {
	// MaxEvents and MaxDuration bound the run. Zero means unbounded.
	MaxEvents   int
	MaxDuration time.Duration
}

type RunStats struct {
	Events   int
	Clusters int
	Elapsed  time.Duration
}

// Runner paces a Simulator in real time. Cancellation is observed only while
// waiting between turns.
type Runner struct {
	sim    *Simulator
	config RunConfig
	logger *zap.Logger
}

func NewRunner(sim *Simulator, cfg RunConfig, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{sim: sim, config: cfg, logger: logger}
}

// Run delivers events until a bound is reached, ctx is cancelled, or the
// simulator or sink fails. Reaching MaxEvents or MaxDuration is not an error.
func (r *Runner) Run(ctx context.Context, sink Sink) (RunStats, error) {
	start := time.Now()
	var stats RunStats

	runCtx := ctx
	if r.config.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.config.MaxDuration)
		defer cancel()
	}

	finish := func(err error) (RunStats, error) {
		stats.Elapsed = time.Since(start)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			r.logger.Info("run duration reached", zap.Duration("max_duration", r.config.MaxDuration))
			err = nil
		}
		return stats, err
	}

	for {
		if r.config.MaxEvents > 0 && stats.Events >= r.config.MaxEvents {
			return finish(nil)
		}

		ev, err := r.sim.Next()
		if err != nil {
			return finish(fmt.Errorf("simulation failed: %w", err))
		}

		if err := wait(runCtx, ev.Delay); err != nil {
			return finish(err)
		}

		if err := sink.Deliver(runCtx, ev); err != nil {
			return finish(fmt.Errorf("failed to deliver event %s: %w", ev.ID, err))
		}

		stats.Events++
		if ev.Starter() {
			stats.Clusters++
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RunRooms runs one independent simulation per room concurrently. Every room
// gets its own random stream derived from cfg.Seed; the models are shared.
// The first failing room cancels the others.
func RunRooms(ctx context.Context, models *Models, cfg Config, run RunConfig, rooms []string,
	sinkFor func(room string) (Sink, error), logger *zap.Logger) (map[string]RunStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	results := make([]RunStats, len(rooms))
	g, gctx := errgroup.WithContext(ctx)

	for i, room := range rooms {
		roomCfg := cfg
		roomCfg.Room = room
		if cfg.Seed != 0 {
			roomCfg.Seed = cfg.Seed + uint64(i)
		}

		g.Go(func() error {
			sink, err := sinkFor(room)
			if err != nil {
				return fmt.Errorf("failed to open sink for %s: %w", room, err)
			}
			sim, err := New(models, roomCfg, WithLogger(logger))
			if err != nil {
				return fmt.Errorf("failed to create simulator for %s: %w", room, err)
			}

			stats, err := NewRunner(sim, run, logger.With(zap.String("room", room))).Run(gctx, sink)
			results[i] = stats
			if err != nil {
				return fmt.Errorf("room %s: %w", room, err)
			}
			return nil
		})
	}

	err := g.Wait()

	out := make(map[string]RunStats, len(rooms))
	for i, room := range rooms {
		out[room] = results[i]
	}
	return out, err
}
