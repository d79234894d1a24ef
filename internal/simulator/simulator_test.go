package simulator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/strrl/replicant/internal/cluster"
	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/markov"
	"github.com/strrl/replicant/internal/model"
	"github.com/strrl/replicant/internal/participation"
	"github.com/strrl/replicant/internal/pipeline"
	"github.com/strrl/replicant/internal/similarity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func history() []corpus.Message {
	var (
		msgs []corpus.Message
		id   int64
	)
	add := func(start time.Duration, lines ...string) {
		for i, line := range lines {
			user, text, _ := strings.Cut(line, ": ")
			id++
			msgs = append(msgs, corpus.Message{
				ID:        id,
				UserID:    user,
				UserName:  strings.ToUpper(user),
				Timestamp: t0.Add(start + time.Duration(i)*time.Minute),
				Text:      text,
				Tokens:    corpus.Tokenize(text),
			})
		}
	}
	add(0, "a: good morning team", "b: morning anna", "c: hello there", "a: coffee anyone")
	add(time.Hour, "b: deploy is broken", "a: which service", "b: the api again", "c: on it")
	add(3*time.Hour, "c: lunch time", "a: lunch sounds good", "b: count me in")
	return msgs
}

func testSet(t *testing.T) *model.Set {
	t.Helper()
	set, _, err := pipeline.New(pipeline.Config{Cluster: cluster.DefaultConfig()}, nil).
		Build(context.Background(), history())
	require.NoError(t, err)
	return set
}

func testModels(t *testing.T, set *model.Set) *Models {
	t.Helper()
	m, err := NewModels(set, similarity.DefaultConfig(), markov.DefaultConfig(), nil)
	require.NoError(t, err)
	return m
}

func newSim(t *testing.T, cfg Config) *Simulator {
	t.Helper()
	sim, err := New(testModels(t, testSet(t)), cfg)
	require.NoError(t, err)
	return sim
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "select_cluster", StateSelectCluster.String())
	assert.Equal(t, "inter_cluster_delay", StateInterClusterDelay.String())
	assert.Equal(t, "state(99)", State(99).String())
}

func TestNew_RejectsBadConfig(t *testing.T) {
	models := testModels(t, testSet(t))

	_, err := New(models, Config{MinTurns: 5, MaxTurns: 2})
	assert.Error(t, err)

	_, err = New(models, Config{IntraScale: -1})
	assert.Error(t, err)
}

func TestNewModels_RejectsIncompleteSet(t *testing.T) {
	_, err := NewModels(&model.Set{}, similarity.DefaultConfig(), markov.DefaultConfig(), nil)
	assert.ErrorIs(t, err, model.ErrIncomplete)
}

func TestSimulator_ClusterShapeAndPacing(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 1
	cfg.MinTurns = 3
	cfg.MaxTurns = 3
	sim := newSim(t, cfg)
	profile := sim.models.Set.Profile

	first, err := sim.Next()
	require.NoError(t, err)
	assert.True(t, first.Starter())
	assert.Equal(t, 1, first.ClusterSeq)
	assert.Equal(t, 3, first.Turns)
	assert.Zero(t, first.Delay)
	assert.NotEmpty(t, first.Message)
	assert.Equal(t, strings.ToUpper(first.From), first.Name)

	second, err := sim.Next()
	require.NoError(t, err)
	assert.Equal(t, 2, second.Turn)
	// every populated bucket averages one minute between messages
	assert.InDelta(t, 6.0, second.Delay.Seconds(), 1e-6)

	third, err := sim.Next()
	require.NoError(t, err)
	assert.Equal(t, 3, third.Turn)
	assert.Equal(t, StateInterClusterDelay, sim.State())

	next, err := sim.Next()
	require.NoError(t, err)
	assert.True(t, next.Starter())
	assert.Equal(t, 2, next.ClusterSeq)

	var allowed []time.Duration
	for _, b := range profile.Buckets {
		if b.Probability > 0 {
			allowed = append(allowed, scale(b.AvgClusterDelay, cfg.InterScale))
		}
	}
	assert.Contains(t, allowed, next.Delay)
	assert.Positive(t, next.Delay)
}

func TestSimulator_TurnsStayWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 2
	cfg.MinTurns = 2
	cfg.MaxTurns = 5
	sim := newSim(t, cfg)

	seq, turn := 0, 0
	for i := 0; i < 300; i++ {
		ev, err := sim.Next()
		require.NoError(t, err)
		require.NotEmpty(t, ev.Message)
		require.GreaterOrEqual(t, ev.Turns, 2)
		require.LessOrEqual(t, ev.Turns, 5)

		if ev.Starter() {
			if seq > 0 {
				require.Equal(t, seq+1, ev.ClusterSeq)
			}
			seq, turn = ev.ClusterSeq, 1
			continue
		}
		turn++
		require.Equal(t, seq, ev.ClusterSeq)
		require.Equal(t, turn, ev.Turn)
		require.LessOrEqual(t, ev.Turn, ev.Turns)
		for _, word := range strings.Fields(ev.Message) {
			require.False(t, corpus.IsSentinel(word))
		}
	}
}

func TestSimulator_SeededRunsAreReproducible(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 99
	models := testModels(t, testSet(t))

	collect := func() []Event {
		sim, err := New(models, cfg)
		require.NoError(t, err)
		var out []Event
		for i := 0; i < 50; i++ {
			ev, err := sim.Next()
			require.NoError(t, err)
			out = append(out, ev)
		}
		return out
	}

	first, second := collect(), collect()
	if diff := cmp.Diff(first, second, cmpopts.IgnoreFields(Event{}, "ID")); diff != "" {
		t.Errorf("seeded runs differ (-first +second):\n%s", diff)
	}
}

func TestSimulator_Reset(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 3
	cfg.MinTurns = 4
	cfg.MaxTurns = 4
	sim := newSim(t, cfg)

	_, err := sim.Next()
	require.NoError(t, err)
	_, err = sim.Next()
	require.NoError(t, err)

	sim.Reset()
	assert.Equal(t, StateSelectCluster, sim.State())

	ev, err := sim.Next()
	require.NoError(t, err)
	assert.True(t, ev.Starter())
	assert.Equal(t, 1, ev.ClusterSeq)
	assert.Zero(t, ev.Delay)
}

func TestSimulator_UnknownSpeakerIsFatal(t *testing.T) {
	set := testSet(t)
	set.Participation = &participation.Profile{ByStarter: map[string]*participation.Responders{
		"nobody": {Starter: "nobody", Rates: []participation.Rate{{UserID: "a", Rate: 1}}},
	}}
	sim, err := New(testModels(t, set), Config{Seed: 4, MinTurns: 2, MaxTurns: 2})
	require.NoError(t, err)

	_, err = sim.Next()
	require.NoError(t, err)

	_, err = sim.Next()
	assert.ErrorIs(t, err, participation.ErrUnknownSpeaker)
}

func TestSimulator_NoResponderIsFatal(t *testing.T) {
	set := testSet(t)
	for _, r := range set.Participation.ByStarter {
		for i := range r.Rates {
			r.Rates[i].Rate = 0
		}
	}
	sim, err := New(testModels(t, set), Config{Seed: 5, MinTurns: 2, MaxTurns: 2})
	require.NoError(t, err)

	_, err = sim.Next()
	require.NoError(t, err)

	_, err = sim.Next()
	assert.ErrorIs(t, err, participation.ErrNoResponder)
}

func TestSimulator_StarterWithoutCorpusGivesUp(t *testing.T) {
	set := testSet(t)
	set.Starters = &participation.StarterProfile{Entries: []participation.Starter{
		{UserID: "mute", Probability: 1},
	}}
	sim, err := New(testModels(t, set), Config{Seed: 6, Redraws: 3})
	require.NoError(t, err)

	_, err = sim.Next()
	assert.ErrorIs(t, err, ErrNoSpeaker)
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Deliver(_ context.Context, ev Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func fastConfig(seed uint64) Config {
	cfg := DefaultConfig()
	cfg.Seed = seed
	cfg.IntraScale = 0
	cfg.InterScale = 0
	return cfg
}

func TestRunner_StopsAtMaxEvents(t *testing.T) {
	sink := &collector{}
	r := NewRunner(newSim(t, fastConfig(7)), RunConfig{MaxEvents: 7}, nil)

	stats, err := r.Run(context.Background(), sink)

	require.NoError(t, err)
	assert.Equal(t, 7, stats.Events)
	assert.Equal(t, 7, sink.len())
	assert.GreaterOrEqual(t, stats.Clusters, 1)
}

func TestRunner_CancelledWhileWaiting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 8
	cfg.IntraScale = 1000
	cfg.InterScale = 1000
	r := NewRunner(newSim(t, cfg), RunConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := SinkFunc(func(context.Context, Event) error {
		cancel()
		return nil
	})

	stats, err := r.Run(ctx, sink)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Events)
}

func TestRunner_MaxDurationIsNotAnError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Seed = 9
	cfg.IntraScale = 1000
	cfg.InterScale = 1000
	r := NewRunner(newSim(t, cfg), RunConfig{MaxDuration: 20 * time.Millisecond}, nil)

	stats, err := r.Run(context.Background(), &collector{})

	require.NoError(t, err)
	assert.Equal(t, 1, stats.Events)
}

func TestRunner_SinkErrorStopsRun(t *testing.T) {
	boom := errors.New("transport down")
	r := NewRunner(newSim(t, fastConfig(10)), RunConfig{}, nil)

	_, err := r.Run(context.Background(), SinkFunc(func(context.Context, Event) error { return boom }))

	assert.ErrorIs(t, err, boom)
}

func TestRunRooms(t *testing.T) {
	models := testModels(t, testSet(t))
	rooms := []string{"general", "random", "ops"}
	sinks := map[string]*collector{}
	for _, room := range rooms {
		sinks[room] = &collector{}
	}

	stats, err := RunRooms(context.Background(), models, fastConfig(11), RunConfig{MaxEvents: 5}, rooms,
		func(room string) (Sink, error) { return sinks[room], nil }, nil)
	require.NoError(t, err)

	for _, room := range rooms {
		assert.Equal(t, 5, stats[room].Events)
		require.Len(t, sinks[room].events, 5)
		for _, ev := range sinks[room].events {
			assert.Equal(t, room, ev.Room)
		}
	}
}

func TestRunRooms_SinkFailureCancelsOthers(t *testing.T) {
	models := testModels(t, testSet(t))
	cfg := DefaultConfig()
	cfg.Seed = 12
	cfg.IntraScale = 1000
	cfg.InterScale = 1000

	_, err := RunRooms(context.Background(), models, cfg, RunConfig{}, []string{"ok", "broken"},
		func(room string) (Sink, error) {
			if room == "broken" {
				return nil, errors.New("no credentials")
			}
			return &collector{}, nil
		}, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
