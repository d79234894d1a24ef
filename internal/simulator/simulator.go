// Package simulator drives turn-by-turn conversation generation from a built
// model set.
package simulator

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/strrl/replicant/internal/cluster"
	"github.com/strrl/replicant/internal/markov"
	"github.com/strrl/replicant/internal/participation"
	"github.com/strrl/replicant/internal/sampling"
)

type State int

const (
	StateSelectCluster State = iota
	StateSelectStarter
	StateEmitStarter
	StateSelectResponder
	StateGenerateReply
	StateEmitResponder
	StateInterClusterDelay
)

var stateNames = map[State]string{
	StateSelectCluster:     "select_cluster",
	StateSelectStarter:     "select_starter",
	StateEmitStarter:       "emit_starter",
	StateSelectResponder:   "select_responder",
	StateGenerateReply:     "generate_reply",
	StateEmitResponder:     "emit_responder",
	StateInterClusterDelay: "inter_cluster_delay",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrNoSpeaker is returned when no user with a text corpus can be found for a
// turn within the bounded number of redraws.
var ErrNoSpeaker = errors.New("no speaker with text corpus")

type Config struct {
	Room     string
	Seed     uint64
	MinTurns int
	MaxTurns int
	// IntraScale and InterScale multiply the bucket's average delays.
	IntraScale float64
	InterScale float64
	// Redraws bounds how often a speaker without a corpus is replaced.
	Redraws int
}

func DefaultConfig() Config {
	return Config{
		MinTurns:   1,
		MaxTurns:   50,
		IntraScale: 0.1,
		InterScale: 0.01,
		Redraws:    10,
	}
}

type Event struct {
	ID         uuid.UUID     `json:"id"`
	Room       string        `json:"room,omitempty"`
	ClusterSeq int           `json:"cluster"`
	Turn       int           `json:"turn"`
	Turns      int           `json:"turns"`
	From       string        `json:"from"`
	Name       string        `json:"name,omitempty"`
	Message    string        `json:"message"`
	Delay      time.Duration `json:"delay"`
}

// Starter reports whether the event opens its cluster.
func (e Event) Starter() bool {
	return e.Turn == 1
}

type Option func(*Simulator)

func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		s.logger = l
	}
}

// Simulator holds the state of one conversation stream. It is not safe for
// concurrent use; run one per room.
type Simulator struct {
	models *Models
	config Config
	rng    *rand.Rand
	logger *zap.Logger

	state      State
	clusterSeq int
	bucket     cluster.Bucket
	turns      int
	turn       int
	speaker    string
	previous   string
	responder  participation.Rate
	reply      string
	pending    time.Duration
	redraws    int
}

func New(models *Models, cfg Config, opts ...Option) (*Simulator, error) {
	def := DefaultConfig()
	if cfg.MinTurns <= 0 {
		cfg.MinTurns = def.MinTurns
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = def.MaxTurns
	}
	if cfg.MaxTurns < cfg.MinTurns {
		return nil, fmt.Errorf("invalid turn bounds %d..%d", cfg.MinTurns, cfg.MaxTurns)
	}
	if cfg.IntraScale < 0 || cfg.InterScale < 0 {
		return nil, errors.New("delay scales must not be negative")
	}
	if cfg.Redraws <= 0 {
		cfg.Redraws = def.Redraws
	}

	s := &Simulator{
		models: models,
		config: cfg,
		rng:    sampling.NewRand(cfg.Seed),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("room", cfg.Room))
	return s, nil
}

func (s *Simulator) State() State {
	return s.state
}

// Reset drops the current cluster and starts over at cluster selection. The
// random stream continues where it was.
func (s *Simulator) Reset() {
	s.state = StateSelectCluster
	s.clusterSeq = 0
	s.turn = 0
	s.turns = 0
	s.speaker = ""
	s.previous = ""
	s.reply = ""
	s.pending = 0
	s.redraws = 0
}

// Next advances the state machine until the next utterance is ready. Errors
// are fatal for the stream.
func (s *Simulator) Next() (Event, error) {
	for {
		switch s.state {
		case StateSelectCluster:
			b, err := s.models.Set.Profile.Sample(s.rng)
			if err != nil {
				return Event{}, fmt.Errorf("failed to select cluster: %w", err)
			}
			s.bucket = b
			s.turns = sampling.IntBetween(s.rng, s.config.MinTurns, s.config.MaxTurns)
			s.turn = 0
			s.clusterSeq++
			s.redraws = 0
			s.logger.Debug("cluster selected",
				zap.Int("seq", s.clusterSeq), zap.Int("bucket", b.Length), zap.Int("turns", s.turns))
			s.state = StateSelectStarter

		case StateSelectStarter:
			st, err := s.models.Set.Starters.Sample(s.rng)
			if err != nil {
				return Event{}, fmt.Errorf("failed to select starter: %w", err)
			}
			s.speaker = st.UserID
			s.state = StateEmitStarter

		case StateEmitStarter:
			text, err := s.models.Generator.Starter(s.rng, s.speaker)
			if errors.Is(err, markov.ErrNoCorpus) {
				if err := s.redraw("no data for this user", s.speaker); err != nil {
					return Event{}, err
				}
				s.state = StateSelectStarter
				continue
			}
			if err != nil {
				return Event{}, fmt.Errorf("failed to generate starter for %s: %w", s.speaker, err)
			}

			s.turn = 1
			s.redraws = 0
			ev := s.event(s.speaker, text, s.pending)
			s.pending = 0
			s.previous = text
			s.advance()
			return ev, nil

		case StateSelectResponder:
			next, err := s.models.Set.Participation.Next(s.rng, s.speaker)
			if err != nil {
				return Event{}, fmt.Errorf("failed to select responder after %s: %w", s.speaker, err)
			}
			s.responder = next
			s.state = StateGenerateReply

		case StateGenerateReply:
			query := s.models.Scorer.Query(s.previous)
			similar := s.models.Scorer.Similar(query, s.responder.UserID)
			text, err := s.models.Generator.Reply(s.rng, s.responder.UserID, similar)
			if errors.Is(err, markov.ErrNoCorpus) {
				if err := s.redraw("no data for this user", s.responder.UserID); err != nil {
					return Event{}, err
				}
				s.state = StateSelectResponder
				continue
			}
			if err != nil {
				return Event{}, fmt.Errorf("failed to generate reply for %s: %w", s.responder.UserID, err)
			}
			s.reply = text
			s.state = StateEmitResponder

		case StateEmitResponder:
			s.turn++
			s.redraws = 0
			delay := scale(s.bucket.AvgMessageDelay, s.config.IntraScale)
			ev := s.event(s.responder.UserID, s.reply, delay)
			s.speaker = s.responder.UserID
			s.previous = s.reply
			s.advance()
			return ev, nil

		case StateInterClusterDelay:
			s.pending = scale(s.bucket.AvgClusterDelay, s.config.InterScale)
			s.state = StateSelectCluster

		default:
			return Event{}, fmt.Errorf("unknown simulator state %v", s.state)
		}
	}
}

func (s *Simulator) advance() {
	if s.turn >= s.turns {
		s.state = StateInterClusterDelay
		return
	}
	s.state = StateSelectResponder
}

func (s *Simulator) redraw(reason, userID string) error {
	s.redraws++
	s.logger.Warn(reason, zap.String("user", userID), zap.Int("redraw", s.redraws))
	if s.redraws > s.config.Redraws {
		return fmt.Errorf("%w: gave up after %d redraws", ErrNoSpeaker, s.config.Redraws)
	}
	return nil
}

func (s *Simulator) event(from, text string, delay time.Duration) Event {
	return Event{
		ID:         uuid.New(),
		Room:       s.config.Room,
		ClusterSeq: s.clusterSeq,
		Turn:       s.turn,
		Turns:      s.turns,
		From:       from,
		Name:       s.models.Name(from),
		Message:    text,
		Delay:      delay,
	}
}

func scale(seconds, factor float64) time.Duration {
	if seconds <= 0 || factor <= 0 {
		return 0
	}
	return time.Duration(seconds * factor * float64(time.Second))
}
