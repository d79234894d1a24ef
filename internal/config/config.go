// Package config loads replicant settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strrl/replicant/internal/cluster"
	"github.com/strrl/replicant/internal/markov"
	"github.com/strrl/replicant/internal/similarity"
)

const DefaultPath = "replicant.yaml"

type Config struct {
	Database     string           `yaml:"database"`
	Input        string           `yaml:"input"`
	Participants []Participant    `yaml:"participants"`
	Cluster      ClusterConfig    `yaml:"cluster"`
	Similarity   SimilarityConfig `yaml:"similarity"`
	Markov       MarkovConfig     `yaml:"markov"`
	Simulation   SimulationConfig `yaml:"simulation"`
	Delivery     DeliveryConfig   `yaml:"delivery"`
	Matrix       MatrixConfig     `yaml:"matrix"`
}

// Participant is a user allowed to appear in simulations. MatrixUser and
// TokenEnv are only needed for Matrix delivery.
type Participant struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	MatrixUser string `yaml:"matrix_user"`
	TokenEnv   string `yaml:"token_env"`
}

func (p Participant) Token() string {
	if p.TokenEnv == "" {
		return ""
	}
	return os.Getenv(p.TokenEnv)
}

type ClusterConfig struct {
	GapThreshold       time.Duration `yaml:"gap_threshold"`
	MaxSize            int           `yaml:"max_size"`
	RedistributionStep float64       `yaml:"redistribution_step"`
	DelayCap           time.Duration `yaml:"delay_cap"`
	// A bucket delay above SmoothUpper or below SmoothLower times both
	// neighbours is replaced by their mean.
	SmoothUpper float64 `yaml:"smooth_upper"`
	SmoothLower float64 `yaml:"smooth_lower"`
	// Buckets without delay samples get global/divisor; the divisor starts at
	// DivisorStart for the longest bucket and drops by DivisorStep per bucket
	// down to DivisorFloor.
	DivisorStart float64 `yaml:"divisor_start"`
	DivisorStep  float64 `yaml:"divisor_step"`
	DivisorFloor float64 `yaml:"divisor_floor"`
}

type SimilarityConfig struct {
	MaxResults int     `yaml:"max_results"`
	MinScore   float64 `yaml:"min_score"`
}

type MarkovConfig struct {
	MaxWords    int `yaml:"max_words"`
	MaxAttempts int `yaml:"max_attempts"`
	CommonWords int `yaml:"common_words"`
}

type SimulationConfig struct {
	Seed        uint64        `yaml:"seed"`
	MinTurns    int           `yaml:"min_turns"`
	MaxTurns    int           `yaml:"max_turns"`
	IntraScale  float64       `yaml:"intra_scale"`
	InterScale  float64       `yaml:"inter_scale"`
	MaxEvents   int           `yaml:"max_events"`
	MaxDuration time.Duration `yaml:"max_duration"`
	Rooms       int           `yaml:"rooms"`
}

type DeliveryConfig struct {
	// Sink is "text", "jsonl" or "matrix".
	Sink string `yaml:"sink"`
}

type MatrixConfig struct {
	Homeserver    string        `yaml:"homeserver"`
	RoomID        string        `yaml:"room_id"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

func Default() *Config {
	cl := cluster.DefaultConfig()
	sim := similarity.DefaultConfig()
	mk := markov.DefaultConfig()
	return &Config{
		Database: "replicant.db",
		Cluster: ClusterConfig{
			GapThreshold:       cl.GapThreshold,
			MaxSize:            cl.MaxClusterSize,
			RedistributionStep: cl.RedistributionStep,
			DelayCap:           cl.DelayCap,
			SmoothUpper:        cl.SmoothUpper,
			SmoothLower:        cl.SmoothLower,
			DivisorStart:       cl.DivisorStart,
			DivisorStep:        cl.DivisorStep,
			DivisorFloor:       cl.DivisorFloor,
		},
		Similarity: SimilarityConfig{
			MaxResults: sim.MaxResults,
			MinScore:   sim.MinScore,
		},
		Markov: MarkovConfig{
			MaxWords:    mk.MaxWords,
			MaxAttempts: mk.MaxAttempts,
			CommonWords: mk.CommonWords,
		},
		Simulation: SimulationConfig{
			MinTurns:   1,
			MaxTurns:   50,
			IntraScale: 0.1,
			InterScale: 0.01,
			Rooms:      1,
		},
		Delivery: DeliveryConfig{Sink: "text"},
		Matrix: MatrixConfig{
			RatePerSecond: 1,
			Burst:         1,
			RetryAttempts: 4,
			RetryDelay:    500 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadOrDefault falls back to the defaults when path is empty or missing.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		cfg.ApplyEnv()
		return cfg, nil
	}
	return Load(path)
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) ApplyEnv() {
	c.Database = StringOr("REPLICANT_DB", c.Database)
	c.Input = StringOr("REPLICANT_INPUT", c.Input)
	c.Simulation.Seed = Uint64Or("REPLICANT_SEED", c.Simulation.Seed)
	c.Simulation.MaxEvents = IntOr("REPLICANT_MAX_EVENTS", c.Simulation.MaxEvents)
	c.Simulation.MaxDuration = DurationOr("REPLICANT_MAX_DURATION", c.Simulation.MaxDuration)
	c.Delivery.Sink = StringOr("REPLICANT_SINK", c.Delivery.Sink)
	c.Matrix.Homeserver = StringOr("MATRIX_HOMESERVER", c.Matrix.Homeserver)
	c.Matrix.RoomID = StringOr("MATRIX_ROOM_ID", c.Matrix.RoomID)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Database == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.Cluster.GapThreshold <= 0 {
		errs = append(errs, errors.New("cluster.gap_threshold must be positive"))
	}
	if c.Cluster.MaxSize < 2 {
		errs = append(errs, errors.New("cluster.max_size must be at least 2"))
	}
	if c.Cluster.RedistributionStep <= 0 {
		errs = append(errs, errors.New("cluster.redistribution_step must be positive"))
	}
	if c.Cluster.SmoothUpper < 1 {
		errs = append(errs, errors.New("cluster.smooth_upper must be at least 1"))
	}
	if c.Cluster.SmoothLower <= 0 || c.Cluster.SmoothLower > 1 {
		errs = append(errs, errors.New("cluster.smooth_lower must be in (0, 1]"))
	}
	if c.Cluster.DivisorFloor <= 0 || c.Cluster.DivisorStart < c.Cluster.DivisorFloor {
		errs = append(errs, errors.New("cluster divisor must satisfy 0 < divisor_floor <= divisor_start"))
	}
	if c.Cluster.DivisorStep < 0 {
		errs = append(errs, errors.New("cluster.divisor_step must not be negative"))
	}
	if c.Simulation.MinTurns < 1 || c.Simulation.MaxTurns < c.Simulation.MinTurns {
		errs = append(errs, fmt.Errorf("simulation turns must satisfy 1 <= min_turns <= max_turns, got %d..%d",
			c.Simulation.MinTurns, c.Simulation.MaxTurns))
	}
	if c.Simulation.IntraScale < 0 || c.Simulation.InterScale < 0 {
		errs = append(errs, errors.New("simulation delay scales must not be negative"))
	}
	if c.Simulation.Rooms < 1 {
		errs = append(errs, errors.New("simulation.rooms must be at least 1"))
	}

	seen := make(map[string]struct{}, len(c.Participants))
	for _, p := range c.Participants {
		if p.ID == "" {
			errs = append(errs, errors.New("participant id is required"))
			continue
		}
		if _, ok := seen[p.ID]; ok {
			errs = append(errs, fmt.Errorf("duplicate participant %q", p.ID))
		}
		seen[p.ID] = struct{}{}
	}

	switch c.Delivery.Sink {
	case "text", "jsonl":
	case "matrix":
		if c.Matrix.Homeserver == "" || c.Matrix.RoomID == "" {
			errs = append(errs, errors.New("matrix sink needs matrix.homeserver and matrix.room_id"))
		}
		if c.Matrix.RatePerSecond <= 0 {
			errs = append(errs, errors.New("matrix.rate_per_second must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown delivery sink %q", c.Delivery.Sink))
	}

	return errors.Join(errs...)
}

// ParticipantIDs returns the configured participant ids. Empty means everyone.
func (c *Config) ParticipantIDs() []string {
	ids := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.ID)
	}
	return ids
}

func (c *Config) ClusterConfig() cluster.Config {
	cfg := cluster.DefaultConfig()
	cfg.GapThreshold = c.Cluster.GapThreshold
	cfg.MaxClusterSize = c.Cluster.MaxSize
	cfg.RedistributionStep = c.Cluster.RedistributionStep
	if c.Cluster.DelayCap > 0 {
		cfg.DelayCap = c.Cluster.DelayCap
	}
	if c.Cluster.SmoothUpper > 0 {
		cfg.SmoothUpper = c.Cluster.SmoothUpper
	}
	if c.Cluster.SmoothLower > 0 {
		cfg.SmoothLower = c.Cluster.SmoothLower
	}
	if c.Cluster.DivisorStart > 0 {
		cfg.DivisorStart = c.Cluster.DivisorStart
	}
	if c.Cluster.DivisorFloor > 0 {
		cfg.DivisorFloor = c.Cluster.DivisorFloor
	}
	cfg.DivisorStep = c.Cluster.DivisorStep
	return cfg
}

func (c *Config) SimilarityConfig() similarity.Config {
	return similarity.Config{
		MaxResults: c.Similarity.MaxResults,
		MinScore:   c.Similarity.MinScore,
	}
}

func (c *Config) MarkovConfig() markov.Config {
	return markov.Config{
		MaxWords:    c.Markov.MaxWords,
		MaxAttempts: c.Markov.MaxAttempts,
		CommonWords: c.Markov.CommonWords,
	}
}
