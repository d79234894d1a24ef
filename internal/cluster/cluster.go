// Package cluster segments a message stream into conversation episodes and
// derives the length/delay profile used to pace simulations.
package cluster

import (
	"time"

	"github.com/strrl/replicant/internal/corpus"
)

type Config struct {
	GapThreshold       time.Duration
	MaxClusterSize     int
	RedistributionStep float64
	DelayCap           time.Duration
	SmoothUpper        float64
	SmoothLower        float64
	DivisorStart       float64
	DivisorStep        float64
	DivisorFloor       float64
}

func DefaultConfig() Config {
	return Config{
		GapThreshold:       15 * time.Minute,
		MaxClusterSize:     250,
		RedistributionStep: 0.0001,
		DelayCap:           24 * time.Hour,
		SmoothUpper:        1.25,
		SmoothLower:        0.8,
		DivisorStart:       5,
		DivisorStep:        0.02,
		DivisorFloor:       1,
	}
}

type Cluster struct {
	ID       int
	Messages []corpus.Message
}

func (c Cluster) Size() int {
	return len(c.Messages)
}

// Length is the bucket the cluster falls into: its size capped at maxLen.
func (c Cluster) Length(maxLen int) int {
	if len(c.Messages) > maxLen {
		return maxLen
	}
	return len(c.Messages)
}

func (c Cluster) Start() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[0].Timestamp
}

func (c Cluster) End() time.Time {
	if len(c.Messages) == 0 {
		return time.Time{}
	}
	return c.Messages[len(c.Messages)-1].Timestamp
}

func (c Cluster) Starter() corpus.Message {
	if len(c.Messages) == 0 {
		return corpus.Message{}
	}
	return c.Messages[0]
}

type Clusterer struct {
	config Config
}

func NewClusterer(cfg Config) *Clusterer {
	return &Clusterer{config: cfg}
}

func (c *Clusterer) Config() Config {
	return c.config
}

// Segment walks time-ordered messages and opens a new cluster whenever the gap
// to the previous message exceeds the threshold. Returned messages are copies
// annotated with their 1-based cluster id.
func (c *Clusterer) Segment(messages []corpus.Message) []Cluster {
	var clusters []Cluster

	for i, m := range messages {
		if i == 0 || m.Timestamp.Sub(messages[i-1].Timestamp) > c.config.GapThreshold {
			clusters = append(clusters, Cluster{ID: len(clusters) + 1})
		}
		cur := &clusters[len(clusters)-1]
		m.ClusterID = cur.ID
		cur.Messages = append(cur.Messages, m)
	}

	return clusters
}

// Flatten concatenates cluster messages back into one stream.
func Flatten(clusters []Cluster) []corpus.Message {
	var n int
	for _, cl := range clusters {
		n += len(cl.Messages)
	}
	out := make([]corpus.Message, 0, n)
	for _, cl := range clusters {
		out = append(out, cl.Messages...)
	}
	return out
}
