// Package model bundles the tables a simulation reads from.
package model

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/strrl/replicant/internal/cluster"
	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/participation"
	"github.com/strrl/replicant/internal/similarity"
)

var ErrIncomplete = errors.New("model set is incomplete")

type Meta struct {
	BuildID        uuid.UUID
	BuiltAt        time.Time
	Source         string
	Participants   []string
	GapThreshold   time.Duration
	MaxClusterSize int
	Messages       int
	Clusters       int
}

// Set is built once and shared read-only by every simulation run.
type Set struct {
	Meta          Meta
	Profile       *cluster.LengthProfile
	Starters      *participation.StarterProfile
	Participation *participation.Profile
	Weights       similarity.WordWeights
	// Messages are in stream order with cluster ids set.
	Messages []corpus.Message
}

func (s *Set) Validate() error {
	if s.Profile == nil || s.Profile.Total() == 0 {
		return fmt.Errorf("%w: %w", ErrIncomplete, cluster.ErrEmptyProfile)
	}
	if s.Starters == nil || len(s.Starters.Entries) == 0 {
		return fmt.Errorf("%w: %w", ErrIncomplete, participation.ErrNoStarters)
	}
	if s.Participation == nil || len(s.Participation.ByStarter) == 0 {
		return fmt.Errorf("%w: no participation entries", ErrIncomplete)
	}
	return nil
}

// Clusters regroups the stored messages by cluster id.
func (s *Set) Clusters() []cluster.Cluster {
	index := make(map[int]int)
	var clusters []cluster.Cluster
	for _, m := range s.Messages {
		i, ok := index[m.ClusterID]
		if !ok {
			i = len(clusters)
			index[m.ClusterID] = i
			clusters = append(clusters, cluster.Cluster{ID: m.ClusterID})
		}
		clusters[i].Messages = append(clusters[i].Messages, m)
	}
	sort.SliceStable(clusters, func(i, j int) bool {
		return clusters[i].ID < clusters[j].ID
	})
	return clusters
}

// Names maps user ids to display names.
func (s *Set) Names() map[string]string {
	names := make(map[string]string)
	for _, m := range s.Messages {
		if _, ok := names[m.UserID]; !ok {
			names[m.UserID] = m.DisplayName()
		}
	}
	return names
}
