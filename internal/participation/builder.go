// Package participation models who opens conversations and who replies to whom.
package participation

import (
	"sort"

	"go.uber.org/zap"

	"github.com/strrl/replicant/internal/cluster"
	"github.com/strrl/replicant/internal/corpus"
)

type Builder struct {
	allowed map[string]struct{}
	logger  *zap.Logger
}

type Option func(*Builder)

func WithLogger(l *zap.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder restricts every profile to the allowed participants. An empty
// list allows every observed user.
func NewBuilder(allowed []string, opts ...Option) *Builder {
	b := &Builder{logger: zap.NewNop()}
	if len(allowed) > 0 {
		b.allowed = make(map[string]struct{}, len(allowed))
		for _, id := range allowed {
			b.allowed[id] = struct{}{}
		}
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Builder) allows(userID string) bool {
	if b.allowed == nil {
		return true
	}
	_, ok := b.allowed[userID]
	return ok
}

// candidates returns the allowed participants, or every sender when no
// restriction is configured, sorted by id.
func (b *Builder) candidates(clusters []cluster.Cluster) []string {
	var ids []string
	if b.allowed != nil {
		for id := range b.allowed {
			ids = append(ids, id)
		}
	} else {
		ids = corpus.Users(cluster.Flatten(clusters))
	}
	sort.Strings(ids)
	return ids
}

// Starters tallies the sender of each cluster's first message, keeps allowed
// users and renormalizes so their probabilities sum to 1. Each starter also
// gets the type distribution of its opening messages.
func (b *Builder) Starters(clusters []cluster.Cluster) *StarterProfile {
	counts := make(map[string]int)
	types := make(map[string]map[corpus.MessageType]int)
	names := displayNames(clusters)

	for _, cl := range clusters {
		if cl.Size() == 0 {
			continue
		}
		first := cl.Starter()
		counts[first.UserID]++
		if types[first.UserID] == nil {
			types[first.UserID] = make(map[corpus.MessageType]int)
		}
		types[first.UserID][first.Type()]++
	}

	var allowedTotal int
	for id, n := range counts {
		if b.allows(id) {
			allowedTotal += n
		}
	}

	profile := &StarterProfile{}
	if allowedTotal == 0 {
		b.logger.Warn("no allowed participant ever started a cluster", zap.Int("clusters", len(clusters)))
		return profile
	}

	for id, n := range counts {
		if !b.allows(id) {
			continue
		}
		t := types[id]
		profile.Entries = append(profile.Entries, Starter{
			UserID:      id,
			Name:        names[id],
			Starts:      n,
			Probability: float64(n) / float64(allowedTotal),
			Types: TypeDistribution{
				Text:     ratio(t[corpus.TypeText], n),
				Question: ratio(t[corpus.TypeQuestion], n),
				Media:    ratio(t[corpus.TypeMedia], n),
				Repost:   ratio(t[corpus.TypeRepost], n),
			},
		})
	}

	sort.Slice(profile.Entries, func(i, j int) bool {
		a, c := profile.Entries[i], profile.Entries[j]
		if a.Probability != c.Probability {
			return a.Probability > c.Probability
		}
		return a.UserID < c.UserID
	})

	return profile
}

// Participation computes, for every candidate starter, the share of messages
// each allowed user sent in the clusters that starter opened. A starter with
// no observed clusters keeps all rates at zero.
func (b *Builder) Participation(clusters []cluster.Cluster) *Profile {
	names := displayNames(clusters)
	candidates := b.candidates(clusters)

	started := make(map[string][]cluster.Cluster)
	for _, cl := range clusters {
		if cl.Size() == 0 {
			continue
		}
		id := cl.Starter().UserID
		started[id] = append(started[id], cl)
	}

	profile := &Profile{ByStarter: make(map[string]*Responders, len(candidates))}
	for _, starter := range candidates {
		counts := make(map[string]int)
		var total int
		for _, cl := range started[starter] {
			for _, m := range cl.Messages {
				if !b.allows(m.UserID) {
					continue
				}
				counts[m.UserID]++
				total++
			}
		}

		r := &Responders{
			Starter:  starter,
			Name:     names[starter],
			Clusters: len(started[starter]),
			Total:    total,
		}
		for _, id := range candidates {
			r.Rates = append(r.Rates, Rate{
				UserID:   id,
				Name:     names[id],
				Messages: counts[id],
				Rate:     ratio(counts[id], total),
			})
		}
		sort.SliceStable(r.Rates, func(i, j int) bool {
			return r.Rates[i].Rate > r.Rates[j].Rate
		})

		if total == 0 {
			b.logger.Debug("starter has no observed turns", zap.String("user", starter))
		}
		profile.ByStarter[starter] = r
	}

	return profile
}

// ReplyMatrix returns, per sender, the share of their messages that explicitly
// reply to each other user.
func (b *Builder) ReplyMatrix(clusters []cluster.Cluster) map[string]map[string]float64 {
	messages := cluster.Flatten(clusters)
	authors := make(map[int64]string, len(messages))
	for _, m := range messages {
		authors[m.ID] = m.UserID
	}

	totals := make(map[string]int)
	replies := make(map[string]map[string]int)
	for _, m := range messages {
		if !b.allows(m.UserID) {
			continue
		}
		totals[m.UserID]++
		if m.ReplyTo == 0 {
			continue
		}
		target, ok := authors[m.ReplyTo]
		if !ok || !b.allows(target) {
			continue
		}
		if replies[m.UserID] == nil {
			replies[m.UserID] = make(map[string]int)
		}
		replies[m.UserID][target]++
	}

	matrix := make(map[string]map[string]float64, len(totals))
	for user, total := range totals {
		row := make(map[string]float64, len(totals))
		for other := range totals {
			row[other] = ratio(replies[user][other], total)
		}
		matrix[user] = row
	}
	return matrix
}

func displayNames(clusters []cluster.Cluster) map[string]string {
	names := make(map[string]string)
	for _, cl := range clusters {
		for _, m := range cl.Messages {
			if _, ok := names[m.UserID]; !ok {
				names[m.UserID] = m.DisplayName()
			}
		}
	}
	return names
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total)
}

// BuildStarters is Starters on a builder restricted to allowed.
func BuildStarters(clusters []cluster.Cluster, allowed []string) *StarterProfile {
	return NewBuilder(allowed).Starters(clusters)
}

// BuildProfile is Participation on a builder restricted to allowed.
func BuildProfile(clusters []cluster.Cluster, allowed []string) *Profile {
	return NewBuilder(allowed).Participation(clusters)
}
