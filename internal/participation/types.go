package participation

import (
	"errors"
	"math/rand/v2"
	"sort"

	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/sampling"
)

var (
	ErrUnknownSpeaker = errors.New("speaker has no participation entry")
	ErrNoResponder    = errors.New("speaker has no available responder")
	ErrNoStarters     = errors.New("starter profile is empty")
)

type TypeDistribution struct {
	Text     float64
	Question float64
	Media    float64
	Repost   float64
}

func (d TypeDistribution) Of(t corpus.MessageType) float64 {
	switch t {
	case corpus.TypeText:
		return d.Text
	case corpus.TypeQuestion:
		return d.Question
	case corpus.TypeMedia:
		return d.Media
	case corpus.TypeRepost:
		return d.Repost
	}
	return 0
}

func (d TypeDistribution) Sum() float64 {
	return d.Text + d.Question + d.Media + d.Repost
}

type Starter struct {
	UserID      string
	Name        string
	Starts      int
	Probability float64
	Types       TypeDistribution
}

// StarterProfile lists who opens clusters, ordered by descending probability.
type StarterProfile struct {
	Entries []Starter
}

func (p *StarterProfile) Get(userID string) (Starter, bool) {
	for _, s := range p.Entries {
		if s.UserID == userID {
			return s, true
		}
	}
	return Starter{}, false
}

func (p *StarterProfile) Sample(rng *rand.Rand) (Starter, error) {
	s, err := sampling.Choose(rng, p.Entries, func(s Starter) float64 { return s.Probability })
	if errors.Is(err, sampling.ErrNoWeight) {
		return Starter{}, ErrNoStarters
	}
	return s, err
}

type Rate struct {
	UserID   string
	Name     string
	Messages int
	Rate     float64
}

// Responders is the next-speaker distribution for one starter.
type Responders struct {
	Starter  string
	Name     string
	Clusters int
	Total    int
	Rates    []Rate
}

func (r *Responders) Sum() float64 {
	var sum float64
	for _, rate := range r.Rates {
		sum += rate.Rate
	}
	return sum
}

type Profile struct {
	ByStarter map[string]*Responders
}

func (p *Profile) Get(userID string) (*Responders, bool) {
	r, ok := p.ByStarter[userID]
	return r, ok
}

func (p *Profile) Starters() []string {
	ids := make([]string, 0, len(p.ByStarter))
	for id := range p.ByStarter {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Next samples who speaks after speaker. A speaker without an entry, or whose
// rates are all zero, is a modeling inconsistency and is reported as an error.
func (p *Profile) Next(rng *rand.Rand, speaker string) (Rate, error) {
	r, ok := p.ByStarter[speaker]
	if !ok {
		return Rate{}, ErrUnknownSpeaker
	}

	next, err := sampling.Choose(rng, r.Rates, func(r Rate) float64 { return r.Rate })
	if errors.Is(err, sampling.ErrNoWeight) {
		return Rate{}, ErrNoResponder
	}
	return next, err
}
