package pipeline

import (
	"strings"

	"github.com/strrl/replicant/internal/corpus"
)

// Filter drops records that would distort the models: repeated message ids,
// which appear when overlapping exports are merged, and messages that carry
// neither text, tokens nor media.
type Filter struct {
	seen map[int64]struct{}
}

func NewFilter() *Filter {
	return &Filter{seen: make(map[int64]struct{})}
}

type FilterStats struct {
	Duplicates int
	Empty      int
}

func (f *Filter) Filter(messages []corpus.Message) ([]corpus.Message, FilterStats) {
	var stats FilterStats
	kept := make([]corpus.Message, 0, len(messages))

	for _, m := range messages {
		if _, ok := f.seen[m.ID]; ok {
			stats.Duplicates++
			continue
		}
		f.seen[m.ID] = struct{}{}

		if strings.TrimSpace(m.Text) == "" && len(m.Tokens) == 0 && m.Media == "" && m.ForwardedFrom == "" {
			stats.Empty++
			continue
		}
		kept = append(kept, m)
	}

	return kept, stats
}
