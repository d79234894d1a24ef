package corpus

import (
	"sort"
)

// SortMessages orders messages by timestamp, keeping ingestion order for ties.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].Timestamp.Before(messages[j].Timestamp)
	})
}

// ByUser groups messages by sender, preserving order within each user.
func ByUser(messages []Message) map[string][]Message {
	grouped := make(map[string][]Message)
	for _, m := range messages {
		grouped[m.UserID] = append(grouped[m.UserID], m)
	}
	return grouped
}

// Users returns the distinct sender ids in order of first appearance.
func Users(messages []Message) []string {
	seen := make(map[string]struct{})
	var users []string
	for _, m := range messages {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		users = append(users, m.UserID)
	}
	return users
}

// CommonWords returns up to n of the most frequent non-sentinel tokens across
// the given n-grams. Ties keep first-seen order.
func CommonWords(grams [][]string, n int) []string {
	counts := make(map[string]int)
	var order []string
	for _, gram := range grams {
		for _, tok := range gram {
			if IsSentinel(tok) {
				continue
			}
			if _, ok := counts[tok]; !ok {
				order = append(order, tok)
			}
			counts[tok]++
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > n {
		order = order[:n]
	}
	return order
}

// SlotsPerDay is the number of ten-minute activity slots in a day.
const SlotsPerDay = 24 * 6

// ActivityHistogram returns, per user, the share of their messages sent in each
// ten-minute slot of the day.
func ActivityHistogram(messages []Message) map[string][SlotsPerDay]float64 {
	counts := make(map[string][SlotsPerDay]int)
	totals := make(map[string]int)
	for _, m := range messages {
		slot := m.Timestamp.Hour()*6 + m.Timestamp.Minute()/10
		c := counts[m.UserID]
		c[slot]++
		counts[m.UserID] = c
		totals[m.UserID]++
	}

	hist := make(map[string][SlotsPerDay]float64, len(counts))
	for user, c := range counts {
		var h [SlotsPerDay]float64
		total := float64(totals[user])
		for slot, n := range c {
			h[slot] = float64(n) / total
		}
		hist[user] = h
	}
	return hist
}
