package output

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/strrl/replicant/internal/corpus"
	"github.com/strrl/replicant/internal/model"
	"github.com/strrl/replicant/internal/participation"
)

type Generator struct {
	outputDir string
	// TopResponders limits the rows printed per starter. Zero prints all.
	TopResponders int
}

const activityPeaks = 3

func NewGenerator(outputDir string) *Generator {
	return &Generator{
		outputDir:     outputDir,
		TopResponders: 10,
	}
}

// Generate writes report.md with the model overview and one file per starter
// with its full responder table.
func (g *Generator) Generate(set *model.Set) ([]string, error) {
	reportDir := filepath.Join(g.outputDir, "report")
	if err := os.MkdirAll(reportDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	var files []string

	summary := filepath.Join(reportDir, "report.md")
	if err := os.WriteFile(summary, []byte(g.Render(set)), 0644); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	files = append(files, summary)

	for _, id := range set.Participation.Starters() {
		r, _ := set.Participation.Get(id)
		filename, err := g.writeStarterFile(reportDir, r)
		if err != nil {
			return nil, err
		}
		files = append(files, filename)
	}

	return files, nil
}

// Render returns the overview as markdown.
func (g *Generator) Render(set *model.Set) string {
	var sb strings.Builder

	meta := set.Meta
	sb.WriteString("# Model report\n\n")
	sb.WriteString(fmt.Sprintf("**Build:** %s\n", meta.BuildID))
	sb.WriteString(fmt.Sprintf("**Built at:** %s\n", meta.BuiltAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("**Source:** %s\n", emptyFallback(meta.Source, "unknown")))
	sb.WriteString(fmt.Sprintf("**Messages:** %d\n", meta.Messages))
	sb.WriteString(fmt.Sprintf("**Clusters:** %d\n", meta.Clusters))
	sb.WriteString(fmt.Sprintf("**Gap threshold:** %s\n", meta.GapThreshold))
	sb.WriteString(fmt.Sprintf("**Max cluster size:** %d\n", meta.MaxClusterSize))
	participants := "all"
	if len(meta.Participants) > 0 {
		participants = strings.Join(meta.Participants, ", ")
	}
	sb.WriteString(fmt.Sprintf("**Participants:** %s\n\n", participants))

	g.writeLengths(&sb, set)
	g.writeStarters(&sb, set)
	g.writeParticipation(&sb, set)
	g.writeReplies(&sb, set)
	g.writeActivity(&sb, set)

	return sb.String()
}

func (g *Generator) writeLengths(sb *strings.Builder, set *model.Set) {
	sb.WriteString("## Cluster lengths\n\n")
	sb.WriteString("| Length | Clusters | Probability | Avg message delay (s) | Avg cluster delay (s) |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	for _, b := range set.Profile.Buckets {
		if b.Count == 0 && b.Probability == 0 {
			continue
		}
		sb.WriteString(fmt.Sprintf("| %d | %d | %.4f | %.1f | %.1f |\n",
			b.Length, b.Count, b.Probability, b.AvgMessageDelay, b.AvgClusterDelay))
	}
	sb.WriteString("\n")
}

func (g *Generator) writeStarters(sb *strings.Builder, set *model.Set) {
	sb.WriteString("## Starters\n\n")
	sb.WriteString("| Name | Starts | Probability | Text | Question | Media | Repost |\n")
	sb.WriteString("|---|---|---|---|---|---|---|\n")
	for _, s := range set.Starters.Entries {
		t := s.Types
		sb.WriteString(fmt.Sprintf("| %s | %d | %.3f | %.2f | %.2f | %.2f | %.2f |\n",
			cell(emptyFallback(s.Name, s.UserID)), s.Starts, s.Probability, t.Text, t.Question, t.Media, t.Repost))
	}
	sb.WriteString("\n")
}

func (g *Generator) writeParticipation(sb *strings.Builder, set *model.Set) {
	sb.WriteString("## Participation\n\n")
	for _, id := range set.Participation.Starters() {
		r, _ := set.Participation.Get(id)
		sb.WriteString(fmt.Sprintf("### %s\n\n", cell(emptyFallback(r.Name, r.Starter))))
		sb.WriteString(fmt.Sprintf("- **Clusters started:** %d\n", r.Clusters))
		sb.WriteString(fmt.Sprintf("- **Messages in them:** %d\n\n", r.Total))

		rates := r.Rates
		if g.TopResponders > 0 && len(rates) > g.TopResponders {
			rates = rates[:g.TopResponders]
		}
		writeRates(sb, rates)
	}
}

func (g *Generator) writeReplies(sb *strings.Builder, set *model.Set) {
	matrix := participation.NewBuilder(set.Meta.Participants).ReplyMatrix(set.Clusters())
	if len(matrix) == 0 {
		return
	}
	names := set.Names()

	users := make([]string, 0, len(matrix))
	for u := range matrix {
		users = append(users, u)
	}
	sort.Strings(users)

	sb.WriteString("## Explicit replies\n\n")
	sb.WriteString("Share of each sender's messages that reply to another user.\n\n")
	sb.WriteString("| Sender |")
	for _, u := range users {
		sb.WriteString(fmt.Sprintf(" %s |", cell(names[u])))
	}
	sb.WriteString("\n|---|")
	sb.WriteString(strings.Repeat("---|", len(users)))
	sb.WriteString("\n")
	for _, from := range users {
		sb.WriteString(fmt.Sprintf("| %s |", cell(names[from])))
		for _, to := range users {
			sb.WriteString(fmt.Sprintf(" %.2f |", matrix[from][to]))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func (g *Generator) writeActivity(sb *strings.Builder, set *model.Set) {
	hist := corpus.ActivityHistogram(set.Messages)
	if len(hist) == 0 {
		return
	}
	names := set.Names()

	sb.WriteString("## Activity\n\n")
	sb.WriteString("Busiest ten-minute slots of the day per user.\n\n")
	for _, user := range corpus.Users(set.Messages) {
		var peaks []string
		for _, slot := range peakSlots(hist[user], activityPeaks) {
			peaks = append(peaks, fmt.Sprintf("%s (%.0f%%)", slotLabel(slot), hist[user][slot]*100))
		}
		sb.WriteString(fmt.Sprintf("- **%s:** %s\n", names[user], strings.Join(peaks, ", ")))
	}
	sb.WriteString("\n")
}

func (g *Generator) writeStarterFile(reportDir string, r *participation.Responders) (string, error) {
	safeName := sanitizeFilename(emptyFallback(r.Name, "user") + "-" + r.Starter)
	filename := filepath.Join(reportDir, fmt.Sprintf("starter-%s.md", safeName))

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# Starter: %s\n\n", emptyFallback(r.Name, r.Starter)))
	sb.WriteString(fmt.Sprintf("**User:** %s\n", r.Starter))
	sb.WriteString(fmt.Sprintf("**Clusters started:** %d\n", r.Clusters))
	sb.WriteString(fmt.Sprintf("**Messages in them:** %d\n\n", r.Total))
	sb.WriteString("## Next speaker\n\n")
	writeRates(&sb, r.Rates)

	if err := os.WriteFile(filename, []byte(sb.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write starter file: %w", err)
	}

	return filename, nil
}

func writeRates(sb *strings.Builder, rates []participation.Rate) {
	sb.WriteString("| Responder | Messages | Rate |\n")
	sb.WriteString("|---|---|---|\n")
	for _, rate := range rates {
		sb.WriteString(fmt.Sprintf("| %s | %d | %.3f |\n", cell(emptyFallback(rate.Name, rate.UserID)), rate.Messages, rate.Rate))
	}
	sb.WriteString("\n")
}

// peakSlots returns up to n slots with non-zero activity, busiest first.
func peakSlots(h [corpus.SlotsPerDay]float64, n int) []int {
	var slots []int
	for slot, v := range h {
		if v > 0 {
			slots = append(slots, slot)
		}
	}
	sort.SliceStable(slots, func(i, j int) bool {
		return h[slots[i]] > h[slots[j]]
	})
	if len(slots) > n {
		slots = slots[:n]
	}
	return slots
}

func slotLabel(slot int) string {
	return fmt.Sprintf("%02d:%02d", slot/6, slot%6*10)
}

func emptyFallback(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func cell(s string) string {
	return truncate(strings.ReplaceAll(s, "|", "\\|"), 40)
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeFilename(s string) string {
	result := unsafeChars.ReplaceAllString(s, "-")
	result = strings.Trim(result, "-")
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "unnamed"
	}
	return strings.ToLower(result)
}

func truncate(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) > maxLen {
		return string(r[:maxLen]) + "..."
	}
	return s
}
