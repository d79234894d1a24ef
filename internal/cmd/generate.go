package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strrl/replicant/internal/sampling"
)

var (
	generateReplyTo string
	generateCount   int
	generateSeed    uint64
)

var generateCmd = &cobra.Command{
	Use:   "generate <user-id>",
	Short: "Generate utterances for one user",
	Long: `Generate utterances in the voice of one user without running a
simulation. Without --reply-to the user opens a conversation; with it the
user answers the given message, biased toward their own similar messages.`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&generateReplyTo, "reply-to", "r", "", "Message to answer")
	generateCmd.Flags().IntVarP(&generateCount, "count", "n", 1, "Number of utterances")
	generateCmd.Flags().Uint64Var(&generateSeed, "seed", 0, "Random seed; 0 seeds from the clock")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	userID := args[0]
	if generateCount < 1 {
		return fmt.Errorf("--count must be positive, got %d", generateCount)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	models, err := loadModels(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	rng := sampling.NewRand(generateSeed)
	name := models.Name(userID)

	var similar []int64
	if generateReplyTo != "" {
		similar = models.Scorer.Similar(models.Scorer.Query(generateReplyTo), userID)
		fmt.Printf("> %s\n", generateReplyTo)
		fmt.Printf("(%d similar messages from %s)\n", len(similar), name)
	}

	for range generateCount {
		var text string
		if generateReplyTo == "" {
			text, err = models.Generator.Starter(rng, userID)
		} else {
			text, err = models.Generator.Reply(rng, userID, similar)
		}
		if err != nil {
			return fmt.Errorf("failed to generate for %s: %w", userID, err)
		}
		fmt.Printf("%s: %s\n", name, text)
	}

	return nil
}
