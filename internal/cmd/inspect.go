package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strrl/replicant/internal/output"
)

var (
	inspectOut string
	inspectTop int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print a markdown report of the stored model",
	Long: `Print the stored model as markdown: build metadata, cluster length
distribution with delays, starters, next-speaker rates, explicit reply shares
and the busiest times of day per user. With --out the report is written to
<out>/report/ together with one file per starter.`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectOut, "out", "o", "", "Directory to write report files to (default: print to stdout)")
	inspectCmd.Flags().IntVar(&inspectTop, "top", 10, "Responders listed per starter in the overview (0 = all)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set, err := loadSet(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	gen := output.NewGenerator(inspectOut)
	gen.TopResponders = inspectTop

	if inspectOut == "" {
		fmt.Print(gen.Render(set))
		return nil
	}

	files, err := gen.Generate(set)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	fmt.Printf("Generated %d report files in %s/report/\n", len(files), inspectOut)
	for _, f := range files {
		fmt.Printf("  - %s\n", f)
	}
	return nil
}
