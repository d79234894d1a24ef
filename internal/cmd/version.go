package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/strrl/replicant/internal/store"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and model schema information",
	Long: `Print the replicant version, git commit and build date, plus the model
database schema version this binary writes. A model database built by a
binary with an older schema is migrated the next time it is opened.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printVersion(os.Stdout)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer) error {
	schema, err := store.LatestSchemaVersion()
	if err != nil {
		return fmt.Errorf("failed to read model schema: %w", err)
	}
	fmt.Fprintf(w, "replicant version %s\n", Version)
	fmt.Fprintf(w, "  Git commit:   %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date:   %s\n", BuildDate)
	fmt.Fprintf(w, "  Model schema: %04d\n", schema)
	return nil
}
