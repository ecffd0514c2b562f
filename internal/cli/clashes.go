package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/clashcheck/internal/models"
)

var (
	clashesStatus      string
	clashesMinSeverity int
	clashesLimit       int
	clashesJSON        bool
)

var clashesCmd = &cobra.Command{
	Use:   "clashes <job-id>",
	Short: "List the clashes of a job",
	Long: `List the clashes found by a completed job, most severe first.

Examples:
  clashcheck clashes 3f2c...
  clashcheck clashes 3f2c... --status open --min-severity 4
  clashcheck clashes 3f2c... --json > clashes.json`,
	Args: cobra.ExactArgs(1),
	RunE: runClashes,
}

func init() {
	clashesCmd.Flags().StringVarP(&clashesStatus, "status", "s", "", "filter by review status (open, reviewing, resolved)")
	clashesCmd.Flags().IntVar(&clashesMinSeverity, "min-severity", 0, "only clashes at or above this severity (1-5)")
	clashesCmd.Flags().IntVarP(&clashesLimit, "limit", "n", 0, "max clashes (0 = all)")
	clashesCmd.Flags().BoolVar(&clashesJSON, "json", false, "print JSON instead of a table")
}

func runClashes(cmd *cobra.Command, args []string) error {
	filter := models.ClashFilter{MinSeverity: clashesMinSeverity, Limit: clashesLimit}
	if clashesStatus != "" {
		status, err := models.ParseClashStatus(clashesStatus)
		if err != nil {
			return err
		}
		filter.Status = status
	}

	clashes, err := apiClient.ListClashes(context.Background(), args[0], filter)
	if err != nil {
		return fmt.Errorf("list clashes: %w", err)
	}

	if clashesJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(clashes)
	}
	if len(clashes) == 0 {
		fmt.Println("No clashes found")
		return nil
	}
	printClashTable(os.Stdout, clashes)
	return nil
}
