package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running job",
	Long: `Cancel a pending or running job. The job stops at the next phase boundary
and is marked failed; no clashes are stored for it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient.CancelJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Printf("Cancellation requested for job %s (%s, %d%%)\n", job.GUID, job.Status, job.Progress)
		return nil
	},
}
