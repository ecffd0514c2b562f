package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	jobsProject string
	jobsLimit   int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect detection jobs",
	Long: `List detection jobs, newest first, or inspect a specific job by ID.

Examples:
  clashcheck jobs                   # List recent jobs
  clashcheck jobs --project tower-b # Jobs of one project
  clashcheck jobs 3f2c...           # Show details for one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVarP(&jobsProject, "project", "p", "", "filter by project")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "max jobs")
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		job, err := apiClient.GetJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		printJob(os.Stdout, job)
		return nil
	}

	jobs, err := apiClient.ListJobs(ctx, jobsProject, jobsLimit)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}
	printJobTable(os.Stdout, jobs)
	return nil
}
