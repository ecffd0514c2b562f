package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/service"
)

var (
	runProject    string
	runFileNames  []string
	runTolerance  float64
	runTypes      []int
	runLimit      int
	runNoGrouping bool
	runRadius     float64
	runDetach     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a clash detection job",
	Long: `Start a clash detection job on the server and follow its progress.

Without --file every imported file of the project takes part. Elements closer
than --tolerance (in model units, usually metres) are reported as clashes.

Examples:
  clashcheck run --project tower-b
  clashcheck run -p tower-b -f structure.ifc -f mep.ifc --tolerance 0.025
  clashcheck run -p tower-b --type 753 --type 1095 --limit 500 --detach`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runProject, "project", "p", "", "project to check (required)")
	runCmd.Flags().StringSliceVarP(&runFileNames, "file", "f", nil, "restrict to these files")
	runCmd.Flags().Float64VarP(&runTolerance, "tolerance", "t", models.DefaultTolerance, "clearance tolerance")
	runCmd.Flags().IntSliceVar(&runTypes, "type", nil, "restrict to these IFC type codes")
	runCmd.Flags().IntVarP(&runLimit, "limit", "n", models.DefaultLimitResults, "max clashes to keep")
	runCmd.Flags().BoolVar(&runNoGrouping, "no-grouping", false, "disable automatic grouping of nearby clashes")
	runCmd.Flags().Float64Var(&runRadius, "grouping-radius", 0, "grouping radius (default: derived from tolerance)")
	runCmd.Flags().BoolVarP(&runDetach, "detach", "d", false, "print the job id and return immediately")
	_ = runCmd.MarkFlagRequired("project")
}

// runParameters builds job parameters from command flags.
func runParameters(tolerance float64, types []int, limit int, noGrouping bool, radius float64) models.Parameters {
	grouping := !noGrouping
	return models.Parameters{
		Tolerance:         tolerance,
		Types:             types,
		LimitResults:      limit,
		AutomaticGrouping: &grouping,
		GroupingRadius:    radius,
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	req := service.SubmitRequest{
		Project:    runProject,
		Files:      runFileNames,
		Parameters: runParameters(runTolerance, runTypes, runLimit, runNoGrouping, runRadius),
		CreatedBy:  currentUser(),
	}

	job, err := apiClient.SubmitJob(ctx, req)
	if err != nil {
		return fmt.Errorf("submit job: %w", err)
	}
	logger.Debug("job submitted", "job", job.GUID, "status", job.Status)

	if runDetach {
		fmt.Println(job.GUID)
		return nil
	}

	fmt.Printf("Job %s started\n", job.GUID)
	return RunJobProgress(ctx, apiClient, job)
}

// currentUser names the submitter recorded on new jobs.
func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}
