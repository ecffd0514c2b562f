package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/raphaelgruber/clashcheck/internal/engine"
	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/parser"
)

// errClashesFound is returned by check --fail when clashes remain.
var errClashesFound = errors.New("clashes found")

var (
	checkTolerance  float64
	checkTypes      []int
	checkLimit      int
	checkNoGrouping bool
	checkRadius     float64
	checkJSON       bool
	checkFail       bool
)

var checkCmd = &cobra.Command{
	Use:   "check <manifest>...",
	Short: "Run clash detection locally on manifests",
	Long: `Run clash detection on one or more manifests without a server.
Nothing is stored. Parameters from the first manifest are used unless
overridden by flags.

Examples:
  clashcheck check structure.yaml mep.yaml
  clashcheck check model.json --tolerance 0 --type 753
  clashcheck check model.yaml --fail   # exit 1 when clashes are found (CI)`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().Float64VarP(&checkTolerance, "tolerance", "t", models.DefaultTolerance, "clearance tolerance")
	checkCmd.Flags().IntSliceVar(&checkTypes, "type", nil, "restrict to these IFC type codes")
	checkCmd.Flags().IntVarP(&checkLimit, "limit", "n", models.DefaultLimitResults, "max clashes to keep")
	checkCmd.Flags().BoolVar(&checkNoGrouping, "no-grouping", false, "disable automatic grouping of nearby clashes")
	checkCmd.Flags().Float64Var(&checkRadius, "grouping-radius", 0, "grouping radius (default: derived from tolerance)")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "print JSON instead of a table")
	checkCmd.Flags().BoolVar(&checkFail, "fail", false, "exit with an error when clashes are found")
}

// loadManifests reads every manifest and merges their elements. All
// manifests must belong to the same project.
func loadManifests(paths []string) (*parser.Manifest, error) {
	var merged *parser.Manifest
	for _, path := range paths {
		m, err := parser.LoadManifest(path)
		if err != nil {
			return nil, err
		}
		if merged == nil {
			merged = m
			continue
		}
		if m.Project != merged.Project {
			return nil, fmt.Errorf("%s: project %q differs from %q", path, m.Project, merged.Project)
		}
		merged.Elements = append(merged.Elements, m.Elements...)
	}
	return merged, nil
}

// checkParameters starts from the manifest parameters (or the defaults) and
// applies the flags the user set.
func checkParameters(cmd *cobra.Command, m *parser.Manifest) models.Parameters {
	params := models.DefaultParameters()
	if m.Parameters != nil {
		params = m.Parameters.WithDefaults()
	}
	flags := cmd.Flags()
	if flags.Changed("tolerance") {
		params.Tolerance = checkTolerance
	}
	if flags.Changed("type") {
		params.Types = checkTypes
	}
	if flags.Changed("limit") {
		params.LimitResults = checkLimit
	}
	if flags.Changed("no-grouping") {
		grouping := !checkNoGrouping
		params.AutomaticGrouping = &grouping
	}
	if flags.Changed("grouping-radius") {
		params.GroupingRadius = checkRadius
	}
	return params
}

// checkManifest runs one detection pass over the manifest's elements.
func checkManifest(ctx context.Context, eng *engine.Engine, m *parser.Manifest, params models.Parameters, progress engine.ProgressFunc) (*engine.Result, error) {
	job := models.ClashDetectionJob{
		GUID:       uuid.NewString(),
		Project:    m.Project,
		Files:      m.Files(),
		Parameters: params,
		Status:     models.JobStatusProcessing,
		CreatedAt:  time.Now().UTC(),
	}
	return eng.Run(ctx, job, m.Elements, progress)
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	m, err := loadManifests(args)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg.EngineOptions())
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	params := checkParameters(cmd, m)
	start := time.Now()
	result, err := checkManifest(ctx, eng, m, params, func(phase engine.Phase, percent int) {
		logger.Debug("progress", "phase", phase, "percent", percent)
	})
	if err != nil {
		return fmt.Errorf("check failed (%s): %w", engine.Kind(err), err)
	}
	logger.Info("check complete",
		"elements", result.ElementsAnalyzed,
		"candidate_pairs", result.CandidatePairs,
		"cells", result.Index.OccupiedCells,
		"clashes", result.Results.TotalClashes,
		"duration_ms", time.Since(start).Milliseconds())

	if checkJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.Clashes); err != nil {
			return err
		}
	} else {
		fmt.Printf("%d elements, %d clashes", result.ElementsAnalyzed, result.Results.TotalClashes)
		if len(result.Clashes) < result.Results.TotalClashes {
			fmt.Printf(" (showing %d)", len(result.Clashes))
		}
		fmt.Println()
		if len(result.Clashes) > 0 {
			fmt.Println()
			printClashTable(os.Stdout, result.Clashes)
		}
	}

	if checkFail && result.Results.TotalClashes > 0 {
		return errClashesFound
	}
	return nil
}
