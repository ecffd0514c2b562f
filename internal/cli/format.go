package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/raphaelgruber/clashcheck/internal/models"
)

// printJob writes the detail view of a job.
func printJob(w io.Writer, job *models.ClashDetectionJob) {
	fmt.Fprintf(w, "Job: %s\n", job.GUID)
	fmt.Fprintf(w, "  Project: %s\n", job.Project)
	if len(job.Files) > 0 {
		fmt.Fprintf(w, "  Files: %s\n", strings.Join(job.Files, ", "))
	}
	fmt.Fprintf(w, "  Status: %s\n", job.Status)
	fmt.Fprintf(w, "  Progress: %d%%\n", job.Progress)
	fmt.Fprintf(w, "  Tolerance: %g\n", job.Parameters.Tolerance)
	if len(job.Parameters.Types) > 0 {
		fmt.Fprintf(w, "  Types: %v\n", job.Parameters.Types)
	}
	if job.CreatedBy != "" {
		fmt.Fprintf(w, "  Created by: %s\n", job.CreatedBy)
	}
	fmt.Fprintf(w, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Fprintf(w, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Fprintf(w, "  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Millisecond))
		}
	}

	if job.Error != "" {
		fmt.Fprintf(w, "  Error: %s", job.Error)
		if job.FailureKind != "" {
			fmt.Fprintf(w, " (%s)", job.FailureKind)
		}
		fmt.Fprintln(w)
	}

	if job.Status == models.JobStatusCompleted {
		fmt.Fprintln(w, "\nResults:")
		fmt.Fprintf(w, "  Elements analyzed: %d\n", job.TotalElementsAnalyzed)
		fmt.Fprintf(w, "  Total clashes:     %d\n", job.Results.TotalClashes)
		fmt.Fprintf(w, "  Resolved clashes:  %d\n", job.Results.ResolvedClashes)
	}
}

// printJobTable writes one line per job.
func printJobTable(w io.Writer, jobs []models.ClashDetectionJob) {
	fmt.Fprintf(w, "%-36s %-16s %-10s %-8s %-8s %s\n", "ID", "PROJECT", "STATUS", "PROGRESS", "CLASHES", "CREATED")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	for _, job := range jobs {
		clashes := "-"
		if job.Status == models.JobStatusCompleted {
			clashes = fmt.Sprintf("%d", job.Results.TotalClashes)
		}
		fmt.Fprintf(w, "%-36s %-16s %-10s %-8s %-8s %s\n",
			job.GUID, truncate(job.Project, 16), job.Status,
			fmt.Sprintf("%d%%", job.Progress), clashes,
			job.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
}

// printClashTable writes one line per clash, ranked as given.
func printClashTable(w io.Writer, clashes []models.Clash) {
	fmt.Fprintf(w, "%-36s %-3s %-10s %-10s %-14s %s\n", "ID", "SEV", "DISTANCE", "STATUS", "CATEGORY", "ELEMENTS")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, c := range clashes {
		elements := fmt.Sprintf("%s <> %s", elementLabel(c.ElementData.Element1), elementLabel(c.ElementData.Element2))
		if c.GroupSize > 1 {
			elements += fmt.Sprintf(" (+%d grouped)", c.GroupSize-1)
		}
		fmt.Fprintf(w, "%-36s %-3d %-10s %-10s %-14s %s\n",
			c.GUID, c.Severity, formatDistance(c.Distance), c.Status, truncate(c.Category, 14), elements)
	}
}

func elementLabel(s models.ElementSnapshot) string {
	if s.Name != "" && s.Name != s.TypeName {
		return fmt.Sprintf("%s %q", s.TypeName, s.Name)
	}
	return s.TypeName
}

// formatDistance shows penetrations in mm with a sign, clearances as gaps.
func formatDistance(d float64) string {
	if d < 0 {
		return fmt.Sprintf("-%.0fmm", -d*1000)
	}
	return fmt.Sprintf("%.0fmm", d*1000)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
