package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/clashcheck/internal/models"
	"github.com/raphaelgruber/clashcheck/internal/service"
)

var (
	resolveStatus   string
	resolveNote     string
	resolveSnapshot string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <clash-id>",
	Short: "Update the review state of a clash",
	Long: `Mark a clash resolved, or move it to another review status.

Examples:
  clashcheck resolve 9a1d... --note "duct rerouted below beam"
  clashcheck resolve 9a1d... --status reviewing --note "waiting for MEP"
  clashcheck resolve 9a1d... --status open`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVarP(&resolveStatus, "status", "s", string(models.ClashStatusResolved), "new review status (open, reviewing, resolved)")
	resolveCmd.Flags().StringVarP(&resolveNote, "note", "m", "", "resolution note")
	resolveCmd.Flags().StringVar(&resolveSnapshot, "snapshot", "", "reference to a visual capture of the clash")
}

// buildClashUpdate turns the resolve flags into a review update. Unset
// optional flags leave the stored values alone.
func buildClashUpdate(status, note, snapshot string, noteSet, snapshotSet bool) (service.ClashUpdate, error) {
	parsed, err := models.ParseClashStatus(status)
	if err != nil {
		return service.ClashUpdate{}, err
	}
	update := service.ClashUpdate{Status: &parsed}
	if noteSet {
		update.Resolution = &note
	}
	if snapshotSet {
		update.Snapshot = &snapshot
	}
	return update, nil
}

func runResolve(cmd *cobra.Command, args []string) error {
	update, err := buildClashUpdate(resolveStatus, resolveNote, resolveSnapshot,
		cmd.Flags().Changed("note"), cmd.Flags().Changed("snapshot"))
	if err != nil {
		return err
	}

	clash, err := apiClient.UpdateClash(context.Background(), args[0], update)
	if err != nil {
		return fmt.Errorf("update clash: %w", err)
	}
	fmt.Printf("Clash %s is now %s\n", clash.GUID, clash.Status)
	if clash.Resolution != nil && *clash.Resolution != "" {
		fmt.Printf("  Note: %s\n", *clash.Resolution)
	}
	return nil
}
