package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/clashcheck/internal/parser"
)

var importProject string

var importCmd = &cobra.Command{
	Use:   "import <manifest>...",
	Short: "Import element manifests into the server",
	Long: `Import the elements of one or more manifests (YAML or JSON).

Manifests are validated locally before upload. Elements that leave their file
empty get the manifest's file, or the manifest's base name. Re-importing a
file replaces elements with the same guid.

Examples:
  clashcheck import structure.yaml
  clashcheck import mep.json architecture.yaml --project tower-b`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVarP(&importProject, "project", "p", "", "override the manifest project")
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	for _, path := range args {
		m, err := parser.LoadManifest(path)
		if err != nil {
			return err
		}
		if importProject != "" {
			m.Project = importProject
			for i := range m.Elements {
				m.Elements[i].Project = importProject
			}
		}

		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode manifest: %w", err)
		}
		res, err := apiClient.ImportElements(ctx, data, false)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		fmt.Printf("Imported %d elements from %s into %s (%d files)\n", res.Elements, path, res.Project, len(res.Files))
	}
	return nil
}
