package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var filesDelete string

var filesCmd = &cobra.Command{
	Use:   "files <project>",
	Short: "List or delete the imported files of a project",
	Long: `List the files imported into a project with their element counts, or
remove the elements of one file. Clashes of earlier jobs are kept.

Examples:
  clashcheck files tower-b
  clashcheck files tower-b --delete mep-old.ifc`,
	Args: cobra.ExactArgs(1),
	RunE: runFiles,
}

func init() {
	filesCmd.Flags().StringVar(&filesDelete, "delete", "", "delete the elements of this file")
}

func runFiles(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	project := args[0]

	if filesDelete != "" {
		deleted, err := apiClient.DeleteFile(ctx, project, filesDelete)
		if err != nil {
			return fmt.Errorf("delete file: %w", err)
		}
		fmt.Printf("Deleted %d elements of %s\n", deleted.Count, deleted.File)
		return nil
	}

	files, err := apiClient.ListFiles(ctx, project)
	if err != nil {
		return fmt.Errorf("list files: %w", err)
	}
	if len(files) == 0 {
		fmt.Printf("No files imported for %s\n", project)
		return nil
	}
	fmt.Printf("%-40s %s\n", "FILE", "ELEMENTS")
	for _, f := range files {
		fmt.Printf("%-40s %d\n", truncate(f.File, 40), f.Count)
	}
	return nil
}
