package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var (
	ingestReset bool
	ingestName  string
	ingestType  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <project> <file>...",
	Short: "Submit documents for background ingestion",
	Long: `Ingest reads one or more files and submits each as a background
ingestion task. Processing, chunking, embedding and indexing happen in the
worker; use "docindex status <task-id>" to follow progress.

Pass "-" as the file to read a single document from stdin.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectKey := args[0]
		files := args[1:]

		if ingestName != "" && len(files) > 1 {
			return fmt.Errorf("--name can only be used with a single file")
		}

		workflow := getWorkflow()

		for i, file := range files {
			content, name, err := readDocument(file)
			if err != nil {
				return err
			}
			if ingestName != "" {
				name = ingestName
			}

			assetType := ingestType
			if assetType == "" {
				assetType = assetTypeFor(name)
			}

			// Only the first submission may reset, otherwise each file
			// would wipe the chunks of the previous one.
			reset := ingestReset && i == 0

			taskID, err := workflow.IngestDocument(cmd.Context(), projectKey, name, assetType, content, reset)
			if err != nil {
				return fmt.Errorf("submit %s: %w", name, err)
			}
			fmt.Printf("Submitted %s (task %s)\n", name, taskID)
		}
		return nil
	},
}

// readDocument loads a file, or stdin when the path is "-".
func readDocument(path string) (content, name string, err error) {
	if path == "-" {
		data, err := os.ReadFile("/dev/stdin")
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), "stdin", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), filepath.Base(path), nil
}

func assetTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".markdown":
		return "markdown"
	case ".txt", "":
		return "text"
	default:
		return "file"
	}
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestReset, "reset", false, "drop the project's existing chunks and vectors first")
	ingestCmd.Flags().StringVar(&ingestName, "name", "", "asset name override (single file only)")
	ingestCmd.Flags().StringVar(&ingestType, "type", "", "asset type override (default: derived from extension)")
	rootCmd.AddCommand(ingestCmd)
}
