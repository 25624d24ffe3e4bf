package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:   "collections",
	Short: "Inspect and manage vector collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all collections in the active backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vstore, err := getStore(cmd.Context())
		if err != nil {
			return err
		}

		names, err := vstore.ListCollections(cmd.Context())
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No collections.")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDIM\tPOINTS\tINDEXED")
		for _, name := range names {
			info, err := vstore.GetCollectionInfo(cmd.Context(), name)
			if err != nil {
				return err
			}
			if info == nil {
				// Dropped between listing and lookup
				continue
			}
			fmt.Fprintf(w, "%s\t%d\t%d\t%v\n", info.Name, info.Dimension, info.Points, info.Indexed)
		}
		return w.Flush()
	},
}

var collectionsInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show a collection's dimension, size and index state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vstore, err := getStore(cmd.Context())
		if err != nil {
			return err
		}

		info, err := vstore.GetCollectionInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if info == nil {
			return fmt.Errorf("collection %q not found", args[0])
		}

		fmt.Printf("Name:      %s\n", info.Name)
		fmt.Printf("Dimension: %d\n", info.Dimension)
		fmt.Printf("Points:    %d\n", info.Points)
		fmt.Printf("Indexed:   %v\n", info.Indexed)
		return nil
	},
}

var collectionsResetIndexCmd = &cobra.Command{
	Use:   "reset-index <name>",
	Short: "Drop and rebuild a collection's vector index",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vstore, err := getStore(cmd.Context())
		if err != nil {
			return err
		}

		if err := vstore.ResetIndex(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Reset index of %s\n", args[0])
		return nil
	},
}

var collectionsDropCmd = &cobra.Command{
	Use:   "drop <name>",
	Short: "Delete a collection and its vectors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vstore, err := getStore(cmd.Context())
		if err != nil {
			return err
		}

		if err := vstore.DeleteCollection(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Dropped %s\n", args[0])
		return nil
	},
}

var reindexReset bool

var reindexCmd = &cobra.Command{
	Use:   "reindex <project>",
	Short: "Re-embed and re-index a project's persisted chunks",
	Long: `Reindex submits an indexing run over the chunks already stored for the
project, without re-parsing any documents. Use --reset to rebuild the
collection from scratch, for example after switching embedding models.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workflow := getWorkflow()

		taskID, err := workflow.ReindexProject(cmd.Context(), args[0], reindexReset)
		if err != nil {
			return err
		}
		fmt.Printf("Submitted reindex of %s (task %s)\n", args[0], taskID)
		return nil
	},
}

func init() {
	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsInfoCmd)
	collectionsCmd.AddCommand(collectionsResetIndexCmd)
	collectionsCmd.AddCommand(collectionsDropCmd)
	rootCmd.AddCommand(collectionsCmd)

	reindexCmd.Flags().BoolVar(&reindexReset, "reset", false, "drop the collection before indexing")
	rootCmd.AddCommand(reindexCmd)
}
