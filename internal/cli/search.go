package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/raphaelgruber/docindex/internal/service"
	"github.com/spf13/cobra"
)

var (
	searchLimit     int
	searchThreshold float64
)

// getSearchService wires the query side. With withModel the generation model
// is initialized too; plain retrieval leaves it nil.
func getSearchService(ctx context.Context, withModel bool) (*service.SearchService, error) {
	vstore, err := getStore(ctx)
	if err != nil {
		return nil, err
	}
	emb, err := getEmbedder()
	if err != nil {
		return nil, err
	}
	if withModel {
		if _, err := getModel(); err != nil {
			return nil, err
		}
	}
	return service.NewSearchService(dbClient, vstore, emb, model, stats), nil
}

var searchCmd = &cobra.Command{
	Use:   "search <project> <query>...",
	Short: "Semantic search over a project's indexed chunks",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getSearchService(cmd.Context(), false)
		if err != nil {
			return err
		}

		hits, err := svc.Search(cmd.Context(), service.SearchOptions{
			ProjectKey: args[0],
			Query:      strings.Join(args[1:], " "),
			Limit:      searchLimit,
			Threshold:  searchThreshold,
		})
		if err != nil {
			return err
		}

		if len(hits) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, hit := range hits {
			fmt.Printf("--- %d. (score %.4f)", i+1, hit.Score)
			if source, ok := hit.Metadata["source"].(string); ok && source != "" {
				fmt.Printf(" %s", source)
			}
			fmt.Println()
			fmt.Println(strings.TrimSpace(hit.Text))
			fmt.Println()
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask <project> <question>...",
	Short: "Answer a question from a project's indexed content",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getSearchService(cmd.Context(), true)
		if err != nil {
			return err
		}

		answer, hits, err := svc.Answer(cmd.Context(), service.SearchOptions{
			ProjectKey: args[0],
			Query:      strings.Join(args[1:], " "),
			Limit:      searchLimit,
			Threshold:  searchThreshold,
		})
		if err != nil {
			return err
		}

		fmt.Println(answer)
		if len(hits) > 0 {
			fmt.Println("\nSources:")
			for i, hit := range hits {
				source, _ := hit.Metadata["source"].(string)
				fmt.Printf("  [%d] %s (score %.4f)\n", i+1, source, hit.Score)
			}
		}
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{searchCmd, askCmd} {
		cmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
		cmd.Flags().Float64VarP(&searchThreshold, "threshold", "t", 0, "minimum similarity score (0 = no filter)")
	}
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
}
