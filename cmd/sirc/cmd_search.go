package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sirc/internal/search"
)

var (
	searchProjectID string
	searchTopK      int
	searchSubtree   string
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over a project's nodes",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().StringVar(&searchProjectID, "project", "", "project id (required)")
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 0, "results to return (default from config)")
	searchCmd.Flags().StringVar(&searchSubtree, "subtree", "", "restrict results to this node's subtree")
	_ = searchCmd.MarkFlagRequired("project")
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.AITimeout())
	defer cancel()

	hits, err := app.search.Search(ctx, args[0], search.Options{
		ProjectID: searchProjectID, TopK: searchTopK, SubtreeRoot: searchSubtree,
	})
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(hits) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%2d. %-30s  score=%.4f  %s\n", i+1, h.Title, h.Score, h.Snippet)
	}
	return nil
}
