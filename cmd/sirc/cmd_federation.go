package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sirc/internal/federation"
)

var federationCmd = &cobra.Command{
	Use:   "federation",
	Short: "Inspect and drive the Federated Cache directly",
}

var (
	fedSearchProjects string
	fedSearchTopK     int
	fedSearchMorton   string
	fedWarmupProjects string
)

var federationSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Run the base search_across_projects contract (prefix-window enumeration, no ranking fusion)",
	Args:  cobra.ExactArgs(1),
	RunE:  runFederationSearch,
}

var federationWarmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Bulk-load projects from persistence into the cache",
	RunE:  runFederationWarmup,
}

var federationClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the Federated Cache",
	RunE:  runFederationClear,
}

func init() {
	federationSearchCmd.Flags().StringVar(&fedSearchProjects, "projects", "", "comma-separated project ids (required)")
	federationSearchCmd.Flags().IntVar(&fedSearchTopK, "top-k", 0, "results to return (default from config)")
	federationSearchCmd.Flags().StringVar(&fedSearchMorton, "morton-key", "", "query node's morton key, enables prefix-window enumeration")
	_ = federationSearchCmd.MarkFlagRequired("projects")

	federationWarmupCmd.Flags().StringVar(&fedWarmupProjects, "projects", "", "comma-separated project ids (required)")
	_ = federationWarmupCmd.MarkFlagRequired("projects")

	federationCmd.AddCommand(federationSearchCmd, federationWarmupCmd, federationClearCmd)
}

func runFederationSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.AITimeout())
	defer cancel()

	emb, err := app.engine.Embed(ctx, args[0])
	if err != nil {
		return fmt.Errorf("embed query: %w", err)
	}

	hits, err := app.cache.SearchAcrossProjectsBase(emb, federation.CrossProjectOptions{
		Projects:       splitCSV(fedSearchProjects),
		TopK:           fedSearchTopK,
		QueryMortonKey: fedSearchMorton,
	})
	if err != nil {
		return fmt.Errorf("search across projects: %w", err)
	}

	if len(hits) == 0 {
		fmt.Println("no results")
		return nil
	}
	for i, h := range hits {
		fmt.Printf("%2d. %-12s %-30s score=%.4f\n", i+1, h.ProjectID, h.NodeID, h.Score)
	}
	return nil
}

func runFederationWarmup(cmd *cobra.Command, args []string) error {
	if err := app.cache.WarmupCache(splitCSV(fedWarmupProjects)); err != nil {
		return fmt.Errorf("warmup cache: %w", err)
	}
	fmt.Println("cache warmed up")
	return nil
}

func runFederationClear(cmd *cobra.Command, args []string) error {
	app.cache.ClearCache()
	fmt.Println("cache cleared")
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
