package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sirc/internal/reasoner"
)

var (
	reasonProjects  []string
	reasonDepth     int
	reasonTopK      int
	reasonThreshold float64
)

var reasonCmd = &cobra.Command{
	Use:   "reason",
	Short: "Infer relations and find chains across projects",
}

var reasonInferCmd = &cobra.Command{
	Use:   "infer <node-id>",
	Short: "Infer new relations starting from a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runReasonInfer,
}

var reasonChainCmd = &cobra.Command{
	Use:   "chain <source-id> <target-id>",
	Short: "Find confidence-weighted chains between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE:  runReasonChain,
}

func init() {
	reasonInferCmd.Flags().StringSliceVar(&reasonProjects, "projects", nil, "projects to search (default: all)")
	reasonInferCmd.Flags().IntVar(&reasonDepth, "depth", 0, "max traversal depth (0 uses the reasoner default of 2)")
	reasonInferCmd.Flags().IntVar(&reasonTopK, "top-k", 5, "relations to return")
	reasonInferCmd.Flags().Float64Var(&reasonThreshold, "threshold", 0.5, "minimum confidence")

	reasonChainCmd.Flags().StringVar(&chainProjectID, "project", "", "project id")
	reasonChainCmd.Flags().IntVar(&chainDepth, "depth", 4, "max chain depth")
	reasonChainCmd.Flags().IntVar(&chainMaxChains, "max-chains", 3, "max chains to return")

	reasonCmd.AddCommand(reasonInferCmd, reasonChainCmd)
}

var (
	chainProjectID string
	chainDepth     int
	chainMaxChains int
)

func runReasonInfer(cmd *cobra.Command, args []string) error {
	relations, err := app.reason.InferRelations(context.Background(), reasoner.InferOptions{
		StartNodeID: args[0], Projects: reasonProjects, Depth: reasonDepth, TopK: reasonTopK, Threshold: reasonThreshold,
	})
	if err != nil {
		return fmt.Errorf("infer relations: %w", err)
	}
	fmt.Print(reasoner.RelationsTranscript(relations))
	return nil
}

func runReasonChain(cmd *cobra.Command, args []string) error {
	chains, err := app.reason.FindChains(context.Background(), args[0], args[1], chainDepth, chainMaxChains, chainProjectID)
	if err != nil {
		return fmt.Errorf("find chains: %w", err)
	}
	fmt.Print(reasoner.ChainsTranscript(chains))
	return nil
}
