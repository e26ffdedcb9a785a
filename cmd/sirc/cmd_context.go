package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"sirc/internal/contextualizer"
)

var (
	contextProjectID string
	contextTopK      int
)

var contextCmd = &cobra.Command{
	Use:   "context <node-id>",
	Short: "Suggest links around a node",
	Args:  cobra.ExactArgs(1),
	RunE:  runContext,
}

func init() {
	contextCmd.Flags().StringVar(&contextProjectID, "project", "", "project id (required)")
	contextCmd.Flags().IntVar(&contextTopK, "top-k", 0, "suggestions to return (default from config)")
	_ = contextCmd.MarkFlagRequired("project")
}

func runContext(cmd *cobra.Command, args []string) error {
	suggestions, err := app.ctx.SuggestLinks(context.Background(), args[0], contextualizer.Options{
		ProjectID: contextProjectID, TopK: contextTopK,
	})
	if err != nil {
		return fmt.Errorf("suggest links: %w", err)
	}
	if len(suggestions) == 0 {
		fmt.Println("no suggestions")
		return nil
	}
	for _, s := range suggestions {
		fmt.Printf("%-20s  [%s]  confidence=%.4f  (sem=%.2f lex=%.2f ctx=%.2f)\n",
			s.TargetID, s.RelationType, s.Confidence, s.Semantic, s.Lexical, s.Contextual)
	}
	return nil
}
