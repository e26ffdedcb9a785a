package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sirc/internal/memory"
	"sirc/internal/model"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Record interactions and get decay-weighted suggestions",
}

var (
	memNodeID     string
	memActionType string
)

var memoryRecordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append one interaction to the log",
	RunE:  runMemoryRecord,
}

var (
	memTopN         int
	memQueryNodeID  string
)

var memorySuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest nodes by decay-weighted recent activity",
	RunE:  runMemorySuggest,
}

func init() {
	memoryRecordCmd.Flags().StringVar(&memNodeID, "node", "", "node id (required)")
	memoryRecordCmd.Flags().StringVar(&memActionType, "action", "view", "action type (view|search|expand|rewrite|edit|export|import)")
	_ = memoryRecordCmd.MarkFlagRequired("node")

	memorySuggestCmd.Flags().IntVar(&memTopN, "top-n", 10, "suggestions to return")
	memorySuggestCmd.Flags().StringVar(&memQueryNodeID, "like", "", "rank by similarity to this node's embedding")

	memoryCmd.AddCommand(memoryRecordCmd, memorySuggestCmd)
}

func runMemoryRecord(cmd *cobra.Command, args []string) error {
	in, err := app.mem.RecordInteraction(memory.RecordFields{
		NodeID: memNodeID, ActionType: model.ActionType(memActionType),
	})
	if err != nil {
		return fmt.Errorf("record interaction: %w", err)
	}
	fmt.Printf("recorded %s  node=%s action=%s at=%s\n", in.ID, in.NodeID, in.ActionType, in.At.Format(time.RFC3339))
	return nil
}

func runMemorySuggest(cmd *cobra.Command, args []string) error {
	var queryEmbedding []float32
	if memQueryNodeID != "" {
		n, err := app.store.GetNode(memQueryNodeID)
		if err != nil {
			return err
		}
		if n != nil {
			queryEmbedding = n.Embedding
		}
	}

	suggestions, err := app.mem.Suggest(context.Background(), memory.SuggestOptions{
		QueryEmbedding: queryEmbedding, TopN: memTopN,
	})
	if err != nil {
		return fmt.Errorf("suggest: %w", err)
	}
	if len(suggestions) == 0 {
		fmt.Println("no suggestions")
		return nil
	}
	for _, s := range suggestions {
		fmt.Printf("%-20s  score=%.4f  %s  (%s)\n", s.NodeID, s.Score, s.Title, s.Reason)
	}
	return nil
}
