package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sirc/internal/model"
	"sirc/internal/morton"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Create and inspect nodes",
}

var (
	nodeProjectID string
	nodeTitle     string
	nodeText      string
	nodeParent    string
	nodeAuthor    string
)

var nodeCreateCmd = &cobra.Command{
	Use:   "create <id>",
	Short: "Embed, Morton-encode, and save a new node",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodeCreate,
}

var nodeGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Fetch a node by id",
	Args:  cobra.ExactArgs(1),
	RunE:  runNodeGet,
}

func init() {
	nodeCreateCmd.Flags().StringVar(&nodeProjectID, "project", "", "project id (required)")
	nodeCreateCmd.Flags().StringVar(&nodeTitle, "title", "", "node title")
	nodeCreateCmd.Flags().StringVar(&nodeText, "text", "", "node body text")
	nodeCreateCmd.Flags().StringVar(&nodeParent, "parent", "", "parent node id")
	nodeCreateCmd.Flags().StringVar(&nodeAuthor, "author", "", "node author")
	_ = nodeCreateCmd.MarkFlagRequired("project")

	nodeCmd.AddCommand(nodeCreateCmd, nodeGetCmd)
}

func runNodeCreate(cmd *cobra.Command, args []string) error {
	id := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.AITimeout())
	defer cancel()

	emb, err := app.engine.Embed(ctx, nodeTitle+"\n"+nodeText)
	if err != nil {
		return fmt.Errorf("embed node text: %w", err)
	}

	quant, err := app.search.GetOrCreateQuantParams(nodeProjectID, [][]float32{emb})
	if err != nil {
		return fmt.Errorf("resolve quant params: %w", err)
	}

	n := &model.Node{
		ID: id, ProjectID: nodeProjectID, Title: nodeTitle, Text: nodeText, Parent: nodeParent,
		Embedding: emb,
		Meta:      model.NodeMeta{CreatedAt: time.Now().UTC(), Author: nodeAuthor},
	}
	if quant != nil {
		n.MortonKey = morton.Key(emb, quant)
	}

	if err := app.store.SaveNode(n); err != nil {
		return fmt.Errorf("save node: %w", err)
	}

	fmt.Printf("created node %s (project=%s, morton=%s)\n", n.ID, n.ProjectID, n.MortonKey)
	return nil
}

func runNodeGet(cmd *cobra.Command, args []string) error {
	n, err := app.store.GetNode(args[0])
	if err != nil {
		return err
	}
	if n == nil {
		fmt.Println("no such node")
		return nil
	}
	fmt.Printf("%s  %s\n  project: %s\n  parent:  %s\n  morton:  %s\n  created: %s\n",
		n.ID, n.Title, n.ProjectID, n.Parent, n.MortonKey, n.Meta.CreatedAt.Format("2006-01-02 15:04:05"))
	return nil
}
