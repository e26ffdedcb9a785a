// Package main implements the sirc CLI, a command-line front end over the
// Semantic Index and Reasoning Core.
//
// # File Index
//
//   - main.go        - entry point, rootCmd, global flags, app wiring
//   - app.go         - buildApp(): constructs every SIRC component from config
//   - cmd_node.go    - node create/get
//   - cmd_search.go  - semantic search
//   - cmd_link.go    - link create/query
//   - cmd_context.go - contextual link suggestions
//   - cmd_reason.go  - relation inference and chain finding
//   - cmd_topic.go   - topic listing
//   - cmd_memory.go  - interaction log and suggestions
//   - cmd_crdt.go    - CRDT op apply/snapshot
//   - cmd_export.go  - bundle/graph/CSV export and bundle import
//   - cmd_federation.go - direct Federated Cache search/warmup/clear
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sirc/internal/logging"
)

var (
	verbose   bool
	workspace string
	configPath string

	logger *zap.Logger
	app    *application
)

var rootCmd = &cobra.Command{
	Use:   "sirc",
	Short: "sirc - Semantic Index and Reasoning Core CLI",
	Long: `sirc indexes notes as embedded, Morton-ordered nodes, links them by
semantic/lexical/contextual confidence, clusters them into topics, and infers
relation chains across projects.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}

		ws := workspace
		if ws == "" {
			ws, _ = os.Getwd()
		}

		a, err := buildApp(ws, configPath)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}
		app = a
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		if app != nil {
			_ = app.store.Close()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "sirc.yaml", "path to config file, relative to workspace")

	rootCmd.AddCommand(nodeCmd, searchCmd, linkCmd, contextCmd, reasonCmd, topicCmd, memoryCmd, crdtCmd, exportCmd, federationCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
