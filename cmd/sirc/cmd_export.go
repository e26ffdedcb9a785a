package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sirc/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export and import project bundles",
}

var (
	exportProjects       []string
	exportOut            string
	exportIncludeHistory bool
	exportCSVFields      []string
)

var exportBundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Export a native, round-trippable bundle",
	RunE:  runExportBundle,
}

var exportGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Export a JSON-LD graph envelope",
	RunE:  runExportGraph,
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Export a flat CSV of nodes, with an optional links section",
	RunE:  runExportCSV,
}

var importBundleCmd = &cobra.Command{
	Use:   "import <bundle-file>",
	Short: "Import a native bundle previously produced by export bundle",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportBundle,
}

func init() {
	for _, c := range []*cobra.Command{exportBundleCmd, exportGraphCmd, exportCSVCmd} {
		c.Flags().StringSliceVar(&exportProjects, "projects", nil, "project ids to export (required)")
		_ = c.MarkFlagRequired("projects")
	}
	for _, c := range []*cobra.Command{exportBundleCmd, exportGraphCmd, exportCSVCmd} {
		c.Flags().StringVar(&exportOut, "out", "", "output file (default: stdout)")
	}
	exportBundleCmd.Flags().BoolVar(&exportIncludeHistory, "include-crdt-history", false, "include each project's CRDT operation log")
	exportCSVCmd.Flags().StringSliceVar(&exportCSVFields, "fields", []string{"id", "project_id", "title", "created_at"}, "node fields to include as CSV columns")

	exportCmd.AddCommand(exportBundleCmd, exportGraphCmd, exportCSVCmd, importBundleCmd)
}

func writeOut(data []byte) error {
	if exportOut == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(exportOut, data, 0644)
}

func runExportBundle(cmd *cobra.Command, args []string) error {
	bundle, err := app.exp.ExportFmind(exportProjects, export.ExportOptions{IncludeCRDTHistory: exportIncludeHistory})
	if err != nil {
		return fmt.Errorf("export bundle: %w", err)
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}
	return writeOut(data)
}

func runExportGraph(cmd *cobra.Command, args []string) error {
	bundle, err := app.exp.ExportFmind(exportProjects, export.ExportOptions{})
	if err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	for _, pb := range bundle.Projects {
		g := export.ExportGraph(pb.Nodes, pb.Links, export.GraphOptions{IncludeProvenance: true})
		data, err := json.MarshalIndent(g, "", "  ")
		if err != nil {
			return err
		}
		if err := writeOut(data); err != nil {
			return err
		}
	}
	return nil
}

func runExportCSV(cmd *cobra.Command, args []string) error {
	bundle, err := app.exp.ExportFmind(exportProjects, export.ExportOptions{})
	if err != nil {
		return fmt.Errorf("export csv: %w", err)
	}
	for _, pb := range bundle.Projects {
		out, err := export.ExportCSV(pb.Nodes, exportCSVFields, pb.Links)
		if err != nil {
			return err
		}
		if err := writeOut([]byte(out)); err != nil {
			return err
		}
	}
	return nil
}

func runImportBundle(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var bundle export.Bundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("parse bundle: %w", err)
	}
	if err := app.exp.ImportFmind(&bundle); err != nil {
		return fmt.Errorf("import bundle: %w", err)
	}
	fmt.Printf("imported %d project(s)\n", len(bundle.Projects))
	return nil
}
