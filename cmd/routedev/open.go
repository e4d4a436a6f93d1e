package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/splax/routedev/internal/service/editor"
)

var (
	openLine   int
	openColumn int
	openDryRun bool
)

var openCmd = &cobra.Command{
	Use:   "open <route-id|file>",
	Short: "Open a route module or source file in the configured editor",
	Example: `  routedev open routes/todos
  routedev open app/routes/todos.tsx --line 12
  routedev open routes/_index --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runOpen,
}

func init() {
	openCmd.Flags().IntVar(&openLine, "line", 1, "line to jump to")
	openCmd.Flags().IntVar(&openColumn, "column", 1, "column to jump to")
	openCmd.Flags().BoolVar(&openDryRun, "dry-run", false, "print the resolved file without launching the editor")
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	root, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve working directory: %w", err)
	}
	svc := editor.New(root, cfg.AppDir, cfg.EditorCommand, log)

	// A bare argument is tried as a file first, then as a route id.
	source, routeID := args[0], ""
	target, err := svc.Resolve(source, routeID, openLine, openColumn)
	if err != nil {
		source, routeID = "", args[0]
		if target, err = svc.Resolve(source, routeID, openLine, openColumn); err != nil {
			return fmt.Errorf("resolve %q: %w", args[0], err)
		}
	}
	if openDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "%s:%d:%d\n", target.File, target.Line, target.Column)
		return nil
	}
	if _, err := svc.Open(cmd.Context(), source, routeID, openLine, openColumn); err != nil {
		return fmt.Errorf("open %s: %w", target.File, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "opened %s:%d:%d\n", target.File, target.Line, target.Column)
	return nil
}
