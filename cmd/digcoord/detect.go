package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/digcoord/digcoord/internal/conflict"
	"github.com/digcoord/digcoord/internal/storage/postgres"
	"github.com/digcoord/digcoord/internal/types"
)

var (
	detectJSON bool
	detectAll  bool
)

// detectCmd reruns conflict classification for one or more projects without
// the daemon. Useful after bulk imports or buffer changes.
var detectCmd = &cobra.Command{
	Use:   "detect [project-id...]",
	Short: "Run conflict detection for the given projects",
	Args: func(cmd *cobra.Command, args []string) error {
		if detectAll && len(args) > 0 {
			return fmt.Errorf("--all takes no project ids")
		}
		if !detectAll && len(args) == 0 {
			return fmt.Errorf("requires at least one project id (or --all)")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := postgres.Open(ctx, cfg.Database.DSN, postgres.Options{
			MaxConns:       cfg.Database.MaxConns,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		})
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer func() { _ = store.Close() }()

		detector := conflict.New(store, nil, cfg.Detection.BufferMeters, slog.Default())
		detector.BatchConcurrency = cfg.Detection.BatchConcurrency

		if detectAll {
			args, err = activeProjectIDs(ctx, store)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Println("no projects in active states")
				return nil
			}
		}

		if len(args) == 1 {
			result, err := detector.RunForProject(ctx, args[0])
			if err != nil {
				return err
			}
			printResult(args[0], result)
			return nil
		}

		results := detector.RunBatch(ctx, args)
		for _, id := range args {
			result, ok := results[id]
			if !ok {
				fmt.Fprintf(os.Stderr, "%s: detection failed (see log)\n", id)
				continue
			}
			printResult(id, result)
		}
		return nil
	},
}

func init() {
	detectCmd.Flags().BoolVar(&detectJSON, "json", false, "emit results as JSON")
	detectCmd.Flags().BoolVar(&detectAll, "all", false, "detect for every project in an active state")
}

// activeProjectIDs pages through every project in the active conflict states.
func activeProjectIDs(ctx context.Context, store *postgres.Store) ([]string, error) {
	var ids []string
	page := types.Page{Number: 1, Limit: types.MaxPageLimit}
	for {
		paged, err := store.SearchProjects(ctx, types.ProjectFilter{States: types.ActiveConflictStates}, page)
		if err != nil {
			return nil, fmt.Errorf("list active projects: %w", err)
		}
		for _, p := range paged.Items {
			ids = append(ids, p.ID)
		}
		if len(ids) >= paged.Total || len(paged.Items) == 0 {
			return ids, nil
		}
		page.Number++
	}
}

func printResult(id string, result *conflict.Result) {
	if detectJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"project_id": id, "result": result})
		return
	}
	fmt.Printf("%s: conflict=%v spatial=%d temporal=%d moratorium=%d\n",
		id, result.HasConflict,
		len(result.SpatialConflicts), len(result.TemporalConflicts), len(result.MoratoriumViolations))
}
