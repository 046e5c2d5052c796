/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"chainguard.dev/issueagent/runregistry"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/spf13/cobra"
)

func newRunsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}
			store, err := cfg.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.List(ctx, limit)
			if err != nil {
				return err
			}
			return renderRuns(cmd.OutOrStdout(), runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show, 0 for all")
	return cmd
}

func renderRuns(w io.Writer, runs []runregistry.Run) error {
	table := newTable(w, []string{"Run", "Status", "Progress", "Merged", "Started", "Updated", "Reason"})
	for _, r := range runs {
		if err := table.Append([]string{
			r.ID,
			string(r.Status),
			strconv.Itoa(r.Progress) + "%",
			strconv.FormatBool(r.Merged),
			r.StartedAt.UTC().Format(time.RFC3339),
			r.UpdatedAt.UTC().Format(time.RFC3339),
			r.Reason,
		}); err != nil {
			return fmt.Errorf("adding run %s: %w", r.ID, err)
		}
	}
	return table.Render()
}

// newTable creates a markdown style table.
func newTable(w io.Writer, headers []string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		MaxWidth: 120,
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}
