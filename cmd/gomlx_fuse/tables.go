// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/fusion/pkg/core/ir"
	"github.com/gomlx/fusion/pkg/fusion"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func printStats(g *ir.Graph, session *fusion.Session, cats []fusion.Category, statuses []fusion.Status, numNodesBefore int) {
	fmt.Println(titleStyle.Render("Summary"))
	table := newPlainTable(false)
	table.Row("graph", g.Name())
	table.Row("session", session.ID)
	table.Row("# nodes before", humanize.Comma(int64(numNodesBefore)))
	table.Row("# nodes after", humanize.Comma(int64(g.NumNodes())))
	table.Row("# names allocated", humanize.Comma(int64(session.Names.Count())))
	for ii, category := range cats {
		table.Row(category.String(), statuses[ii].String())
	}
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Passes"))
	table = newPlainTable(true)
	table.Row("Pass", "Invocations", "Matches", "Rewrites")
	if stats := session.MemoryStats(); stats != nil {
		for _, entry := range stats.Snapshot() {
			table.Row(entry.Pass,
				humanize.Comma(int64(entry.Invocations)),
				humanize.Comma(int64(entry.Matches)),
				humanize.Comma(int64(entry.Effects)))
		}
	}
	fmt.Println(table.Render())
	if len(cats) > 0 {
		fmt.Printf("Fused %s nodes away.\n", humanize.Comma(int64(numNodesBefore-g.NumNodes())))
	}
}
