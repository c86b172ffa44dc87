package main

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// column describes one table column. Numeric columns align right.
type column struct {
	title   string
	numeric bool
}

// renderTable draws rows under cols. Short rows are padded; footer is
// omitted when nil.
func renderTable(cols []column, rows [][]string, footer []string) string {
	if len(cols) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(tableRow(len(cols), nil, cols))
	for _, row := range rows {
		tw.AppendRow(tableRow(len(cols), row, nil))
	}
	if footer != nil {
		tw.AppendFooter(tableRow(len(cols), footer, nil))
	}

	configs := make([]table.ColumnConfig, len(cols))
	for i, c := range cols {
		align := text.AlignLeft
		if c.numeric {
			align = text.AlignRight
		}
		configs[i] = table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
			AlignFooter: align,
		}
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}

func tableRow(width int, cells []string, titles []column) table.Row {
	row := make(table.Row, width)
	for i := range row {
		switch {
		case titles != nil:
			row[i] = titles[i].title
		case i < len(cells):
			row[i] = cells[i]
		default:
			row[i] = ""
		}
	}
	return row
}
