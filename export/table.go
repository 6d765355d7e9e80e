package export

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/aluiziolira/go-pagespeed/models"
)

// RenderTable writes reports as a terminal table with a success summary footer.
func RenderTable(w io.Writer, reports []*models.MetricReport) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)

	header := make(table.Row, len(Header))
	for i, name := range Header {
		header[i] = name
	}
	t.AppendHeader(header)

	failed := 0
	for _, r := range reports {
		if r == nil {
			continue
		}
		if r.Failed() {
			failed++
		}
		cells := Row(r)
		row := make(table.Row, len(cells))
		for i, c := range cells {
			row[i] = c
		}
		t.AppendRow(row)
	}

	t.AppendFooter(table.Row{fmt.Sprintf("%d URLs, %d failed", len(reports), failed)})
	t.Render()
}
