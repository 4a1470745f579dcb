package ui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/rodaine/table"
)

// NewTable creates a table with consistent styling, printing to w.
// Headers stay unstyled: a header formatter throws the column width
// calculation off.
func NewTable(w io.Writer, headers ...interface{}) table.Table {
	tbl := table.New(headers...)

	tbl.WithWriter(w)

	// Only format the first column with bold
	tbl.WithFirstColumnFormatter(func(format string, vals ...interface{}) string {
		return BoldStyle.Render(fmt.Sprintf(format, vals...))
	})

	// Add some padding
	tbl.WithPadding(2)

	// Use lipgloss Width function to properly calculate string width with ANSI codes
	tbl.WithWidthFunc(lipgloss.Width)

	return tbl
}
