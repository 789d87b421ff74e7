package cliutil

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
)

// NewTable creates a table writer with the house style.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// Summary prints a count line below a table, pluralizing the noun.
func Summary(w io.Writer, count int, singular, plural string) {
	noun := plural
	if count == 1 {
		noun = singular
	}
	_, _ = fmt.Fprintf(w, "%d %s\n", count, noun)
}

// NoResults prints a placeholder message when a table would be empty.
func NoResults(w io.Writer, message string) {
	_, _ = fmt.Fprintln(w, message)
}
