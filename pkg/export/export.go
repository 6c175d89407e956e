// Package export renders tabular datasets into downloadable formats.
package export

// Table defines ordered tabular export content.
type Table struct {
	Columns []string
	Rows    [][]string
}
