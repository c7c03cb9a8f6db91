package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"
	"github.com/tidwall/gjson"
)

const (
	// DefaultMaxRows is the row cap used when rendering without an explicit one.
	DefaultMaxRows = 50
	maxCellRunes   = 50
)

// QueryResult is a read-only view of a query response.
type QueryResult struct {
	Columns []string
	// Rows hold nil for SQL NULL, json.Number for numbers, bool, string, or
	// the raw JSON text of nested values.
	Rows     [][]any
	RowCount int
	// RunningTime is the execution time in milliseconds, when reported.
	RunningTime *int
}

// ParseQueryResult reads a dataset or card query response. Columns and rows
// are taken from the "data" object when present, otherwise from the top
// level. A column is labelled by its display_name, then its name, then
// "col_<index>".
func ParseQueryResult(data []byte) QueryResult {
	root := gjson.ParseBytes(data)
	result := root
	if d := root.Get("data"); d.Exists() {
		result = d
	}

	var q QueryResult
	for i, col := range result.Get("cols").Array() {
		label := optString(col, "display_name", "")
		if !present(col.Get("display_name")) {
			label = optString(col, "name", fmt.Sprintf("col_%d", i))
		}
		q.Columns = append(q.Columns, label)
	}

	for _, row := range result.Get("rows").Array() {
		cells := row.Array()
		values := make([]any, len(cells))
		for j, cell := range cells {
			values[j] = cellValue(cell)
		}
		q.Rows = append(q.Rows, values)
	}

	q.RowCount = len(q.Rows)
	q.RunningTime = optIntPtr(root, "running_time")
	return q
}

func cellValue(r gjson.Result) any {
	switch r.Type {
	case gjson.Null:
		return nil
	case gjson.True:
		return true
	case gjson.False:
		return false
	case gjson.Number:
		return json.Number(r.Raw)
	case gjson.String:
		return r.Str
	default:
		return r.Raw
	}
}

// MarkdownTable renders the result as a markdown table of at most maxRows
// data rows. NULL replaces absent values and cells longer than 50 characters
// are truncated with "...". When rows are omitted a trailing note says how
// many.
func (q QueryResult) MarkdownTable(maxRows int) string {
	if len(q.Columns) == 0 {
		return "No results"
	}
	if maxRows < 0 {
		maxRows = 0
	}

	seps := make([]string, len(q.Columns))
	for i := range seps {
		seps[i] = "---"
	}

	lines := []string{
		"| " + strings.Join(q.Columns, " | ") + " |",
		"| " + strings.Join(seps, " | ") + " |",
	}

	shown := q.Rows
	if len(shown) > maxRows {
		shown = shown[:maxRows]
	}
	for _, row := range shown {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = FormatCell(v)
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}

	if extra := len(q.Rows) - maxRows; extra > 0 {
		lines = append(lines, fmt.Sprintf("\n*... %d more rows*", extra))
	}
	return strings.Join(lines, "\n")
}

// FormatCell stringifies a cell for display: nil becomes NULL and text past
// 50 characters is cut with an ellipsis.
func FormatCell(v any) string {
	if v == nil {
		return "NULL"
	}
	return Truncate(cast.ToString(v), maxCellRunes)
}

// Truncate shortens s to n characters followed by "..." when it is longer.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// QueryFailure reports the error message of a query response that completed
// with a 2xx status but failed on the database side.
func QueryFailure(data []byte) (string, bool) {
	e := gjson.GetBytes(data, "error")
	if !truthy(e) {
		return "", false
	}
	return e.String(), true
}
