package query

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(raw string) (Format, error) {
	switch Format(raw) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatParquet:
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

func (f Format) ContentType() string {
	if f == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "text/csv"
}

func (f Format) Extension() string {
	if f == FormatParquet {
		return ".parquet"
	}
	return ".csv"
}

// Write encodes result in the given format.
func Write(w io.Writer, format Format, result Result) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, result)
	case FormatParquet:
		return WriteParquet(w, result)
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func WriteCSV(w io.Writer, result Result) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(result.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	record := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = FormatValue(row[i])
			}
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// WriteParquet stores every column as an optional UTF-8 string; NULL stays NULL.
func WriteParquet(w io.Writer, result Result) error {
	names := uniqueColumnNames(result.Columns)
	group := parquet.Group{}
	for _, name := range names {
		group[name] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("result", group)

	indexes := make([]int, len(names))
	for i, name := range names {
		leaf, ok := schema.Lookup(name)
		if !ok {
			return fmt.Errorf("parquet column %q missing from schema", name)
		}
		indexes[i] = leaf.ColumnIndex
	}

	writer := parquet.NewWriter(w, schema)
	rows := make([]parquet.Row, 0, len(result.Rows))
	for _, values := range result.Rows {
		row := make(parquet.Row, len(names))
		for i := range names {
			idx := indexes[i]
			if i >= len(values) || values[i] == nil {
				row[idx] = parquet.NullValue().Level(0, 0, idx)
				continue
			}
			row[idx] = parquet.ByteArrayValue([]byte(FormatValue(values[i]))).Level(0, 1, idx)
		}
		rows = append(rows, row)
	}
	if _, err := writer.WriteRows(rows); err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// FormatValue renders a normalized cell as text.
func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(typed)
	case time.Time:
		return typed.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(typed)
	}
}

func uniqueColumnNames(columns []string) []string {
	taken := make(map[string]bool, len(columns))
	out := make([]string, len(columns))
	for i, name := range columns {
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		candidate := name
		for n := 2; taken[candidate]; n++ {
			candidate = name + "_" + strconv.Itoa(n)
		}
		taken[candidate] = true
		out[i] = candidate
	}
	return out
}
