// Package events loads incident lists from CSV or XLSX files.
package events

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hervehildenbrand/bgp-explain/pkg/models"
	"github.com/xuri/excelize/v2"
)

// Column headers.
const (
	ColStart = "Start"
	ColIP    = "IP"
	ColAS    = "AS"
	ColEnd   = "End"
	ColType  = "Event Type"
)

// ErrNoStart is returned for a row without a start time.
var ErrNoStart = errors.New("missing start time")

// Row is one incident line of the file. Err is set when the line does not
// parse; the row keeps its position so batch indices match the file.
type Row struct {
	Event models.Event
	Err   error
}

// Load reads incidents from path, choosing the format by extension. Only
// file-level problems are returned as an error; bad lines are reported on
// their Row.
func Load(path string) ([]Row, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return LoadXLSX(path)
	case ".csv", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		return LoadCSV(f)
	default:
		return nil, fmt.Errorf("unsupported event file %s", path)
	}
}

// LoadCSV reads incidents from CSV with a header row.
func LoadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRows(rows)
}

// LoadXLSX reads incidents from the first sheet of a workbook.
func LoadXLSX(path string) ([]Row, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return fromRows(rows)
}

func fromRows(rows [][]string) ([]Row, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("event file has no header row")
	}
	cols := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		cols[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	if _, ok := cols[ColStart]; !ok {
		return nil, fmt.Errorf("event file has no %q column", ColStart)
	}

	out := make([]Row, 0, len(rows)-1)
	for n, row := range rows[1:] {
		cell := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return firstValue(row[i])
		}
		event, err := parseRow(cell)
		if err != nil {
			out = append(out, Row{Err: fmt.Errorf("row %d: %w", n+1, err)})
			continue
		}
		out = append(out, Row{Event: event})
	}
	return out, nil
}

func parseRow(cell func(string) string) (models.Event, error) {
	var event models.Event

	start := cell(ColStart)
	if start == "" {
		return event, ErrNoStart
	}
	t, err := models.ParseTime(start)
	if err != nil {
		return event, err
	}
	event.Start = t

	if end := cell(ColEnd); end != "" {
		if event.End, err = models.ParseTime(end); err != nil {
			return event, err
		}
	}
	if as := cell(ColAS); as != "" {
		if event.ASN, err = models.ParseASNString(as); err != nil {
			return event, err
		}
	}
	event.Prefix = cell(ColIP)
	event.Type = cell(ColType)
	return event, nil
}

// firstValue keeps the first of several ';'-separated values.
func firstValue(s string) string {
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
