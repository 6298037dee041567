package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/cognicore/revtrend/pkg/revtrend/internalerr"
	"github.com/cognicore/revtrend/pkg/revtrend/review"
)

// Format is an export file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatExcel Format = "excel"
)

// ParseFormat accepts csv, json, excel or xlsx, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "excel", "xlsx":
		return FormatExcel, nil
	default:
		return "", fmt.Errorf("%w: unsupported report format %q", internalerr.ErrInvalidInput, s)
	}
}

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	if f == FormatExcel {
		return "xlsx"
	}
	return string(f)
}

// FileName returns trend_report_<app>_<date>.<ext>.
func FileName(m *Matrix, f Format) string {
	app := strings.NewReplacer("/", "_", "\\", "_", " ", "_").Replace(m.AppID)
	return fmt.Sprintf("trend_report_%s_%s.%s", app, review.FormatDay(m.Target), f.Ext())
}

// Save writes the matrix into dir and returns the file path.
func Save(m *Matrix, dir string, f Format) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, FileName(m, f))
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := Write(file, m, f); err != nil {
		file.Close()
		return "", err
	}
	return path, file.Close()
}

// Write renders the matrix in the given format.
func Write(w io.Writer, m *Matrix, f Format) error {
	switch f {
	case FormatCSV:
		return writeCSV(w, m)
	case FormatJSON:
		return writeJSON(w, m)
	case FormatExcel:
		return writeExcel(w, m)
	default:
		return fmt.Errorf("%w: unsupported report format %q", internalerr.ErrInvalidInput, f)
	}
}

func header(m *Matrix) []string {
	out := make([]string, 0, len(m.Dates)+1)
	out = append(out, "Topic")
	for _, d := range m.Dates {
		out = append(out, review.FormatDay(d))
	}
	return out
}

func writeCSV(w io.Writer, m *Matrix) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header(m)); err != nil {
		return err
	}
	record := make([]string, len(m.Dates)+1)
	for _, row := range m.Rows {
		record[0] = row.Label
		for i, n := range row.Counts {
			record[i+1] = strconv.Itoa(n)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

type jsonReport struct {
	App    string    `json:"app"`
	Target string    `json:"target"`
	Dates  []string  `json:"dates"`
	Topics []jsonRow `json:"topics"`
}

type jsonRow struct {
	TopicID int64  `json:"topic_id"`
	Topic   string `json:"topic"`
	Counts  []int  `json:"counts"`
	Total   int    `json:"total"`
}

func writeJSON(w io.Writer, m *Matrix) error {
	out := jsonReport{
		App:    m.AppID,
		Target: review.FormatDay(m.Target),
		Dates:  header(m)[1:],
		Topics: make([]jsonRow, len(m.Rows)),
	}
	for i, row := range m.Rows {
		out.Topics[i] = jsonRow{TopicID: row.TopicID, Topic: row.Label, Counts: row.Counts, Total: row.Total}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

const excelSheet = "Trends"

func writeExcel(w io.Writer, m *Matrix) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", excelSheet); err != nil {
		return err
	}

	head := header(m)
	cells := make([]interface{}, len(head))
	for i, h := range head {
		cells[i] = h
	}
	if err := f.SetSheetRow(excelSheet, "A1", &cells); err != nil {
		return err
	}

	for r, row := range m.Rows {
		values := make([]interface{}, 0, len(row.Counts)+1)
		values = append(values, row.Label)
		for _, n := range row.Counts {
			values = append(values, n)
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(excelSheet, cell, &values); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(head), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(excelSheet, "A1", last, bold); err != nil {
		return err
	}
	if err := f.SetColWidth(excelSheet, "A", "A", 36); err != nil {
		return err
	}
	if err := f.SetPanes(excelSheet, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      1,
		TopLeftCell: "B2",
		ActivePane:  "bottomRight",
	}); err != nil {
		return err
	}
	return f.Write(w)
}
