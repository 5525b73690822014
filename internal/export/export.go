// Package export renders view results as spreadsheet downloads.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/radiusdt/adperf/internal/views"
)

const (
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	ContentTypeCSV  = "text/csv; charset=utf-8"
)

// Format is an export file format.
type Format string

const (
	XLSX Format = "xlsx"
	CSV  Format = "csv"
)

// ParseFormat defaults to XLSX.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", string(XLSX):
		return XLSX, nil
	case string(CSV):
		return CSV, nil
	}
	return "", fmt.Errorf("unsupported export format %q", s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	if f == CSV {
		return ContentTypeCSV
	}
	return ContentTypeXLSX
}

// Filename is the suggested download name for out.
func (f Format) Filename(out views.Output, version int64) string {
	return fmt.Sprintf("%s_v%d.%s", out.ViewID(), version, f)
}

// Write renders out in format f.
func Write(w io.Writer, f Format, out views.Output) error {
	if f == CSV {
		return WriteCSV(w, out)
	}
	return WriteXLSX(w, out)
}

// WriteXLSX writes a single sheet named after the view with a bold,
// frozen header row.
func WriteXLSX(w io.Writer, out views.Output) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := string(out.ViewID())
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	header := out.Header()
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, bold); err != nil {
		return err
	}
	if err := f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}

	for i, rec := range out.Records() {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheet, cell, &rec); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// WriteCSV writes the header and records as CSV.
func WriteCSV(w io.Writer, out views.Output) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(out.Header()); err != nil {
		return err
	}
	if err := cw.WriteAll(out.Records()); err != nil {
		return err
	}
	return cw.Error()
}
