// Package export renders aggregate case rows as an Excel workbook.
package export

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"intakehub/internal/intake/models"
)

const sheetName = "Cases"

// Header is the column order of the cases sheet. No column can hold
// identifying data: the source rows are aggregate records.
var Header = []string{
	"Case ID",
	"District",
	"School",
	"Grade Band",
	"Referral Source",
	"Opt-In Type",
	"Referral Date",
	"Fiscal Period",
	"Insurance Present",
	"Status",
	"Sessions",
	"Outcome Collected",
	"Processed Date",
}

var columnWidths = []float64{38, 14, 14, 12, 20, 20, 14, 12, 10, 12, 10, 10, 14}

// Writer satisfies the intake service's spreadsheet port.
type Writer struct{}

func NewWriter() *Writer { return &Writer{} }

// WriteCases builds the workbook in memory and returns its bytes.
func (Writer) WriteCases(rows []models.AggregateRecord) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	for i, h := range Header {
		if err := setCell(f, i+1, 1, h); err != nil {
			return nil, err
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(sheetName, col, col, columnWidths[i]); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	last, err := excelize.CoordinatesToCellName(len(Header), 1)
	if err != nil {
		return nil, fmt.Errorf("header range: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return nil, fmt.Errorf("set header style: %w", err)
	}

	for i, rec := range rows {
		if err := writeRow(f, i+2, rec); err != nil {
			return nil, err
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, row int, rec models.AggregateRecord) error {
	processed := ""
	if rec.ProcessedAt != nil {
		processed = rec.ProcessedAt.UTC().Format("2006-01-02")
	}
	values := []any{
		rec.CaseID.String(),
		rec.DistrictCode,
		rec.SchoolCode,
		rec.GradeBand,
		rec.ReferralSource,
		string(rec.OptInType),
		rec.ReferralDate.UTC().Format("2006-01-02"),
		rec.FiscalPeriod,
		yesNo(rec.InsurancePresent),
		string(rec.Status),
		rec.SessionCount,
		yesNo(rec.OutcomeCollected),
		processed,
	}
	for col, v := range values {
		if err := setCell(f, col+1, row, v); err != nil {
			return err
		}
	}
	return nil
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetCellValue(sheetName, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
