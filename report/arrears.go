// Package report renders ledger data for download.
package report

import (
	"fmt"
	"io"

	"github.com/messmate/subs-engine/ledger"
	"github.com/xuri/excelize/v2"
)

const ArrearsSheet = "Arrears"

// ArrearsHeader is the first row of the arrears sheet.
var ArrearsHeader = []string{"Army No.", "Name", "Rank", "Unit", "Mess", "Total Owed"}

var arrearsWidths = []float64{14, 28, 14, 14, 10, 14}

// WriteArrears writes one row per roster entry to w as an xlsx workbook.
// Totals are written as numbers so the sheet can sum them.
func WriteArrears(w io.Writer, entries []ledger.RosterEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(ArrearsSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to drop default sheet: %w", err)
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
		return fmt.Errorf("failed to create header style: %w", err)
	}
	moneyStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("failed to create money style: %w", err)
	}

	for col, header := range ArrearsHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(ArrearsSheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(ArrearsSheet, name, name, arrearsWidths[col]); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(ArrearsHeader), 1)
	if err := f.SetCellStyle(ArrearsSheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}

	for i, e := range entries {
		row := i + 2
		start, _ := excelize.CoordinatesToCellName(1, row)
		total, _ := e.TotalOwed.Float64()
		values := []any{
			string(e.Member.ID),
			e.Member.FullName(),
			e.Member.Rank,
			e.Member.Unit,
			string(e.Category.Mess()),
			total,
		}
		if err := f.SetSheetRow(ArrearsSheet, start, &values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", row, err)
		}
		cell, _ := excelize.CoordinatesToCellName(len(ArrearsHeader), row)
		if err := f.SetCellStyle(ArrearsSheet, cell, cell, moneyStyle); err != nil {
			return err
		}
	}

	// Keep the header visible while scrolling.
	if err := f.SetPanes(ArrearsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to render workbook: %w", err)
	}
	return nil
}
