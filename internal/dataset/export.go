package dataset

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Results"

// ExportXLSX returns the table as an XLSX workbook (as bytes), header row
// first, with prompt output columns widened for readability.
func (t *Table) ExportXLSX() ([]byte, error) {
	f := excelize.NewFile()
	if index, _ := f.GetSheetIndex(exportSheet); index == -1 {
		if _, err := f.NewSheet(exportSheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(exportSheet)
	f.SetActiveSheet(activeIndex)
	// drop the workbook's default sheet so readers land on the data
	_ = f.DeleteSheet("Sheet1")

	for i, h := range t.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}
	for r, row := range t.Rows {
		for c, col := range t.Columns {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(exportSheet, cell, row[col])
		}
	}

	// Widen every column a bit; model output tends to be long.
	if len(t.Columns) > 0 {
		last, _ := excelize.ColumnNumberToName(len(t.Columns))
		_ = f.SetColWidth(exportSheet, "A", last, 32)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
