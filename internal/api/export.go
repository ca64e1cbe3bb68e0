package api

import (
	"fmt"
	"io"
	"strconv"

	"github.com/xuri/excelize/v2"

	"partnerqueue/internal/models"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportSheet     = "Partner requests"
	exportTime      = "2006-01-02 15:04:05"
)

var exportHeaders = []string{
	"ID", "Request ref", "Partner", "Operation", "Operation key", "Target ID",
	"Payload type", "Business ref", "Hotel ID", "Status", "Attempts", "Last error",
	"Created at", "Updated at",
}

// writeQueueWorkbook streams items as an XLSX workbook with one row per item.
func writeQueueWorkbook(w io.Writer, items []models.QueueItem) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	header := make([]any, len(exportHeaders))
	for i, h := range exportHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return fmt.Errorf("error writing header: %w", err)
	}
	style, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font: &excelize.Font{Bold: true},
	})
	lastCol, _ := excelize.ColumnNumberToName(len(exportHeaders))
	_ = f.SetCellStyle(exportSheet, "A1", lastCol+"1", style)
	_ = f.SetColWidth(exportSheet, "A", lastCol, 18)
	_ = f.SetColWidth(exportSheet, "B", "B", 36)
	_ = f.SetColWidth(exportSheet, "L", "L", 60)

	for i := range items {
		it := &items[i]
		row := []any{
			it.ID, it.RequestRef, it.Partner, it.Operation, deref(it.OperationKey), derefInt(it.TargetID),
			deref(it.PayloadType), deref(it.BusinessRef), derefInt(it.HotelID), it.Status, it.Attempts,
			deref(it.LastError), it.CreatedAt.Format(exportTime), "",
		}
		if it.UpdatedAt != nil {
			row[13] = it.UpdatedAt.Format(exportTime)
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return fmt.Errorf("error writing row %d: %w", i+2, err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}
