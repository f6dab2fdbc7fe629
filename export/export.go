// Package export renders bonus report rows as spreadsheets.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/warp/bonus-engine/bonus"
	"github.com/xuri/excelize/v2"
)

const SheetName = "Bonus Report"

var header = []string{"User", "Email", "Quarter", "Parts", "Bonus", "Status", "Payment Date"}

// Row is one exported report line.
type Row struct {
	User        string
	Email       string
	Quarter     string
	Parts       int
	Bonus       float64
	BonusText   string
	Status      string
	PaymentDate string
}

// StatusLabel is the human label for a bucket's payment state.
func StatusLabel(b bonus.QuarterBucket, newUnpaid bool) string {
	switch {
	case b.Status == bonus.StatusPaid:
		return "Paid"
	case newUnpaid:
		return "Pending (New Parts)"
	default:
		return "Pending"
	}
}

// RowsFromBuckets converts buckets to rows. flagged marks new-unpaid
// buckets. Payment dates are shown as calendar dates in loc using the
// locale's layout.
func RowsFromBuckets(buckets []bonus.QuarterBucket, flagged map[bonus.BucketKey]bool, locale string, loc *time.Location) []Row {
	rows := make([]Row, 0, len(buckets))
	for _, b := range buckets {
		rows = append(rows, Row{
			User:        b.UserName,
			Email:       b.Email,
			Quarter:     b.Label,
			Parts:       b.PartCount,
			Bonus:       b.BonusAmount.Float64(),
			BonusText:   b.BonusAmount.Currency(),
			Status:      StatusLabel(b, flagged[b.Key()]),
			PaymentDate: bonus.FormatPaymentDateIn(b.PaymentDate, locale, loc),
		})
	}
	return rows
}

// WriteCSV writes rows with a header line. A UTF-8 BOM is emitted first so
// spreadsheet tools detect the encoding.
func WriteCSV(w io.Writer, rows []Row) error {
	if _, err := w.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.User, r.Email, r.Quarter, fmt.Sprintf("%d", r.Parts), r.BonusText, r.Status, r.PaymentDate,
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes rows to a single-sheet workbook.
func WriteXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
	}
	for i, r := range rows {
		line := i + 2
		values := []any{r.User, r.Email, r.Quarter, r.Parts, r.Bonus, r.Status, r.PaymentDate}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, line)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return err
			}
		}
	}

	widths := map[string]float64{"A": 24, "B": 28, "C": 10, "D": 8, "E": 10, "F": 20, "G": 16}
	for col, width := range widths {
		if err := f.SetColWidth(SheetName, col, col, width); err != nil {
			return err
		}
	}
	return f.Write(w)
}
