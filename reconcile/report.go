package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var reportColumns = []string{
	"Product Name",
	"SKU",
	"Variation",
	"Location",
	"Ledger Balance",
	"System Balance",
	"Variance",
	"Variance %",
	"Variance Type",
	"Unit Cost",
	"Variance Value",
	"Last Transaction Date",
	"Last Transaction Type",
	"Requires Investigation",
	"Auto Fixable",
}

// Summarize aggregates a variance set into report totals. Value totals use
// absolute variance values so overages and shortages never cancel out.
func Summarize(variances []VarianceRecord) ReportSummary {
	summary := ReportSummary{
		TotalVariances:     len(variances),
		TotalVarianceValue: decimal.Zero,
		OverageValue:       decimal.Zero,
		ShortageValue:      decimal.Zero,
	}
	for _, v := range variances {
		absValue := v.VarianceValue.Abs()
		summary.TotalVarianceValue = summary.TotalVarianceValue.Add(absValue)
		switch v.VarianceType {
		case VarianceTypeOverage:
			summary.OverageCount++
			summary.OverageValue = summary.OverageValue.Add(absValue)
		case VarianceTypeShortage:
			summary.ShortageCount++
			summary.ShortageValue = summary.ShortageValue.Add(absValue)
		case VarianceTypeMatch:
			summary.MatchCount++
		}
		if v.RequiresInvestigation {
			summary.RequiresInvestigationCount++
		}
		if v.AutoFixable {
			summary.AutoFixableCount++
		}
	}
	return summary
}

// ExportCSV renders the variance rows as CSV with a fixed column order. Every
// field is quoted unconditionally so downstream spreadsheet imports never
// misparse names containing commas or quotes.
func ExportCSV(variances []VarianceRecord) string {
	var b strings.Builder

	writeRow := func(fields []string) {
		for i, f := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(f, `"`, `""`))
			b.WriteByte('"')
		}
		b.WriteByte('\n')
	}

	writeRow(reportColumns)
	for _, v := range variances {
		writeRow(varianceRow(v))
	}
	return b.String()
}

// ExportXLSX renders the same rows as a single-sheet workbook.
func ExportXLSX(variances []VarianceRecord) ([]byte, error) {
	f := excelize.NewFile()
	sheetName := "Sheet1"
	if _, err := f.NewSheet(sheetName); err != nil {
		return nil, err
	}

	// Add headers
	for i, h := range reportColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		f.SetCellValue(sheetName, cell, h)
	}

	// Add data
	for rowNo, v := range variances {
		for colNo, value := range varianceRow(v) {
			cell, err := excelize.CoordinatesToCellName(colNo+1, rowNo+2)
			if err != nil {
				return nil, err
			}
			f.SetCellValue(sheetName, cell, value)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func varianceRow(v VarianceRecord) []string {
	lastDate := ""
	if v.LastEntryDate != nil {
		lastDate = v.LastEntryDate.UTC().Format(time.RFC3339)
	}
	return []string{
		v.ProductName,
		v.Sku,
		v.VariationName,
		v.LocationName,
		v.LedgerBalance.String(),
		v.SystemBalance.String(),
		v.Variance.String(),
		v.VariancePercentage.StringFixed(2),
		string(v.VarianceType),
		v.UnitCost.String(),
		v.VarianceValue.String(),
		lastDate,
		string(v.LastEntryType),
		fmt.Sprint(v.RequiresInvestigation),
		fmt.Sprint(v.AutoFixable),
	}
}
