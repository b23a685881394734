package reconcile

import (
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func sampleVariances() []VarianceRecord {
	lastDate := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	return []VarianceRecord{
		{
			ProductName:           `Widget "Deluxe", Large`,
			Sku:                   "WD-001",
			VariationName:         "Red",
			LocationName:          "Main Store",
			LedgerBalance:         decimal.NewFromInt(100),
			SystemBalance:         decimal.NewFromInt(108),
			Variance:              decimal.NewFromInt(8),
			VariancePercentage:    decimal.NewFromInt(8),
			UnitCost:              decimal.NewFromInt(50),
			VarianceValue:         decimal.NewFromInt(400),
			VarianceType:          VarianceTypeOverage,
			LastEntryDate:         &lastDate,
			LastEntryType:         MovementTypeSale,
			RequiresInvestigation: true,
		},
		{
			ProductName:        "Gadget",
			Sku:                "GA-002",
			VariationName:      "Standard",
			LocationName:       "Warehouse",
			LedgerBalance:      decimal.NewFromInt(50),
			SystemBalance:      decimal.NewFromInt(47),
			Variance:           decimal.NewFromInt(-3),
			VariancePercentage: decimal.NewFromInt(6),
			UnitCost:           decimal.NewFromInt(10),
			VarianceValue:      decimal.NewFromInt(-30),
			VarianceType:       VarianceTypeShortage,
			AutoFixable:        true,
		},
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize(sampleVariances())

	if summary.TotalVariances != 2 {
		t.Fatalf("total expected 2, got %d", summary.TotalVariances)
	}
	if summary.OverageCount != 1 || summary.ShortageCount != 1 || summary.MatchCount != 0 {
		t.Fatalf("counts wrong: %+v", summary)
	}
	if summary.TotalVarianceValue.String() != "430" {
		t.Fatalf("total value expected 430 (absolute sums), got %s", summary.TotalVarianceValue)
	}
	if summary.OverageValue.String() != "400" || summary.ShortageValue.String() != "30" {
		t.Fatalf("per-type values wrong: %+v", summary)
	}
	if summary.RequiresInvestigationCount != 1 || summary.AutoFixableCount != 1 {
		t.Fatalf("flag counts wrong: %+v", summary)
	}
}

func TestSummarize_Empty(t *testing.T) {
	summary := Summarize(nil)
	if summary.TotalVariances != 0 || !summary.TotalVarianceValue.IsZero() {
		t.Fatalf("empty input must summarize to zeros, got %+v", summary)
	}
}

func TestExportCSV_RoundTripsThroughStandardReader(t *testing.T) {
	out := ExportCSV(sampleVariances())

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("output must parse as CSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header + 2 rows, got %d", len(records))
	}
	if len(records[0]) != 15 {
		t.Fatalf("expected 15 columns, got %d", len(records[0]))
	}
	if records[0][0] != "Product Name" || records[0][14] != "Auto Fixable" {
		t.Fatalf("unexpected header: %v", records[0])
	}

	row := records[1]
	if row[0] != `Widget "Deluxe", Large` {
		t.Fatalf("quotes and commas must survive the round trip, got %q", row[0])
	}
	if row[4] != "100" || row[5] != "108" || row[6] != "8" {
		t.Fatalf("balance columns wrong: %v", row[4:7])
	}
	if row[7] != "8.00" {
		t.Fatalf("percentage expected 8.00, got %q", row[7])
	}
	if row[8] != "overage" || row[13] != "true" || row[14] != "false" {
		t.Fatalf("flag columns wrong: type=%q inv=%q fix=%q", row[8], row[13], row[14])
	}
	if row[11] != "2026-03-15T10:00:00Z" {
		t.Fatalf("last transaction date expected RFC3339, got %q", row[11])
	}

	if records[2][11] != "" {
		t.Fatalf("missing last entry date must render empty, got %q", records[2][11])
	}
}

func TestExportCSV_EveryFieldIsQuoted(t *testing.T) {
	out := ExportCSV(sampleVariances()[:1])

	for i, line := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
		if !strings.HasPrefix(line, `"`) || !strings.HasSuffix(line, `"`) {
			t.Fatalf("line %d not fully quoted: %q", i, line)
		}
	}
}

func TestExportCSV_HeaderOnlyForEmptyInput(t *testing.T) {
	out := ExportCSV(nil)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected header only, got %d lines", len(lines))
	}
}

func TestExportXLSX_ProducesWorkbook(t *testing.T) {
	data, err := ExportXLSX(sampleVariances())
	if err != nil {
		t.Fatalf("ExportXLSX: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty workbook")
	}
	// XLSX is a zip container.
	if data[0] != 'P' || data[1] != 'K' {
		t.Fatalf("expected zip magic, got %v", data[:2])
	}
}
