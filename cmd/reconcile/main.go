package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/stockaudit_backend/config"
	"github.com/mmdatafocus/stockaudit_backend/reconcile"
	"github.com/mmdatafocus/stockaudit_backend/store/mysql"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	locationID := flag.Int("location-id", 0, "Optional: restrict the sweep to one location")
	csvPath := flag.String("csv", "", "Optional: write the variance report as CSV to this path")
	xlsxPath := flag.String("xlsx", "", "Optional: write the variance report as XLSX to this path")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	st := mysql.New(db)
	engine := reconcile.NewEngine(st, st, st, logrus.New())

	var location *int
	if *locationID > 0 {
		location = locationID
	}

	report, err := engine.RunReconciliation(context.Background(), *businessID, location)
	if err != nil {
		fmt.Fprintf(os.Stderr, "reconciliation failed: %v\n", err)
		os.Exit(1)
	}

	if *csvPath != "" {
		if err := os.WriteFile(*csvPath, []byte(reconcile.ExportCSV(report.Variances)), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "write csv: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *csvPath)
	}
	if *xlsxPath != "" {
		data, err := reconcile.ExportXLSX(report.Variances)
		if err != nil {
			fmt.Fprintf(os.Stderr, "render xlsx: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*xlsxPath, data, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "write xlsx: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %s\n", *xlsxPath)
	}

	out, _ := json.MarshalIndent(report.Summary, "", "  ")
	fmt.Println(string(out))
	fmt.Printf("reconciliation complete: %d variances, %d read errors (correlation %s)\n",
		len(report.Variances), len(report.ReadErrors), report.CorrelationId)
}
