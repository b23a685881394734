package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/stockaudit_backend/config"
	"github.com/mmdatafocus/stockaudit_backend/reconcile"
	"github.com/mmdatafocus/stockaudit_backend/store/mysql"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	variationID := flag.Int("variation-id", 0, "Required: variation id")
	locationID := flag.Int("location-id", 0, "Optional: location id")
	limit := flag.Int("limit", 50, "Maximum corrections to list")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || *variationID <= 0 {
		fmt.Fprintln(os.Stderr, "--business-id and --variation-id are required")
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

	corrections, err := engine.CorrectionHistory(context.Background(), *businessID, *variationID, location, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list corrections: %v\n", err)
		os.Exit(1)
	}

	for _, c := range corrections {
		fmt.Printf("%s  entry=%d location=%d delta=%s balance_after=%s by=%s batch=%s note=%q\n",
			c.EntryDate.Format(time.RFC3339), c.ID, c.LocationId,
			c.QtyDelta.String(), c.BalanceAfter.String(), c.CreatedBy, c.ReferenceId, c.Note)
	}
	fmt.Printf("%d corrections\n", len(corrections))
}
