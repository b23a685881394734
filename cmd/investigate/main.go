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
	variationID := flag.Int("variation-id", 0, "Required: variation id")
	locationID := flag.Int("location-id", 0, "Required: location id")
	daysBack := flag.Int("days-back", reconcile.DefaultLookbackDays, "History window in days")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || *variationID <= 0 || *locationID <= 0 {
		fmt.Fprintln(os.Stderr, "--business-id, --variation-id and --location-id are required")
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
	if config.LockProductsUnderInvestigation() {
		engine.Locker = st
	}

	result, err := engine.Investigate(context.Background(), *businessID, *variationID, *locationID, *daysBack)
	if err != nil {
		fmt.Fprintf(os.Stderr, "investigation failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
}
