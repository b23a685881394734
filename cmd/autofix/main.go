package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/stockaudit_backend/config"
	"github.com/mmdatafocus/stockaudit_backend/reconcile"
	"github.com/mmdatafocus/stockaudit_backend/store/mysql"
	"github.com/mmdatafocus/stockaudit_backend/utils"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	actor := flag.String("actor", "cli", "Recorded as the correction author")
	locationID := flag.Int("location-id", 0, "Optional: restrict the run to one location")
	variationIDs := flag.String("variation-ids", "", "Optional: comma separated variation ids to fix")
	dryRun := flag.Bool("dry-run", false, "Detect and list auto-fixable variances without writing corrections")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	var targets []int
	for _, part := range strings.Split(*variationIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid variation id %q\n", part)
			os.Exit(1)
		}
		targets = append(targets, id)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	st := mysql.New(db)
	engine := reconcile.NewEngine(st, st, st, logrus.New())
	engine.AutoFixDisabled = config.AutoFixDisabled()

	var location *int
	if *locationID > 0 {
		location = locationID
	}
	ctx := context.Background()

	if *dryRun {
		report, err := engine.RunReconciliation(ctx, *businessID, location)
		if err != nil {
			fmt.Fprintf(os.Stderr, "detection failed: %v\n", err)
			os.Exit(1)
		}
		for _, v := range report.Variances {
			if !v.AutoFixable {
				continue
			}
			fmt.Printf("would fix variation=%d location=%d variance=%s (%s)\n",
				v.VariationId, v.LocationId, v.Variance.String(), v.VarianceType)
		}
		fmt.Printf("dry run: %d of %d variances auto-fixable\n",
			report.Summary.AutoFixableCount, len(report.Variances))
		return
	}

	// One fixer per business at a time; corrections racing each other would
	// double-write.
	config.ConnectRedisWithRetry()
	lock, err := utils.BusinessLock(ctx, *businessID, "autofix", 5*time.Minute, "Cmd", "main")
	if err != nil {
		fmt.Fprintf(os.Stderr, "another auto-fix run holds the lock: %v\n", err)
		os.Exit(1)
	}
	defer lock.Release(ctx)

	result, err := engine.AutoFix(ctx, *businessID, *actor, location, targets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auto-fix failed: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))
	fmt.Printf("auto-fix complete: %d fixed, %d errors (batch %s)\n",
		result.Fixed, len(result.Errors), result.CorrelationId)
}
