package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/stockaudit_backend/config"
	"github.com/mmdatafocus/stockaudit_backend/middlewares"
	"github.com/mmdatafocus/stockaudit_backend/reconcile"
	"github.com/mmdatafocus/stockaudit_backend/store/mysql"
	"github.com/mmdatafocus/stockaudit_backend/utils"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func newEngine() *reconcile.Engine {
	db := config.GetDB()
	if db == nil {
		return nil
	}
	st := mysql.New(db)
	engine := reconcile.NewEngine(st, st, st, config.GetLogger())
	engine.AutoFixDisabled = config.AutoFixDisabled()
	if config.LockProductsUnderInvestigation() {
		engine.Locker = st
	}
	return engine
}

func requireUser(c *gin.Context) bool {
	if _, ok := utils.GetUsernameFromContext(c.Request.Context()); !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return false
	}
	return true
}

func optionalLocation(locationId int) *int {
	if locationId > 0 {
		return &locationId
	}
	return nil
}

// Sweeps hit every balance row, so the latest report per business is cached
// briefly for dashboards that poll. Auto-fix invalidates it.
const reportCacheTTL = 15 * time.Minute

func reportCacheKey(businessId string) string {
	return "ReconReport:" + businessId
}

func lastRunKey(businessId string) string {
	return "ReconLastRun:" + businessId
}

func cachedReport(businessId string) (*reconcile.ReconciliationReport, error) {
	var report reconcile.ReconciliationReport
	found, err := config.GetRedisObject(reportCacheKey(businessId), &report)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, utils.ErrorRecordNotFound
	}
	return &report, nil
}

func cacheReport(report *reconcile.ReconciliationReport) {
	logger := config.GetLogger()
	if err := config.SetRedisObject(reportCacheKey(report.BusinessId), report, reportCacheTTL); err != nil {
		config.LogError(logger, "server.go", "cacheReport", "SetRedisObject", report.BusinessId, err)
	}
	if err := config.SetRedisValue(lastRunKey(report.BusinessId), report.GeneratedAt.Format(time.RFC3339), 0); err != nil {
		config.LogError(logger, "server.go", "cacheReport", "SetRedisValue", report.BusinessId, err)
	}
}

type runReconciliationRequest struct {
	BusinessId string `json:"business_id" validate:"required"`
	LocationId int    `json:"location_id"`
}

func runReconciliationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		var req runReconciliationRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		engine := newEngine()
		if engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
		report, err := engine.RunReconciliation(ctx, req.BusinessId, optionalLocation(req.LocationId))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		cacheReport(report)

		if err := config.PublishReconciliationEvent(ctx, config.ReconciliationEvent{
			BusinessId:    req.BusinessId,
			RunType:       "reconciliation",
			CorrelationId: report.CorrelationId,
			LocationId:    optionalLocation(req.LocationId),
			VarianceCount: len(report.Variances),
			ErrorCount:    len(report.ReadErrors),
			GeneratedAt:   report.GeneratedAt,
		}); err != nil {
			config.LogError(config.GetLogger(), "server.go", "runReconciliationHandler", "PublishReconciliationEvent", req.BusinessId, err)
		}

		c.JSON(http.StatusOK, report)
	}
}

type autoFixRequest struct {
	BusinessId   string `json:"business_id" validate:"required"`
	LocationId   int    `json:"location_id"`
	VariationIds []int  `json:"variation_ids"`
}

func autoFixHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		var req autoFixRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		engine := newEngine()
		if engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}

		// One fixer per business at a time.
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
		lock, err := utils.BusinessLock(ctx, req.BusinessId, "autofix", 5*time.Minute, "server.go", "autoFixHandler")
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "another auto-fix run is in progress"})
			return
		}
		defer lock.Release(ctx)

		actor, _ := utils.GetUsernameFromContext(ctx)
		result, err := engine.AutoFix(ctx, req.BusinessId, actor, optionalLocation(req.LocationId), req.VariationIds)
		if err != nil {
			if errors.Is(err, reconcile.ErrAutoFixDisabled) {
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		// Corrections moved the balances; any cached report is stale now.
		if err := config.RemoveRedisKey(reportCacheKey(req.BusinessId)); err != nil {
			config.LogError(config.GetLogger(), "server.go", "autoFixHandler", "RemoveRedisKey", req.BusinessId, err)
		}

		if err := config.PublishReconciliationEvent(ctx, config.ReconciliationEvent{
			BusinessId:    req.BusinessId,
			RunType:       "autofix",
			CorrelationId: result.CorrelationId,
			LocationId:    optionalLocation(req.LocationId),
			FixedCount:    result.Fixed,
			ErrorCount:    len(result.Errors),
			GeneratedAt:   time.Now().UTC(),
		}); err != nil {
			config.LogError(config.GetLogger(), "server.go", "autoFixHandler", "PublishReconciliationEvent", req.BusinessId, err)
		}

		c.JSON(http.StatusOK, result)
	}
}

type investigateRequest struct {
	BusinessId  string `json:"business_id" validate:"required"`
	VariationId int    `json:"variation_id" validate:"required,gt=0"`
	LocationId  int    `json:"location_id" validate:"required,gt=0"`
	DaysBack    int    `json:"days_back"`
}

func investigateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		var req investigateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		engine := newEngine()
		if engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), req.BusinessId)
		result, err := engine.Investigate(ctx, req.BusinessId, req.VariationId, req.LocationId, req.DaysBack)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, result)
	}
}

func correctionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		businessId := strings.TrimSpace(c.Query("business_id"))
		variationId, _ := strconv.Atoi(c.Query("variation_id"))
		if businessId == "" || variationId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id and variation_id are required"})
			return
		}
		locationId, _ := strconv.Atoi(c.Query("location_id"))
		limit, _ := strconv.Atoi(c.Query("limit"))

		engine := newEngine()
		if engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}

		corrections, err := engine.CorrectionHistory(c.Request.Context(), businessId, variationId, optionalLocation(locationId), limit)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"business_id":  businessId,
			"variation_id": variationId,
			"corrections":  corrections,
		})
	}
}

func valuationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		businessId := strings.TrimSpace(c.Query("business_id"))
		variationId, _ := strconv.Atoi(c.Query("variation_id"))
		locationId, _ := strconv.Atoi(c.Query("location_id"))
		if businessId == "" || variationId <= 0 || locationId <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id, variation_id and location_id are required"})
			return
		}

		engine := newEngine()
		if engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}

		valuation, err := engine.Valuation(c.Request.Context(), businessId, variationId, locationId)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, valuation)
	}
}

// exportHandler streams the variance report as CSV or XLSX. With upload=true it
// also stores a copy in the report bucket.
func exportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		businessId := strings.TrimSpace(c.Query("business_id"))
		if businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}
		locationId, _ := strconv.Atoi(c.Query("location_id"))
		format := strings.ToLower(strings.TrimSpace(c.Query("format")))
		if format == "" {
			format = "csv"
		}
		if format != "csv" && format != "xlsx" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "format must be csv or xlsx"})
			return
		}

		engine := newEngine()
		if engine == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "db is nil"})
			return
		}

		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		report, err := engine.RunReconciliation(ctx, businessId, optionalLocation(locationId))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var data []byte
		contentType := ""
		switch format {
		case "csv":
			data = []byte(reconcile.ExportCSV(report.Variances))
			contentType = "text/csv"
		case "xlsx":
			data, err = reconcile.ExportXLSX(report.Variances)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		}

		if strings.EqualFold(c.Query("upload"), "true") {
			objectName := fmt.Sprintf("reconciliation/%s/%s.%s", businessId, report.CorrelationId, format)
			if err := utils.UploadReportToGCS(ctx, objectName, contentType, data); err != nil {
				logger := config.GetLogger()
				config.LogError(logger, "server.go", "exportHandler", "UploadReportToGCS", objectName, err)
			} else {
				c.Header("X-Report-URL", utils.BuildObjectAccessURL(objectName))
			}
		}

		c.Header("Content-Disposition", "attachment; filename=variance-report."+format)
		c.Data(http.StatusOK, contentType, data)
	}
}

// lastReportHandler serves the most recent cached sweep result without
// re-running it. 404 until a sweep has run (or after the cache expired).
func lastReportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !requireUser(c) {
			return
		}
		businessId := strings.TrimSpace(c.Query("business_id"))
		if businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "business_id is required"})
			return
		}

		report, err := cachedReport(businessId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no recent report; run a reconciliation first"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if lastRun, ok, _ := config.GetRedisValue(lastRunKey(businessId)); ok {
			c.Header("X-Last-Run", lastRun)
		}
		c.JSON(http.StatusOK, report)
	}
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until DB/Redis are ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate critical endpoints on dependency readiness.
		if config.GetDB() == nil || config.GetRedisDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true

	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
		limit := int64(600)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				limit = n
			}
		}
		windowSec := int64(60)
		if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				windowSec = n
			}
		}
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(middlewares.SessionMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	r.POST("/internal/reconcile/run", runReconciliationHandler())
	r.POST("/internal/reconcile/autofix", autoFixHandler())
	r.POST("/internal/reconcile/investigate", investigateHandler())
	r.GET("/internal/reconcile/last-report", lastReportHandler())
	r.GET("/internal/reconcile/corrections", correctionsHandler())
	r.GET("/internal/reconcile/valuation", valuationHandler())
	r.GET("/internal/reconcile/export", exportHandler())
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		if err := mysql.New(db).Migrate(); err != nil {
			logger.WithFields(logrus.Fields{"field": "migrations"}).Error("AutoMigrate failed: " + err.Error())
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Set the session isolation level to READ COMMITTED
	for attempt := 1; ; attempt++ {
		err := db.Exec("SET SESSION TRANSACTION ISOLATION LEVEL READ COMMITTED").Error
		if err == nil {
			break
		}
		sleep := time.Second * time.Duration(1<<min(attempt, 5))
		if sleep > 30*time.Second {
			sleep = 30 * time.Second
		}
		logger.WithFields(logrus.Fields{
			"field":   "database",
			"attempt": attempt,
		}).Warn("failed to set isolation level; retrying in " + sleep.String() + ": " + err.Error())
		time.Sleep(sleep)
	}

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
