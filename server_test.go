package main

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/mmdatafocus/stockaudit_backend/appctx"
	"github.com/mmdatafocus/stockaudit_backend/utils"
)

func TestCachedReportMissing(t *testing.T) {
	_, err := cachedReport("b7f3a1c0-0000-4000-8000-00000000dead")
	if !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("uncached business expected ErrorRecordNotFound, got %v", err)
	}
}

func TestLastReportHandler_NotFoundWhenUncached(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := appctx.Set(c.Request.Context(), appctx.ContextKeyUsername, "tester")
		c.Request = c.Request.WithContext(ctx)
	})
	r.GET("/internal/reconcile/last-report", lastReportHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/reconcile/last-report?business_id=b7f3a1c0-0000-4000-8000-00000000dead", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any sweep has run, got %d", w.Code)
	}
}

func TestLastReportHandler_RequiresBusinessId(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx := appctx.Set(c.Request.Context(), appctx.ContextKeyUsername, "tester")
		c.Request = c.Request.WithContext(ctx)
	})
	r.GET("/internal/reconcile/last-report", lastReportHandler())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/internal/reconcile/last-report", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without business_id, got %d", w.Code)
	}
}
