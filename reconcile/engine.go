package reconcile

import (
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer trace.Tracer = otel.Tracer("stockaudit-reconcile")

// Engine is the ledger reconciliation and costing core. It talks to storage
// only through the injected repositories, so it carries no compile-time
// dependency on any particular store.
type Engine struct {
	Ledger LedgerRepository
	Stock  StockRepository
	Audit  AuditLogWriter

	// Locker is optional; when nil, product locking is skipped.
	Locker ProductLocker

	Thresholds Thresholds
	Logger     *logrus.Logger

	// AutoFixDisabled refuses correction writes while leaving detection and
	// reporting untouched.
	AutoFixDisabled bool
}

func NewEngine(ledger LedgerRepository, stock StockRepository, audit AuditLogWriter, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{
		Ledger:     ledger,
		Stock:      stock,
		Audit:      audit,
		Thresholds: ThresholdsFromEnv(),
		Logger:     logger,
	}
}
