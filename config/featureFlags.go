package config

import (
	"os"
	"strings"
)

// AutoFixDisabled globally disables the auto-fix write path. Detection and
// reporting keep working; only correction writes are refused.
//
// Set via env:
// - RECON_AUTOFIX_DISABLED=true
func AutoFixDisabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RECON_AUTOFIX_DISABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// LockProductsUnderInvestigation makes Investigate flag the product for the
// injected locker capability when findings fire.
//
// Set via env:
// - RECON_LOCK_INVESTIGATED_PRODUCTS=true
func LockProductsUnderInvestigation() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RECON_LOCK_INVESTIGATED_PRODUCTS")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
