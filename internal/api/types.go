package api

import (
	"github.com/clapcheck/clapcheck/internal/report"
)

// ValidateRequest is the JSON body for POST /api/v1/validate.
type ValidateRequest struct {
	// Paths are the library files or directories to validate.
	Paths []string `json:"paths"`
	// TestFilter keeps only test cases whose ID contains this substring.
	TestFilter string `json:"test_filter,omitempty"`
	// Timeout is the per-invocation deadline as a Go duration string, for
	// example "30s". Empty uses the server default.
	Timeout string `json:"timeout,omitempty"`
	// Workers bounds concurrent invocations. Zero means one per CPU.
	Workers int `json:"workers,omitempty"`
}

// ValidateResponse is returned by POST /api/v1/validate.
type ValidateResponse struct {
	Run   *report.Run  `json:"run"`
	Tally report.Tally `json:"tally"`
}

// TestCaseInfo describes one catalog entry for GET /api/v1/tests.
type TestCaseInfo struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	CatalogSize   int    `json:"catalog_size"`
}
