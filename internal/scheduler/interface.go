package scheduler

import (
	"context"

	"github.com/clapcheck/clapcheck/internal/report"
)

//go:generate mockgen -destination=mocks/mock_runner.go -package=mocks github.com/clapcheck/clapcheck/internal/scheduler Runner

// Runner executes one invocation and always yields exactly one result.
// Runner-level trouble folds into Crash or Timeout outcomes, never errors;
// the scheduler has nothing sensible to do with an error mid-run.
type Runner interface {
	Run(ctx context.Context, inv report.Invocation) report.TestResult
}
