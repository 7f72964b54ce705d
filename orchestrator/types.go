package orchestrator

import (
	"context"
	"time"

	"github.com/yairfalse/nexconv/reconciler"
)

// CycleResult contains the results of one pass over a manifest
type CycleResult struct {
	ID        string              `json:"id"`
	StartTime time.Time           `json:"start_time"`
	EndTime   time.Time           `json:"end_time"`
	Duration  time.Duration       `json:"duration"`
	Entries   int                 `json:"entries"`
	Changed   int                 `json:"changed"`
	Unchanged int                 `json:"unchanged"`
	Failed    int                 `json:"failed"`
	Results   []reconciler.Result `json:"results"`
	Errors    []string            `json:"errors,omitempty"`
	Success   bool                `json:"success"`
}

// Converger converges a single object.
type Converger interface {
	Converge(ctx context.Context, req reconciler.Request) (*reconciler.Result, error)
}
