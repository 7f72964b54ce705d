package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/nexconv/orchestrator"
	"github.com/yairfalse/nexconv/wal"
)

func cycleReturning(result *orchestrator.CycleResult, err error) CycleFunc {
	return func(ctx context.Context) (*orchestrator.CycleResult, error) {
		return result, err
	}
}

func TestNewDaemon_Validation(t *testing.T) {
	_, err := NewDaemon(Config{}, cycleReturning(nil, nil), nil)
	assert.Error(t, err)

	_, err = NewDaemon(Config{Interval: time.Second}, nil, nil)
	assert.Error(t, err)
}

func TestDaemon_RunsImmediatelyAndOnInterval(t *testing.T) {
	var calls atomic.Int64
	cycle := func(ctx context.Context) (*orchestrator.CycleResult, error) {
		calls.Add(1)
		return &orchestrator.CycleResult{Success: true, EndTime: time.Now()}, nil
	}

	d, err := NewDaemon(Config{Interval: 10 * time.Millisecond}, cycle, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
	assert.Equal(t, calls.Load(), d.CycleCount())
}

func TestDaemon_Health(t *testing.T) {
	tests := []struct {
		name   string
		result *orchestrator.CycleResult
		err    error
		want   string
	}{
		{name: "all converged", result: &orchestrator.CycleResult{Success: true}, want: StatusHealthy},
		{name: "some objects failed", result: &orchestrator.CycleResult{Failed: 2}, want: StatusDegraded},
		{name: "cycle aborted", result: &orchestrator.CycleResult{}, err: errors.New("manifest unreadable"), want: StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDaemon(Config{Interval: time.Hour}, cycleReturning(tt.result, tt.err), nil)
			require.NoError(t, err)
			assert.Equal(t, StatusStarting, d.Health().Status)

			d.runCycle(context.Background())

			health := d.Health()
			assert.Equal(t, tt.want, health.Status)
			assert.Equal(t, int64(1), health.Cycles)
			assert.Equal(t, tt.result.Failed, health.Failed)
		})
	}
}

func TestHandler_Healthz(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Hour}, cycleReturning(nil, fmt.Errorf("boom")), nil)
	require.NoError(t, err)
	d.runCycle(context.Background())

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var health HealthStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, StatusUnhealthy, health.Status)
	assert.Equal(t, "boom", health.Error)
}

func TestHandler_Metrics(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Hour}, cycleReturning(&orchestrator.CycleResult{Success: true}, nil), nil)
	require.NoError(t, err)

	w := httptest.NewRecorder()
	d.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDaemon_ServesHealthWhileRunning(t *testing.T) {
	d, err := NewDaemon(Config{Interval: time.Hour, MetricsAddr: "127.0.0.1:0"},
		cycleReturning(&orchestrator.CycleResult{Success: true}, nil), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	url := fmt.Sprintf("http://%s/healthz", d.Addr())
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		var health HealthStatus
		if json.NewDecoder(resp.Body).Decode(&health) != nil {
			return false
		}
		return health.Status == StatusHealthy
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestDaemon_PrunesJournal(t *testing.T) {
	dir := t.TempDir()
	expired := filepath.Join(dir, wal.FilePrefix+"-20240101-000000.000.wal")
	require.NoError(t, os.WriteFile(expired, []byte("{}\n"), 0o600))
	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(expired, old, old))

	d, err := NewDaemon(Config{Interval: time.Hour, JournalDir: dir, RetentionDays: 7},
		cycleReturning(&orchestrator.CycleResult{Success: true}, nil), nil)
	require.NoError(t, err)

	d.runCycle(context.Background())
	assert.NoFileExists(t, expired)
}
