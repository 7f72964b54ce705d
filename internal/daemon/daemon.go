// Package daemon re-runs convergence on an interval and serves
// /metrics and /healthz while it does.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/nexconv/orchestrator"
	"github.com/yairfalse/nexconv/telemetry"
	"github.com/yairfalse/nexconv/wal"
)

// Config holds daemon configuration
type Config struct {
	Interval      time.Duration
	MetricsAddr   string // empty disables the HTTP server
	JournalDir    string // journal files older than RetentionDays are pruned
	RetentionDays int
}

// CycleFunc runs one convergence pass.
type CycleFunc func(ctx context.Context) (*orchestrator.CycleResult, error)

// Daemon manages continuous convergence
type Daemon struct {
	cfg       Config
	cycle     CycleFunc
	metrics   *DaemonMetrics
	logger    *telemetry.Logger
	startTime time.Time

	cycleCount atomic.Int64
	mu         sync.Mutex
	last       *orchestrator.CycleResult
	lastErr    error

	listening chan net.Addr
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config, cycle CycleFunc, logger *telemetry.Logger) (*Daemon, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("daemon interval must be positive, got %s", cfg.Interval)
	}
	if cycle == nil {
		return nil, fmt.Errorf("daemon needs a cycle function")
	}
	if logger == nil {
		logger = telemetry.Nop()
	}
	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create daemon metrics: %w", err)
	}
	return &Daemon{
		cfg:       cfg,
		cycle:     cycle,
		metrics:   metrics,
		logger:    logger,
		startTime: time.Now(),
		listening: make(chan net.Addr, 1),
	}, nil
}

// Run blocks until ctx ends or SIGINT/SIGTERM arrives. A clean
// shutdown returns nil.
func (d *Daemon) Run(ctx context.Context) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	loopCtx, cancelLoop := context.WithCancel(ctx)
	g.Add(func() error {
		return d.loop(loopCtx)
	}, func(error) {
		cancelLoop()
	})

	if d.cfg.MetricsAddr != "" {
		ln, err := net.Listen("tcp", d.cfg.MetricsAddr)
		if err != nil {
			cancelLoop()
			return fmt.Errorf("failed to listen on %s: %w", d.cfg.MetricsAddr, err)
		}
		server := &http.Server{Handler: d.Handler(), ReadHeaderTimeout: 5 * time.Second}
		select {
		case d.listening <- ln.Addr():
		default:
		}

		g.Add(func() error {
			d.logger.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		})
	}

	err := g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		d.logger.Info().Str("signal", sigErr.Signal.String()).Msg("shutting down")
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Addr blocks until the metrics server is listening and returns its address.
func (d *Daemon) Addr() net.Addr {
	addr := <-d.listening
	d.listening <- addr
	return addr
}

func (d *Daemon) loop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	d.cycleCount.Add(1)

	result, err := d.cycle(ctx)

	d.mu.Lock()
	d.last, d.lastErr = result, err
	d.mu.Unlock()

	status := "success"
	switch {
	case err != nil:
		status = "error"
		d.logger.WithContext(ctx).Error().Err(err).Msg("convergence cycle failed")
	case result != nil && !result.Success:
		status = "partial"
	}

	if result != nil {
		d.metrics.RecordCycle(ctx, status, result.Duration, result.Changed, result.Unchanged, result.Failed)
	}

	if d.cfg.JournalDir != "" {
		stats, err := wal.Cleanup(d.cfg.JournalDir, wal.RetentionConfig{RetentionDays: d.cfg.RetentionDays})
		if err != nil {
			d.logger.Warn().Err(err).Msg("journal cleanup failed")
		} else if stats.FilesRemoved > 0 {
			d.logger.Info().
				Int("files", stats.FilesRemoved).
				Int64("bytes", stats.BytesFreed).
				Msg("pruned journal files")
		}
	}
}

// Handler serves /metrics and /healthz.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	if telemetry.PrometheusRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(telemetry.PrometheusRegistry, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := d.Health()
		w.Header().Set("Content-Type", "application/json")
		if health.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
	return mux
}

// Health statuses.
const (
	StatusStarting  = "starting"
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents daemon health
type HealthStatus struct {
	Status      string    `json:"status"`
	Uptime      int64     `json:"uptime_seconds"`
	Cycles      int64     `json:"cycles"`
	LastCycle   string    `json:"last_cycle,omitempty"`
	LastCycleAt time.Time `json:"last_cycle_at,omitempty"`
	Failed      int       `json:"failed_objects"`
	Error       string    `json:"error,omitempty"`
}

// Health reports on the last cycle: degraded when some objects failed,
// unhealthy when the cycle itself could not run.
func (d *Daemon) Health() HealthStatus {
	d.mu.Lock()
	last, lastErr := d.last, d.lastErr
	d.mu.Unlock()

	health := HealthStatus{
		Status: StatusStarting,
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Cycles: d.cycleCount.Load(),
	}
	if last != nil {
		health.LastCycle = last.ID
		health.LastCycleAt = last.EndTime
		health.Failed = last.Failed
	}

	switch {
	case lastErr != nil:
		health.Status = StatusUnhealthy
		health.Error = lastErr.Error()
	case last == nil:
	case last.Success:
		health.Status = StatusHealthy
	default:
		health.Status = StatusDegraded
	}
	return health
}

// CycleCount returns total cycles run
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}
