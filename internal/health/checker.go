// Package health probes the endpoints of fallback anchors and feeds the
// results into the anchor failure counters.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/service"
	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	Concurrency   int

	// Actor is the admin identity failures and recoveries are recorded as.
	Actor string
}

// Anchors is the slice of the engine the checker drives. *service.Engine
// satisfies it.
type Anchors interface {
	GetFallbackConfig(ctx context.Context) (*model.FallbackConfig, error)
	GetEndpoint(ctx context.Context, attestor string) (*model.Endpoint, error)
	GetAnchorState(ctx context.Context, anchor string) (*model.AnchorFailureState, error)
	RecordFailure(ctx context.Context, call service.Call, anchor string) (*model.AnchorFailureState, error)
	RecordSuccess(ctx context.Context, call service.Call, anchor string) (*model.AnchorFailureState, error)
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// Checker runs periodic endpoint probes over the fallback order.
type Checker struct {
	anchors    Anchors
	httpClient *http.Client
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a Checker.
func New(anchors Anchors, cfg Config, logger *zap.Logger) *Checker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 10
	}
	return &Checker{
		anchors:    anchors,
		httpClient: &http.Client{Timeout: cfg.ProbeTimeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// SetMetricsRecord configures the metrics recording callback.
func (h *Checker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is cancelled.
func (h *Checker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, h.cfg.CheckInterval)
			h.CheckAll(runCtx)
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll probes every anchor in the fallback order that has an endpoint.
// A failed probe records a failure; a successful probe clears the anchor's
// counter only when there is something to clear, so healthy anchors do not
// grow the audit log.
func (h *Checker) CheckAll(ctx context.Context) {
	cfg, err := h.anchors.GetFallbackConfig(ctx)
	if err != nil {
		if errors.Is(err, model.ErrInvalidConfig) {
			h.logger.Debug("health: no fallback configuration")
			return
		}
		h.logger.Error("health: load fallback config", zap.Error(err))
		return
	}

	sem := make(chan struct{}, h.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, anchor := range cfg.AnchorOrder {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			h.check(ctx, anchor)
		}()
	}
	wg.Wait()
}

func (h *Checker) check(ctx context.Context, anchor string) {
	ep, err := h.anchors.GetEndpoint(ctx, anchor)
	if errors.Is(err, model.ErrEndpointNotFound) {
		return
	}
	if err != nil {
		h.logger.Warn("health: load endpoint", zap.String("anchor", anchor), zap.Error(err))
		return
	}

	probeErr := h.probeEndpoint(ctx, ep.URL)
	if h.onMetrics != nil {
		h.onMetrics(probeErr == nil)
	}
	call := service.Call{Caller: h.cfg.Actor}

	if probeErr != nil {
		st, err := h.anchors.RecordFailure(ctx, call, anchor)
		if err != nil {
			h.logger.Warn("health: record failure", zap.String("anchor", anchor), zap.Error(err))
			return
		}
		h.logger.Info("health: probe failed",
			zap.String("anchor", anchor),
			zap.Uint32("failure_count", st.FailureCount),
			zap.Bool("down", st.IsDown),
			zap.Error(probeErr),
		)
		return
	}

	st, err := h.anchors.GetAnchorState(ctx, anchor)
	if err != nil {
		h.logger.Warn("health: load anchor state", zap.String("anchor", anchor), zap.Error(err))
		return
	}
	if st.FailureCount == 0 && !st.IsDown {
		return
	}
	if _, err := h.anchors.RecordSuccess(ctx, call, anchor); err != nil {
		h.logger.Warn("health: record success", zap.String("anchor", anchor), zap.Error(err))
		return
	}
	if st.IsDown {
		h.logger.Info("health: recovered", zap.String("anchor", anchor))
	}
}

// Probe checks anchor's configured endpoint. An anchor without an endpoint
// passes. It has the shape of service.Probe so fallback submission can probe
// before each attempt.
func (h *Checker) Probe(ctx context.Context, anchor string) error {
	ep, err := h.anchors.GetEndpoint(ctx, anchor)
	if errors.Is(err, model.ErrEndpointNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return h.probeEndpoint(ctx, ep.URL)
}

// probeEndpoint attempts HEAD then GET and succeeds on any 2xx response.
func (h *Checker) probeEndpoint(ctx context.Context, endpoint string) error {
	status, err := h.do(ctx, http.MethodHead, endpoint)
	if err == nil && status >= 200 && status < 300 {
		return nil
	}

	status, err = h.do(ctx, http.MethodGet, endpoint)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("endpoint %s returned %d", endpoint, status)
	}
	return nil
}

func (h *Checker) do(ctx context.Context, method, endpoint string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return resp.StatusCode, nil
}
