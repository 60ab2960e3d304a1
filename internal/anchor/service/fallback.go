package service

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/anchor/repository"
	"github.com/jmerrifield20/anchorkit/internal/events"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"go.uber.org/zap"
)

type anchorPayload struct {
	Anchor string `json:"anchor"`
}

// ConfigureFallback replaces the system-wide fallback configuration.
func (e *Engine) ConfigureFallback(ctx context.Context, call Call, cfg model.FallbackConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cfg.AnchorOrder = slices.Clone(cfg.AnchorOrder)
	_, err := e.mutate(ctx, call, KindConfigureFallback, cfg, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		if err := repository.PutFallbackConfig(o.tx, &cfg); err != nil {
			return "", err
		}
		o.emit(events.TypeFallbackConfigured, map[string]string{
			"anchors":           strings.Join(cfg.AnchorOrder, ","),
			"max_retries":       strconv.FormatUint(uint64(cfg.MaxRetries), 10),
			"failure_threshold": strconv.FormatUint(uint64(cfg.FailureThreshold), 10),
		})
		return strconv.Itoa(len(cfg.AnchorOrder)), nil
	})
	return err
}

// GetFallbackConfig returns the active configuration, or InvalidConfig when
// none has been set.
func (e *Engine) GetFallbackConfig(ctx context.Context) (*model.FallbackConfig, error) {
	var out *model.FallbackConfig
	err := e.view(ctx, func(r store.Reader) error {
		c, err := fallbackConfig(r)
		out = c
		return err
	})
	return out, err
}

func fallbackConfig(r store.Reader) (*model.FallbackConfig, error) {
	c, err := repository.GetFallbackConfig(r)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, model.Errorf(model.ErrInvalidConfig, "no fallback configuration")
	}
	return c, err
}

// RecordFailure counts one failure against anchor. The anchor is marked down
// once its count reaches the configured threshold. The count keeps growing
// until a success resets it.
func (e *Engine) RecordFailure(ctx context.Context, call Call, anchor string) (*model.AnchorFailureState, error) {
	if err := model.ValidateIdentity(anchor); err != nil {
		return nil, err
	}
	var out *model.AnchorFailureState
	_, err := e.mutate(ctx, call, KindRecordFailure, anchorPayload{Anchor: anchor}, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		cfg, err := fallbackConfig(o.tx)
		if err != nil {
			return "", err
		}
		st, err := repository.GetFailureState(o.tx, anchor)
		if err != nil {
			return "", err
		}
		wasDown := st.IsDown
		st.FailureCount++
		st.LastFailureAt = o.unix()
		st.IsDown = st.FailureCount >= cfg.FailureThreshold
		if err := repository.PutFailureState(o.tx, st, e.cfg.FailureStateTTL); err != nil {
			return "", err
		}
		o.emit(events.TypeAnchorFailure, map[string]string{
			"anchor":        anchor,
			"failure_count": strconv.FormatUint(uint64(st.FailureCount), 10),
		})
		if st.IsDown && !wasDown {
			o.emit(events.TypeAnchorDown, map[string]string{"anchor": anchor})
		}
		out = st
		return strconv.FormatUint(uint64(st.FailureCount), 10), nil
	})
	if err != nil {
		return nil, err
	}
	if out.IsDown {
		e.logger.Warn("anchor down", zap.String("anchor", anchor), zap.Uint32("failures", out.FailureCount))
	}
	return out, nil
}

// RecordSuccess clears the anchor's failure count and down flag
// unconditionally.
func (e *Engine) RecordSuccess(ctx context.Context, call Call, anchor string) (*model.AnchorFailureState, error) {
	if err := model.ValidateIdentity(anchor); err != nil {
		return nil, err
	}
	var out *model.AnchorFailureState
	_, err := e.mutate(ctx, call, KindRecordSuccess, anchorPayload{Anchor: anchor}, func(o *op) (string, error) {
		if err := e.requireAdmin(call); err != nil {
			return "", err
		}
		prev, err := repository.GetFailureState(o.tx, anchor)
		if err != nil {
			return "", err
		}
		st := &model.AnchorFailureState{Anchor: anchor}
		if err := repository.PutFailureState(o.tx, st, e.cfg.FailureStateTTL); err != nil {
			return "", err
		}
		if prev.IsDown {
			o.emit(events.TypeAnchorRecovered, map[string]string{"anchor": anchor})
		}
		out = st
		return "reset", nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetAnchorState returns the anchor's failure state; an anchor with no
// recorded failures has the zero state.
func (e *Engine) GetAnchorState(ctx context.Context, anchor string) (*model.AnchorFailureState, error) {
	var out *model.AnchorFailureState
	err := e.view(ctx, func(r store.Reader) error {
		st, err := repository.GetFailureState(r, anchor)
		out = st
		return err
	})
	return out, err
}

// SelectFallbackAnchor walks the configured order starting right after
// failed (or from the start when failed is empty), wrapping at most once,
// and returns the first anchor that is not down. failed is the last
// candidate of the walk, so it is returned only when every other anchor is
// down and it is not.
func (e *Engine) SelectFallbackAnchor(ctx context.Context, failed string) (string, error) {
	var chosen string
	err := e.view(ctx, func(r store.Reader) error {
		cfg, err := fallbackConfig(r)
		if err != nil {
			return err
		}
		chosen, err = selectAnchor(r, cfg.AnchorOrder, failed)
		return err
	})
	return chosen, err
}

func selectAnchor(r store.Reader, order []string, failed string) (string, error) {
	n := len(order)
	start := 0
	if i := slices.Index(order, failed); failed != "" && i >= 0 {
		start = i + 1
	}
	var down []string
	for k := 0; k < n; k++ {
		anchor := order[(start+k)%n]
		st, err := repository.GetFailureState(r, anchor)
		if err != nil {
			return "", err
		}
		if !st.IsDown {
			return anchor, nil
		}
		down = append(down, anchor)
	}
	return "", model.Errorf(model.ErrNoAnchorsAvailable, "all %d configured anchors are down: %s", n, strings.Join(down, ","))
}

// Probe checks an anchor's transport before a submission attempt. A non-nil
// error counts as an anchor failure.
type Probe func(ctx context.Context, anchor string) error

// anchorFault reports whether err is attributable to the anchor that was
// tried, so that rerouting to another anchor may succeed.
func anchorFault(err error) bool {
	d, ok := model.AsError(err)
	if !ok {
		return false
	}
	switch d.Code {
	case model.ErrUnauthorizedAttestor.Code,
		model.ErrAttestorNotRegistered.Code,
		model.ErrServicesNotConfigured.Code,
		model.ErrInvalidServiceType.Code,
		model.ErrInvalidAssetSymbol.Code,
		model.ErrInvalidSignature.Code:
		return true
	}
	return false
}

// SubmitQuoteWithFallback submits req through the fallback order. Each
// attempt selects the next available anchor, consults probe if given, and
// submits the quote with that anchor as issuer. Transport and
// anchor-attributable failures are recorded against the anchor and the next
// one is tried. MaxRetries counts retries after the first attempt, so a
// call makes at most 1+MaxRetries attempts; MaxRetries 0 still makes one.
// A single configured anchor that is not yet down is retried in place.
// Other errors are returned unchanged. The caller must be an admin.
func (e *Engine) SubmitQuoteWithFallback(ctx context.Context, call Call, req model.QuoteRequest, probe Probe) (*model.Quote, error) {
	if err := e.requireAdmin(call); err != nil {
		return nil, err
	}
	cfg, err := e.GetFallbackConfig(ctx)
	if err != nil {
		return nil, err
	}

	attempts := int(cfg.MaxRetries) + 1
	failed := ""
	for i := 0; i < attempts; i++ {
		anchor, err := e.SelectFallbackAnchor(ctx, failed)
		if err != nil {
			return nil, err
		}

		var attemptErr error
		if probe != nil {
			attemptErr = probe(ctx, anchor)
		}
		if attemptErr == nil {
			r := req
			r.Anchor = anchor
			q, err := e.SubmitQuote(ctx, call, r)
			if err == nil {
				return q, nil
			}
			if !anchorFault(err) {
				return nil, err
			}
			attemptErr = err
		}

		e.logger.Warn("anchor attempt failed",
			zap.String("anchor", anchor),
			zap.Int("attempt", i+1),
			zap.Error(attemptErr),
		)
		if _, err := e.RecordFailure(ctx, call, anchor); err != nil {
			return nil, err
		}
		failed = anchor
	}
	return nil, model.Errorf(model.ErrNoAnchorsAvailable, "%d attempts exhausted", attempts)
}
