package service_test

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/jmerrifield20/anchorkit/internal/anchor/model"
	"github.com/jmerrifield20/anchorkit/internal/events"
)

func (h *harness) configureFallback(t *testing.T, order []string, retries, threshold uint32) {
	t.Helper()
	cfg := model.FallbackConfig{AnchorOrder: order, MaxRetries: retries, FailureThreshold: threshold}
	if err := h.eng.ConfigureFallback(ctx, admin, cfg); err != nil {
		t.Fatalf("ConfigureFallback: %v", err)
	}
}

func (h *harness) fail(t *testing.T, anchor string) *model.AnchorFailureState {
	t.Helper()
	st, err := h.eng.RecordFailure(ctx, admin, anchor)
	if err != nil {
		t.Fatalf("RecordFailure(%s): %v", anchor, err)
	}
	return st
}

func (h *harness) selectAnchor(t *testing.T, failed string) string {
	t.Helper()
	a, err := h.eng.SelectFallbackAnchor(ctx, failed)
	if err != nil {
		t.Fatalf("SelectFallbackAnchor(%q): %v", failed, err)
	}
	return a
}

func TestFallback_determinism(t *testing.T) {
	h := newHarness(t)
	h.configureFallback(t, []string{"A", "B", "C"}, 2, 2)

	if st := h.fail(t, "A"); st.IsDown {
		t.Fatal("A down after one failure with threshold 2")
	}
	if st := h.fail(t, "A"); !st.IsDown || st.FailureCount != 2 {
		t.Fatalf("A after two failures: %+v", st)
	}

	if got := h.selectAnchor(t, ""); got != "B" {
		t.Errorf("select(None) = %s, want B", got)
	}
	if _, err := h.eng.RecordSuccess(ctx, admin, "B"); err != nil {
		t.Fatal(err)
	}
	if got := h.selectAnchor(t, "B"); got != "C" {
		t.Errorf("select(B) = %s, want C", got)
	}
	// A is down, so wrapping past it lands on B.
	if got := h.selectAnchor(t, "C"); got != "B" {
		t.Errorf("select(C) with A down = %s, want B", got)
	}

	if _, err := h.eng.RecordSuccess(ctx, admin, "A"); err != nil {
		t.Fatal(err)
	}
	if got := h.selectAnchor(t, "C"); got != "A" {
		t.Errorf("select(C) with A up = %s, want A", got)
	}
	st, _ := h.eng.GetAnchorState(ctx, "A")
	if st.IsDown || st.FailureCount != 0 {
		t.Errorf("success must fully reset: %+v", st)
	}
}

func TestFallback_scenarioThresholdOne(t *testing.T) {
	h := newHarness(t)
	h.configureFallback(t, []string{"A", "B"}, 1, 1)

	h.fail(t, "A")
	if got := h.selectAnchor(t, ""); got != "B" {
		t.Errorf("select(None) = %s, want B", got)
	}
}

func TestFallback_errors(t *testing.T) {
	h := newHarness(t)

	_, err := h.eng.SelectFallbackAnchor(ctx, "")
	wantErr(t, err, model.ErrInvalidConfig)
	_, err = h.eng.RecordFailure(ctx, admin, "A")
	wantErr(t, err, model.ErrInvalidConfig)

	for _, cfg := range []model.FallbackConfig{
		{AnchorOrder: nil, FailureThreshold: 1},
		{AnchorOrder: []string{"A", "A"}, FailureThreshold: 1},
		{AnchorOrder: []string{"A"}, FailureThreshold: 0},
	} {
		wantErr(t, h.eng.ConfigureFallback(ctx, admin, cfg), model.ErrInvalidConfig)
	}
	err = h.eng.ConfigureFallback(ctx, as("A"), model.FallbackConfig{AnchorOrder: []string{"A"}, FailureThreshold: 1})
	wantErr(t, err, model.ErrUnauthorized)

	h.configureFallback(t, []string{"A", "B"}, 0, 1)
	h.fail(t, "A")
	h.fail(t, "B")
	_, err = h.eng.SelectFallbackAnchor(ctx, "")
	wantErr(t, err, model.ErrNoAnchorsAvailable)

	// The failed anchor ends the walk: it is chosen when it is the only one
	// up.
	if _, err := h.eng.RecordSuccess(ctx, admin, "A"); err != nil {
		t.Fatal(err)
	}
	if got := h.selectAnchor(t, "A"); got != "A" {
		t.Errorf("select(A) with only A up = %s, want A", got)
	}
}

func TestFallback_singleAnchorIsRetried(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", model.ServiceQuotes)
	h.configureFallback(t, []string{"A"}, 2, 3)

	if got := h.selectAnchor(t, "A"); got != "A" {
		t.Fatalf("select(A) with A up = %s, want A", got)
	}

	calls := 0
	flaky := func(context.Context, string) error {
		calls++
		if calls == 1 {
			return errors.New("connection reset")
		}
		return nil
	}
	q, err := h.eng.SubmitQuoteWithFallback(ctx, admin, quote("", 9_000, 0), flaky)
	if err != nil {
		t.Fatalf("SubmitQuoteWithFallback: %v", err)
	}
	if q.Anchor != "A" || calls != 2 {
		t.Errorf("served by %s after %d probes, want A after 2", q.Anchor, calls)
	}
	st, _ := h.eng.GetAnchorState(ctx, "A")
	if st.IsDown || st.FailureCount != 1 {
		t.Errorf("A state %+v, want one failure and up", st)
	}
}

func TestFallback_exhaustionNamesDownAnchors(t *testing.T) {
	h := newHarness(t)
	h.configureFallback(t, []string{"A", "B"}, 0, 1)
	h.fail(t, "A")
	h.fail(t, "B")

	_, err := h.eng.SelectFallbackAnchor(ctx, "A")
	wantErr(t, err, model.ErrNoAnchorsAvailable)
	if !strings.Contains(err.Error(), "B,A") {
		t.Errorf("error %q does not name the down anchors in walk order", err)
	}
}

func TestFallback_downAndRecoveredEvents(t *testing.T) {
	h := newHarness(t)
	h.configureFallback(t, []string{"A"}, 0, 1)
	h.events.Reset()

	h.fail(t, "A")
	h.fail(t, "A")
	if _, err := h.eng.RecordSuccess(ctx, admin, "A"); err != nil {
		t.Fatal(err)
	}

	var got []string
	for _, typ := range h.events.Types() {
		if typ != events.TypeOperationLogged {
			got = append(got, typ)
		}
	}
	want := []string{events.TypeAnchorFailure, events.TypeAnchorDown, events.TypeAnchorFailure, events.TypeAnchorRecovered}
	if !slices.Equal(got, want) {
		t.Errorf("events: got %v, want %v", got, want)
	}
}

func TestSubmitQuoteWithFallback_reroutes(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", model.ServiceDeposits) // cannot quote
	h.register(t, "B", model.ServiceQuotes)
	h.register(t, "C", model.ServiceQuotes)
	h.configureFallback(t, []string{"A", "B", "C"}, 2, 1)

	var probed []string
	probe := func(_ context.Context, anchor string) error {
		probed = append(probed, anchor)
		if anchor == "B" {
			return errors.New("connection refused")
		}
		return nil
	}

	q, err := h.eng.SubmitQuoteWithFallback(ctx, admin, quote("", 9_000, 0), probe)
	if err != nil {
		t.Fatalf("SubmitQuoteWithFallback: %v", err)
	}
	if q.Anchor != "C" {
		t.Errorf("served by %s, want C", q.Anchor)
	}
	if !slices.Equal(probed, []string{"A", "B", "C"}) {
		t.Errorf("probed %v", probed)
	}
	for _, a := range []string{"A", "B"} {
		st, _ := h.eng.GetAnchorState(ctx, a)
		if !st.IsDown {
			t.Errorf("%s not marked down", a)
		}
	}

	// Next time the down anchors are skipped without probing.
	probed = nil
	q, err = h.eng.SubmitQuoteWithFallback(ctx, admin, quote("", 9_100, 0), probe)
	if err != nil || q.Anchor != "C" {
		t.Fatalf("second submission: %+v, %v", q, err)
	}
	if !slices.Equal(probed, []string{"C"}) {
		t.Errorf("probed %v, want [C]", probed)
	}
}

func TestSubmitQuoteWithFallback_exhaustion(t *testing.T) {
	h := newHarness(t)
	for _, a := range []string{"A", "B", "C"} {
		h.register(t, a, model.ServiceQuotes)
	}
	h.configureFallback(t, []string{"A", "B", "C"}, 1, 5)

	attempts := 0
	down := func(context.Context, string) error { attempts++; return errors.New("timeout") }

	_, err := h.eng.SubmitQuoteWithFallback(ctx, admin, quote("", 9_000, 0), down)
	wantErr(t, err, model.ErrNoAnchorsAvailable)
	if attempts != 2 {
		t.Errorf("attempts: got %d, want 1+max_retries=2", attempts)
	}
	stC, _ := h.eng.GetAnchorState(ctx, "C")
	if stC.FailureCount != 0 {
		t.Error("C was tried beyond the retry budget")
	}
}

func TestSubmitQuoteWithFallback_propagatesCallerErrors(t *testing.T) {
	h := newHarness(t)
	h.register(t, "A", model.ServiceQuotes)
	h.configureFallback(t, []string{"A"}, 3, 1)

	bad := quote("", 0, 0)
	_, err := h.eng.SubmitQuoteWithFallback(ctx, admin, bad, nil)
	wantErr(t, err, model.ErrInvalidQuoteParameters)
	st, _ := h.eng.GetAnchorState(ctx, "A")
	if st.FailureCount != 0 {
		t.Error("caller error was charged to the anchor")
	}

	_, err = h.eng.SubmitQuoteWithFallback(ctx, as("A"), quote("", 9_000, 0), nil)
	wantErr(t, err, model.ErrUnauthorized)
}
