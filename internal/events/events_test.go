package events_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/events"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

var ctx = context.Background()

func TestFanout_publishesToEverySink(t *testing.T) {
	a, b := &events.Recorder{}, &events.Recorder{}
	sink := events.Fanout{a, events.Nop{}, b, events.NewLog(zap.NewNop())}

	e := events.New(events.TypeAttestationSubmitted, time.Now(), map[string]string{"attestation_id": "1"})
	sink.Publish(ctx, e)

	for i, r := range []*events.Recorder{a, b} {
		got := r.Events()
		if len(got) != 1 || got[0].ID != e.ID {
			t.Errorf("recorder %d: got %+v", i, got)
		}
	}
	if e.ID == "" {
		t.Error("New should assign an id")
	}
}

func TestWebhook_signsAndFilters(t *testing.T) {
	const secret = "s3cr3t"
	var (
		mu     sync.Mutex
		bodies [][]byte
		sigs   []string
	)
	done := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, body)
		sigs = append(sigs, r.Header.Get(events.SignatureHeader))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
		done <- struct{}{}
	}))
	defer srv.Close()

	wh := events.NewWebhook([]events.Subscription{
		{URL: srv.URL, Secret: secret, Events: []string{events.TypeAnchorDown}},
	}, zap.NewNop())

	wh.Publish(ctx, events.New(events.TypeSessionCreated, time.Now(), nil))
	wh.Publish(ctx, events.New(events.TypeAnchorDown, time.Now(), map[string]string{"anchor": "A"}))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 1 {
		t.Fatalf("expected exactly one delivery, got %d", len(bodies))
	}
	if !events.VerifySignature(bodies[0], secret, sigs[0]) {
		t.Errorf("signature %q does not verify", sigs[0])
	}
	if events.VerifySignature(bodies[0], "wrong", sigs[0]) {
		t.Error("signature verified with wrong secret")
	}
}

func TestWebhook_retriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer srv.Close()

	var outcomes []bool
	var mu sync.Mutex
	wh := events.NewWebhook([]events.Subscription{{URL: srv.URL, Secret: "x"}}, zap.NewNop())
	wh.SetRetryDelays([]time.Duration{0, time.Millisecond, time.Millisecond})
	wh.SetMetricsRecorder(func(ok bool) {
		mu.Lock()
		outcomes = append(outcomes, ok)
		mu.Unlock()
	})

	wh.Publish(ctx, events.New(events.TypeAnchorDown, time.Now(), nil))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("third attempt never arrived")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

// ── Mongo ───────────────────────────────────────────────────────────────────

type stubInserter struct {
	mu   sync.Mutex
	docs []interface{}
	err  error
}

func (s *stubInserter) InsertOne(_ context.Context, doc interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	s.docs = append(s.docs, doc)
	return &mongo.InsertOneResult{}, nil
}

func TestMongo_indexesEveryEvent(t *testing.T) {
	coll := &stubInserter{}
	m := events.NewMongo(coll, 16, zap.NewNop())

	for i := 0; i < 5; i++ {
		m.Publish(ctx, events.New(events.TypeOperationLogged, time.Now(), nil))
	}
	m.Close()

	if len(coll.docs) != 5 {
		t.Errorf("indexed %d events, want 5", len(coll.docs))
	}
	if m.Dropped() != 0 {
		t.Errorf("dropped %d", m.Dropped())
	}
}

func TestMongo_insertErrorsDoNotStopWorker(t *testing.T) {
	coll := &stubInserter{err: errors.New("unavailable")}
	m := events.NewMongo(coll, 4, zap.NewNop())
	m.Publish(ctx, events.New(events.TypeOperationLogged, time.Now(), nil))
	m.Publish(ctx, events.New(events.TypeOperationLogged, time.Now(), nil))
	m.Close() // must return once the queue drains
}
