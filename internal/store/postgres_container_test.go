//go:build container
// +build container

package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/anchorkit/internal/store"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "anchorkit",
			"POSTGRES_PASSWORD": "anchorkit",
			"POSTGRES_DB":       "anchorkit",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pg, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	host, err := pg.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	port, err := pg.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatal(err)
	}

	url := fmt.Sprintf("postgres://anchorkit:anchorkit@%s:%s/anchorkit?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)

	if _, err := store.Migrate(ctx, pool, zap.NewNop()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return pool
}

func TestPostgres_conformance(t *testing.T) {
	pool := startPostgres(t)
	s := store.NewPostgres(pool, store.Options{}, zap.NewNop())

	if err := s.Update(ctx, t0, func(tx store.Tx) error {
		if err := tx.Put(store.TierPersistent, "attestor/A", []byte("a"), 0); err != nil {
			return err
		}
		return tx.Put(store.TierTemporary, "sentinel/x", []byte("1"), time.Minute)
	}); err != nil {
		t.Fatal(err)
	}

	if v, err := get(t, s, t0, store.TierPersistent, "attestor/A"); err != nil || string(v) != "a" {
		t.Errorf("persistent get: %q, %v", v, err)
	}
	if _, err := get(t, s, t0.Add(time.Minute), store.TierTemporary, "sentinel/x"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected expiry, got %v", err)
	}

	boom := errors.New("boom")
	err := s.Update(ctx, t0, func(tx store.Tx) error {
		_ = tx.Put(store.TierPersistent, "leak", []byte("x"), 0)
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := get(t, s, t0, store.TierPersistent, "leak"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("rolled-back write visible: %v", err)
	}

	n, err := s.Sweep(ctx, t0.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Sweep removed %d, want 1", n)
	}

	// Migrations are idempotent.
	if applied, err := store.Migrate(ctx, pool, zap.NewNop()); err != nil || applied != 0 {
		t.Errorf("second Migrate: applied=%d err=%v", applied, err)
	}
}
