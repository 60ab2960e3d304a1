package main

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func TestAdminSetIncludesHealthActor(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("auth.admins", []string{"ops"})
	viper.Set("health.system_actor", "health-checker")
	got := adminSet()
	if !slices.Equal(got, []string{"ops", "health-checker"}) {
		t.Fatalf("adminSet = %v", got)
	}

	viper.Set("auth.admins", []string{"health-checker"})
	if got := adminSet(); len(got) != 1 {
		t.Fatalf("actor duplicated: %v", got)
	}
}

func TestOpenStore(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("store.driver", "memory")
	st, closeFn, err := openStore(context.Background(), zap.NewNop())
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	closeFn()
	if st == nil {
		t.Fatal("nil store")
	}

	viper.Set("store.driver", "pebble")
	viper.Set("store.pebble_path", t.TempDir())
	st, closeFn, err = openStore(context.Background(), zap.NewNop())
	if err != nil {
		t.Fatalf("pebble: %v", err)
	}
	closeFn()

	viper.Set("store.driver", "bolt")
	if _, _, err := openStore(context.Background(), zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestContainsWildcard(t *testing.T) {
	if !containsWildcard([]string{"https://a", " * "}) {
		t.Fatal("wildcard not detected")
	}
	if containsWildcard([]string{"https://a"}) {
		t.Fatal("false positive")
	}
}

func TestEngineConfigChecksStoreMaxTTL(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("anchor.failure_state_ttl", "24h")
	viper.Set("store.temporary_max_ttl", "720h")

	if _, err := engineConfig(); err == nil {
		t.Fatal("expected error without anchor.replay_window")
	}

	viper.Set("anchor.replay_window", "1h")
	cfg, err := engineConfig()
	if err != nil {
		t.Fatalf("valid config: %v", err)
	}
	if cfg.MaxTTL != 720*time.Hour {
		t.Errorf("MaxTTL = %s", cfg.MaxTTL)
	}

	viper.Set("anchor.replay_window", "1000h")
	if _, err := engineConfig(); err == nil || !strings.Contains(err.Error(), "anchor.replay_window") {
		t.Fatalf("replay window over max: %v", err)
	}

	viper.Set("anchor.replay_window", "1h")
	viper.Set("anchor.failure_state_ttl", "800h")
	if _, err := engineConfig(); err == nil || !strings.Contains(err.Error(), "anchor.failure_state_ttl") {
		t.Fatalf("failure state ttl over max: %v", err)
	}

	viper.Set("store.temporary_max_ttl", "0s")
	if _, err := engineConfig(); err != nil {
		t.Fatalf("unbounded store: %v", err)
	}
}
