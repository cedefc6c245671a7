package main

import (
	"context"
	"testing"

	"github.com/pithecene-io/workernode/config"
	"github.com/pithecene-io/workernode/engine"
	"github.com/pithecene-io/workernode/types"
)

func TestBuildStoreDefaultsToNilWhenUnconfigured(t *testing.T) {
	store, err := buildStore(&config.Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store != nil {
		t.Fatalf("expected nil store, got %v", store)
	}
}

func TestBuildStoreFileBackend(t *testing.T) {
	cfg := &config.Config{Queue: config.QueueConfig{Backend: "file", Path: "/tmp/workernode-queue.json"}}
	store, err := buildStore(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store == nil {
		t.Fatal("expected a non-nil FileStore")
	}
}

func TestBuildStoreRedisBackendRequiresURL(t *testing.T) {
	cfg := &config.Config{Queue: config.QueueConfig{Backend: "redis"}}
	if _, err := buildStore(cfg); err == nil {
		t.Fatal("expected error when redis_url is missing")
	}
}

func TestBuildStoreUnknownBackendErrors(t *testing.T) {
	cfg := &config.Config{Queue: config.QueueConfig{Backend: "carrier-pigeon"}}
	if _, err := buildStore(cfg); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestWireCollaboratorsOnlyBuildsEnabledSections(t *testing.T) {
	cfg := &config.Config{
		Engine: config.EngineConfig{MaxConcurrent: 2},
		RuntimeEnvs: []config.RuntimeEnvConfig{
			{Name: "py311", Version: "3.11"},
		},
	}
	var deps engine.Deps
	if err := wireCollaborators(context.Background(), cfg, types.NodeInfo{NodeID: "n1"}, &deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if deps.RuntimeManager == nil {
		t.Error("expected RuntimeManager to always be set")
	}
	if deps.PluginRegistry == nil {
		t.Error("expected PluginRegistry to always be set")
	}
	if deps.FlowController == nil {
		t.Error("expected FlowController to always be set")
	}
	if deps.ProjectFetcher != nil {
		t.Error("expected ProjectFetcher to stay nil when fetcher.enabled is false")
	}
	if deps.ArtifactManager != nil {
		t.Error("expected ArtifactManager to stay nil when artifacts.enabled is false")
	}
	if deps.LogManagerFactory != nil {
		t.Error("expected LogManagerFactory to stay nil when logs.enabled is false")
	}
}

func TestWireCollaboratorsFetcherEnabled(t *testing.T) {
	cfg := &config.Config{
		Engine:  config.EngineConfig{MaxConcurrent: 1},
		Fetcher: config.FetcherConfig{Enabled: true, CacheDir: t.TempDir()},
	}
	var deps engine.Deps
	if err := wireCollaborators(context.Background(), cfg, types.NodeInfo{NodeID: "n1"}, &deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deps.ProjectFetcher == nil {
		t.Error("expected ProjectFetcher to be set when fetcher.enabled is true")
	}
}

func TestSchedulerQueueSizeScalesWithConcurrency(t *testing.T) {
	if got := schedulerQueueSize(4); got != 64 {
		t.Errorf("schedulerQueueSize(4) = %d, want 64", got)
	}
	if got := schedulerQueueSize(0); got != 16 {
		t.Errorf("schedulerQueueSize(0) = %d, want 16", got)
	}
}
