package main

import (
	"context"
	"testing"

	"aide/internal/config"
	"aide/internal/orchestrator"
	"aide/internal/perception"
	"aide/internal/tools"
)

type staticClient struct{}

func (staticClient) Chat(ctx context.Context, req perception.ChatRequest) (*perception.ChatResponse, error) {
	return &perception.ChatResponse{Text: "ok", StopReason: "stop"}, nil
}

func (staticClient) Model() string { return "static" }

func TestApplyConfigSwapsRunningStack(t *testing.T) {
	cfg := config.DefaultConfig()
	rt := &runtime{
		cfg:    cfg,
		reg:    tools.NewRegistry(),
		client: staticClient{},
	}
	rt.orch = orchestrator.New(rt.client, rt.reg, nil, orchestrator.Config{
		MaxTurns: cfg.Orchestrator.MaxTurns,
	})
	old := rt.orch

	fresh := config.DefaultConfig()
	fresh.Orchestrator.MaxTurns = 3
	fresh.Orchestrator.SystemPrompt = "be terse"
	rt.applyConfig(fresh)

	if rt.cfg != fresh {
		t.Error("reloaded config not stored")
	}
	if rt.orch == old {
		t.Error("orchestrator not rebuilt with the fresh settings")
	}

	// The rebuilt orchestrator still runs.
	result, err := rt.orch.Run(context.Background(), orchestrator.Request{Input: "ping"})
	if err != nil {
		t.Fatalf("Run failed after reload: %v", err)
	}
	if result.Text != "ok" {
		t.Errorf("text = %q", result.Text)
	}
}
