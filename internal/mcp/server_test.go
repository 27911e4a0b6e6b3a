package mcp

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/autoaccept/internal/grouping"
	"github.com/ppiankov/autoaccept/internal/oplog"
	"github.com/ppiankov/autoaccept/internal/quota"
	"github.com/ppiankov/autoaccept/internal/refresh"
	"github.com/ppiankov/autoaccept/internal/rules"
	"github.com/ppiankov/autoaccept/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(Config{Version: "test"}, s, rules.New(rules.Lists{Allow: []string{"npm install"}, Deny: []string{"git push --force"}})), s
}

func TestCheckCommand(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		command  string
		approved bool
		rule     string
	}{
		{"rm -rf /", false, rules.TagHardcodedDeny},
		{"npm install lodash", true, rules.TagUserAllow},
		{"git push --force origin main", false, rules.TagUserDeny},
		{"ls -la", true, rules.TagDefaultAllow},
	}
	for _, tt := range tests {
		result, out, err := s.handleCheck(ctx, &mcpsdk.CallToolRequest{}, CheckInput{Command: tt.command})
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.command, err)
		}
		if result != nil && result.IsError {
			t.Fatalf("%s: unexpected error result", tt.command)
		}
		if out.Approved != tt.approved || out.MatchedRule != tt.rule {
			t.Errorf("%s: got approved=%v rule=%q", tt.command, out.Approved, out.MatchedRule)
		}
	}
}

func TestQuotaStatusWithoutData(t *testing.T) {
	s, _ := newTestServer(t)
	_, out, err := s.handleQuota(context.Background(), &mcpsdk.CallToolRequest{}, QuotaInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != "offline" || len(out.Groups) != 0 {
		t.Fatalf("out = %+v", out)
	}
}

func TestQuotaStatus(t *testing.T) {
	s, kv := newTestServer(t)
	ctx := context.Background()

	reset := time.Now().Add(3*time.Hour + 30*time.Second)
	snap := quota.Snapshot{
		AccountLevel:  "Pro",
		PromptCredits: &quota.PromptCredits{Available: 50, Monthly: 100, UsedPercentage: 50, RemainingPercentage: 50},
		Models: []quota.ModelQuota{
			{ModelID: "a", DisplayName: "A", RemainingFraction: 0.4, PercentUsed: 60, ResetTime: reset},
			{ModelID: "b", DisplayName: "B", RemainingFraction: 0.4, PercentUsed: 60, ResetTime: reset},
		},
	}
	groups := grouping.CreateGroups(snap.Models, grouping.Overrides{})
	if err := refresh.Save(ctx, kv, refresh.Cache{State: refresh.StateOK, UpdatedAt: time.Now(), Snapshot: &snap, Groups: groups}); err != nil {
		t.Fatal(err)
	}

	_, out, err := s.handleQuota(ctx, &mcpsdk.CallToolRequest{}, QuotaInput{IncludeModels: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.State != "ok" || out.AccountLevel != "Pro" || out.PromptCredits == nil {
		t.Fatalf("out = %+v", out)
	}
	if len(out.Groups) != 1 || out.Groups[0].PercentUsed != 60 || len(out.Groups[0].Models) != 2 {
		t.Fatalf("groups = %+v", out.Groups)
	}
	if out.Groups[0].ResetsIn != "3h 0m" {
		t.Errorf("resets in = %q", out.Groups[0].ResetsIn)
	}
}

func TestOperationLog(t *testing.T) {
	s, kv := newTestServer(t)
	ctx := context.Background()

	log, err := oplog.Load(ctx, kv, oplog.Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range []oplog.Entry{
		{Category: oplog.TerminalCommand, Outcome: oplog.Approved, Detail: "npm test"},
		{Category: oplog.Blocked, Outcome: oplog.OutcomeBlocked, Detail: "rm -rf /"},
		{Category: oplog.FileEdit, Outcome: oplog.Approved, Detail: "main.go"},
	} {
		if _, err := log.Append(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	_, out, err := s.handleOperations(ctx, &mcpsdk.CallToolRequest{}, OperationsInput{Limit: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Stats.Total != 3 || out.Stats.Blocked != 1 || len(out.Entries) != 1 || out.Entries[0].Detail != "main.go" {
		t.Fatalf("out = %+v", out)
	}

	_, out, err = s.handleOperations(ctx, &mcpsdk.CallToolRequest{}, OperationsInput{Outcome: "blocked"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Detail != "rm -rf /" {
		t.Fatalf("filtered = %+v", out.Entries)
	}

	result, _, err := s.handleOperations(ctx, &mcpsdk.CallToolRequest{}, OperationsInput{Outcome: "maybe"})
	if err != nil || result == nil || !result.IsError {
		t.Fatal("unknown outcome should be an error result")
	}
}
