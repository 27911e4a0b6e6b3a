package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/autoaccept/internal/oplog"
	"github.com/ppiankov/autoaccept/internal/quota"
	"github.com/ppiankov/autoaccept/internal/refresh"
	"github.com/ppiankov/autoaccept/internal/rules"
	"github.com/ppiankov/autoaccept/internal/store"
)

const defaultOperationLimit = 20

// --- Input/Output types ---

// QuotaInput defines parameters for the quota_status tool.
type QuotaInput struct {
	IncludeModels bool `json:"include_models,omitempty" jsonschema:"include per-model rows under each group"`
}

// GroupSummary is one quota pool in tool output.
type GroupSummary struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	PercentUsed int          `json:"percent_used"`
	ResetsIn    string       `json:"resets_in,omitempty"`
	Pinned      bool         `json:"pinned,omitempty"`
	Models      []ModelEntry `json:"models,omitempty"`
}

// ModelEntry is one model row in tool output.
type ModelEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PercentUsed int    `json:"percent_used"`
	ResetsIn    string `json:"resets_in"`
}

// QuotaOutput contains the cached quota view.
type QuotaOutput struct {
	State         string               `json:"state"`
	Error         string               `json:"error,omitempty"`
	UpdatedAt     string               `json:"updated_at,omitempty"`
	AccountLevel  string               `json:"account_level,omitempty"`
	PromptCredits *quota.PromptCredits `json:"prompt_credits,omitempty"`
	Groups        []GroupSummary       `json:"groups"`
}

// OperationsInput defines parameters for the operation_log tool.
type OperationsInput struct {
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum entries to return (default 20)"`
	Outcome string `json:"outcome,omitempty" jsonschema:"only entries with this outcome (approved/blocked/manual)"`
}

// OperationsOutput contains recent log entries and totals.
type OperationsOutput struct {
	Stats   oplog.Stats   `json:"stats"`
	Entries []oplog.Entry `json:"entries"`
}

// CheckInput defines parameters for the check_command tool.
type CheckInput struct {
	Command string `json:"command" jsonschema:"terminal command to evaluate"`
}

// CheckOutput contains the rule decision.
type CheckOutput struct {
	Approved    bool   `json:"approved"`
	MatchedRule string `json:"matched_rule,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// --- Handlers ---

func (s *Server) handleQuota(ctx context.Context, req *mcpsdk.CallToolRequest, input QuotaInput) (*mcpsdk.CallToolResult, QuotaOutput, error) {
	c, ok, err := refresh.Load(ctx, s.kv)
	if err != nil {
		return nil, QuotaOutput{}, err
	}
	if !ok {
		return nil, QuotaOutput{State: string(refresh.StateOffline), Error: "no quota data yet", Groups: []GroupSummary{}}, nil
	}

	out := QuotaOutput{
		State:  string(c.State),
		Error:  c.Error,
		Groups: make([]GroupSummary, 0, len(c.Groups)),
	}
	if !c.UpdatedAt.IsZero() {
		out.UpdatedAt = c.UpdatedAt.Format(time.RFC3339)
	}
	if c.Snapshot != nil {
		out.AccountLevel = c.Snapshot.AccountLevel
		out.PromptCredits = c.Snapshot.PromptCredits
	}

	now := time.Now()
	for _, g := range c.Groups {
		gs := GroupSummary{ID: g.ID, Name: g.DisplayName, PercentUsed: g.Percentage, Pinned: g.Pinned}
		if g.EarliestReset != nil {
			gs.ResetsIn = quota.FormatTimeUntil(g.EarliestReset.Sub(now))
		}
		if input.IncludeModels {
			for _, m := range g.Members {
				gs.Models = append(gs.Models, ModelEntry{
					ID:          m.ModelID,
					Name:        m.DisplayName,
					PercentUsed: m.PercentUsed,
					ResetsIn:    quota.FormatTimeUntil(m.ResetTime.Sub(now)),
				})
			}
		}
		out.Groups = append(out.Groups, gs)
	}
	return nil, out, nil
}

func (s *Server) handleOperations(ctx context.Context, req *mcpsdk.CallToolRequest, input OperationsInput) (*mcpsdk.CallToolResult, OperationsOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultOperationLimit
	}
	switch oplog.Outcome(input.Outcome) {
	case "", oplog.Approved, oplog.OutcomeBlocked, oplog.Manual:
	default:
		return &mcpsdk.CallToolResult{IsError: true}, OperationsOutput{}, nil
	}

	var entries []oplog.Entry
	if _, err := store.GetJSON(ctx, s.kv, store.KeyOperationLog, &entries); err != nil {
		return nil, OperationsOutput{}, fmt.Errorf("load operation log: %w", err)
	}

	out := OperationsOutput{Entries: []oplog.Entry{}}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		out.Stats.Total++
		switch e.Outcome {
		case oplog.Approved:
			out.Stats.Approved++
		case oplog.OutcomeBlocked:
			out.Stats.Blocked++
		case oplog.Manual:
			out.Stats.Manual++
		}
		if input.Outcome != "" && string(e.Outcome) != input.Outcome {
			continue
		}
		if len(out.Entries) < limit {
			out.Entries = append(out.Entries, e)
		}
	}
	return nil, out, nil
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	res := s.rules.Evaluate(input.Command, rules.Context{Type: rules.Terminal})
	return nil, CheckOutput{
		Approved:    res.Approved,
		MatchedRule: res.Rule,
		Pattern:     res.Pattern,
		Reason:      res.Reason,
	}, nil
}
