package mcp

import (
	"context"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/trustlog/internal/ledger"
	"github.com/ppiankov/trustlog/internal/model"
)

// --- Input/Output types ---

// AppendInput defines parameters for the trustlog_append tool.
type AppendInput struct {
	EventType  string         `json:"event_type" jsonschema:"category of the event, e.g. login or config_change"`
	ActorID    string         `json:"actor_id,omitempty" jsonschema:"acting principal, omit for anonymous"`
	OccurredAt string         `json:"occurred_at,omitempty" jsonschema:"RFC3339 time the event happened, omit for now"`
	Resource   string         `json:"resource,omitempty" jsonschema:"kind of thing acted on"`
	ResourceID string         `json:"resource_id,omitempty" jsonschema:"identifier of the thing acted on"`
	Outcome    string         `json:"outcome,omitempty" jsonschema:"result of the action, e.g. success or failure"`
	Metadata   map[string]any `json:"metadata,omitempty" jsonschema:"free-form structured context"`
}

// AppendOutput reports the committed entry or the rejection reason.
type AppendOutput struct {
	Sequence      int64  `json:"sequence,omitempty"`
	EntryID       string `json:"entry_id,omitempty"`
	IntegrityHash string `json:"integrity_hash,omitempty"`
	Rejected      bool   `json:"rejected,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// QueryInput defines parameters for the trustlog_query tool.
type QueryInput struct {
	EventType string `json:"event_type,omitempty" jsonschema:"exact event type to match"`
	ActorID   string `json:"actor_id,omitempty" jsonschema:"exact actor to match"`
	Resource  string `json:"resource,omitempty" jsonschema:"exact resource to match"`
	Outcome   string `json:"outcome,omitempty" jsonschema:"exact outcome to match"`
	Search    string `json:"search,omitempty" jsonschema:"substring over event type, actor and resource"`
	From      string `json:"from,omitempty" jsonschema:"RFC3339 window start, inclusive"`
	To        string `json:"to,omitempty" jsonschema:"RFC3339 window end, inclusive"`
	Limit     int    `json:"limit,omitempty" jsonschema:"page size, default 20, max 1000"`
	Offset    int    `json:"offset,omitempty" jsonschema:"rows to skip"`
	Order     string `json:"order,omitempty" jsonschema:"asc or desc, default desc"`
}

// QueryOutput is one result page.
type QueryOutput struct {
	Entries []model.LogEntry `json:"entries"`
	Total   int64            `json:"total"`
	HasMore bool             `json:"has_more"`
}

// VerifyInput defines parameters for the trustlog_verify tool.
type VerifyInput struct {
	From       int64  `json:"from,omitempty" jsonschema:"first sequence to check, default 1"`
	To         int64  `json:"to,omitempty" jsonschema:"last sequence to check, default current tail"`
	Checkpoint string `json:"checkpoint,omitempty" jsonschema:"trusted hash of the entry before the range"`
}

// VerifyOutput carries the verification verdict.
type VerifyOutput struct {
	Valid       bool   `json:"valid"`
	From        int64  `json:"from"`
	To          int64  `json:"to"`
	Entries     int    `json:"entries"`
	Checkpoint  string `json:"checkpoint,omitempty"`
	BadSequence int64  `json:"bad_sequence,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// --- Handlers ---

func (s *Server) handleAppend(ctx context.Context, req *mcpsdk.CallToolRequest, input AppendInput) (*mcpsdk.CallToolResult, AppendOutput, error) {
	areq := model.AppendRequest{
		ActorID:    input.ActorID,
		EventType:  input.EventType,
		Resource:   optionalPtr(input.Resource),
		ResourceID: optionalPtr(input.ResourceID),
		Outcome:    optionalPtr(input.Outcome),
		Metadata:   input.Metadata,
	}
	if input.OccurredAt != "" {
		occurred, err := time.Parse(time.RFC3339, input.OccurredAt)
		if err != nil {
			out := AppendOutput{Rejected: true, Reason: fmt.Sprintf("invalid occurred_at: %v", err)}
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		areq.OccurredAt = occurred
	}

	entry, err := s.appender.Append(ctx, areq)
	if err != nil {
		if model.IsValidation(err) {
			out := AppendOutput{Rejected: true, Reason: err.Error()}
			return &mcpsdk.CallToolResult{IsError: true}, out, nil
		}
		return nil, AppendOutput{}, err
	}

	return nil, AppendOutput{
		Sequence:      entry.Sequence,
		EntryID:       entry.EntryID,
		IntegrityHash: entry.IntegrityHash,
	}, nil
}

func (s *Server) handleQuery(ctx context.Context, req *mcpsdk.CallToolRequest, input QueryInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	qreq := model.QueryRequest{
		Filter: model.Filter{
			EventType: input.EventType,
			ActorID:   input.ActorID,
			Resource:  input.Resource,
			Outcome:   input.Outcome,
			Search:    input.Search,
		},
		Limit:  input.Limit,
		Offset: input.Offset,
	}

	var err error
	if qreq.Filter.From, err = parseRFC3339(input.From); err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, QueryOutput{}, fmt.Errorf("invalid from: %w", err)
	}
	if qreq.Filter.To, err = parseRFC3339(input.To); err != nil {
		return &mcpsdk.CallToolResult{IsError: true}, QueryOutput{}, fmt.Errorf("invalid to: %w", err)
	}

	switch input.Order {
	case "", "desc":
		qreq.Order = model.OccurredDesc
	case "asc":
		qreq.Order = model.OccurredAsc
	default:
		qreq.Order = model.SortOrder(input.Order)
	}

	page, err := s.engine.Query(ctx, qreq)
	if err != nil {
		if model.IsValidation(err) {
			return &mcpsdk.CallToolResult{IsError: true}, QueryOutput{}, err
		}
		return nil, QueryOutput{}, err
	}

	return nil, QueryOutput{
		Entries: page.Entries,
		Total:   page.Total,
		HasMore: page.HasMore,
	}, nil
}

func (s *Server) handleVerify(ctx context.Context, req *mcpsdk.CallToolRequest, input VerifyInput) (*mcpsdk.CallToolResult, VerifyOutput, error) {
	result, err := s.verifier.Verify(ctx, ledger.VerifyRequest{
		From:       input.From,
		To:         input.To,
		Checkpoint: input.Checkpoint,
	})
	if err != nil {
		if model.IsValidation(err) {
			return &mcpsdk.CallToolResult{IsError: true}, VerifyOutput{}, err
		}
		return nil, VerifyOutput{}, err
	}

	out := VerifyOutput{
		Valid:       result.Valid,
		From:        result.From,
		To:          result.To,
		Entries:     result.Entries,
		Checkpoint:  result.Checkpoint,
		BadSequence: result.BadSequence,
		Reason:      result.Reason,
	}
	// A broken chain is a finding, not a tool failure, but flag it so
	// agents treat the verdict as actionable.
	if !result.Valid {
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}
	return nil, out, nil
}

// --- Helpers ---

func optionalPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func parseRFC3339(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
