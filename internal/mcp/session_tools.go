package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/aki/remux/internal/sexpr"
)

// sessionInfo is the session_list row shape.
type sessionInfo struct {
	ID        string     `json:"id"`
	CreatedAt time.Time  `json:"created_at"`
	Closed    bool       `json:"closed"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	Evals     uint64     `json:"evals"`
	Busy      bool       `json:"busy"`
}

func (s *Server) handleSessionList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.registry.List()
	rows := make([]sessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		row := sessionInfo{
			ID:        sess.ID,
			CreatedAt: sess.CreatedAt,
			Closed:    sess.Closed(),
			Evals:     sess.Evals(),
			Busy:      sess.Current() != nil,
		}
		if at, ok := sess.ClosedAt(); ok {
			row.ClosedAt = &at
		}
		rows = append(rows, row)
	}

	result, _ := json.MarshalIndent(rows, "", "  ")
	return textResult(string(result)), nil
}

func (s *Server) handleEvalInterrupt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, evalID, err := evalArgs(request)
	if err != nil {
		return nil, err
	}

	applied, err := s.ctrl.Interrupt(sessionID, evalID)
	if err != nil {
		return nil, fmt.Errorf("failed to interrupt: %w", err)
	}
	if !applied {
		return textResult(fmt.Sprintf("No running evaluation %d in session %s", evalID, sessionID)), nil
	}
	return textResult(fmt.Sprintf("Evaluation %d interrupted", evalID)), nil
}

func (s *Server) handleEvalBackground(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, evalID, err := evalArgs(request)
	if err != nil {
		return nil, err
	}

	applied, err := s.ctrl.Background(sessionID, evalID)
	if err != nil {
		return nil, fmt.Errorf("failed to background: %w", err)
	}
	if !applied {
		return textResult(fmt.Sprintf("No running evaluation %d in session %s", evalID, sessionID)), nil
	}
	return textResult(fmt.Sprintf("Evaluation %d detached", evalID)), nil
}

func (s *Server) handleElisionGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	id, ok := args["id"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing id argument")
	}

	sessionID, value, ok := s.store.Get(id)
	if !ok {
		return textResult(fmt.Sprintf("Value %s is gone", id)), nil
	}

	// Render under the owning session's print budget so a huge fragment
	// paginates again instead of flooding the result.
	limits := s.registry.Limits()
	if sess, err := s.registry.Get(sessionID); err == nil {
		limits = sess.Limits()
	}
	literal, err := sexpr.NewPrinter(s.store, sessionID).Render(value, limits)
	if err != nil {
		return nil, fmt.Errorf("failed to render value: %w", err)
	}

	result, _ := json.MarshalIndent(map[string]any{
		"session": sessionID,
		"value":   json.RawMessage(literal),
	}, "", "  ")
	return textResult(string(result)), nil
}

func (s *Server) handleSessionDispose(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()

	sessionID, ok := args["session_id"].(string)
	if !ok {
		return nil, fmt.Errorf("invalid or missing session_id argument")
	}

	if err := s.registry.Dispose(sessionID); err != nil {
		return nil, fmt.Errorf("failed to dispose session: %w", err)
	}
	return textResult(fmt.Sprintf("Session %s disposed", sessionID)), nil
}

// evalArgs extracts the session_id/eval_id pair shared by the
// interrupt and background tools.
func evalArgs(request mcp.CallToolRequest) (string, uint64, error) {
	args := request.GetArguments()

	sessionID, ok := args["session_id"].(string)
	if !ok {
		return "", 0, fmt.Errorf("invalid or missing session_id argument")
	}
	evalID, ok := args["eval_id"].(float64)
	if !ok {
		return "", 0, fmt.Errorf("invalid or missing eval_id argument")
	}
	return sessionID, uint64(evalID), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}
