package toolserver

import (
	"context"
	"strings"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/grovetools/memory/pkg/models"
	"github.com/grovetools/memory/pkg/threads"
	"github.com/mark3labs/mcp-go/mcp"
)

const defaultHealthLimit = 10

func (s *Server) handleSessionStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.svc.StartSession(ctx, memory.StartOptions{
		Agent: req.GetString("agent", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	s.setCurrent(result.Session)
	return jsonResult(result)
}

func (s *Server) handleSessionClose(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.svc.CloseSession(ctx, s.current(), memory.CloseOptions{
		Summary: req.GetString("summary", ""),
	})
	if err != nil {
		if errors.Is(err, errors.ErrCodeSessionNotFound) {
			s.setCurrent(memory.SessionContext{})
		}
		return errorResult(err), nil
	}
	s.setCurrent(memory.SessionContext{})
	return jsonResult(result)
}

func (s *Server) handleRecall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return errorResult(errors.InvalidInput("query", err.Error())), nil
	}
	result, err := s.svc.Recall(ctx, s.current(), query, req.GetInt("limit", 0))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleCreateThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return errorResult(errors.InvalidInput("text", err.Error())), nil
	}
	result, err := s.svc.CreateThread(ctx, s.current(), text)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleResolveThread(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.svc.ResolveThread(ctx, s.current(), threads.ResolveRequest{
		ThreadID:  strings.TrimSpace(req.GetString("thread_id", "")),
		TextMatch: strings.TrimSpace(req.GetString("text_match", "")),
		Note:      req.GetString("note", ""),
	})
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result)
}

func (s *Server) handleListThreads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statuses []models.ThreadStatus
	for _, st := range req.GetStringSlice("status", nil) {
		statuses = append(statuses, models.ThreadStatus(strings.ToLower(strings.TrimSpace(st))))
	}
	list, err := s.svc.ListThreads(ctx, statuses...)
	if err != nil {
		return errorResult(err), nil
	}
	if list == nil {
		list = []models.Thread{}
	}
	return jsonResult(map[string]any{"threads": list, "count": len(list)})
}

func (s *Server) handleCleanupThreads(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.CleanupThreads(ctx, s.current(), req.GetBool("auto_archive", false))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(report)
}

func (s *Server) handleHealth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.svc.Health(ctx, req.GetInt("limit", defaultHealthLimit)))
}
