package toolserver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/grovetools/memory/config"
	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/grovetools/memory/pkg/process"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Root = filepath.Join(t.TempDir(), ".gitmem")
	cfg.Project = "demo"
	cfg.Agent = "test-agent"

	svc, err := memory.New(memory.Options{
		Config: cfg,
		Self:   process.Identity{Hostname: "devbox", PID: 4242},
		Prober: process.ProberFunc(func(int) bool { return true }),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, svc.Close(ctx))
	})
	return New(svc, "test")
}

func handlerFor(s *Server, name string) server.ToolHandlerFunc {
	return map[string]server.ToolHandlerFunc{
		"session_start":   s.handleSessionStart,
		"session_close":   s.handleSessionClose,
		"recall":          s.handleRecall,
		"create_thread":   s.handleCreateThread,
		"resolve_thread":  s.handleResolveThread,
		"list_threads":    s.handleListThreads,
		"cleanup_threads": s.handleCleanupThreads,
		"health":          s.handleHealth,
	}[name]
}

// call invokes a tool and returns its text content.
func call(t *testing.T, s *Server, name string, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	handler := handlerFor(s, name)
	require.NotNil(t, handler, "no handler for %s", name)
	result, err := handler(context.Background(), req)
	require.NoError(t, err, "tool failures are reported in the result")
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, result.IsError
}

func decode[T any](t *testing.T, text string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(text), &v), text)
	return v
}

func errorCode(t *testing.T, text string) errors.ErrorCode {
	t.Helper()
	return decode[errors.MemoryError](t, text).Code
}

func TestToolsAreRegistered(t *testing.T) {
	s := newServer(t)
	raw := json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`)
	resp := s.MCP().HandleMessage(context.Background(), raw)
	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var listed struct {
		Result struct {
			Tools []struct {
				Name string `json:"name"`
			} `json:"tools"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(data, &listed), string(data))

	var names []string
	for _, tool := range listed.Result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"cleanup_threads", "create_thread", "health", "list_threads",
		"recall", "resolve_thread", "session_close", "session_start",
	}, names)
}

func TestSessionLifecycleOverTools(t *testing.T) {
	s := newServer(t)

	text, isErr := call(t, s, "create_thread", map[string]any{"text": "Too early"})
	require.True(t, isErr)
	assert.Equal(t, errors.ErrCodeNoActiveSession, errorCode(t, text))

	text, isErr = call(t, s, "session_start", map[string]any{"agent": "claude"})
	require.False(t, isErr, text)
	started := decode[memory.StartResult](t, text)
	assert.NotEmpty(t, started.Session.SessionID)
	assert.Equal(t, "claude", started.Session.Agent)
	assert.Equal(t, started.Session.SessionID, s.current().SessionID)

	text, isErr = call(t, s, "create_thread", map[string]any{"text": "Wire the retry budget"})
	require.False(t, isErr, text)

	text, isErr = call(t, s, "list_threads", map[string]any{"status": []any{"open"}})
	require.False(t, isErr, text)
	listed := decode[struct {
		Count int `json:"count"`
	}](t, text)
	assert.Equal(t, 1, listed.Count)

	text, isErr = call(t, s, "resolve_thread", map[string]any{"text_match": "retry budget", "note": "done"})
	require.False(t, isErr, text)
	resolved := decode[struct {
		Resolved struct {
			Status string `json:"status"`
		} `json:"resolved"`
	}](t, text)
	assert.Equal(t, "resolved", resolved.Resolved.Status)

	text, isErr = call(t, s, "session_close", map[string]any{"summary": "wired it"})
	require.False(t, isErr, text)
	assert.False(t, s.current().Valid())

	text, isErr = call(t, s, "session_close", nil)
	require.True(t, isErr)
	assert.Equal(t, errors.ErrCodeNoActiveSession, errorCode(t, text))
}

func TestInvalidArgumentsAreToolErrors(t *testing.T) {
	s := newServer(t)
	_, isErr := call(t, s, "session_start", nil)
	require.False(t, isErr)

	text, isErr := call(t, s, "recall", map[string]any{})
	require.True(t, isErr)
	assert.Equal(t, errors.ErrCodeInvalidInput, errorCode(t, text))

	text, isErr = call(t, s, "list_threads", map[string]any{"status": []any{"someday"}})
	require.True(t, isErr)
	assert.Equal(t, errors.ErrCodeInvalidInput, errorCode(t, text))

	text, isErr = call(t, s, "resolve_thread", map[string]any{})
	require.True(t, isErr)
	assert.Equal(t, errors.ErrCodeInvalidInput, errorCode(t, text))

	text, isErr = call(t, s, "resolve_thread", map[string]any{"thread_id": "t-00000000"})
	require.True(t, isErr)
	memErr := decode[errors.MemoryError](t, text)
	assert.Equal(t, errors.ErrCodeThreadNotFound, memErr.Code)
	assert.Equal(t, "t-00000000", memErr.Details["thread_id"])
}

func TestRecallAndHealthOffline(t *testing.T) {
	s := newServer(t)
	_, isErr := call(t, s, "session_start", nil)
	require.False(t, isErr)

	text, isErr := call(t, s, "recall", map[string]any{"query": "database migration", "limit": 3})
	require.False(t, isErr, text)
	recalled := decode[memory.RecallResult](t, text)
	assert.Empty(t, recalled.Matches)
	assert.True(t, recalled.Degraded)

	text, isErr = call(t, s, "health", nil)
	require.False(t, isErr, text)
	health := decode[struct {
		Project string `json:"project"`
		Remote  struct {
			Enabled bool `json:"enabled"`
		} `json:"remote"`
	}](t, text)
	assert.Equal(t, "demo", health.Project)
	assert.False(t, health.Remote.Enabled)
}
