// Package toolserver exposes the memory service as MCP tools over stdio.
package toolserver

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log"
	"sync"

	"github.com/grovetools/memory/errors"
	"github.com/grovetools/memory/logging"
	"github.com/grovetools/memory/pkg/memory"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"
)

// Name is the server name announced during initialization.
const Name = "grove-memory"

// Server registers the memory tools and remembers the session started through
// it, so later calls do not have to carry a session id.
type Server struct {
	svc    *memory.Service
	mcp    *server.MCPServer
	logger *logrus.Entry

	mu      sync.Mutex
	session memory.SessionContext
}

// New creates the tool server for svc.
func New(svc *memory.Service, version string) *Server {
	s := &Server{
		svc:    svc,
		logger: logging.NewLogger("toolserver"),
	}
	s.mcp = server.NewMCPServer(
		Name,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	s.register()
	return s
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// Serve speaks the tool protocol on in/out until ctx is cancelled or in is
// closed. Both count as a clean stop.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(s.logger.WriterLevel(logrus.ErrorLevel), "", 0))
	s.logger.WithField("project", s.svc.Project()).Info("Serving memory tools on stdio")
	err := stdio.Listen(ctx, in, out)
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) register() {
	s.mcp.AddTool(mcp.NewTool("session_start",
		mcp.WithDescription("Start or resume the memory session of this agent process. Returns open threads and the project state."),
		mcp.WithString("agent", mcp.Description("Agent name recorded on the session")),
	), s.handleSessionStart)

	s.mcp.AddTool(mcp.NewTool("session_close",
		mcp.WithDescription("Close the current session and upload its summary."),
		mcp.WithString("summary", mcp.Description("What happened in this session")),
	), s.handleSessionClose)

	s.mcp.AddTool(mcp.NewTool("recall",
		mcp.WithDescription("Search past lessons (scars) relevant to a query."),
		mcp.WithString("query", mcp.Required(), mcp.Description("What you are about to do or are stuck on")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
	), s.handleRecall)

	s.mcp.AddTool(mcp.NewTool("create_thread",
		mcp.WithDescription("Open a thread of unfinished work. Near-duplicates of open threads are merged."),
		mcp.WithString("text", mcp.Required(), mcp.Description("The open item")),
	), s.handleCreateThread)

	s.mcp.AddTool(mcp.NewTool("resolve_thread",
		mcp.WithDescription("Resolve a thread by id or by a piece of its text."),
		mcp.WithString("thread_id", mcp.Description("Exact thread id, e.g. t-1a2b3c4d")),
		mcp.WithString("text_match", mcp.Description("Case-insensitive text contained in the thread")),
		mcp.WithString("note", mcp.Description("How it was resolved")),
	), s.handleResolveThread)

	s.mcp.AddTool(mcp.NewTool("list_threads",
		mcp.WithDescription("List threads, optionally filtered by status."),
		mcp.WithArray("status",
			mcp.Description("Statuses to include: open, resolved, dormant, archived"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.handleListThreads)

	s.mcp.AddTool(mcp.NewTool("cleanup_threads",
		mcp.WithDescription("Triage open threads by vitality and demote stale ones to dormant."),
		mcp.WithBoolean("auto_archive", mcp.Description("Also archive long-dormant threads")),
	), s.handleCleanupThreads)

	s.mcp.AddTool(mcp.NewTool("health",
		mcp.WithDescription("Report background effect failures, cache state and remote reachability."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of recent failures to list (default 10)")),
	), s.handleHealth)
}

func (s *Server) current() memory.SessionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Server) setCurrent(sc memory.SessionContext) {
	s.mu.Lock()
	s.session = sc
	s.mu.Unlock()
}

// jsonResult renders v as the text content of a successful call.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(errors.Wrap(err, errors.ErrCodeInternal, "failed to encode result")), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// errorResult turns err into a tool error carrying the structured error JSON.
func errorResult(err error) *mcp.CallToolResult {
	memErr, ok := errors.As(err)
	if !ok {
		memErr = errors.Wrap(err, errors.ErrCodeInternal, err.Error())
	}
	return mcp.NewToolResultError(memErr.ToJSON())
}
