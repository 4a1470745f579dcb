// Package mcp exposes remux administration as an MCP server over stdio:
// the out-of-band channel for interrupting, backgrounding and inspecting
// evaluations without holding a protocol connection.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/aki/remux/internal/elide"
	"github.com/aki/remux/internal/logger"
	"github.com/aki/remux/internal/session"
)

// Server wraps an MCP server over the engine core.
type Server struct {
	mcpServer *server.MCPServer
	registry  *session.Registry
	ctrl      *session.Controller
	store     *elide.Store
	log       logger.Logger
}

// NewServer creates the MCP server and registers all tools.
func NewServer(registry *session.Registry, ctrl *session.Controller, store *elide.Store, log logger.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer("remux", "1.0.0", server.WithLogging()),
		registry:  registry,
		ctrl:      ctrl,
		store:     store,
		log:       log,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("session_list",
		mcp.WithDescription("List all sessions with their state and evaluation counts"),
	), s.handleSessionList)

	s.mcpServer.AddTool(mcp.NewTool("eval_interrupt",
		mcp.WithDescription("Interrupt a session's running evaluation"),
		mcp.WithString("session_id",
			mcp.Description("Session ID"),
			mcp.Required(),
		),
		mcp.WithNumber("eval_id",
			mcp.Description("Evaluation ID"),
			mcp.Required(),
		),
	), s.handleEvalInterrupt)

	s.mcpServer.AddTool(mcp.NewTool("eval_background",
		mcp.WithDescription("Detach a session's running evaluation to the background"),
		mcp.WithString("session_id",
			mcp.Description("Session ID"),
			mcp.Required(),
		),
		mcp.WithNumber("eval_id",
			mcp.Description("Evaluation ID"),
			mcp.Required(),
		),
	), s.handleEvalBackground)

	s.mcpServer.AddTool(mcp.NewTool("elision_get",
		mcp.WithDescription("Resolve an elided value by its placeholder id"),
		mcp.WithString("id",
			mcp.Description("Elision ID (G__n)"),
			mcp.Required(),
		),
	), s.handleElisionGet)

	s.mcpServer.AddTool(mcp.NewTool("session_dispose",
		mcp.WithDescription("Dispose a session, releasing it from the registry"),
		mcp.WithString("session_id",
			mcp.Description("Session ID"),
			mcp.Required(),
		),
	), s.handleSessionDispose)
}

// Start serves MCP over stdio. It blocks until stdin is exhausted.
func (s *Server) Start() error {
	s.log.Info("mcp server started", "transport", "stdio")
	return server.ServeStdio(s.mcpServer)
}
