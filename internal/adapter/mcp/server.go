// Package mcp exposes the bot-facing onboarding and approval operations
// as Model Context Protocol tools, so MCP-speaking agents can register,
// poll their claim and file intents without hand-rolling HTTP calls.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/plan"
	"github.com/revclaw/revclaw/internal/service"
)

// Registrar covers the onboarding operations a tool-calling agent needs.
type Registrar interface {
	Register(ctx context.Context, req *agent.RegisterRequest) (*service.RegisterResponse, error)
	ClaimStatus(ctx context.Context, agentID, secret string) (*service.ClaimStatusResponse, error)
}

// TokenExchanger trades credentials and authenticates bot calls.
type TokenExchanger interface {
	Exchange(ctx context.Context, code string) (*service.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*service.TokenPair, error)
	AuthenticateBot(ctx context.Context, secret, userID string) service.AuthResult
}

// IntentWriter files intents on behalf of an authenticated bot.
type IntentWriter interface {
	Create(ctx context.Context, ac *service.AgentContext, req *intent.CreateRequest) (*intent.Intent, error)
}

// PlanWriter drafts plans on behalf of an authenticated bot.
type PlanWriter interface {
	Create(ctx context.Context, ac *service.AgentContext, req *plan.CreateRequest) (*plan.Plan, error)
}

// ServerConfig holds MCP server settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
}

// ServerDeps are the service dependencies injected into tool handlers.
// Nil dependencies disable the corresponding tools with a clear error.
type ServerDeps struct {
	Registrar Registrar
	Tokens    TokenExchanger
	Intents   IntentWriter
	Plans     PlanWriter
	AuthDoc   string
}

// Server wraps an mcp-go server with RevClaw tools and resources.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	httpSrv   *mcpserver.StreamableHTTPServer
}

// NewServer creates the MCP server and registers all tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer exposes the underlying mcp-go server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Start serves MCP over streamable HTTP until Stop is called.
func (s *Server) Start() error {
	s.httpSrv = mcpserver.NewStreamableHTTPServer(s.mcpServer)
	slog.Info("mcp server listening", "addr", s.cfg.Addr)
	if err := s.httpSrv.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the MCP HTTP transport down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// toolResultJSON wraps a JSON string as a text tool result.
func toolResultJSON(data string) *mcplib.CallToolResult {
	return mcplib.NewToolResultText(data)
}
