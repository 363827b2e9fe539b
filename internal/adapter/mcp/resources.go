package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"revclaw://auth.md",
			"Agent Onboarding Guide",
			mcplib.WithResourceDescription("How agents register, get claimed and obtain scoped tokens"),
			mcplib.WithMIMEType("text/markdown"),
		),
		s.handleAuthDocResource,
	)
}

func (s *Server) handleAuthDocResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	doc := s.deps.AuthDoc
	if doc == "" {
		doc = "# RevClaw\n\nOnboarding documentation is not configured on this server.\n"
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "text/markdown",
			Text:     doc,
		},
	}, nil
}
