package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/plan"
	"github.com/revclaw/revclaw/internal/service"
)

// registerTools registers all MCP tools on the server.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(
		s.registerAgentTool(),
		s.claimStatusTool(),
		s.exchangeTokenTool(),
		s.createIntentTool(),
		s.createPlanTool(),
	)
}

func (s *Server) registerAgentTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("register_agent",
		mcplib.WithDescription("Register an agent and receive a claim URL for the human owner. Exactly one of manifest_markdown or manifest_url is required. The returned agent_secret is shown only once."),
		mcplib.WithString("name",
			mcplib.Required(),
			mcplib.Description("Human-readable agent name"),
		),
		mcplib.WithString("description",
			mcplib.Description("What the agent does"),
		),
		mcplib.WithString("manifest_markdown",
			mcplib.Description("Inline markdown manifest describing the agent"),
		),
		mcplib.WithString("manifest_url",
			mcplib.Description("URL the manifest should be fetched from"),
		),
		mcplib.WithString("identity_proof_url",
			mcplib.Description("Optional URL proving the agent's identity"),
		),
		mcplib.WithArray("requested_scopes",
			mcplib.Description("Scopes the agent asks the owner to grant"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleRegisterAgent}
}

func (s *Server) claimStatusTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("claim_status",
		mcplib.WithDescription("Poll the claim status of a registered agent. Once claimed, the response carries a single-use exchange code."),
		mcplib.WithString("agent_id", mcplib.Required()),
		mcplib.WithString("agent_secret", mcplib.Required()),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleClaimStatus}
}

func (s *Server) exchangeTokenTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("exchange_token",
		mcplib.WithDescription("Trade a single-use exchange code for a scoped access/refresh token pair."),
		mcplib.WithString("exchange_code", mcplib.Required()),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleExchangeToken}
}

func (s *Server) createIntentTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("create_intent",
		mcplib.WithDescription("Propose a sensitive action for human approval. The payload is hash-bound: the approved intent only authorizes this exact payload."),
		mcplib.WithString("agent_secret", mcplib.Required()),
		mcplib.WithString("user_id",
			mcplib.Required(),
			mcplib.Description("The user whose installation the intent runs under"),
		),
		mcplib.WithString("kind",
			mcplib.Required(),
			mcplib.Description("One of PROJECT_PUBLISH, PROJECT_UPDATE, APPLICATION_SUBMIT, COUPON_CLAIM"),
		),
		mcplib.WithObject("payload",
			mcplib.Required(),
			mcplib.Description("The exact payload the approved action will use"),
		),
		mcplib.WithString("idempotency_key",
			mcplib.Description("Dedupe key; repeated calls return the original intent"),
		),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCreateIntent}
}

func (s *Server) createPlanTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("create_plan",
		mcplib.WithDescription("Draft a batch plan for the owner to approve via magic link. Approval mints a single pre-approved execute intent."),
		mcplib.WithString("agent_secret", mcplib.Required()),
		mcplib.WithString("user_id", mcplib.Required()),
		mcplib.WithString("title", mcplib.Required()),
		mcplib.WithObject("content",
			mcplib.Required(),
			mcplib.Description("The plan body; identical content dedupes to the existing draft"),
		),
		mcplib.WithString("idempotency_key"),
	)
	return mcpserver.ServerTool{Tool: tool, Handler: s.handleCreatePlan}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func jsonArg(args map[string]any, key string) (json.RawMessage, error) {
	v, ok := args[key]
	if !ok {
		return nil, nil
	}
	return json.Marshal(v)
}

// authenticateBot resolves the (agent_secret, user_id) pair into an
// agent context, mirroring the HTTP bot-auth middleware.
func (s *Server) authenticateBot(ctx context.Context, args map[string]any) (*service.AgentContext, *mcplib.CallToolResult) {
	if s.deps.Tokens == nil {
		return nil, mcplib.NewToolResultError("token service not configured")
	}
	res := s.deps.Tokens.AuthenticateBot(ctx, stringArg(args, "agent_secret"), stringArg(args, "user_id"))
	if !res.OK {
		return nil, mcplib.NewToolResultError(res.Message)
	}
	return res.Context, nil
}

func (s *Server) handleRegisterAgent(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Registrar == nil {
		return mcplib.NewToolResultError("registrar not configured"), nil
	}
	args := req.GetArguments()
	resp, err := s.deps.Registrar.Register(ctx, &agent.RegisterRequest{
		Name:             stringArg(args, "name"),
		Description:      stringArg(args, "description"),
		ManifestMarkdown: stringArg(args, "manifest_markdown"),
		ManifestURL:      stringArg(args, "manifest_url"),
		IdentityProofURL: stringArg(args, "identity_proof_url"),
		RequestedScopes:  stringSliceArg(args, "requested_scopes"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("registration failed", err), nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal response", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleClaimStatus(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Registrar == nil {
		return mcplib.NewToolResultError("registrar not configured"), nil
	}
	args := req.GetArguments()
	resp, err := s.deps.Registrar.ClaimStatus(ctx, stringArg(args, "agent_id"), stringArg(args, "agent_secret"))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("claim status failed", err), nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal response", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleExchangeToken(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Tokens == nil {
		return mcplib.NewToolResultError("token service not configured"), nil
	}
	args := req.GetArguments()
	pair, err := s.deps.Tokens.Exchange(ctx, stringArg(args, "exchange_code"))
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("exchange failed", err), nil
	}
	data, err := json.Marshal(pair)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal token pair", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleCreateIntent(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Intents == nil {
		return mcplib.NewToolResultError("intent service not configured"), nil
	}
	args := req.GetArguments()
	ac, errRes := s.authenticateBot(ctx, args)
	if errRes != nil {
		return errRes, nil
	}

	payload, err := jsonArg(args, "payload")
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid payload", err), nil
	}
	created, err := s.deps.Intents.Create(ctx, ac, &intent.CreateRequest{
		Kind:           intent.Kind(stringArg(args, "kind")),
		Payload:        payload,
		IdempotencyKey: stringArg(args, "idempotency_key"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("create intent failed", err), nil
	}
	data, err := json.Marshal(created)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal intent", err), nil
	}
	return toolResultJSON(string(data)), nil
}

func (s *Server) handleCreatePlan(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Plans == nil {
		return mcplib.NewToolResultError("plan service not configured"), nil
	}
	args := req.GetArguments()
	ac, errRes := s.authenticateBot(ctx, args)
	if errRes != nil {
		return errRes, nil
	}

	content, err := jsonArg(args, "content")
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("invalid content", err), nil
	}
	created, err := s.deps.Plans.Create(ctx, ac, &plan.CreateRequest{
		Title:          stringArg(args, "title"),
		Content:        content,
		IdempotencyKey: stringArg(args, "idempotency_key"),
	})
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("create plan failed", err), nil
	}
	data, err := json.Marshal(created)
	if err != nil {
		return mcplib.NewToolResultErrorFromErr("failed to marshal plan", err), nil
	}
	return toolResultJSON(string(data)), nil
}
