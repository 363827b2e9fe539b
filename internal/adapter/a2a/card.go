// Package a2a serves the Agent2Agent discovery card so peer agents can
// find RevClaw's onboarding surface.
package a2a

import (
	"encoding/json"
	"net/http"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/go-chi/chi/v5"
)

// WellKnownPath is where peers expect the agent card.
const WellKnownPath = "/.well-known/agent-card.json"

// BuildAgentCard returns the static card for the RevClaw service.
func BuildAgentCard(baseURL, version string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:               "RevClaw",
		Description:        "Capability-scoped, human-in-the-loop authorization for marketplace agents",
		URL:                baseURL,
		Version:            version,
		DefaultInputModes:  []string{"application/json"},
		DefaultOutputModes: []string{"application/json"},
		Skills: []a2a.AgentSkill{
			{
				ID:          "agent-onboarding",
				Name:        "Agent Onboarding",
				Description: "Register an agent and obtain owner-approved scoped credentials",
				Tags:        []string{"auth", "onboarding"},
				InputModes:  []string{"application/json"},
				OutputModes: []string{"application/json"},
			},
			{
				ID:          "intent-approval",
				Name:        "Intent Approval",
				Description: "File payload-bound intents for human approval before execution",
				Tags:        []string{"approval", "hitl"},
				InputModes:  []string{"application/json"},
				OutputModes: []string{"application/json"},
			},
			{
				ID:          "plan-approval",
				Name:        "Plan Approval",
				Description: "Draft batch plans approved once via magic link",
				Tags:        []string{"approval", "hitl"},
				InputModes:  []string{"application/json"},
				OutputModes: []string{"application/json"},
			},
		},
	}
}

// Handler serves the discovery endpoints.
type Handler struct {
	baseURL string
	version string
}

// NewHandler creates a discovery handler.
func NewHandler(baseURL, version string) *Handler {
	return &Handler{baseURL: baseURL, version: version}
}

// MountRoutes registers discovery routes on the given chi router.
// These are mounted at the root level, not under /api/v1.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get(WellKnownPath, h.handleAgentCard)
}

func (h *Handler) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	card := BuildAgentCard(h.baseURL, h.version)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(card)
}
