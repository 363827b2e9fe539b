package http

import "net/http"

// AuthDoc is the protocol prose served to agent implementers. The MCP
// server exposes the same text as a resource.
const AuthDoc = `# RevClaw Agent Onboarding

RevClaw lets an autonomous agent act on a user's behalf under scoped,
human-approved permissions. Every credential below is shown exactly once;
store it securely.

## 1. Register

POST /api/v1/agents/register with your name, requested scopes and
exactly one of manifest_markdown or manifest_url (max 64KB). The
response contains your agent_id, your plaintext agent_secret (never
shown again) and a claim_id with a 5 minute expiry.

## 2. Wait for the human

Send your user the claim URL. Poll
GET /api/v1/agents/{agent_id}/claim-status with
"Authorization: Bearer <agent_secret>". While the registration is
PENDING keep polling; once the user approves, the response carries your
installation_id, the granted scopes and a one-time exchange_code. If the
claim expires or is denied, register again.

## 3. Exchange the code

POST /api/v1/tokens with {"exchange_code": "..."}. You receive a
short-lived access_token (Bearer) and a rotating refresh_token. Refresh
via POST /api/v1/tokens/refresh before the access token expires; each
refresh consumes the old refresh token.

## 4. Act within your scopes

Call action endpoints with "Authorization: Bearer <access_token>".
Missing scopes fail with 403 scope_missing. Some mutations are gated by
the user's approval policy: create an intent first
(POST /api/v1/intents with the exact payload you will send), wait for
the user to approve it, then repeat the mutation with the header
X-RevClaw-Intent-Id. Approval binds the payload hash: change the payload
and the approval is void. Each approved intent authorizes exactly one
execution.

For batch work, draft a plan (POST /api/v1/plans). The user approves it
once, which mints a pre-approved PLAN_EXECUTE intent; execute with
POST /api/v1/plans/{id}/execute and that intent id.

## Errors

Every error body is {"error": "<human text>", "code": "<stable code>"}.
Branch on code, not on text. 401 means your credential is bad or
expired, 403 means the action is not allowed, 410 means the resource
expired, 429 means slow down (honor Retry-After).
`

// AuthDocHandler handles GET /revclaw/auth.md.
func (h *Handlers) AuthDocHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write([]byte(AuthDoc))
}
