package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/installation"
)

// claimFixture registers, approves and polls an agent through to a
// minted exchange code.
type claimFixture struct {
	store  *mockStore
	events *mockEventStore
	reg    *RegisterResponse
	instID string
	code   string
	tokens *TokenService
}

func newClaimFixture(t *testing.T) *claimFixture {
	t.Helper()
	store := newMockStore()
	events := &mockEventStore{}
	regSvc := newTestRegistrationService(store, events)
	resp := registerTestAgent(t, regSvc)
	ctx := context.Background()

	if _, err := regSvc.Approve(ctx, resp.ClaimID, "user-1", nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	status, err := regSvc.ClaimStatus(ctx, resp.AgentID, resp.AgentSecret)
	if err != nil {
		t.Fatalf("claim status: %v", err)
	}
	if status.ExchangeCode == "" {
		t.Fatal("no exchange code")
	}

	return &claimFixture{
		store:  store,
		events: events,
		reg:    resp,
		instID: status.InstallationID,
		code:   status.ExchangeCode,
		tokens: NewTokenService(store, testAuthConfig(), nil, NewEmitter(events, nil)),
	}
}

func TestExchangeIssuesScopedPair(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	pair, err := f.tokens.Exchange(ctx, f.code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("empty token pair")
	}
	if pair.InstallationID != f.instID {
		t.Errorf("installation = %s, want %s", pair.InstallationID, f.instID)
	}
	if len(pair.Scopes) != 2 {
		t.Errorf("scopes = %v, want snapshot of granted scopes", pair.Scopes)
	}
	if pair.ExpiresIn > int((15 * time.Minute).Seconds()) {
		t.Errorf("access token lifetime %ds exceeds 15 minutes", pair.ExpiresIn)
	}
}

func TestExchangeCodeSingleUse(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	if _, err := f.tokens.Exchange(ctx, f.code); err != nil {
		t.Fatalf("first exchange: %v", err)
	}
	_, err := f.tokens.Exchange(ctx, f.code)
	if err == nil {
		t.Fatal("second exchange accepted")
	}
	if coded := domain.AsCoded(err); coded.Status != http.StatusGone {
		t.Errorf("status = %d, want 410", coded.Status)
	}
}

func TestExchangeUnknownCode(t *testing.T) {
	f := newClaimFixture(t)
	_, err := f.tokens.Exchange(context.Background(), "not-a-code")
	if err == nil {
		t.Fatal("unknown code accepted")
	}
	if coded := domain.AsCoded(err); coded.Status != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", coded.Status)
	}
}

func TestRefreshRotatesAtomically(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	pair, err := f.tokens.Exchange(ctx, f.code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	next, err := f.tokens.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if next.AccessToken == pair.AccessToken || next.RefreshToken == pair.RefreshToken {
		t.Error("rotation reissued the same credentials")
	}

	// The consumed refresh token must be dead.
	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Error("old refresh token still works after rotation")
	}
}

func TestRevokeInstallationCascades(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	pair, err := f.tokens.Exchange(ctx, f.code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	if err := f.tokens.RevokeInstallation(ctx, f.instID, "user-1", "compromised"); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	inst, _ := f.store.GetInstallation(ctx, f.instID)
	if inst.Status != installation.StatusRevoked {
		t.Errorf("installation status = %s, want REVOKED", inst.Status)
	}
	if inst.RevokeReason != "compromised" {
		t.Errorf("revoke reason = %q", inst.RevokeReason)
	}

	// Revoked tokens are rejected immediately regardless of expiry.
	if res := f.tokens.Authenticate(ctx, pair.AccessToken); res.OK {
		t.Error("revoked access token still authenticates")
	}
	if _, err := f.tokens.Refresh(ctx, pair.RefreshToken); err == nil {
		t.Error("revoked refresh token still rotates")
	}

	// Idempotent re-revoke.
	if err := f.tokens.RevokeInstallation(ctx, f.instID, "user-1", "again"); err != nil {
		t.Errorf("re-revoke returned error: %v", err)
	}
	inst, _ = f.store.GetInstallation(ctx, f.instID)
	if inst.RevokeReason != "compromised" {
		t.Error("re-revoke re-ran side effects")
	}
}

func TestRevokeRequiresOwnership(t *testing.T) {
	f := newClaimFixture(t)
	err := f.tokens.RevokeInstallation(context.Background(), f.instID, "user-2", "not mine")
	if err == nil {
		t.Fatal("foreign revoke accepted")
	}
	if coded := domain.AsCoded(err); coded.Status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", coded.Status)
	}
}

func TestAuthenticateBearer(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	pair, err := f.tokens.Exchange(ctx, f.code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	res := f.tokens.Authenticate(ctx, pair.AccessToken)
	if !res.OK {
		t.Fatalf("authenticate failed: %s %s", res.Code, res.Message)
	}
	if res.Context.Installation.ID != f.instID {
		t.Errorf("installation = %s, want %s", res.Context.Installation.ID, f.instID)
	}
	if !res.Context.HasScope("projects:publish") {
		t.Error("scope snapshot missing granted scope")
	}
	if res.Context.HasScope("projects:delete") {
		t.Error("scope check is not exact membership")
	}

	bad := f.tokens.Authenticate(ctx, "garbage")
	if bad.OK || bad.Status != http.StatusUnauthorized {
		t.Errorf("garbage token: ok=%v status=%d", bad.OK, bad.Status)
	}
}

func TestAuthenticateExpiredToken(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	pair, err := f.tokens.Exchange(ctx, f.code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	// Backdate the token past its expiry.
	f.store.mu.Lock()
	for _, tok := range f.store.accessTokens {
		tok.ExpiresAt = time.Now().Add(-time.Second)
	}
	f.store.mu.Unlock()

	if res := f.tokens.Authenticate(ctx, pair.AccessToken); res.OK {
		t.Error("expired token authenticated")
	}
}

func TestAuthenticateBot(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	res := f.tokens.AuthenticateBot(ctx, f.reg.AgentSecret, "user-1")
	if !res.OK {
		t.Fatalf("bot auth failed: %s %s", res.Code, res.Message)
	}
	if res.Context.Installation.ID != f.instID {
		t.Errorf("installation = %s, want %s", res.Context.Installation.ID, f.instID)
	}

	if res := f.tokens.AuthenticateBot(ctx, f.reg.AgentSecret, ""); res.OK || res.Status != http.StatusUnauthorized {
		t.Error("missing user id accepted")
	}
	if res := f.tokens.AuthenticateBot(ctx, f.reg.AgentSecret, "user-9"); res.OK || res.Status != http.StatusForbidden {
		t.Error("user without installation accepted")
	}
	if res := f.tokens.AuthenticateBot(ctx, "rvcs_"+f.reg.AgentID+"_bad", "user-1"); res.OK {
		t.Error("wrong secret accepted")
	}
	if res := f.tokens.AuthenticateBot(ctx, "malformed", "user-1"); res.OK {
		t.Error("malformed secret accepted")
	}
}

func TestSuspendedAgentRejectedOnBothAuthPaths(t *testing.T) {
	f := newClaimFixture(t)
	ctx := context.Background()

	pair, err := f.tokens.Exchange(ctx, f.code)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	f.store.mu.Lock()
	f.store.agents[f.reg.AgentID].Status = agent.StatusSuspended
	f.store.mu.Unlock()

	res := f.tokens.Authenticate(ctx, pair.AccessToken)
	if res.OK || res.Status != http.StatusForbidden {
		t.Errorf("bearer auth: OK=%v status=%d, want 403", res.OK, res.Status)
	}
	if res.Message != agent.ErrSuspended.Error() {
		t.Errorf("bearer auth message = %q, want %q", res.Message, agent.ErrSuspended)
	}

	res = f.tokens.AuthenticateBot(ctx, f.reg.AgentSecret, "user-1")
	if res.OK || res.Status != http.StatusForbidden {
		t.Errorf("bot auth: OK=%v status=%d, want 403", res.OK, res.Status)
	}
}

func TestRequireScope(t *testing.T) {
	ac := &AgentContext{Scopes: []string{"projects:read"}}
	if err := RequireScope(ac, "projects:read"); err != nil {
		t.Errorf("granted scope rejected: %v", err)
	}
	err := RequireScope(ac, "projects:publish")
	if err == nil {
		t.Fatal("missing scope accepted")
	}
	coded := domain.AsCoded(err)
	if coded.Status != http.StatusForbidden || coded.Code != domain.CodeScopeMissing {
		t.Errorf("coded = %d %s, want 403 %s", coded.Status, coded.Code, domain.CodeScopeMissing)
	}
}
