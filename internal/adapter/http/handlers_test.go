package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	revhttp "github.com/revclaw/revclaw/internal/adapter/http"
	"github.com/revclaw/revclaw/internal/config"
	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/domain/installation"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/plan"
	"github.com/revclaw/revclaw/internal/domain/project"
	"github.com/revclaw/revclaw/internal/domain/user"
	"github.com/revclaw/revclaw/internal/middleware"
	"github.com/revclaw/revclaw/internal/port/eventstore"
	"github.com/revclaw/revclaw/internal/service"
)

// mockStore implements database.Store in memory for handler tests.
type mockStore struct {
	mu            sync.Mutex
	agents        map[string]*agent.Agent
	registrations map[string]*agent.Registration
	installations map[string]*installation.Installation
	codes         map[string]*installation.ExchangeCode
	accessTokens  map[string]*installation.AccessToken
	refreshTokens map[string]*installation.RefreshToken
	intents       map[string]*intent.Intent
	plans         map[string]*plan.Plan
	projects      map[string]*project.Project
	applications  map[string]*project.Application
	coupons       map[string]*project.CouponClaim
	users         map[string]*user.User
}

func newMockStore() *mockStore {
	return &mockStore{
		agents:        map[string]*agent.Agent{},
		registrations: map[string]*agent.Registration{},
		installations: map[string]*installation.Installation{},
		codes:         map[string]*installation.ExchangeCode{},
		accessTokens:  map[string]*installation.AccessToken{},
		refreshTokens: map[string]*installation.RefreshToken{},
		intents:       map[string]*intent.Intent{},
		plans:         map[string]*plan.Plan{},
		projects:      map[string]*project.Project{},
		applications:  map[string]*project.Application{},
		coupons:       map[string]*project.CouponClaim{},
		users:         map[string]*user.User{},
	}
}

func (m *mockStore) CreateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) UpdateAgentStatus(_ context.Context, id string, status agent.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return domain.ErrNotFound
	}
	a.Status = status
	return nil
}

func (m *mockStore) CreateRegistration(_ context.Context, r *agent.Registration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.registrations[r.ClaimID] = &cp
	return nil
}

func (m *mockStore) GetRegistration(_ context.Context, claimID string) (*agent.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[claimID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockStore) GetRegistrationByAgent(_ context.Context, agentID string) (*agent.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.registrations {
		if r.AgentID == agentID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ExpireRegistration(_ context.Context, claimID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[claimID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status == agent.RegistrationPending {
		r.Status = agent.RegistrationExpired
	}
	return nil
}

func (m *mockStore) DenyRegistration(_ context.Context, claimID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[claimID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != agent.RegistrationPending {
		return domain.ErrConflict
	}
	r.Status = agent.RegistrationRevoked
	r.ClaimedByUserID = userID
	return nil
}

func (m *mockStore) ClaimRegistration(_ context.Context, claimID string, inst *installation.Installation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.registrations[claimID]
	if !ok {
		return domain.ErrNotFound
	}
	if r.Status != agent.RegistrationPending {
		return domain.ErrConflict
	}
	r.Status = agent.RegistrationClaimed
	r.ClaimedByUserID = inst.UserID
	cp := *inst
	m.installations[inst.ID] = &cp
	return nil
}

func (m *mockStore) CreateExchangeCode(_ context.Context, c *installation.ExchangeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.codes[c.CodeHash] = &cp
	return nil
}

func (m *mockStore) GetPendingExchangeCode(_ context.Context, installationID string) (*installation.ExchangeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.InstallationID == installationID && c.Status == installation.CodePending {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ExpireExchangeCode(_ context.Context, codeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.codes {
		if c.ID == codeID && c.Status == installation.CodePending {
			c.Status = installation.CodeExpired
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockStore) ConsumeExchangeCode(_ context.Context, codeHash string, now time.Time, access *installation.AccessToken, refresh *installation.RefreshToken) (*installation.ExchangeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.codes[codeHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if !c.Usable(now) {
		return nil, domain.ErrGone
	}
	c.Status = installation.CodeConsumed

	access.InstallationID = c.InstallationID
	access.Scopes = append([]string(nil), c.Scopes...)
	refresh.InstallationID = c.InstallationID
	ac := *access
	rc := *refresh
	m.accessTokens[access.TokenHash] = &ac
	m.refreshTokens[refresh.TokenHash] = &rc

	if inst, ok := m.installations[c.InstallationID]; ok {
		inst.LastTokenIssuedAt = &now
	}
	cp := *c
	return &cp, nil
}

func (m *mockStore) GetAccessTokenByHash(_ context.Context, tokenHash string) (*installation.AccessToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.accessTokens[tokenHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) RotateRefreshToken(_ context.Context, oldHash string, now time.Time, access *installation.AccessToken, refresh *installation.RefreshToken) (*installation.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.refreshTokens[oldHash]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if now.After(old.ExpiresAt) {
		return nil, domain.ErrGone
	}
	delete(m.refreshTokens, oldHash)

	inst := m.installations[old.InstallationID]
	access.InstallationID = old.InstallationID
	if inst != nil {
		access.Scopes = append([]string(nil), inst.GrantedScopes...)
	}
	refresh.InstallationID = old.InstallationID
	ac := *access
	rc := *refresh
	m.accessTokens[access.TokenHash] = &ac
	m.refreshTokens[refresh.TokenHash] = &rc

	cp := *old
	return &cp, nil
}

func (m *mockStore) GetInstallation(_ context.Context, id string) (*installation.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.installations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *mockStore) GetInstallationByAgentAndUser(_ context.Context, agentID, userID string) (*installation.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.installations {
		if i.AgentID == agentID && i.UserID == userID {
			cp := *i
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListInstallationsByUser(_ context.Context, userID string) ([]installation.Installation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []installation.Installation
	for _, i := range m.installations {
		if i.UserID == userID {
			out = append(out, *i)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateInstallationPolicy(_ context.Context, id string, requirePublish, requireApply bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.installations[id]
	if !ok {
		return domain.ErrNotFound
	}
	i.RequireApprovalForPublish = requirePublish
	i.RequireApprovalForApply = requireApply
	return nil
}

func (m *mockStore) RevokeInstallation(_ context.Context, id, reason string, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.installations[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	i.Status = installation.StatusRevoked
	i.RevokedAt = &now
	i.RevokeReason = reason

	var hashes []string
	for h, t := range m.accessTokens {
		if t.InstallationID == id && t.RevokedAt == nil {
			t.RevokedAt = &now
			hashes = append(hashes, h)
		}
	}
	for h, rt := range m.refreshTokens {
		if rt.InstallationID == id {
			delete(m.refreshTokens, h)
		}
	}
	for _, c := range m.codes {
		if c.InstallationID == id && c.Status == installation.CodePending {
			c.Status = installation.CodeRevoked
		}
	}
	return hashes, nil
}

func (m *mockStore) CreateIntent(_ context.Context, i *intent.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *i
	m.intents[i.ID] = &cp
	return nil
}

func (m *mockStore) GetIntent(_ context.Context, id string) (*intent.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *i
	return &cp, nil
}

func (m *mockStore) GetIntentByIdempotencyKey(_ context.Context, installationID, key string) (*intent.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.intents {
		if i.InstallationID == installationID && i.IdempotencyKey == key {
			cp := *i
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListIntentsByUser(_ context.Context, userID string, status intent.Status) ([]intent.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []intent.Intent
	for _, i := range m.intents {
		if i.UserID == userID && (status == "" || i.Status == status) {
			out = append(out, *i)
		}
	}
	return out, nil
}

func (m *mockStore) ApproveIntent(_ context.Context, id, approvedPayloadHash string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.Status != intent.StatusPendingApproval {
		return domain.ErrConflict
	}
	i.Status = intent.StatusApproved
	i.ApprovedAt = &now
	i.ApprovedPayloadHash = approvedPayloadHash
	return nil
}

func (m *mockStore) DenyIntent(_ context.Context, id, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.Status != intent.StatusPendingApproval {
		return domain.ErrConflict
	}
	i.Status = intent.StatusDenied
	i.DeniedAt = &now
	i.DenyReason = reason
	return nil
}

func (m *mockStore) ExpireIntent(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.Status == intent.StatusPendingApproval || i.Status == intent.StatusApproved {
		i.Status = intent.StatusExpired
	}
	return nil
}

func (m *mockStore) MarkIntentExecuted(_ context.Context, id string, result json.RawMessage, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.intents[id]
	if !ok {
		return domain.ErrNotFound
	}
	if i.Status != intent.StatusApproved {
		return domain.ErrConflict
	}
	i.Status = intent.StatusExecuted
	i.ExecutedAt = &now
	i.ExecutionResult = result
	return nil
}

func (m *mockStore) CreatePlan(_ context.Context, p *plan.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *mockStore) GetPlan(_ context.Context, id string) (*plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) GetDraftPlanByContentHash(_ context.Context, installationID, contentHash string) (*plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.InstallationID == installationID && p.ContentHash == contentHash && p.Status == plan.StatusDraft {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetPlanByTokenHash(_ context.Context, tokenHash string) (*plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.ApprovalTokenHash == tokenHash {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListPlansByUser(_ context.Context, userID string) ([]plan.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []plan.Plan
	for _, p := range m.plans {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockStore) ApprovePlan(_ context.Context, planID, approvedBy string, now time.Time, execIntent *intent.Intent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != plan.StatusDraft {
		return domain.ErrConflict
	}
	p.Status = plan.StatusApproved
	p.ApprovedAt = &now
	p.ApprovedBy = approvedBy
	p.ApprovalTokenUsedAt = &now
	p.ExecuteIntentID = execIntent.ID
	cp := *execIntent
	m.intents[execIntent.ID] = &cp
	return nil
}

func (m *mockStore) CancelPlan(_ context.Context, planID, decidedBy string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return domain.ErrNotFound
	}
	if p.Status != plan.StatusDraft {
		return domain.ErrConflict
	}
	p.Status = plan.StatusCanceled
	p.ApprovalTokenUsedAt = &now
	return nil
}

func (m *mockStore) UpdatePlanStatus(_ context.Context, planID string, status plan.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[planID]
	if !ok {
		return domain.ErrNotFound
	}
	p.Status = status
	return nil
}

func (m *mockStore) CreateProject(_ context.Context, p *project.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.projects[p.ID] = &cp
	return nil
}

func (m *mockStore) GetProject(_ context.Context, id string) (*project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockStore) ListProjectsByOwner(_ context.Context, ownerUserID string) ([]project.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []project.Project
	for _, p := range m.projects {
		if p.OwnerUserID == ownerUserID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (m *mockStore) PublishProject(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.Visibility = project.VisibilityPublic
	p.PublishedAt = &now
	return nil
}

func (m *mockStore) CreateApplication(_ context.Context, a *project.Application) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.applications[a.ID] = &cp
	return nil
}

func (m *mockStore) CreateCouponClaim(_ context.Context, c *project.CouponClaim) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *c
	m.coupons[c.ID] = &cp
	return nil
}

func (m *mockStore) CreateUser(_ context.Context, u *user.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email {
			return domain.ErrConflict
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockStore) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []user.User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *mockStore) UpdateUserPassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

// mockEventStore collects appended events.
type mockEventStore struct {
	mu     sync.Mutex
	events []event.Event
}

func (m *mockEventStore) Append(_ context.Context, ev *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *ev)
	return nil
}

func (m *mockEventStore) ListByInstallation(_ context.Context, installationID, _ string, _ int) (*eventstore.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := &eventstore.Page{}
	for _, ev := range m.events {
		var data map[string]any
		_ = json.Unmarshal(ev.Data, &data)
		if rc, ok := data["revclaw"].(map[string]any); ok {
			if rc["installation_id"] == installationID {
				page.Events = append(page.Events, ev)
			}
		}
	}
	return page, nil
}

// fixture wires the full service stack over the in-memory store.
type fixture struct {
	t      *testing.T
	store  *mockStore
	router chi.Router
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithConfig(t, revhttp.RouteConfig{})
}

func newFixtureWithConfig(t *testing.T, rc revhttp.RouteConfig) *fixture {
	t.Helper()

	store := newMockStore()
	events := &mockEventStore{}
	cfg := config.Defaults()
	cfg.Auth.SessionSecret = "test-session-secret"
	cfg.Auth.BcryptCost = 4 // keep hashing fast in tests

	emitter := service.NewEmitter(events, nil)
	announcer := service.NewAnnouncer(nil, nil, nil)

	h := &revhttp.Handlers{
		Registrations: service.NewRegistrationService(store, &cfg.Auth, "https://revclaw.test", emitter, announcer),
		Tokens:        service.NewTokenService(store, &cfg.Auth, nil, emitter),
		Intents:       service.NewIntentService(store, &cfg.Auth, emitter, announcer),
		Plans:         service.NewPlanService(store, &cfg.Auth, "https://revclaw.test", emitter, announcer),
		Projects:      service.NewProjectService(store, emitter),
		Auth:          service.NewAuthService(store, &cfg.Auth),
		Events:        events,
		Version:       "0.1.0",
	}

	r := chi.NewRouter()
	revhttp.MountRoutes(r, h, rc)
	return &fixture{t: t, store: store, router: r}
}

func (f *fixture) do(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			f.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[map[string]any](t, rec)
	code, _ := body["code"].(string)
	return code
}

// sessionToken creates a user and logs in, returning the bearer token.
func (f *fixture) sessionToken(email string) string {
	f.t.Helper()

	rec := f.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": email, "password": "hunter2hunter2",
	}, nil)
	if rec.Code != http.StatusOK {
		f.t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](f.t, rec)
	tok, _ := body["token"].(string)
	if tok == "" {
		f.t.Fatal("login returned no token")
	}
	return tok
}

func (f *fixture) createUser(email string) string {
	f.t.Helper()

	// Seed through the auth service path handlers use, via the store.
	// Password hash for "hunter2hunter2" with cost 4 is produced by the
	// service itself in CreateUser, so go through a temporary service.
	cfg := config.Defaults()
	cfg.Auth.SessionSecret = "test-session-secret"
	cfg.Auth.BcryptCost = 4
	auth := service.NewAuthService(f.store, &cfg.Auth)
	u, err := auth.CreateUser(context.Background(), &user.CreateRequest{
		Email:       email,
		DisplayName: "Test User",
		Role:        user.RoleMerchant,
		Password:    "hunter2hunter2",
	})
	if err != nil {
		f.t.Fatalf("create user: %v", err)
	}
	return u.ID
}

func sessionHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestVersionAndHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/v1/", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("version: status %d", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["version"] != "0.1.0" {
		t.Errorf("version = %q", body["version"])
	}
}

func TestAuthDocServed(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/revclaw/auth.md", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/markdown; charset=utf-8" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("agents/register")) {
		t.Error("doc does not mention the registration endpoint")
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/agents/register", map[string]any{
		"manifest_markdown": "# Bot",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing name: status %d", rec.Code)
	}
	if code := errorCode(t, rec); code != domain.CodeInvalidRequest {
		t.Errorf("code = %q", code)
	}

	// Both manifest forms at once is also rejected.
	rec = f.do(http.MethodPost, "/api/v1/agents/register", map[string]any{
		"name":              "bot",
		"manifest_markdown": "# Bot",
		"manifest_url":      "https://example.com/manifest.md",
	}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("two manifests: status %d", rec.Code)
	}
}

func TestClaimStatusRequiresSecret(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/agents/a1/claim-status", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.createUser("owner@example.com")

	rec := f.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "owner@example.com", "password": "wrong",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
	if code := errorCode(t, rec); code != domain.CodeUnauthorized {
		t.Errorf("code = %q", code)
	}
}

// registeredBot is the state after the register/claim/exchange dance.
type registeredBot struct {
	agentID     string
	agentSecret string
	claimID     string
	installID   string
	accessToken string
	userID      string
	session     string
}

// onboardBot drives register -> approve claim -> poll -> exchange.
func (f *fixture) onboardBot(scopes []string) registeredBot {
	f.t.Helper()

	userID := f.createUser("owner@example.com")
	session := f.sessionToken("owner@example.com")

	rec := f.do(http.MethodPost, "/api/v1/agents/register", map[string]any{
		"name":              "shopbot",
		"manifest_markdown": "# Shopbot\nPublishes projects.",
		"requested_scopes":  scopes,
	}, nil)
	if rec.Code != http.StatusCreated {
		f.t.Fatalf("register: status %d body %s", rec.Code, rec.Body.String())
	}
	reg := decodeBody[map[string]any](f.t, rec)
	agentID, _ := reg["agent_id"].(string)
	agentSecret, _ := reg["agent_secret"].(string)
	claimID, _ := reg["claim_id"].(string)
	if agentID == "" || agentSecret == "" || claimID == "" {
		f.t.Fatalf("incomplete register response: %v", reg)
	}

	rec = f.do(http.MethodPost, "/api/v1/claims/"+claimID+"/approve", nil, sessionHeader(session))
	if rec.Code != http.StatusOK {
		f.t.Fatalf("approve claim: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/v1/agents/"+agentID+"/claim-status", nil, sessionHeader(agentSecret))
	if rec.Code != http.StatusOK {
		f.t.Fatalf("claim status: status %d body %s", rec.Code, rec.Body.String())
	}
	status := decodeBody[map[string]any](f.t, rec)
	installID, _ := status["installation_id"].(string)
	code, _ := status["exchange_code"].(string)
	if installID == "" || code == "" {
		f.t.Fatalf("claim status missing code: %v", status)
	}

	rec = f.do(http.MethodPost, "/api/v1/tokens", map[string]string{"exchange_code": code}, nil)
	if rec.Code != http.StatusOK {
		f.t.Fatalf("exchange: status %d body %s", rec.Code, rec.Body.String())
	}
	pair := decodeBody[map[string]any](f.t, rec)
	access, _ := pair["access_token"].(string)
	if access == "" {
		f.t.Fatalf("exchange returned no access token: %v", pair)
	}

	return registeredBot{
		agentID:     agentID,
		agentSecret: agentSecret,
		claimID:     claimID,
		installID:   installID,
		accessToken: access,
		userID:      userID,
		session:     session,
	}
}

func botHeaders(b registeredBot) map[string]string {
	return map[string]string{
		"Authorization":     "Bearer " + b.agentSecret,
		"X-RevClaw-User-Id": b.userID,
	}
}

func TestEndToEndPublishApprovalFlow(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:publish"})

	// Owner creates a private project.
	rec := f.do(http.MethodPost, "/api/v1/projects", map[string]any{
		"name": "launch", "commission_percent": 10,
	}, sessionHeader(b.session))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", rec.Code, rec.Body.String())
	}
	proj := decodeBody[map[string]any](t, rec)
	projectID, _ := proj["id"].(string)

	agentAuth := sessionHeader(b.accessToken)

	// Publish without an intent: the default policy requires approval.
	rec = f.do(http.MethodPost, "/api/v1/projects/"+projectID+"/publish", nil, agentAuth)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("ungated publish: status %d body %s", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != intent.CodeIntentRequired {
		t.Fatalf("code = %q, want intent_required", code)
	}

	// Bot files the intent with the exact payload the endpoint acts on.
	rec = f.do(http.MethodPost, "/api/v1/intents", map[string]any{
		"kind":    "PROJECT_PUBLISH",
		"payload": map[string]string{"project_id": projectID},
	}, botHeaders(b))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create intent: status %d body %s", rec.Code, rec.Body.String())
	}
	in := decodeBody[map[string]any](t, rec)
	intentID, _ := in["id"].(string)

	// Unapproved intent does not unlock the action.
	withIntent := map[string]string{
		"Authorization":       "Bearer " + b.accessToken,
		"X-RevClaw-Intent-Id": intentID,
	}
	rec = f.do(http.MethodPost, "/api/v1/projects/"+projectID+"/publish", nil, withIntent)
	if rec.Code != http.StatusConflict {
		t.Fatalf("pending intent publish: status %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != intent.CodeInvalidStatus {
		t.Fatalf("code = %q, want intent_invalid_status", code)
	}

	// Owner approves.
	rec = f.do(http.MethodPost, "/api/v1/intents/"+intentID+"/approve", nil, sessionHeader(b.session))
	if rec.Code != http.StatusOK {
		t.Fatalf("approve intent: status %d body %s", rec.Code, rec.Body.String())
	}

	// Publish goes through and flips visibility.
	rec = f.do(http.MethodPost, "/api/v1/projects/"+projectID+"/publish", nil, withIntent)
	if rec.Code != http.StatusOK {
		t.Fatalf("gated publish: status %d body %s", rec.Code, rec.Body.String())
	}
	published := decodeBody[map[string]any](t, rec)
	if published["visibility"] != "PUBLIC" {
		t.Errorf("visibility = %v", published["visibility"])
	}

	// The intent is consumed; replaying it is rejected.
	rec = f.do(http.MethodPost, "/api/v1/projects/"+projectID+"/publish", nil, withIntent)
	if rec.Code != http.StatusConflict {
		t.Fatalf("replay publish: status %d, want 409", rec.Code)
	}
	if code := errorCode(t, rec); code != intent.CodeInvalidStatus {
		t.Fatalf("replay code = %q, want intent_invalid_status", code)
	}
}

func TestPublishPayloadMismatchVoidsApproval(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:publish"})

	rec := f.do(http.MethodPost, "/api/v1/projects", map[string]any{
		"name": "launch", "commission_percent": 10,
	}, sessionHeader(b.session))
	projectID, _ := decodeBody[map[string]any](t, rec)["id"].(string)

	// Intent approved for a different project id.
	rec = f.do(http.MethodPost, "/api/v1/intents", map[string]any{
		"kind":    "PROJECT_PUBLISH",
		"payload": map[string]string{"project_id": "someone-elses-project"},
	}, botHeaders(b))
	intentID, _ := decodeBody[map[string]any](t, rec)["id"].(string)
	f.do(http.MethodPost, "/api/v1/intents/"+intentID+"/approve", nil, sessionHeader(b.session))

	rec = f.do(http.MethodPost, "/api/v1/projects/"+projectID+"/publish", nil, map[string]string{
		"Authorization":       "Bearer " + b.accessToken,
		"X-RevClaw-Intent-Id": intentID,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d", rec.Code)
	}
	if code := errorCode(t, rec); code != intent.CodePayloadMismatch {
		t.Errorf("code = %q, want payload_mismatch", code)
	}
}

func TestIntentVerdictStatusMapping(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:publish"})

	rec := f.do(http.MethodPost, "/api/v1/projects", map[string]any{
		"name": "launch", "commission_percent": 10,
	}, sessionHeader(b.session))
	projectID, _ := decodeBody[map[string]any](t, rec)["id"].(string)

	// Unknown intent id: the record does not exist.
	rec = f.do(http.MethodPost, "/api/v1/projects/"+projectID+"/publish", nil, map[string]string{
		"Authorization":       "Bearer " + b.accessToken,
		"X-RevClaw-Intent-Id": "no-such-intent",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown intent: status %d, want 404", rec.Code)
	}
	if code := errorCode(t, rec); code != intent.CodeIntentNotFound {
		t.Fatalf("code = %q, want intent_not_found", code)
	}

	rec = f.do(http.MethodPost, "/api/v1/intents", map[string]any{
		"kind":    "PROJECT_PUBLISH",
		"payload": map[string]string{"project_id": projectID},
	}, botHeaders(b))
	intentID, _ := decodeBody[map[string]any](t, rec)["id"].(string)
	f.do(http.MethodPost, "/api/v1/intents/"+intentID+"/approve", nil, sessionHeader(b.session))

	// Backdate the approved intent past its expiry window.
	f.store.mu.Lock()
	f.store.intents[intentID].ExpiresAt = time.Now().Add(-time.Minute)
	f.store.mu.Unlock()

	rec = f.do(http.MethodPost, "/api/v1/projects/"+projectID+"/publish", nil, map[string]string{
		"Authorization":       "Bearer " + b.accessToken,
		"X-RevClaw-Intent-Id": intentID,
	})
	if rec.Code != http.StatusGone {
		t.Fatalf("expired intent: status %d, want 410", rec.Code)
	}
	if code := errorCode(t, rec); code != intent.CodeExpired {
		t.Fatalf("code = %q, want intent_expired", code)
	}
}

func TestPolicyDisablesPublishGate(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:publish"})

	rec := f.do(http.MethodPost, "/api/v1/projects", map[string]any{
		"name": "launch", "commission_percent": 10,
	}, sessionHeader(b.session))
	projectID, _ := decodeBody[map[string]any](t, rec)["id"].(string)

	rec = f.do(http.MethodPatch, "/api/v1/installations/"+b.installID+"/policy", map[string]bool{
		"require_approval_for_publish": false,
		"require_approval_for_apply":   false,
	}, sessionHeader(b.session))
	if rec.Code != http.StatusOK {
		t.Fatalf("patch policy: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodPost, "/api/v1/projects/"+projectID+"/publish", nil, sessionHeader(b.accessToken))
	if rec.Code != http.StatusOK {
		t.Fatalf("publish without intent: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestScopeMissingRejected(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:read"})

	rec := f.do(http.MethodPost, "/api/v1/projects/p1/publish", nil, sessionHeader(b.accessToken))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d", rec.Code)
	}
	if code := errorCode(t, rec); code != "scope_missing" {
		t.Errorf("code = %q", code)
	}
}

func TestExchangeCodeSingleUse(t *testing.T) {
	f := newFixture(t)
	f.createUser("owner@example.com")
	session := f.sessionToken("owner@example.com")

	rec := f.do(http.MethodPost, "/api/v1/agents/register", map[string]any{
		"name": "bot", "manifest_markdown": "# Bot",
	}, nil)
	reg := decodeBody[map[string]any](t, rec)
	agentID, _ := reg["agent_id"].(string)
	secret, _ := reg["agent_secret"].(string)
	claimID, _ := reg["claim_id"].(string)

	f.do(http.MethodPost, "/api/v1/claims/"+claimID+"/approve", nil, sessionHeader(session))
	rec = f.do(http.MethodGet, "/api/v1/agents/"+agentID+"/claim-status", nil, sessionHeader(secret))
	code, _ := decodeBody[map[string]any](t, rec)["exchange_code"].(string)

	rec = f.do(http.MethodPost, "/api/v1/tokens", map[string]string{"exchange_code": code}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("first exchange: status %d", rec.Code)
	}
	rec = f.do(http.MethodPost, "/api/v1/tokens", map[string]string{"exchange_code": code}, nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("second exchange: status %d, want 410", rec.Code)
	}
}

func TestRefreshRotatesAndInvalidatesOld(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:read"})

	// Grab the refresh token from a fresh exchange via the claim flow is
	// already done in onboardBot; rotate using a second poll is not
	// possible, so exercise refresh through the pair issued at exchange.
	// onboardBot discards the refresh token, so re-run the tail here.
	rec := f.do(http.MethodGet, "/api/v1/agents/"+b.agentID+"/claim-status", nil, sessionHeader(b.agentSecret))
	if rec.Code != http.StatusOK {
		t.Fatalf("claim status: %d", rec.Code)
	}
	// No new code is minted while none is pending and the old one is
	// consumed; mint happens only when none exists. The previous code was
	// consumed, so a fresh one appears.
	code, _ := decodeBody[map[string]any](t, rec)["exchange_code"].(string)
	if code == "" {
		t.Fatal("expected a fresh exchange code after consumption")
	}
	rec = f.do(http.MethodPost, "/api/v1/tokens", map[string]string{"exchange_code": code}, nil)
	pair := decodeBody[map[string]any](t, rec)
	refresh, _ := pair["refresh_token"].(string)

	rec = f.do(http.MethodPost, "/api/v1/tokens/refresh", map[string]string{"refresh_token": refresh}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", rec.Code, rec.Body.String())
	}
	rotated := decodeBody[map[string]any](t, rec)
	if rotated["access_token"] == "" || rotated["refresh_token"] == refresh {
		t.Error("refresh did not rotate the pair")
	}

	// The consumed refresh token is dead.
	rec = f.do(http.MethodPost, "/api/v1/tokens/refresh", map[string]string{"refresh_token": refresh}, nil)
	if rec.Code != http.StatusNotFound && rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed refresh: status %d", rec.Code)
	}
}

func TestRevokeInstallationCascades(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:publish"})

	rec := f.do(http.MethodPost, "/api/v1/installations/"+b.installID+"/revoke",
		map[string]string{"reason": "compromised"}, sessionHeader(b.session))
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: status %d body %s", rec.Code, rec.Body.String())
	}

	// Old access token no longer authenticates.
	rec = f.do(http.MethodPost, "/api/v1/projects/p1/publish", nil, sessionHeader(b.accessToken))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("revoked token: status %d", rec.Code)
	}

	// Re-revoking is idempotent.
	rec = f.do(http.MethodPost, "/api/v1/installations/"+b.installID+"/revoke", nil, sessionHeader(b.session))
	if rec.Code != http.StatusOK {
		t.Fatalf("re-revoke: status %d", rec.Code)
	}
}

func TestInstallationOwnershipEnforced(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:read"})

	f.createUser("other@example.com")
	otherSession := f.sessionToken("other@example.com")

	rec := f.do(http.MethodGet, "/api/v1/installations/"+b.installID, nil, sessionHeader(otherSession))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/api/v1/installations/"+b.installID+"/events", nil, sessionHeader(otherSession))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("events: status %d", rec.Code)
	}
}

func TestInstallationEventsListed(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"projects:read"})

	rec := f.do(http.MethodGet, "/api/v1/installations/"+b.installID+"/events", nil, sessionHeader(b.session))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
	page := decodeBody[map[string]any](t, rec)
	events, _ := page["events"].([]any)
	if len(events) == 0 {
		t.Error("expected audit events for the claim approval")
	}
}

func TestPlanOwnerApprovalAndExecution(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"plans:execute"})

	rec := f.do(http.MethodPost, "/api/v1/plans", map[string]any{
		"title":   "weekly batch",
		"content": map[string]any{"steps": []string{"publish"}},
	}, botHeaders(b))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create plan: status %d body %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[map[string]any](t, rec)
	planID, _ := created["id"].(string)

	// Execution before approval is blocked: no intent exists yet.
	rec = f.do(http.MethodPost, "/api/v1/plans/"+planID+"/execute", nil, sessionHeader(b.accessToken))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("premature execute: status %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/v1/plans/"+planID+"/approve", nil, sessionHeader(b.session))
	if rec.Code != http.StatusOK {
		t.Fatalf("approve plan: status %d body %s", rec.Code, rec.Body.String())
	}
	approved := decodeBody[map[string]any](t, rec)
	execIntentID, _ := approved["execute_intent_id"].(string)
	if execIntentID == "" {
		t.Fatal("approval did not mint the execute intent")
	}

	rec = f.do(http.MethodPost, "/api/v1/plans/"+planID+"/execute", nil, map[string]string{
		"Authorization":       "Bearer " + b.accessToken,
		"X-RevClaw-Intent-Id": execIntentID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("execute: status %d body %s", rec.Code, rec.Body.String())
	}
	executed := decodeBody[map[string]any](t, rec)
	if executed["status"] != "EXECUTED" {
		t.Errorf("status = %v", executed["status"])
	}

	// The PLAN_EXECUTE intent is single-use.
	rec = f.do(http.MethodPost, "/api/v1/plans/"+planID+"/execute", nil, map[string]string{
		"Authorization":       "Bearer " + b.accessToken,
		"X-RevClaw-Intent-Id": execIntentID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-execute: status %d, want 409", rec.Code)
	}
}

func TestPlanMagicLinkPreviewRejectsBadToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/plans/approve?token=not-a-real-token", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/v1/plans/approve", map[string]string{
		"token": "not-a-real-token", "decision": "approve",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("decide: status %d", rec.Code)
	}
}

func TestPlanDenyCancels(t *testing.T) {
	f := newFixture(t)
	b := f.onboardBot([]string{"plans:execute"})

	rec := f.do(http.MethodPost, "/api/v1/plans", map[string]any{
		"title":   "weekly batch",
		"content": map[string]any{"steps": []string{"publish"}},
	}, botHeaders(b))
	planID, _ := decodeBody[map[string]any](t, rec)["id"].(string)

	rec = f.do(http.MethodPost, "/api/v1/plans/"+planID+"/deny", nil, sessionHeader(b.session))
	if rec.Code != http.StatusOK {
		t.Fatalf("deny: status %d body %s", rec.Code, rec.Body.String())
	}
	denied := decodeBody[map[string]any](t, rec)
	if denied["status"] != "CANCELED" {
		t.Errorf("status = %v", denied["status"])
	}

	// A settled plan cannot be approved afterwards.
	rec = f.do(http.MethodPost, "/api/v1/plans/"+planID+"/approve", nil, sessionHeader(b.session))
	if rec.Code != http.StatusConflict {
		t.Fatalf("approve after deny: status %d", rec.Code)
	}
}

func TestTelegramWebhookAuthAndDecision(t *testing.T) {
	f := newFixtureWithConfig(t, revhttp.RouteConfig{TelegramWebhookSecret: "hook-secret"})
	b := f.onboardBot([]string{"projects:publish"})

	rec := f.do(http.MethodPost, "/api/v1/intents", map[string]any{
		"kind":    "PROJECT_PUBLISH",
		"payload": map[string]string{"project_id": "p1"},
	}, botHeaders(b))
	intentID, _ := decodeBody[map[string]any](t, rec)["id"].(string)

	update := map[string]any{
		"update_id": 1,
		"callback_query": map[string]any{
			"id":   "cb1",
			"data": "approve:intent:" + intentID,
		},
	}

	// Wrong secret token is rejected.
	rec = f.do(http.MethodPost, "/api/v1/webhooks/telegram", update, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad secret: status %d", rec.Code)
	}

	rec = f.do(http.MethodPost, "/api/v1/webhooks/telegram", update, map[string]string{
		"X-Telegram-Bot-Api-Secret-Token": "hook-secret",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = f.do(http.MethodGet, "/api/v1/intents/"+intentID, nil, sessionHeader(b.session))
	got := decodeBody[map[string]any](t, rec)
	if got["status"] != "APPROVED" {
		t.Errorf("intent status = %v, want APPROVED", got["status"])
	}
}

func TestTelegramWebhookDisabledWithoutSecret(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/webhooks/telegram", map[string]any{"update_id": 1}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestRateLimiterOnRegister(t *testing.T) {
	rl := middleware.NewRateLimiter(middleware.NewMemoryWindowStore(), 1, time.Minute)
	f := newFixtureWithConfig(t, revhttp.RouteConfig{RateLimiter: rl})

	body := map[string]any{"name": "bot", "manifest_markdown": "# Bot"}
	rec := f.do(http.MethodPost, "/api/v1/agents/register", body, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("first register: status %d", rec.Code)
	}
	rec = f.do(http.MethodPost, "/api/v1/agents/register", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second register: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestSessionRequiredOnDashboardRoutes(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/api/v1/installations", "/api/v1/intents", "/api/v1/plans", "/api/v1/projects"} {
		rec := f.do(http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status %d, want 401", path, rec.Code)
		}
	}
}
