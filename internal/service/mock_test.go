package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/revclaw/revclaw/internal/domain"
	"github.com/revclaw/revclaw/internal/domain/agent"
	"github.com/revclaw/revclaw/internal/domain/event"
	"github.com/revclaw/revclaw/internal/domain/installation"
	"github.com/revclaw/revclaw/internal/domain/intent"
	"github.com/revclaw/revclaw/internal/domain/plan"
	"github.com/revclaw/revclaw/internal/domain/project"
	"github.com/revclaw/revclaw/internal/domain/user"
	"github.com/revclaw/revclaw/internal/port/eventstore"
)

// mockStore implements database.Store in memory for testing.
type mockStore struct {
	mu            sync.Mutex
	agents        map[string]*agent.Agent
	registrations map[string]*agent.Registration
	installations map[string]*installation.Installation
	codes         map[string]*installation.ExchangeCode // by hash
	accessTokens  map[string]*installation.AccessToken  // by hash
	refreshTokens map[string]*installation.RefreshToken // by hash
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

// --- Agents ---

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

// --- Registrations ---

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

// --- Exchange codes ---

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

// --- Tokens ---

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

// --- Installations ---

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

// --- Intents ---

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

// --- Plans ---

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

// --- Projects ---

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

// --- Users ---

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

// mockEventStore collects appended events for assertions.
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

func (m *mockEventStore) byType(t event.Type) []event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []event.Event
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
