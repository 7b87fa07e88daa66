package services

import (
	"context"
	"crypto/rsa"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tenantguard/internal/common"
	"github.com/dmitrijs2005/tenantguard/internal/dbx"
	"github.com/dmitrijs2005/tenantguard/internal/identity"
	"github.com/dmitrijs2005/tenantguard/internal/logging"
	"github.com/dmitrijs2005/tenantguard/internal/server/auth"
	"github.com/dmitrijs2005/tenantguard/internal/server/config"
	"github.com/dmitrijs2005/tenantguard/internal/server/events"
	"github.com/dmitrijs2005/tenantguard/internal/server/models"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/projects"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/users"
)

// --- helpers ---

var (
	keyOnce sync.Once
	testKey *rsa.PrivateKey
)

func testSigner(t *testing.T) *auth.Signer {
	t.Helper()
	keyOnce.Do(func() {
		k, err := auth.GenerateKeyPair(auth.DefaultKeyBits)
		if err != nil {
			panic(err)
		}
		testKey = k
	})
	s, err := auth.NewSigner(testKey, &testKey.PublicKey)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func testConfig() *config.Config {
	return &config.Config{
		TokenExpiration:       24 * time.Hour,
		StaticTokenExpiration: 365 * 24 * time.Hour,
		CreatorProjectID:      1,
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Kind, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type recordingMetrics struct {
	mu        sync.Mutex
	decisions map[string]int
}

func (r *recordingMetrics) Decision(op, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decisions == nil {
		r.decisions = map[string]int{}
	}
	r.decisions[op+"/"+outcome]++
}

func (r *recordingMetrics) count(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decisions[key]
}

type fakeGeo struct {
	loc string
	err error
}

func (g fakeGeo) Lookup(context.Context, string) (string, error) { return g.loc, g.err }

// --- fake repos ---

type fakeUsersRepo struct {
	byIdentifier map[string]*models.User
	err          error
}

func (f *fakeUsersRepo) FindByTenantAndIdentifier(_ context.Context, tenantID int64, identifier string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byIdentifier[identity.NewScopedUserID(identifier, tenantID).UniversalID()]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) Find(_ context.Context, id identity.ScopedUserID) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.byIdentifier[id.UniversalID()]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return u, nil
}

func (f *fakeUsersRepo) add(t *testing.T, id identity.ScopedUserID, password string, a identity.Authority) {
	t.Helper()
	hash := "unused"
	if password != "" {
		h, err := auth.HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		hash = h
	}
	if f.byIdentifier == nil {
		f.byIdentifier = map[string]*models.User{}
	}
	f.byIdentifier[id.UniversalID()] = &models.User{ID: id, SignatureHash: hash, Authority: a, Verified: true}
}

type fakeProjectsRepo struct {
	projects map[int64]*models.Project
	err      error
}

func (f *fakeProjectsRepo) Find(_ context.Context, id int64) (*models.Project, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.projects[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return p, nil
}

// fakeTokensRepo is an in-memory ledger.
type fakeTokensRepo struct {
	mu        sync.Mutex
	rows      map[string]*models.Token
	recordErr error
	locks     int
}

func newFakeTokensRepo() *fakeTokensRepo {
	return &fakeTokensRepo{rows: map[string]*models.Token{}}
}

func (f *fakeTokensRepo) Record(_ context.Context, t *models.Token) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.recordErr != nil {
		return f.recordErr
	}
	if _, ok := f.rows[t.Locator]; ok {
		return common.ErrAlreadyExists
	}
	cp := *t
	cp.Blocked = false
	f.rows[t.Locator] = &cp
	return nil
}

func (f *fakeTokensRepo) IsBlocked(_ context.Context, locator string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[locator]
	if !ok {
		return true, nil
	}
	return r.Blocked, nil
}

func (f *fakeTokensRepo) Find(_ context.Context, locator string) (*models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rows[locator]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeTokensRepo) Block(_ context.Context, locator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.rows[locator]; ok {
		r.Blocked = true
	}
	return nil
}

func (f *fakeTokensRepo) BlockAll(_ context.Context, owner identity.ScopedUserID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Owner == owner && !r.Blocked {
			r.Blocked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokensRepo) BlockMany(_ context.Context, owner identity.ScopedUserID, locators []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, l := range locators {
		if r, ok := f.rows[l]; ok && r.Owner == owner && !r.Blocked {
			r.Blocked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokensRepo) ListByOwner(_ context.Context, owner identity.ScopedUserID, onlyValid *bool) ([]*models.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Token
	for _, r := range f.rows {
		if r.Owner != owner {
			continue
		}
		if onlyValid != nil && r.Blocked == *onlyValid {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Locator < out[j].Locator
	})
	return out, nil
}

func (f *fakeTokensRepo) DeleteAllByOwner(_ context.Context, owner identity.ScopedUserID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for l, r := range f.rows {
		if r.Owner == owner {
			delete(f.rows, l)
			n++
		}
	}
	return n, nil
}

func (f *fakeTokensRepo) LockOwner(context.Context, identity.ScopedUserID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locks++
	return nil
}

type fakeRepoManager struct {
	users    *fakeUsersRepo
	projects *fakeProjectsRepo
	tokens   *fakeTokensRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		users:    &fakeUsersRepo{},
		projects: &fakeProjectsRepo{projects: map[int64]*models.Project{}},
		tokens:   newFakeTokensRepo(),
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository             { return m.users }
func (m *fakeRepoManager) Projects(dbx.DBTX) projects.Repository       { return m.projects }
func (m *fakeRepoManager) Tokens(dbx.DBTX) tokens.Repository           { return m.tokens }

func nopLogger() logging.Logger { return logging.NewNopLogger() }
