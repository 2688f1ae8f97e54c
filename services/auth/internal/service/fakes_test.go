package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AfshinJalili/audioshop/services/auth/internal/security"
	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	testParams = security.Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	testSecret = "test-secret-test-secret-test-secret!"
	errBackend = fmt.Errorf("%w: connection refused", storage.ErrStorage)
)

// memStore mirrors the postgres store: unique token digests, join on the
// owning user, revoke never clears, delete only strictly-expired rows.
type memStore struct {
	mu     sync.Mutex
	users  map[uuid.UUID]*storage.User
	tokens map[string]*storage.RefreshToken

	findErr   error
	createErr error
	deleteErr error
	creates   int
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[uuid.UUID]*storage.User),
		tokens: make(map[string]*storage.RefreshToken),
	}
}

func (s *memStore) GetUserByIdentifier(ctx context.Context, identifier string) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	for _, u := range s.users {
		if u.Email == identifier || u.Username == identifier {
			cp := *u
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *memStore) CreateUser(ctx context.Context, u storage.User) (*storage.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return nil, storage.ErrDuplicateEmail
		}
		if existing.Username == u.Username {
			return nil, storage.ErrDuplicateUsername
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = &u
	cp := u
	return &cp, nil
}

func (s *memStore) CreateRefreshToken(ctx context.Context, t storage.RefreshToken) (*storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.createErr != nil {
		return nil, s.createErr
	}
	if _, ok := s.tokens[t.TokenHash]; ok {
		return nil, storage.ErrDuplicateToken
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	s.tokens[t.TokenHash] = &t
	cp := t
	return &cp, nil
}

func (s *memStore) FindRefreshToken(ctx context.Context, tokenHash string) (*storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	t, ok := s.tokens[tokenHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	u, ok := s.users[t.UserID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	user := *u
	cp.User = &user
	return &cp, nil
}

func (s *memStore) ListRefreshTokensForUser(ctx context.Context, userID uuid.UUID) ([]storage.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.RefreshToken
	for _, t := range s.tokens {
		if t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *memStore) RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenHash]
	if !ok {
		return false, nil
	}
	t.IsRevoked = true
	return true, nil
}

func (s *memStore) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	found := false
	for _, t := range s.tokens {
		if t.UserID == userID {
			t.IsRevoked = true
			found = true
		}
	}
	return found, nil
}

func (s *memStore) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(now) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (s *memStore) record(raw string) *storage.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[security.HashToken(raw)]
	if !ok {
		return nil
	}
	cp := *t
	return &cp
}

func (s *memStore) setActive(id uuid.UUID, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id].IsActive = active
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

// newFakeClock starts at the current wall time so issued access tokens still
// pass jwt expiry checks.
func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// scriptedTokens hands out the scripted values first, then random ones.
type scriptedTokens struct {
	mu     sync.Mutex
	values []string
	calls  int
}

func (g *scriptedTokens) New() (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if len(g.values) > 0 {
		v := g.values[0]
		g.values = g.values[1:]
		return v, security.HashToken(v), nil
	}
	return security.DefaultTokenGenerator{}.New()
}

type countingHasher struct {
	*security.Hasher
	mu      sync.Mutex
	dummies int
}

func (h *countingHasher) VerifyDummy(ctx context.Context, password string) {
	h.mu.Lock()
	h.dummies++
	h.mu.Unlock()
	h.Hasher.VerifyDummy(ctx, password)
}

type published struct {
	topic string
	key   string
	event SessionEvent
	raw   string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakePublisher) PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error) {
	if p.err != nil {
		return 0, 0, p.err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return 0, 0, err
	}
	var event SessionEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return 0, 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic: topic, key: key, event: event, raw: string(raw)})
	return 0, int64(len(p.msgs)), nil
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.msgs))
	for _, m := range p.msgs {
		out = append(out, m.event.EventType)
	}
	return out
}

type harness struct {
	store     *memStore
	clock     *fakeClock
	tokens    *scriptedTokens
	hasher    *countingHasher
	issuer    *security.Issuer
	publisher *fakePublisher
	creds     *CredentialValidator
	sessions  *SessionManager
	accounts  *Accounts
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	hasher, err := security.NewHasher(testParams, 4)
	require.NoError(t, err)

	h := &harness{
		store:     newMemStore(),
		clock:     newFakeClock(),
		tokens:    &scriptedTokens{},
		hasher:    &countingHasher{Hasher: hasher},
		publisher: &fakePublisher{},
	}
	h.issuer = security.NewIssuer(testSecret, "audioshop-test", 15*time.Minute).WithClock(h.clock.Now)
	events := NewEvents(h.publisher, "auth.sessions", nil)
	h.creds = NewCredentialValidator(h.store, h.hasher, nil, nil)
	h.sessions = NewSessionManager(h.store, h.issuer, h.tokens, 30*24*time.Hour, events, nil, nil).WithClock(h.clock.Now)
	h.accounts = NewAccounts(h.store, h.hasher, nil)
	return h
}

func (h *harness) register(t *testing.T, name, password string) Identity {
	t.Helper()
	id, err := h.accounts.Register(context.Background(), RegisterInput{
		Email:    name + "@example.com",
		Username: name,
		Password: password,
	})
	require.NoError(t, err)
	return id
}

func (h *harness) login(t *testing.T, identifier, password string) *LoginResult {
	t.Helper()
	ctx := context.Background()
	id, err := h.creds.Validate(ctx, identifier, password)
	require.NoError(t, err)
	res, err := h.sessions.Login(ctx, id, RequestContext{IP: "203.0.113.7", UserAgent: "test-agent"})
	require.NoError(t, err)
	return res
}
