package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/AfshinJalili/audioshop/services/auth/internal/security"
	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
	"github.com/google/uuid"
)

const (
	// maxTokenAttempts bounds regeneration after a token collision.
	maxTokenAttempts = 3
	maxUserAgentLen  = 512

	SessionActive  = "active"
	SessionRevoked = "revoked"
	SessionExpired = "expired"
)

type TokenStore interface {
	CreateRefreshToken(ctx context.Context, t storage.RefreshToken) (*storage.RefreshToken, error)
	FindRefreshToken(ctx context.Context, tokenHash string) (*storage.RefreshToken, error)
	ListRefreshTokensForUser(ctx context.Context, userID uuid.UUID) ([]storage.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error)
	RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) (bool, error)
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

type TokenIssuer interface {
	Issue(sub security.Subject) (security.SignedToken, error)
}

type RequestContext struct {
	IP        string
	UserAgent string
}

type LoginResult struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	ExpiresIn        int64
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        uuid.UUID
	User             Identity
}

type Session struct {
	ID        uuid.UUID
	Status    string
	IPAddress string
	UserAgent string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionManager owns the refresh token lifecycle. A session is ACTIVE until
// it is revoked or its expiry passes; both are terminal.
type SessionManager struct {
	store      TokenStore
	issuer     TokenIssuer
	tokens     security.TokenGenerator
	refreshTTL time.Duration
	events     *Events
	logger     *slog.Logger
	metrics    *Metrics
	now        func() time.Time
}

func NewSessionManager(store TokenStore, issuer TokenIssuer, tokens security.TokenGenerator, refreshTTL time.Duration, events *Events, logger *slog.Logger, metrics *Metrics) *SessionManager {
	if tokens == nil {
		tokens = security.DefaultTokenGenerator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{
		store:      store,
		issuer:     issuer,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		events:     events,
		logger:     logger,
		metrics:    metrics,
		now:        time.Now,
	}
}

// WithClock replaces the time source. Not safe to call once the manager is in use.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

func (m *SessionManager) Login(ctx context.Context, identity Identity, req RequestContext) (*LoginResult, error) {
	if identity.UserID == uuid.Nil {
		m.metrics.IncLogin(loginInvalid)
		return nil, ErrInvalidCredentials
	}

	access, err := m.issuer.Issue(identity.subject())
	if err != nil {
		m.metrics.IncLogin(loginError)
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	now := m.now()
	var (
		raw string
		rec *storage.RefreshToken
	)
	for attempt := 1; ; attempt++ {
		var hash string
		raw, hash, err = m.tokens.New()
		if err != nil {
			m.metrics.IncLogin(loginError)
			return nil, err
		}
		rec, err = m.store.CreateRefreshToken(ctx, storage.RefreshToken{
			UserID:    identity.UserID,
			TokenHash: hash,
			ExpiresAt: now.Add(m.refreshTTL),
			IPAddress: optional(req.IP),
			UserAgent: optional(truncate(req.UserAgent, maxUserAgentLen)),
		})
		if err == nil {
			break
		}
		if !errors.Is(err, storage.ErrDuplicateToken) || attempt >= maxTokenAttempts {
			m.metrics.IncLogin(loginError)
			return nil, fmt.Errorf("store refresh token: %w", err)
		}
		m.logger.Warn("refresh token collision, regenerating", "user_id", identity.UserID, "attempt", attempt)
	}

	m.metrics.IncLogin(loginSuccess)
	m.logger.Info("session created", "user_id", identity.UserID, "session_id", rec.ID)
	m.events.publish(ctx, EventSessionCreated, identity.UserID.String(), now, SessionEvent{
		UserID:    identity.UserID.String(),
		SessionID: rec.ID.String(),
		IPAddress: req.IP,
		UserAgent: truncate(req.UserAgent, maxUserAgentLen),
		ExpiresAt: &rec.ExpiresAt,
	})

	return &LoginResult{
		AccessToken:      access.Token,
		AccessExpiresAt:  access.ExpiresAt,
		ExpiresIn:        expiresIn(access),
		RefreshToken:     raw,
		RefreshExpiresAt: rec.ExpiresAt,
		SessionID:        rec.ID,
		User:             identity,
	}, nil
}

// Validate resolves a refresh token to its owner. A revoked token reports
// ErrRevokedRefreshToken even when it has also expired.
func (m *SessionManager) Validate(ctx context.Context, token string) (Identity, error) {
	rec, err := m.lookup(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	return identityFromUser(rec.User), nil
}

func (m *SessionManager) lookup(ctx context.Context, token string) (*storage.RefreshToken, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidRefreshToken
	}

	rec, err := m.store.FindRefreshToken(ctx, security.HashToken(token))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if rec.IsRevoked {
		return nil, ErrRevokedRefreshToken
	}
	if rec.Expired(m.now()) {
		return nil, ErrExpiredRefreshToken
	}
	if rec.User == nil || !rec.User.IsActive {
		return nil, ErrInvalidRefreshToken
	}
	return rec, nil
}

// RotateAccessToken exchanges a valid refresh token for a new access token.
// The refresh token stays usable until it expires or is revoked.
func (m *SessionManager) RotateAccessToken(ctx context.Context, token string) (security.SignedToken, error) {
	rec, err := m.lookup(ctx, token)
	if err != nil {
		m.metrics.IncRefresh(refreshStatus(err))
		return security.SignedToken{}, err
	}

	access, err := m.issuer.Issue(identityFromUser(rec.User).subject())
	if err != nil {
		m.metrics.IncRefresh("error")
		return security.SignedToken{}, fmt.Errorf("issue access token: %w", err)
	}
	m.metrics.IncRefresh("success")
	m.logger.Debug("access token refreshed", "user_id", rec.UserID, "session_id", rec.ID)
	return access, nil
}

// Revoke reports whether a session for token exists. Revoking an already
// revoked or expired session still reports true.
func (m *SessionManager) Revoke(ctx context.Context, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	hash := security.HashToken(token)
	revoked, err := m.store.RevokeRefreshToken(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	if !revoked {
		return false, nil
	}

	m.metrics.IncRevocation("single")
	event := SessionEvent{}
	if rec, err := m.store.FindRefreshToken(ctx, hash); err == nil {
		event.UserID = rec.UserID.String()
		event.SessionID = rec.ID.String()
		m.logger.Info("session revoked", "user_id", rec.UserID, "session_id", rec.ID)
	}
	m.events.publish(ctx, EventSessionRevoked, event.UserID, m.now(), event)
	return true, nil
}

// RevokeAll revokes every session of the user, expired ones included. Access
// tokens already issued stay valid until their own expiry.
func (m *SessionManager) RevokeAll(ctx context.Context, userID uuid.UUID) (bool, error) {
	revoked, err := m.store.RevokeAllRefreshTokens(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("revoke all refresh tokens: %w", err)
	}
	if !revoked {
		return false, nil
	}

	m.metrics.IncRevocation("all")
	m.logger.Info("all sessions revoked", "user_id", userID)
	m.events.publish(ctx, EventSessionsRevokedAll, userID.String(), m.now(), SessionEvent{
		UserID: userID.String(),
	})
	return true, nil
}

// ListSessions returns every stored session of the user, newest first.
func (m *SessionManager) ListSessions(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	records, err := m.store.ListRefreshTokensForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list refresh tokens: %w", err)
	}

	now := m.now()
	sessions := make([]Session, 0, len(records))
	for _, rec := range records {
		status := SessionActive
		switch {
		case rec.IsRevoked:
			status = SessionRevoked
		case rec.Expired(now):
			status = SessionExpired
		}
		sessions = append(sessions, Session{
			ID:        rec.ID,
			Status:    status,
			IPAddress: deref(rec.IPAddress),
			UserAgent: deref(rec.UserAgent),
			CreatedAt: rec.CreatedAt,
			ExpiresAt: rec.ExpiresAt,
		})
	}
	return sessions, nil
}

// PurgeExpired deletes sessions whose expiry is strictly before now and
// returns how many were removed.
func (m *SessionManager) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := m.store.DeleteExpiredRefreshTokens(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	m.metrics.AddPurged(n)
	if n > 0 {
		m.events.publish(ctx, EventSessionsPurged, "", now, SessionEvent{Count: n})
	}
	return n, nil
}

func refreshStatus(err error) string {
	switch {
	case errors.Is(err, ErrRevokedRefreshToken):
		return "revoked"
	case errors.Is(err, ErrExpiredRefreshToken):
		return "expired"
	case errors.Is(err, ErrInvalidRefreshToken):
		return "invalid"
	default:
		return "error"
	}
}

func expiresIn(access security.SignedToken) int64 {
	return int64(access.ExpiresAt.Sub(access.IssuedAt) / time.Second)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
