package handlers

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/AfshinJalili/audioshop/libs/auth"
	"github.com/AfshinJalili/audioshop/libs/httpmiddleware"
	"github.com/AfshinJalili/audioshop/services/auth/internal/rate"
	"github.com/AfshinJalili/audioshop/services/auth/internal/security"
	"github.com/AfshinJalili/audioshop/services/auth/internal/service"
	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Credentials interface {
	Validate(ctx context.Context, identifier, password string) (service.Identity, error)
}

type Sessions interface {
	Login(ctx context.Context, identity service.Identity, req service.RequestContext) (*service.LoginResult, error)
	RotateAccessToken(ctx context.Context, token string) (security.SignedToken, error)
	Revoke(ctx context.Context, token string) (bool, error)
	RevokeAll(ctx context.Context, userID uuid.UUID) (bool, error)
	ListSessions(ctx context.Context, userID uuid.UUID) ([]service.Session, error)
}

type Registrar interface {
	Register(ctx context.Context, input service.RegisterInput) (service.Identity, error)
}

type AuthHandler struct {
	Credentials Credentials
	Sessions    Sessions
	Accounts    Registrar
	Limiter     rate.Limiter
	Logger      *slog.Logger
	Clock       Clock
}

type registerRequest struct {
	Email     string `json:"email"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role"`
}

type loginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type revokeResponse struct {
	Revoked bool `json:"revoked"`
}

type sessionItem struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	CreatedAt string `json:"created_at"`
	ExpiresAt string `json:"expires_at"`
}

type listSessionsResponse struct {
	Sessions []sessionItem `json:"sessions"`
}

type errorResponse struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

const tokenTypeBearer = "Bearer"

func NewAuthHandler(creds Credentials, sessions Sessions, accounts Registrar, limiter rate.Limiter, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		Credentials: creds,
		Sessions:    sessions,
		Accounts:    accounts,
		Limiter:     limiter,
		Logger:      logger,
		Clock:       systemClock{},
	}
}

func (h *AuthHandler) RegisterRoutes(r *gin.Engine, jwtSecret []byte, issuer string) {
	public := r.Group("/auth")
	public.POST("/register", h.Register)
	public.POST("/login", h.Login)
	public.POST("/refresh", h.Refresh)
	public.POST("/logout", h.Logout)

	protected := r.Group("/auth", auth.Middleware(jwtSecret, issuer))
	protected.POST("/logout-all", h.LogoutAll)
	protected.GET("/sessions", h.ListSessions)
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := ValidateRegister(req.Email, req.Username, req.Password, req.FirstName, req.LastName); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}
	if !h.allow(c, rate.Key("register", c.ClientIP())) {
		return
	}

	identity, err := h.Accounts.Register(h.requestContext(c), service.RegisterInput{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.writeServiceError(c, "register", err)
		return
	}
	c.JSON(http.StatusCreated, toUserResponse(identity))
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return
	}
	if errs := ValidateLogin(req.Identifier, req.Password); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return
	}

	ip := c.ClientIP()
	if !h.allow(c, rate.Key("login", ip)) {
		return
	}

	ctx := h.requestContext(c)
	identity, err := h.Credentials.Validate(ctx, req.Identifier, req.Password)
	if err != nil {
		h.writeServiceError(c, "login", err)
		return
	}

	result, err := h.Sessions.Login(ctx, identity, service.RequestContext{IP: ip, UserAgent: c.Request.UserAgent()})
	if err != nil {
		h.writeServiceError(c, "login", err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    result.ExpiresIn,
		User:         toUserResponse(result.User),
	})
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	token, ok := bindRefreshToken(c)
	if !ok {
		return
	}

	access, err := h.Sessions.RotateAccessToken(h.requestContext(c), token)
	if err != nil {
		h.writeServiceError(c, "refresh", err)
		return
	}

	c.JSON(http.StatusOK, refreshResponse{
		AccessToken: access.Token,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(access.ExpiresAt.Sub(access.IssuedAt) / time.Second),
	})
}

func (h *AuthHandler) Logout(c *gin.Context) {
	token, ok := bindRefreshToken(c)
	if !ok {
		return
	}

	revoked, err := h.Sessions.Revoke(h.requestContext(c), token)
	if err != nil {
		h.writeServiceError(c, "logout", err)
		return
	}
	c.JSON(http.StatusOK, revokeResponse{Revoked: revoked})
}

func (h *AuthHandler) LogoutAll(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
		return
	}

	revoked, err := h.Sessions.RevokeAll(h.requestContext(c), userID)
	if err != nil {
		h.writeServiceError(c, "logout all", err)
		return
	}
	c.JSON(http.StatusOK, revokeResponse{Revoked: revoked})
}

func (h *AuthHandler) ListSessions(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
		return
	}

	sessions, err := h.Sessions.ListSessions(h.requestContext(c), userID)
	if err != nil {
		h.writeServiceError(c, "list sessions", err)
		return
	}

	items := make([]sessionItem, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, sessionItem{
			ID:        s.ID.String(),
			Status:    s.Status,
			IPAddress: s.IPAddress,
			UserAgent: s.UserAgent,
			CreatedAt: s.CreatedAt.UTC().Format(time.RFC3339),
			ExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, listSessionsResponse{Sessions: items})
}

// allow writes the 429 response itself when the attempt is refused. A limiter
// backend failure lets the request through.
func (h *AuthHandler) allow(c *gin.Context, key string) bool {
	if h.Limiter == nil {
		return true
	}
	allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), key, h.Clock.Now())
	if err != nil {
		h.Logger.Warn("rate limiter unavailable", "error", err)
		return true
	}
	if !allowed {
		if retryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		}
		writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
		return false
	}
	return true
}

func (h *AuthHandler) requestContext(c *gin.Context) context.Context {
	return service.WithCorrelationID(c.Request.Context(), httpmiddleware.RequestIDFrom(c))
}

func (h *AuthHandler) writeServiceError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials", nil)
	case errors.Is(err, service.ErrRevokedRefreshToken):
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "refresh token revoked", nil)
	case errors.Is(err, service.ErrExpiredRefreshToken):
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "refresh token expired", nil)
	case errors.Is(err, service.ErrInvalidRefreshToken):
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token", nil)
	case errors.Is(err, service.ErrEmailTaken):
		writeError(c, http.StatusConflict, "CONFLICT", "email already registered", nil)
	case errors.Is(err, service.ErrUsernameTaken):
		writeError(c, http.StatusConflict, "CONFLICT", "username already taken", nil)
	case errors.Is(err, storage.ErrStorage), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.Logger.Error(op+" failed", "error", err, "request_id", httpmiddleware.RequestIDFrom(c))
		writeError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "service temporarily unavailable", nil)
	default:
		h.Logger.Error(op+" failed", "error", err, "request_id", httpmiddleware.RequestIDFrom(c))
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", nil)
	}
}

func bindRefreshToken(c *gin.Context) (string, bool) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload", nil)
		return "", false
	}
	if errs := ValidateRefreshToken(req.RefreshToken); len(errs) > 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", errs)
		return "", false
	}
	return req.RefreshToken, true
}

func userIDFromContext(c *gin.Context) (uuid.UUID, bool) {
	val, ok := c.Get(auth.ContextUserIDKey)
	if !ok {
		return uuid.Nil, false
	}
	userID, ok := val.(string)
	if !ok {
		return uuid.Nil, false
	}
	parsed, err := uuid.Parse(userID)
	if err != nil {
		return uuid.Nil, false
	}
	return parsed, true
}

func toUserResponse(id service.Identity) userResponse {
	return userResponse{
		ID:        id.UserID.String(),
		Email:     id.Email,
		Username:  id.Username,
		FirstName: id.FirstName,
		LastName:  id.LastName,
		Role:      id.Role,
	}
}

func writeError(c *gin.Context, status int, code, message string, fields []FieldError) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
		Fields:  fields,
	})
}
