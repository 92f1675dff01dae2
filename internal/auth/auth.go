// Package auth manages caller sessions. A session is handed to the client
// as a signed JWT carrying the session id and the logged-in user id; the
// set of short tokens a session has already visited stays on the server,
// keyed by session id, so a client can neither forge its identity nor
// reset its visit markers by editing the token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/thoas/go-funk"
	"go.uber.org/zap"

	"github.com/zixialu/tinyapp/internal/logger"
)

// DefaultLifetime is how long an issued session stays valid.
const DefaultLifetime = 24 * time.Hour

// ErrInvalidSession is returned when a session token fails verification.
var ErrInvalidSession = errors.New("invalid session token")

// Session is the server-side view of one caller.
type Session struct {
	// ID identifies the session and keys its visit markers.
	ID string

	// UserID is empty for anonymous sessions.
	UserID string

	IssuedAt  time.Time
	ExpiresAt time.Time

	// dirty is set when the client holds no valid token for this session state.
	dirty bool
}

// IsAuthenticated reports whether a user is logged in on the session.
func (s *Session) IsAuthenticated() bool {
	return s != nil && s.UserID != ""
}

// Claims represents the JWT claims of a session token.
// RegisteredClaims.ID carries the session id.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id,omitempty"`
}

// ContextKey is a custom type for storing values in context to avoid collisions.
type ContextKey string

// SessionKey is the context key under which WithSession stores the *Session.
const SessionKey ContextKey = "session"

// Manager issues, verifies and mutates sessions.
type Manager struct {
	cookieName string
	signingKey []byte
	lifetime   time.Duration
	registry   *sessionRegistry
	nowFunc    func() time.Time
}

type InitOption func(*initOptions)

type initOptions struct {
	maxTrackedSessions int
}

// WithMaxTrackedSessions bounds how many sessions keep visit markers at once.
func WithMaxTrackedSessions(maxTrackedSessions int) InitOption {
	return func(options *initOptions) {
		options.maxTrackedSessions = maxTrackedSessions
	}
}

// New creates a Manager that signs tokens with signingKey (HS256), keeps them
// valid for lifetime and transports them in the cookie named cookieName.
func New(cookieName string, signingKey []byte, lifetime time.Duration, optionsProto ...InitOption) *Manager {
	options := &initOptions{
		maxTrackedSessions: DefaultMaxTrackedSessions,
	}
	for _, protoOption := range optionsProto {
		protoOption(options)
	}

	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}

	return &Manager{
		cookieName: cookieName,
		signingKey: signingKey,
		lifetime:   lifetime,
		registry:   newSessionRegistry(options.maxTrackedSessions),
		nowFunc:    time.Now,
	}
}

// NewSession returns a fresh anonymous session.
func (m *Manager) NewSession() *Session {
	s := &Session{ID: uuid.NewString()}
	m.renew(s)

	return s
}

// Load verifies tokenString and returns the session it carries. Missing,
// forged, expired or logged out tokens yield a fresh anonymous session.
func (m *Manager) Load(tokenString string) *Session {
	if tokenString == "" {
		return m.NewSession()
	}

	claims, err := m.parse(tokenString)
	if err != nil {
		logger.Log.Debugln("Session token rejected:", zap.Error(err))
		return m.NewSession()
	}

	return &Session{
		ID:        claims.ID,
		UserID:    claims.UserID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}
}

// Issue signs the session into an opaque token for the client.
func (m *Manager) Issue(s *Session) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        s.ID,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		UserID: s.UserID,
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.signingKey)
	if err != nil {
		return "", fmt.Errorf("in internal/auth/auth.go/Issue(): error while `SignedString()` calling: %w", err)
	}

	return tokenString, nil
}

// SetUser logs userID in on the session and starts a new lifetime.
// Visit markers are kept unless another user was logged in on the session,
// in which case it is rotated as on logout first.
func (m *Manager) SetUser(s *Session, userID string) {
	if s.UserID != "" && s.UserID != userID {
		m.rotate(s)
	}

	s.UserID = userID
	m.renew(s)
	m.registry.extend(s.ID, s.ExpiresAt)
}

// ClearUser logs the session out. The session is replaced by a fresh one:
// new id, no user, no visit markers. Tokens of a logged in session stop
// being accepted.
func (m *Manager) ClearUser(s *Session) {
	m.rotate(s)
	s.UserID = ""
	m.renew(s)
}

// MarkVisited records that the session redirected through token and reports
// whether this is the first time it did so.
func (m *Manager) MarkVisited(s *Session, token string) bool {
	return m.registry.markVisited(s.ID, token, s.ExpiresAt, m.nowFunc())
}

// VisitedTokens returns the tokens the session has visited, sorted.
func (m *Manager) VisitedTokens(s *Session) []string {
	visited := m.registry.visited(s.ID, m.nowFunc())
	if len(visited) == 0 {
		return []string{}
	}

	tokens := funk.Keys(visited).([]string)
	sort.Strings(tokens)

	return tokens
}

// WithSession is an HTTP middleware that loads the caller's session from the
// Authorization header or the session cookie and stores it in the request
// context under SessionKey. Callers without a valid token get a fresh
// anonymous session, which is sent back before the handler runs.
func (m *Manager) WithSession(h http.Handler) http.Handler {
	middleware := func(response http.ResponseWriter, request *http.Request) {
		s := m.Load(m.getTokenStringFromAuthorizationHeaderOrCookie(request))

		if s.dirty {
			if err := m.Save(response, s); err != nil {
				logger.Log.Debugln("Error calling the `m.Save()`: ", zap.Error(err))
				response.WriteHeader(http.StatusInternalServerError)
				return
			}
		}

		ctx := context.WithValue(request.Context(), SessionKey, s)
		h.ServeHTTP(response, request.WithContext(ctx))
	}

	return http.HandlerFunc(middleware)
}

// Save issues the session and sends it to the client as a cookie and an
// Authorization header. It must be called before the response body is written.
func (m *Manager) Save(response http.ResponseWriter, s *Session) error {
	tokenString, err := m.Issue(s)
	if err != nil {
		return err
	}

	response.Header().Set("Authorization", tokenString)
	http.SetCookie(
		response,
		&http.Cookie{
			Name:     m.cookieName,
			Value:    tokenString,
			Path:     "/",
			Expires:  s.ExpiresAt,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	)
	s.dirty = false

	return nil
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(SessionKey).(*Session)
	return s, ok && s != nil
}

// rotate gives s a new id. Every token issued for the old id expires within
// one lifetime from now, so an authenticated id stays revoked that long.
func (m *Manager) rotate(s *Session) {
	if s.IsAuthenticated() {
		m.registry.revoke(s.ID, m.nowFunc().Add(m.lifetime))
	} else {
		m.registry.forget(s.ID)
	}

	s.ID = uuid.NewString()
}

func (m *Manager) renew(s *Session) {
	now := m.nowFunc()
	s.IssuedAt = now
	s.ExpiresAt = now.Add(m.lifetime)
	s.dirty = true
}

func (m *Manager) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	token, err := parser.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return m.signingKey, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	if !token.Valid || claims.ID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ErrInvalidSession
	}
	if !claims.VerifyExpiresAt(m.nowFunc(), true) {
		return nil, fmt.Errorf("%w: session expired", ErrInvalidSession)
	}
	if m.registry.isRevoked(claims.ID, m.nowFunc()) {
		return nil, fmt.Errorf("%w: session logged out", ErrInvalidSession)
	}

	return claims, nil
}

func (m *Manager) getTokenStringFromAuthorizationHeaderOrCookie(request *http.Request) string {
	tokenString := strings.TrimSpace(strings.TrimPrefix(request.Header.Get("Authorization"), "Bearer "))
	if tokenString != "" {
		return tokenString
	}

	cookie, err := request.Cookie(m.cookieName)
	if err == nil {
		tokenString = cookie.Value
	}

	return tokenString
}
