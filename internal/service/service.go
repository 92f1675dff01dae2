// Package service implements the actions of the link shortener: account
// registration and login, link management restricted to the link owner,
// and public redirects that maintain visit analytics.
package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"

	"github.com/zixialu/tinyapp/internal/access"
	"github.com/zixialu/tinyapp/internal/auth"
	"github.com/zixialu/tinyapp/internal/logger"
	"github.com/zixialu/tinyapp/internal/models"
	"github.com/zixialu/tinyapp/internal/user"
)

// bcrypt ignores everything past 72 bytes, so longer passwords are refused.
const maxPasswordBytes = 72

// fallbackDecoyHash is a valid bcrypt hash at the default cost, used when the
// hasher cannot produce the decoy.
const fallbackDecoyHash = "$2a$10$XajjQvNhvvRt5GSeFk1xFe5l47dONXg781AmZtd869sO8zfsHuw7C"

type userKeeper interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*user.User, error)
	GetUserByID(ctx context.Context, userID string) (*user.User, error)
	FindUserByEmail(ctx context.Context, email string) (*user.User, bool, error)
}

type linkKeeper interface {
	CreateLink(ctx context.Context, ownerID, longURL string) (*models.Link, error)
	GetLink(ctx context.Context, token string) (*models.Link, error)
	GetUserLinks(ctx context.Context, ownerID string) ([]models.Link, error)
	UpdateLinkURL(ctx context.Context, token, requesterID, longURL string) (*models.Link, error)
	DeleteLink(ctx context.Context, token, requesterID string) error
	RecordVisit(ctx context.Context, token string, isFirstVisit func() bool) (*models.Link, error)
}

type statsKeeper interface {
	GetNumberOfLinks(ctx context.Context) (int64, error)
	GetNumberOfUsers(ctx context.Context) (int64, error)
}

type storage interface {
	userKeeper
	linkKeeper
	statsKeeper
}

type sessionManager interface {
	SetUser(s *auth.Session, userID string)
	ClearUser(s *auth.Session)
	MarkVisited(s *auth.Session, token string) bool
}

type passwordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) error
}

var (
	ErrInvalidInput    = models.ErrInvalidInput
	ErrConflict        = models.ErrConflict
	ErrAuthFailed      = models.ErrAuthFailed
	ErrUnauthenticated = models.ErrUnauthenticated
	ErrForbidden       = models.ErrForbidden
	ErrNotFound        = models.ErrNotFound
)

// Service is the entry point for every action the presentation layer exposes.
type Service struct {
	db           storage
	sessions     sessionManager
	hasher       passwordHasher
	shortURLBase string

	// decoyHash is verified against when a login names an unknown email,
	// so both failure causes cost one bcrypt comparison.
	decoyHashOnce sync.Once
	decoyHash     string
}

func New(
	db storage,
	sessions sessionManager,
	hasher passwordHasher,
	shortURLBase string,
) *Service {
	return &Service{
		db:           db,
		sessions:     sessions,
		hasher:       hasher,
		shortURLBase: strings.TrimRight(shortURLBase, "/"),
	}
}

// Register creates an account and logs it in on s.
func (s *Service) Register(ctx context.Context, sess *auth.Session, email, password string) (*user.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" || len(password) > maxPasswordBytes {
		return nil, ErrInvalidInput
	}

	_, found, err := s.db.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if found {
		return nil, ErrConflict
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	usr, err := s.db.CreateUser(ctx, email, passwordHash)
	if err != nil {
		return nil, err
	}

	s.sessions.SetUser(sess, usr.ID)
	logger.Log.Debugw("user registered", "user_id", usr.ID)

	return usr, nil
}

// Login verifies the credentials and logs the user in on sess. Unknown emails
// and wrong passwords both yield ErrAuthFailed and leave sess untouched.
func (s *Service) Login(ctx context.Context, sess *auth.Session, email, password string) (*user.User, error) {
	email = strings.TrimSpace(email)

	usr, found, err := s.db.FindUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	if !found {
		_ = s.hasher.Verify(s.getDecoyHash(), password)
		return nil, ErrAuthFailed
	}

	if err := s.hasher.Verify(usr.PasswordHash, password); err != nil {
		return nil, ErrAuthFailed
	}

	s.sessions.SetUser(sess, usr.ID)

	return usr, nil
}

// Logout discards the user and the visit markers of sess.
func (s *Service) Logout(ctx context.Context, sess *auth.Session) {
	s.sessions.ClearUser(sess)
}

// CurrentUser returns the user logged in on sess or ErrUnauthenticated.
func (s *Service) CurrentUser(ctx context.Context, sess *auth.Session) (*user.User, error) {
	if !sess.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}

	usr, err := s.db.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}

	return usr, nil
}

// CreateLink shortens longURL on behalf of the user logged in on sess.
func (s *Service) CreateLink(ctx context.Context, sess *auth.Session, longURL string) (*models.Link, error) {
	usr, err := s.CurrentUser(ctx, sess)
	if err != nil {
		return nil, err
	}

	longURL = strings.TrimSpace(longURL)
	if !isValidURL(longURL) {
		return nil, ErrInvalidInput
	}

	link, err := s.db.CreateLink(ctx, usr.ID, longURL)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}

	return link, nil
}

// ListLinks returns the links owned by the user logged in on sess,
// or nothing for anonymous sessions.
func (s *Service) ListLinks(ctx context.Context, sess *auth.Session) ([]models.Link, error) {
	if !sess.IsAuthenticated() {
		return []models.Link{}, nil
	}

	return s.db.GetUserLinks(ctx, sess.UserID)
}

// GetLink returns a link to its owner.
func (s *Service) GetLink(ctx context.Context, sess *auth.Session, token string) (*models.Link, error) {
	link, err := s.db.GetLink(ctx, token)
	if err != nil {
		return nil, err
	}

	if !access.CanMutate(sess.UserID, link.OwnerID) {
		return nil, ErrForbidden
	}

	return link, nil
}

// UpdateLink points the owner's link at a new long URL.
func (s *Service) UpdateLink(ctx context.Context, sess *auth.Session, token, longURL string) (*models.Link, error) {
	longURL = strings.TrimSpace(longURL)
	if !isValidURL(longURL) {
		return nil, ErrInvalidInput
	}

	return s.db.UpdateLinkURL(ctx, token, sess.UserID, longURL)
}

// DeleteLink removes the owner's link.
func (s *Service) DeleteLink(ctx context.Context, sess *auth.Session, token string) error {
	return s.db.DeleteLink(ctx, token, sess.UserID)
}

// Visit counts a redirect through token and returns the URL to redirect to.
// Every call counts as a visit; the first call per session also counts as a
// unique visit. No login is needed.
func (s *Service) Visit(ctx context.Context, sess *auth.Session, token string) (string, error) {
	link, err := s.db.RecordVisit(ctx, token, func() bool {
		return s.sessions.MarkVisited(sess, token)
	})
	if err != nil {
		return "", err
	}

	return link.LongURL, nil
}

// GetInternalStats returns the number of stored links and registered users.
func (s *Service) GetInternalStats(ctx context.Context) (models.InternalStatsResponse, error) {
	links, err := s.db.GetNumberOfLinks(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	users, err := s.db.GetNumberOfUsers(ctx)
	if err != nil {
		return models.InternalStatsResponse{}, err
	}

	return models.InternalStatsResponse{
		Links: links,
		Users: users,
	}, nil
}

// GetShortURL formats the public redirect URL of a short token.
func (s *Service) GetShortURL(token string) string {
	return s.shortURLBase + "/u/" + token
}

func (s *Service) getDecoyHash() string {
	s.decoyHashOnce.Do(func() {
		hash, err := s.hasher.Hash("decoy password for unknown accounts")
		if err != nil {
			logger.Log.Errorw("decoy hash unavailable, using the fallback", "error", err)
			hash = fallbackDecoyHash
		}
		s.decoyHash = hash
	})

	return s.decoyHash
}

func isValidURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil &&
		(u.Scheme == "http" || u.Scheme == "https") &&
		u.Host != ""
}
