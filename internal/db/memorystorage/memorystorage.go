// Package memorystorage keeps users and links in process memory.
// A single MemoryStorage owns both mappings and serializes every
// mutation behind one lock, so uniqueness checks and counter updates
// never interleave.
package memorystorage

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/thoas/go-funk"

	"github.com/zixialu/tinyapp/internal/access"
	"github.com/zixialu/tinyapp/internal/models"
	"github.com/zixialu/tinyapp/internal/tokengen"
	"github.com/zixialu/tinyapp/internal/user"
)

type tokenGenerator interface {
	Generate(exists tokengen.ExistsFunc) string
}

// MemoryStorage is the in-memory identity and link store.
type MemoryStorage struct {
	mu sync.RWMutex

	users map[string]*user.User
	links map[string]*models.Link

	// linksByOwner lists each owner's tokens in creation order.
	linksByOwner map[string][]string

	generator tokenGenerator
	nowFunc   func() time.Time
}

// New returns an empty MemoryStorage that allocates user ids and short
// tokens with generator.
func New(generator tokenGenerator) (*MemoryStorage, error) {
	return &MemoryStorage{
		users:        map[string]*user.User{},
		links:        map[string]*models.Link{},
		linksByOwner: map[string][]string{},
		generator:    generator,
		nowFunc:      time.Now,
	}, nil
}

// CreateUser stores a new user with a freshly allocated id.
// It fails with models.ErrConflict if the email is already registered.
func (s *MemoryStorage) CreateUser(ctx context.Context, email, passwordHash string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findUserByEmail(email) != nil {
		return nil, models.ErrConflict
	}

	usr := &user.User{
		ID: s.generator.Generate(func(id string) bool {
			_, taken := s.users[id]
			return taken
		}),
		Email:        email,
		PasswordHash: passwordHash,
	}
	s.users[usr.ID] = usr

	result := *usr
	return &result, nil
}

// GetUserByID returns the user with the given id or models.ErrUserNotFound.
func (s *MemoryStorage) GetUserByID(ctx context.Context, userID string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usr, found := s.users[userID]
	if !found {
		return nil, models.ErrUserNotFound
	}

	result := *usr
	return &result, nil
}

// FindUserByEmail looks a user up by email, ignoring letter case.
func (s *MemoryStorage) FindUserByEmail(ctx context.Context, email string) (*user.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	usr := s.findUserByEmail(email)
	if usr == nil {
		return nil, false, nil
	}

	result := *usr
	return &result, true, nil
}

// CreateLink stores a new link owned by ownerID under a freshly allocated
// short token. The owner must exist.
func (s *MemoryStorage) CreateLink(ctx context.Context, ownerID, longURL string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.users[ownerID]; !found {
		return nil, models.ErrUserNotFound
	}

	link := &models.Link{
		ShortToken: s.generator.Generate(s.isShortTokenTaken),
		LongURL:    longURL,
		OwnerID:    ownerID,
		CreatedAt:  s.nowFunc(),
	}
	s.links[link.ShortToken] = link
	s.linksByOwner[ownerID] = append(s.linksByOwner[ownerID], link.ShortToken)

	result := *link
	return &result, nil
}

// GetLink returns a copy of the link stored under token or models.ErrNotFound.
func (s *MemoryStorage) GetLink(ctx context.Context, token string) (*models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, found := s.links[token]
	if !found {
		return nil, models.ErrNotFound
	}

	result := *link
	return &result, nil
}

// GetUserLinks returns the links owned by ownerID in creation order.
func (s *MemoryStorage) GetUserLinks(ctx context.Context, ownerID string) ([]models.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tokens := s.linksByOwner[ownerID]
	result := make([]models.Link, 0, len(tokens))
	for _, token := range tokens {
		result = append(result, *s.links[token])
	}

	return result, nil
}

// UpdateLinkURL replaces the long URL of the link stored under token.
// Absent tokens fail with models.ErrNotFound before ownership is looked at;
// a requester other than the owner gets models.ErrForbidden and nothing changes.
func (s *MemoryStorage) UpdateLinkURL(ctx context.Context, token, requesterID, longURL string) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, found := s.links[token]
	if !found {
		return nil, models.ErrNotFound
	}
	if !access.CanMutate(requesterID, link.OwnerID) {
		return nil, models.ErrForbidden
	}

	link.LongURL = longURL

	result := *link
	return &result, nil
}

// DeleteLink removes the link stored under token, with the same checks as UpdateLinkURL.
func (s *MemoryStorage) DeleteLink(ctx context.Context, token, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, found := s.links[token]
	if !found {
		return models.ErrNotFound
	}
	if !access.CanMutate(requesterID, link.OwnerID) {
		return models.ErrForbidden
	}

	delete(s.links, token)
	s.linksByOwner[link.OwnerID] = funk.FilterString(
		s.linksByOwner[link.OwnerID],
		func(owned string) bool { return owned != token },
	)
	if len(s.linksByOwner[link.OwnerID]) == 0 {
		delete(s.linksByOwner, link.OwnerID)
	}

	return nil
}

// RecordVisit counts one visit of the link stored under token. The visit
// counter always grows; the unique counter grows only when isFirstVisit
// reports true. isFirstVisit is called at most once, under the store lock,
// and only for existing links.
func (s *MemoryStorage) RecordVisit(ctx context.Context, token string, isFirstVisit func() bool) (*models.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, found := s.links[token]
	if !found {
		return nil, models.ErrNotFound
	}

	link.VisitCount++
	if isFirstVisit() {
		link.UniqueVisitCount++
	}

	result := *link
	return &result, nil
}

// GetNumberOfLinks returns how many links are stored.
func (s *MemoryStorage) GetNumberOfLinks(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.links)), nil
}

// GetNumberOfUsers returns how many users are registered.
func (s *MemoryStorage) GetNumberOfUsers(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.users)), nil
}

func (s *MemoryStorage) isShortTokenTaken(token string) bool {
	_, taken := s.links[token]
	return taken
}

// findUserByEmail scans all users; the caller holds the lock.
func (s *MemoryStorage) findUserByEmail(email string) *user.User {
	for _, usr := range s.users {
		if strings.EqualFold(usr.Email, email) {
			return usr
		}
	}

	return nil
}
