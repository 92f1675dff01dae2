// Package mockstorage provides a testify-based mock implementation
// of the storage interfaces used by the service package.
package mockstorage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/zixialu/tinyapp/internal/models"
	"github.com/zixialu/tinyapp/internal/user"
)

// StorageMock is a testify mock of the user, link and stats storage.
//
// RecordVisit does not call the isFirstVisit callback unless OnRecordVisit is set.
type StorageMock struct {
	mock.Mock

	// OnRecordVisit, when set, replaces the generic mock handling of RecordVisit
	// so tests can drive the visit-marker callback.
	OnRecordVisit func(ctx context.Context, token string, isFirstVisit func() bool) (*models.Link, error)
}

func (m *StorageMock) CreateUser(ctx context.Context, email, passwordHash string) (*user.User, error) {
	args := m.Called(ctx, email, passwordHash)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

func (m *StorageMock) GetUserByID(ctx context.Context, userID string) (*user.User, error) {
	args := m.Called(ctx, userID)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Error(1)
}

func (m *StorageMock) FindUserByEmail(ctx context.Context, email string) (*user.User, bool, error) {
	args := m.Called(ctx, email)
	usr, _ := args.Get(0).(*user.User)
	return usr, args.Bool(1), args.Error(2)
}

func (m *StorageMock) CreateLink(ctx context.Context, ownerID, longURL string) (*models.Link, error) {
	args := m.Called(ctx, ownerID, longURL)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (m *StorageMock) GetLink(ctx context.Context, token string) (*models.Link, error) {
	args := m.Called(ctx, token)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (m *StorageMock) GetUserLinks(ctx context.Context, ownerID string) ([]models.Link, error) {
	args := m.Called(ctx, ownerID)
	links, _ := args.Get(0).([]models.Link)
	return links, args.Error(1)
}

func (m *StorageMock) UpdateLinkURL(ctx context.Context, token, requesterID, longURL string) (*models.Link, error) {
	args := m.Called(ctx, token, requesterID, longURL)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (m *StorageMock) DeleteLink(ctx context.Context, token, requesterID string) error {
	args := m.Called(ctx, token, requesterID)
	return args.Error(0)
}

func (m *StorageMock) RecordVisit(ctx context.Context, token string, isFirstVisit func() bool) (*models.Link, error) {
	if m.OnRecordVisit != nil {
		return m.OnRecordVisit(ctx, token, isFirstVisit)
	}
	args := m.Called(ctx, token, isFirstVisit)
	link, _ := args.Get(0).(*models.Link)
	return link, args.Error(1)
}

func (m *StorageMock) GetNumberOfLinks(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *StorageMock) GetNumberOfUsers(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}
