package models

import (
	"errors"
	"time"
)

// Link is a short token mapped to a long URL together with its owner and visit counters.
type Link struct {
	ShortToken       string
	LongURL          string
	OwnerID          string
	CreatedAt        time.Time
	VisitCount       int64
	UniqueVisitCount int64
}

type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UserResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

type LinkRequest struct {
	URL string `json:"url" validate:"required,url"`
}

type CreateLinkResponse struct {
	ShortToken string `json:"short_token"`
	ShortURL   string `json:"short_url"`
}

type LinkResponse struct {
	ShortToken       string    `json:"short_token"`
	ShortURL         string    `json:"short_url"`
	LongURL          string    `json:"long_url"`
	CreatedAt        time.Time `json:"created_at"`
	VisitCount       int64     `json:"visit_count"`
	UniqueVisitCount int64     `json:"unique_visit_count"`
}

type LinksResponse []LinkResponse

type InternalStatsResponse struct {
	Links int64 `json:"links"`
	Users int64 `json:"users"`
}

type URLFormatter func(string) string

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrConflict        = errors.New("email already registered")
	ErrAuthFailed      = errors.New("invalid email or password")
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("not the owner of the link")
	ErrNotFound        = errors.New("link not found")
	ErrUserNotFound    = errors.New("user not found")
)
