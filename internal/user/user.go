// Package user defines the user model used throughout the application,
// particularly for authentication and link ownership.
package user

// User represents a registered account.
type User struct {
	// ID is the opaque identifier generated from the short-token alphabet.
	ID string

	// Email is unique across users; comparisons ignore letter case.
	Email string

	// PasswordHash is the bcrypt hash of the password, never the password itself.
	PasswordHash string
}
