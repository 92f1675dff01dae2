// Package access decides whether a caller may mutate a link.
package access

// CanMutate reports whether the user identified by userID may update or delete
// a link owned by ownerID. Both ids must be present and equal.
func CanMutate(userID, ownerID string) bool {
	return userID != "" && ownerID != "" && userID == ownerID
}
