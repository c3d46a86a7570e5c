package auth

// ValidateUserAccess reports whether the caller may act on the user named in the route.
func ValidateUserAccess(pathUserID int64, id *Identity) bool {
	return id != nil && id.UserID == pathUserID
}

// IsResourceOwner reports whether the caller owns a resource already loaded by id.
func IsResourceOwner(resourceUserID int64, id *Identity) bool {
	return id != nil && id.UserID == resourceUserID
}
