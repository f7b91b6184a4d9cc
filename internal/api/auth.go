package api

import (
	"crypto/subtle"
	"errors"
)

// ErrForbidden means neither the owner nor the admin password matched.
var ErrForbidden = errors.New("forbidden")

// Credentials are the caller-supplied identity on authenticated routes.
type Credentials struct {
	Owner         string `json:"owner"`
	AdminPassword string `json:"admin_password"`
}

// Authorize grants access iff the admin password matches adminSecret or the supplied owner
// equals storedOwner. It is stateless; every request is checked on its own.
func Authorize(adminSecret string, creds Credentials, storedOwner string) error {
	if IsAdmin(adminSecret, creds.AdminPassword) {
		return nil
	}
	if creds.Owner != "" && equal(creds.Owner, storedOwner) {
		return nil
	}
	return ErrForbidden
}

// IsAdmin reports whether supplied matches the admin secret. An empty secret never matches.
func IsAdmin(adminSecret, supplied string) bool {
	return adminSecret != "" && supplied != "" && equal(supplied, adminSecret)
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
