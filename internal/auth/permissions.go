package auth

import "github.com/KevinKickass/EndpointRegistry/internal/history"

// Granted reports whether perms include perm.
func Granted(perms []Permission, perm Permission) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// ForVariant maps a details variant to the permission it needs. Unknown tags
// need write access; the dispatcher rejects them after resolving the endpoint.
func ForVariant(catalog *history.Catalog, tag history.Tag) Permission {
	kind, ok := catalog.KindOf(tag)
	if ok && kind != history.KindUpdate {
		return PermHistoryRead
	}
	return PermHistoryWrite
}
