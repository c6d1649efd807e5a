// Package access decides whether a principal may perform an operation.
// Roles form a total order, so authorization is a single comparison and no
// permission matrix or inheritance graph is needed.
package access

import (
	"github.com/iliyamo/travel-booking/internal/apperr"
	"github.com/iliyamo/travel-booking/internal/model"
)

// Authorize succeeds iff role ranks at or above required. Anonymous callers
// only pass a requirement of RoleAnonymous.
func Authorize(role, required model.Role) error {
	if role.Satisfies(required) {
		return nil
	}
	return apperr.Forbidden("role " + role.String() + " does not satisfy " + required.String())
}

// AuthorizePrincipal is Authorize with an authentication check first:
// anonymous callers get AuthenticationRequired for any non-trivial
// requirement instead of Forbidden.
func AuthorizePrincipal(p model.Principal, required model.Role) error {
	if required > model.RoleAnonymous && p.IsAnonymous() {
		return apperr.AuthenticationRequired()
	}
	return Authorize(p.Role, required)
}

// AuthorizeOwnerOr lets the owner of a resource through, and otherwise
// requires staff role. A non-owner without the role gets NotFound so that
// the response cannot be used to discover which resource ids exist.
func AuthorizeOwnerOr(p model.Principal, ownerID string, staff model.Role, resource string) error {
	if p.IsAnonymous() {
		return apperr.AuthenticationRequired()
	}
	if ownerID != "" && p.ID == ownerID {
		return nil
	}
	if p.Role.Satisfies(staff) {
		return nil
	}
	return apperr.NotFound(resource)
}
