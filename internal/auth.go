package internal

import "context"

// RoleGranter receives the roles an authorization delegate grants.
type RoleGranter interface {
	AddRole(roles ...string)
}

// AuthorizeFunc decides whether the request is authorized and returns the
// user bound to it. It runs before the action of every request.
//
//	app := trellis.New(trellis.WithAuthorize(func(r *trellis.Request, roles trellis.RoleGranter) (bool, any) {
//	    u, ok := users.ByToken(r.Context(), r.CookieValue("token"))
//	    if ok && u.Admin {
//	        roles.AddRole("admin")
//	    }
//	    return ok, u
//	}))
type AuthorizeFunc func(r *Request, roles RoleGranter) (authorized bool, user any)

// UserAuthorizeFunc is the user-only shape of AuthorizeFunc: a non-nil user
// means authorized.
type UserAuthorizeFunc func(r *Request, roles RoleGranter) (user any)

// SchemaValidator validates and normalizes request bodies for routes with a
// schema flag. A failure that carries a client payload should be returned as
// schema.Errors.
type SchemaValidator interface {
	Has(group, name string) bool
	Validate(ctx context.Context, group, name, subname string, body any) (any, error)
}

type authorizer func(r *Request) (authorized bool, user any)

func (f AuthorizeFunc) authorizer() authorizer {
	return func(r *Request) (bool, any) { return f(r, r) }
}

func (f UserAuthorizeFunc) authorizer() authorizer {
	return func(r *Request) (bool, any) {
		user := f(r, r)
		return user != nil, user
	}
}
