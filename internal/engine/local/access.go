package local

import (
	"context"

	"github.com/calagora/caldav/internal/acl"
	"github.com/calagora/caldav/internal/auth"
	"github.com/calagora/caldav/internal/engine"
)

// CheckAccess evaluates the authenticated principal's privilege on the
// subject. With returnResult false a denial is an error; with true it is a
// result the caller can cache.
func (e *Engine) CheckAccess(ctx context.Context, subject any, priv engine.Privilege, returnResult bool) (*engine.Access, error) {
	allowed, err := e.allowed(ctx, subject, priv)
	if err != nil {
		return nil, err
	}
	if !allowed && !returnResult {
		return nil, engine.ErrNoAccess
	}
	return &engine.Access{Allowed: allowed}, nil
}

func (e *Engine) allowed(ctx context.Context, subject any, priv engine.Privilege) (bool, error) {
	p, ok := auth.PrincipalFrom(ctx)
	if !ok {
		return false, nil
	}

	var owner, path string
	switch s := subject.(type) {
	case *engine.Collection:
		owner, path = s.Owner, s.Path
	case *engine.Entity:
		owner, path = s.Owner, s.CollectionPath
	case *engine.Resource:
		owner, path = s.Owner, s.CollectionPath
	case *engine.Principal:
		// Principal metadata is readable by any authenticated user unless
		// directory browsing is disabled.
		if priv == engine.PrivRead || priv == engine.PrivReadAny {
			return !e.sys.DirectoryBrowsingOff || s.Account == p.UserID, nil
		}
		return false, nil
	default:
		return false, nil
	}

	if owner == p.UserID {
		return true, nil
	}

	eff, err := e.effectiveFor(ctx, p.UserID, path)
	if err != nil {
		return false, err
	}
	switch priv {
	case engine.PrivReadAny, engine.PrivRead:
		return eff.CanRead(), nil
	case engine.PrivWriteContent:
		return eff.CanWrite(), nil
	case engine.PrivBind:
		return eff.CanCreate(), nil
	case engine.PrivUnbind:
		return eff.CanDelete(), nil
	case engine.PrivSchedule:
		return eff.CanSchedule(), nil
	}
	return false, nil
}

// effectiveFor resolves the account to its directory entry before merging
// group grants on the path.
func (e *Engine) effectiveFor(ctx context.Context, account, path string) (acl.Effective, error) {
	user, err := e.dir.LookupUserByAttr(ctx, e.cfg.LDAP.TokenUserAttr, account)
	if err != nil {
		return acl.Effective{}, nil
	}
	return e.acl.Effective(ctx, user, path)
}
