// Package resolver maps request paths onto the virtual resource tree:
// principals, collections, calendar entities and binary resources.
package resolver

import (
	"context"
	"errors"
	"strings"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/engine"
)

// Existence states what the caller requires of the target.
type Existence int

const (
	// MustExist fails with NotFound when the target is absent.
	MustExist Existence = iota
	// MustNotExist fails when the target is already present.
	MustNotExist
	// MayExist accepts either outcome.
	MayExist
	// DoesExist short-circuits: the caller already holds the object from a
	// prior listing and only wants it wrapped.
	DoesExist
)

// Want is the caller's expectation of what the path denotes.
type Want int

const (
	Unknown Want = iota
	WantPrincipal
	WantCollection
	WantEntity
)

// Supplied carries pre-fetched objects for DoesExist resolution.
type Supplied struct {
	Col      *engine.Collection
	Entity   *engine.Entity
	Resource *engine.Resource
}

type Resolver struct {
	eng             engine.Engine
	principalPrefix string
}

func New(eng engine.Engine, principalPrefix string) *Resolver {
	return &Resolver{eng: eng, principalPrefix: principalPrefix}
}

// Resolve walks the hierarchy for path and produces a reference describing
// what it denotes. All failures are taxonomy errors.
func (r *Resolver) Resolve(ctx context.Context, path string, req Existence, want Want, sup *Supplied) (*Ref, error) {
	path = Normalize(path)
	if path == "" {
		return nil, derr.BadRequest("empty path")
	}

	if req == DoesExist && sup != nil {
		if ref := wrapSupplied(sup); ref != nil {
			return ref, nil
		}
	}

	if strings.HasPrefix(path, r.principalPrefix+"/") || path == r.principalPrefix {
		if want != Unknown && want != WantPrincipal {
			return nil, derr.NotFound("not a principal path")
		}
		p, err := r.eng.PrincipalByPath(ctx, path)
		if err != nil {
			return nil, derr.NotFound("unknown principal")
		}
		return PrincipalRef(p), nil
	}

	col, err := r.eng.Collection(ctx, path)
	switch {
	case err == nil:
		if want == WantCollection || want == Unknown {
			if req == MustNotExist {
				return nil, derr.Forbidden(derr.TagResourceMustBeNull, "collection exists")
			}
			return CollectionRef(col, true), nil
		}
		// A collection path with want==entity falls through; the entity
		// branch will miss on the leaf and report it.
	case errors.Is(err, engine.ErrNotFound):
		if want == WantCollection && req == MustExist {
			return nil, derr.NotFound("no such collection")
		}
	default:
		return nil, derr.Wrap(err)
	}

	parentPath, leaf := split(path)
	if leaf == "" {
		return nil, derr.NotFound("no leaf name")
	}
	parent, err := r.eng.Collection(ctx, parentPath)
	if err != nil {
		if errors.Is(err, engine.ErrNotFound) {
			if want == WantCollection {
				return nil, derr.Conflict("parent collection does not exist")
			}
			return nil, derr.NotFound("no parent collection")
		}
		return nil, derr.Wrap(err)
	}

	if want == WantCollection {
		// Not-yet-persisted handle for MKCOL/MKCALENDAR.
		return CollectionRef(&engine.Collection{
			Path:       path,
			ParentPath: parent.Path,
			Name:       leaf,
			Owner:      parent.Owner,
		}, false), nil
	}

	if parent.EntitiesAllowed() {
		return r.resolveEntity(ctx, parent, leaf, req)
	}
	return r.resolveResource(ctx, parent, leaf, req)
}

func (r *Resolver) resolveEntity(ctx context.Context, parent *engine.Collection, leaf string, req Existence) (*Ref, error) {
	ent, err := r.eng.Entity(ctx, parent, leaf)
	switch {
	case err == nil:
		if req == MustNotExist {
			return nil, derr.PreconditionFailed("entity exists")
		}
		return EntityRef(parent, ent, leaf, true), nil
	case errors.Is(err, engine.ErrNotFound):
		if req == MustExist {
			return nil, derr.NotFound("no such calendar object")
		}
		return EntityRef(parent, nil, leaf, false), nil
	default:
		return nil, derr.Wrap(err)
	}
}

func (r *Resolver) resolveResource(ctx context.Context, parent *engine.Collection, leaf string, req Existence) (*Ref, error) {
	res, err := r.eng.GetResource(ctx, parent, leaf)
	switch {
	case err == nil:
		if req == MustNotExist {
			return nil, derr.PreconditionFailed("resource exists")
		}
		return ResourceRef(parent, res, leaf, true), nil
	case errors.Is(err, engine.ErrNotFound):
		if req == MustExist {
			return nil, derr.NotFound("no such resource")
		}
		fresh := &engine.Resource{
			Name:           leaf,
			CollectionPath: parent.Path,
			Owner:          parent.Owner,
			New:            true,
		}
		return ResourceRef(parent, fresh, leaf, false), nil
	default:
		return nil, derr.Wrap(err)
	}
}

func wrapSupplied(sup *Supplied) *Ref {
	switch {
	case sup.Entity != nil && sup.Col != nil:
		return EntityRef(sup.Col, sup.Entity, sup.Entity.Name, true)
	case sup.Resource != nil && sup.Col != nil:
		return ResourceRef(sup.Col, sup.Resource, sup.Resource.Name, true)
	case sup.Col != nil:
		return CollectionRef(sup.Col, true)
	}
	return nil
}

// Normalize forces a leading slash and strips any trailing slash.
func Normalize(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

func split(p string) (parent, leaf string) {
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	parent = p[:i]
	if parent == "" {
		parent = "/"
	}
	return parent, p[i+1:]
}
