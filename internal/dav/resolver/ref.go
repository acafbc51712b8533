package resolver

import "github.com/calagora/caldav/internal/engine"

// Kind discriminates the resolved reference variants. Exactly one variant's
// fields are populated per Ref.
type Kind int

const (
	KindPrincipal Kind = iota
	KindCollection
	KindEntity
	KindResource
)

// Ref is the resolver's output: what a path denotes and whether it exists.
type Ref struct {
	Kind   Kind
	Exists bool

	Principal *engine.Principal

	// Col is the collection itself for KindCollection, the parent collection
	// for entity and resource refs.
	Col *engine.Collection

	Entity     *engine.Entity
	EntityName string
	// Nameless marks a new entity that has not been assigned a name yet; the
	// name is derived from the UID at commit.
	Nameless bool

	Resource     *engine.Resource
	ResourceName string
}

func PrincipalRef(p *engine.Principal) *Ref {
	return &Ref{Kind: KindPrincipal, Exists: true, Principal: p}
}

func CollectionRef(col *engine.Collection, exists bool) *Ref {
	return &Ref{Kind: KindCollection, Exists: exists, Col: col}
}

func EntityRef(parent *engine.Collection, ent *engine.Entity, name string, exists bool) *Ref {
	return &Ref{Kind: KindEntity, Exists: exists, Col: parent, Entity: ent, EntityName: name}
}

// NamelessEntityRef wraps a freshly parsed entity that will be named from
// its UID when stored.
func NamelessEntityRef(parent *engine.Collection, ent *engine.Entity) *Ref {
	return &Ref{Kind: KindEntity, Exists: false, Col: parent, Entity: ent, Nameless: true}
}

func ResourceRef(parent *engine.Collection, res *engine.Resource, name string, exists bool) *Ref {
	return &Ref{Kind: KindResource, Exists: exists, Col: parent, Resource: res, ResourceName: name}
}

// Path reconstructs the request path the reference denotes.
func (r *Ref) Path() string {
	switch r.Kind {
	case KindPrincipal:
		return r.Principal.Path
	case KindCollection:
		return r.Col.Path
	case KindEntity:
		if r.Nameless {
			return r.Col.Path
		}
		return r.Col.Path + "/" + r.EntityName
	case KindResource:
		return r.Col.Path + "/" + r.ResourceName
	}
	return ""
}

func (r *Ref) IsCollection() bool { return r.Kind == KindCollection }

func (r *Ref) IsPrincipal() bool { return r.Kind == KindPrincipal }

func (r *Ref) IsResource() bool { return r.Kind == KindResource }

// SameTarget reports whether two references denote the same object,
// compared by path and entity name.
func (r *Ref) SameTarget(o *Ref) bool {
	if r.Kind != o.Kind {
		return false
	}
	if r.Kind == KindPrincipal {
		return r.Principal.Path == o.Principal.Path
	}
	return r.Path() == o.Path() && r.EntityName == o.EntityName
}
