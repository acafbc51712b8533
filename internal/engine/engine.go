package engine

import (
	"context"
	"errors"
	"time"
)

// Lookup misses are reported with ErrNotFound so callers can distinguish
// absence from backend failure.
var (
	ErrNotFound = errors.New("engine: not found")
	ErrExists   = errors.New("engine: already exists")
	ErrNoAccess = errors.New("engine: access denied")
)

// EntityFilter narrows an entity listing. A nil filter means full fetch.
type EntityFilter struct {
	// Components restricts by component name (VEVENT, VTODO, ...).
	Components []string
	// Retrieve lists the property names the caller needs; nil means all.
	Retrieve []string
	Start    *time.Time
	End      *time.Time
}

// MethodEmit selects whether serialization includes the iTIP METHOD
// property.
type MethodEmit int

const (
	NoMethod MethodEmit = iota
	EventMethod
)

// Privilege is the access probe passed to CheckAccess.
type Privilege int

const (
	PrivReadAny Privilege = iota
	PrivRead
	PrivWriteContent
	PrivBind
	PrivUnbind
	PrivSchedule
)

// Access is the cached result of an access evaluation.
type Access struct {
	Allowed bool
}

// Engine is the narrow boundary to the calendar storage/business layer. The
// protocol core owns no persistence; every blocking call goes through here.
type Engine interface {
	// Principals
	PrincipalByPath(ctx context.Context, href string) (*Principal, error)
	PrincipalByAddress(ctx context.Context, caladdr string) (*Principal, error)
	// AddressForPrincipal returns the canonical calendar-user address.
	AddressForPrincipal(ctx context.Context, p *Principal) (string, error)

	// Collections
	Collection(ctx context.Context, path string) (*Collection, error)
	Children(ctx context.Context, col *Collection) ([]*Collection, error)
	MakeCollection(ctx context.Context, col *Collection) error
	UpdateCollection(ctx context.Context, col *Collection) error
	DeleteCollection(ctx context.Context, col *Collection) error
	CopyMoveCollection(ctx context.Context, from, to *Collection, copy, overwrite bool) error
	// ResolveAlias returns the effective target of an alias collection;
	// deep resolution follows nested aliases, shallow stops after one hop.
	// Non-alias collections resolve to themselves.
	ResolveAlias(ctx context.Context, col *Collection, deep bool) (*Collection, error)

	// Entities
	Entity(ctx context.Context, col *Collection, name string) (*Entity, error)
	Entities(ctx context.Context, col *Collection, f *EntityFilter) ([]*Entity, error)
	AddEntity(ctx context.Context, ent *Entity) error
	UpdateEntity(ctx context.Context, ent *Entity) error
	// DeleteEntity removes the entity; scheduleReply requests an iTIP reply
	// be generated on behalf of the deleting attendee.
	DeleteEntity(ctx context.Context, ent *Entity, scheduleReply bool) error
	CopyMoveEntity(ctx context.Context, from *Entity, toCol *Collection, name string, copy, overwrite bool) error

	// Translation between wire iCalendar and entity handles.
	FromIcal(ctx context.Context, col *Collection, data []byte, contentType string) (*Entity, error)
	ToIcal(ctx context.Context, ent *Entity, mode MethodEmit, contentType string) (string, error)

	// Binary resources
	GetResource(ctx context.Context, col *Collection, name string) (*Resource, error)
	Resources(ctx context.Context, col *Collection) ([]*Resource, error)
	PutResource(ctx context.Context, res *Resource) error
	DeleteResource(ctx context.Context, res *Resource) error
	CopyMoveResource(ctx context.Context, from *Resource, toCol *Collection, name string, copy, overwrite bool) error

	// Scheduling
	Schedule(ctx context.Context, ent *Entity) ([]RecipientResult, error)
	RequestFreeBusy(ctx context.Context, ent *Entity) ([]RecipientResult, error)
	// FreeBusyForCollection computes aggregate free-busy over the (alias
	// resolved) collection, recursing at most depth levels.
	FreeBusyForCollection(ctx context.Context, col *Collection, start, end time.Time, depth int) (*Entity, error)

	// Access
	CheckAccess(ctx context.Context, subject any, priv Privilege, returnResult bool) (*Access, error)

	// Rollback signals that the current request's mutations should be
	// abandoned (precondition failures). It is a hint, not a transaction.
	Rollback(ctx context.Context)

	// Notifications
	SendNotification(ctx context.Context, principalHref string, n Notification) error
	SubscribeNotification(ctx context.Context, principalHref, action string, emails []string) error

	// System
	SysProperties() SysProperties
}
