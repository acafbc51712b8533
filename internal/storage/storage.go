package storage

import (
	"context"
	"errors"
	"time"

	"github.com/calagora/caldav/internal/engine"
)

// ErrNotFound is returned by lookups that miss; callers translate it to the
// protocol taxonomy.
var ErrNotFound = errors.New("storage: not found")

// Store persists the virtual collection hierarchy, calendar-object entities
// and binary resources. Handles cross this boundary by value of intent: the
// store assigns etags and timestamps on write.
type Store interface {
	Close()

	// Collections
	GetCollection(ctx context.Context, path string) (*engine.Collection, error)
	ListChildren(ctx context.Context, parentPath string) ([]*engine.Collection, error)
	CreateCollection(ctx context.Context, col *engine.Collection) error
	UpdateCollection(ctx context.Context, col *engine.Collection) error
	DeleteCollection(ctx context.Context, path string) error

	// Entities
	GetEntity(ctx context.Context, colPath, name string) (*engine.Entity, error)
	// ListEntities filters by component names and overlap with [start, end)
	// when given.
	ListEntities(ctx context.Context, colPath string, components []string, start, end *time.Time) ([]*engine.Entity, error)
	PutEntity(ctx context.Context, ent *engine.Entity) error
	DeleteEntity(ctx context.Context, colPath, name string) error

	// Binary resources
	GetResource(ctx context.Context, colPath, name string) (*engine.Resource, error)
	ListResources(ctx context.Context, colPath string) ([]*engine.Resource, error)
	PutResource(ctx context.Context, res *engine.Resource) error
	DeleteResource(ctx context.Context, colPath, name string) error
}
