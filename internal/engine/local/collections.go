package local

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

// aliasHopLimit bounds deep alias resolution to keep cycles from looping.
const aliasHopLimit = 10

func mapStoreErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return engine.ErrNotFound
	}
	return err
}

func (e *Engine) Collection(ctx context.Context, path string) (*engine.Collection, error) {
	col, err := e.store.GetCollection(ctx, path)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return col, nil
}

func (e *Engine) Children(ctx context.Context, col *engine.Collection) ([]*engine.Collection, error) {
	kids, err := e.store.ListChildren(ctx, col.Path)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return kids, nil
}

func (e *Engine) MakeCollection(ctx context.Context, col *engine.Collection) error {
	if _, err := e.store.GetCollection(ctx, col.Path); err == nil {
		return engine.ErrExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	parent, err := e.store.GetCollection(ctx, col.ParentPath)
	if err != nil {
		return mapStoreErr(err)
	}
	// Calendar collections may not nest inside other calendars or
	// scheduling collections.
	if col.Type == engine.ColCalendar && parent.Type != engine.ColFolder {
		return fmt.Errorf("%w: calendar under %s collection", engine.ErrNoAccess, parent.Type)
	}
	if col.Name == "" {
		col.Name = col.Path[strings.LastIndex(col.Path, "/")+1:]
	}
	return e.store.CreateCollection(ctx, col)
}

func (e *Engine) UpdateCollection(ctx context.Context, col *engine.Collection) error {
	return mapStoreErr(e.store.UpdateCollection(ctx, col))
}

func (e *Engine) DeleteCollection(ctx context.Context, col *engine.Collection) error {
	switch col.Type {
	case engine.ColInbox, engine.ColOutbox, engine.ColNotifications:
		return fmt.Errorf("%w: %s collections cannot be deleted", engine.ErrNoAccess, col.Type)
	}
	return mapStoreErr(e.store.DeleteCollection(ctx, col.Path))
}

func (e *Engine) CopyMoveCollection(ctx context.Context, from, to *engine.Collection, copy, overwrite bool) error {
	existing, err := e.store.GetCollection(ctx, to.Path)
	if err == nil {
		if !overwrite {
			return engine.ErrExists
		}
		if err := e.store.DeleteCollection(ctx, existing.Path); err != nil {
			return mapStoreErr(err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	dest := *from
	dest.Path = to.Path
	dest.ParentPath = to.ParentPath
	dest.Name = to.Name
	dest.ETag = ""
	if err := e.store.CreateCollection(ctx, &dest); err != nil {
		return err
	}

	ents, err := e.store.ListEntities(ctx, from.Path, nil, nil, nil)
	if err != nil {
		return err
	}
	for _, ent := range ents {
		cp := *ent
		cp.CollectionPath = dest.Path
		if err := e.store.PutEntity(ctx, &cp); err != nil {
			return err
		}
	}

	if !copy {
		return mapStoreErr(e.store.DeleteCollection(ctx, from.Path))
	}
	return nil
}

func (e *Engine) ResolveAlias(ctx context.Context, col *engine.Collection, deep bool) (*engine.Collection, error) {
	cur := col
	for hops := 0; cur.IsAlias(); hops++ {
		if hops >= aliasHopLimit {
			return nil, fmt.Errorf("alias chain too deep at %s", cur.Path)
		}
		target, err := e.store.GetCollection(ctx, cur.AliasTarget)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		cur = target
		if !deep {
			break
		}
	}
	return cur, nil
}
