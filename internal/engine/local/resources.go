package local

import (
	"context"
	"errors"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

func (e *Engine) GetResource(ctx context.Context, col *engine.Collection, name string) (*engine.Resource, error) {
	res, err := e.store.GetResource(ctx, col.Path, name)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return res, nil
}

func (e *Engine) Resources(ctx context.Context, col *engine.Collection) ([]*engine.Resource, error) {
	out, err := e.store.ListResources(ctx, col.Path)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return out, nil
}

func (e *Engine) PutResource(ctx context.Context, res *engine.Resource) error {
	return mapStoreErr(e.store.PutResource(ctx, res))
}

func (e *Engine) DeleteResource(ctx context.Context, res *engine.Resource) error {
	return mapStoreErr(e.store.DeleteResource(ctx, res.CollectionPath, res.Name))
}

func (e *Engine) CopyMoveResource(ctx context.Context, from *engine.Resource, toCol *engine.Collection, name string, copy, overwrite bool) error {
	if name == "" {
		name = from.Name
	}
	if _, err := e.store.GetResource(ctx, toCol.Path, name); err == nil {
		if !overwrite {
			return engine.ErrExists
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	dest := *from
	dest.CollectionPath = toCol.Path
	dest.Name = name
	dest.ETag = ""
	dest.New = true
	if err := e.store.PutResource(ctx, &dest); err != nil {
		return err
	}
	if !copy {
		return mapStoreErr(e.store.DeleteResource(ctx, from.CollectionPath, from.Name))
	}
	return nil
}
