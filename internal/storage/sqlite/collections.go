package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

const collectionCols = `path, parent_path, name, display_name, description, col_type, owner,
    affects_free_busy, timezone_id, color, alias_target, remote_id, remote_pw,
    synch_delete_suppressed, supported_components, etag, last_modified`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*engine.Collection, error) {
	var c engine.Collection
	var colType int
	var comps string
	err := row.Scan(&c.Path, &c.ParentPath, &c.Name, &c.DisplayName, &c.Description, &colType, &c.Owner,
		&c.AffectsFreeBusy, &c.TimeZoneID, &c.Color, &c.AliasTarget, &c.RemoteID, &c.RemotePW,
		&c.SynchDeleteSuppressed, &comps, &c.ETag, &c.LastModified)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	c.Type = engine.ColType(colType)
	c.SupportedComponents = splitList(comps)
	return &c, nil
}

func (s *Store) GetCollection(ctx context.Context, path string) (*engine.Collection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionCols+` FROM collections WHERE path = ?`, path)
	return scanCollection(row)
}

func (s *Store) ListChildren(ctx context.Context, parentPath string) ([]*engine.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectionCols+` FROM collections WHERE parent_path = ? ORDER BY name`, parentPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*engine.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) CreateCollection(ctx context.Context, col *engine.Collection) error {
	if col.ETag == "" {
		col.ETag = uuid.New().String()
	}
	col.LastModified = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO collections (`+collectionCols+`)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
    `, col.Path, col.ParentPath, col.Name, col.DisplayName, col.Description, int(col.Type), col.Owner,
		col.AffectsFreeBusy, col.TimeZoneID, col.Color, col.AliasTarget, col.RemoteID, col.RemotePW,
		col.SynchDeleteSuppressed, joinList(col.SupportedComponents), col.ETag, col.LastModified)
	return err
}

func (s *Store) UpdateCollection(ctx context.Context, col *engine.Collection) error {
	col.ETag = uuid.New().String()
	col.LastModified = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
        UPDATE collections SET display_name=?, description=?, col_type=?,
            affects_free_busy=?, timezone_id=?, color=?, alias_target=?,
            remote_id=?, remote_pw=?, synch_delete_suppressed=?,
            supported_components=?, etag=?, last_modified=?
        WHERE path=?
    `, col.DisplayName, col.Description, int(col.Type),
		col.AffectsFreeBusy, col.TimeZoneID, col.Color, col.AliasTarget,
		col.RemoteID, col.RemotePW, col.SynchDeleteSuppressed,
		joinList(col.SupportedComponents), col.ETag, col.LastModified, col.Path)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, path string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE path = ?`, path)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
