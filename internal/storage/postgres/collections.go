package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

const collectionCols = `path, parent_path, name, display_name, description, col_type, owner,
    affects_free_busy, timezone_id, color, alias_target, remote_id, remote_pw,
    synch_delete_suppressed, supported_components, etag, last_modified`

func scanCollection(row pgx.Row) (*engine.Collection, error) {
	var c engine.Collection
	var colType int
	var comps string
	err := row.Scan(&c.Path, &c.ParentPath, &c.Name, &c.DisplayName, &c.Description, &colType, &c.Owner,
		&c.AffectsFreeBusy, &c.TimeZoneID, &c.Color, &c.AliasTarget, &c.RemoteID, &c.RemotePW,
		&c.SynchDeleteSuppressed, &comps, &c.ETag, &c.LastModified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	c.Type = engine.ColType(colType)
	c.SupportedComponents = splitList(comps)
	return &c, nil
}

func (s *Store) GetCollection(ctx context.Context, path string) (*engine.Collection, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+collectionCols+` FROM collections WHERE path = $1`, path)
	return scanCollection(row)
}

func (s *Store) ListChildren(ctx context.Context, parentPath string) ([]*engine.Collection, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+collectionCols+` FROM collections WHERE parent_path = $1 ORDER BY name`, parentPath)
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
	_, err := s.pool.Exec(ctx, `
        INSERT INTO collections (`+collectionCols+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
    `, col.Path, col.ParentPath, col.Name, col.DisplayName, col.Description, int(col.Type), col.Owner,
		col.AffectsFreeBusy, col.TimeZoneID, col.Color, col.AliasTarget, col.RemoteID, col.RemotePW,
		col.SynchDeleteSuppressed, joinList(col.SupportedComponents), col.ETag, col.LastModified)
	return err
}

func (s *Store) UpdateCollection(ctx context.Context, col *engine.Collection) error {
	col.ETag = uuid.New().String()
	col.LastModified = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
        UPDATE collections SET display_name=$2, description=$3, col_type=$4,
            affects_free_busy=$5, timezone_id=$6, color=$7, alias_target=$8,
            remote_id=$9, remote_pw=$10, synch_delete_suppressed=$11,
            supported_components=$12, etag=$13, last_modified=$14
        WHERE path=$1
    `, col.Path, col.DisplayName, col.Description, int(col.Type),
		col.AffectsFreeBusy, col.TimeZoneID, col.Color, col.AliasTarget,
		col.RemoteID, col.RemotePW, col.SynchDeleteSuppressed,
		joinList(col.SupportedComponents), col.ETag, col.LastModified)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCollection(ctx context.Context, path string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM collections WHERE path = $1`, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
