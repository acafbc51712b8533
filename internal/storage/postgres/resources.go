package postgres

import (
	"context"
	"encoding/xml"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

const resourceCols = `collection_path, name, content_type, length, owner, etag,
    created_at, updated_at, content, notify_name, notify_attrs`

func scanResource(row pgx.Row) (*engine.Resource, error) {
	var r engine.Resource
	var notifyName, notifyAttrs string
	err := row.Scan(&r.CollectionPath, &r.Name, &r.ContentType, &r.Length, &r.Owner, &r.ETag,
		&r.Created, &r.Modified, &r.Content, &notifyName, &notifyAttrs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if notifyName != "" {
		r.Notification = &engine.NotificationType{
			Name:  parseNotifyName(notifyName),
			Attrs: splitAttrs(notifyAttrs),
		}
	}
	return &r, nil
}

func (s *Store) GetResource(ctx context.Context, colPath, name string) (*engine.Resource, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+resourceCols+` FROM resources WHERE collection_path = $1 AND name = $2`, colPath, name)
	return scanResource(row)
}

func (s *Store) ListResources(ctx context.Context, colPath string) ([]*engine.Resource, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+resourceCols+` FROM resources WHERE collection_path = $1 ORDER BY name`, colPath)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*engine.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) PutResource(ctx context.Context, res *engine.Resource) error {
	now := time.Now().UTC()
	if res.Created.IsZero() {
		res.Created = now
	}
	res.Modified = now
	res.ETag = uuid.New().String()
	res.Length = int64(len(res.Content))

	var notifyName, notifyAttrs string
	if res.Notification != nil {
		notifyName = formatNotifyName(res.Notification.Name)
		notifyAttrs = joinAttrs(res.Notification.Attrs)
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO resources (`+resourceCols+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        ON CONFLICT (collection_path, name) DO UPDATE SET
            content_type=EXCLUDED.content_type, length=EXCLUDED.length,
            etag=EXCLUDED.etag, updated_at=EXCLUDED.updated_at,
            content=EXCLUDED.content,
            notify_name=EXCLUDED.notify_name, notify_attrs=EXCLUDED.notify_attrs
    `, res.CollectionPath, res.Name, res.ContentType, res.Length, res.Owner, res.ETag,
		res.Created, res.Modified, res.Content, notifyName, notifyAttrs)
	if err == nil {
		res.New = false
	}
	return err
}

func (s *Store) DeleteResource(ctx context.Context, colPath, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM resources WHERE collection_path = $1 AND name = $2`, colPath, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Notification element names are stored as "namespace name" with a space
// separator; local names never contain spaces.
func formatNotifyName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + " " + n.Local
}

func parseNotifyName(s string) xml.Name {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' {
			return xml.Name{Space: s[:i], Local: s[i+1:]}
		}
	}
	return xml.Name{Local: s}
}
