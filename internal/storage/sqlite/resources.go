package sqlite

import (
	"context"
	"database/sql"
	"encoding/xml"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

const resourceCols = `collection_path, name, content_type, length, owner, etag,
    created_at, updated_at, content, notify_name, notify_attrs`

func scanResource(row rowScanner) (*engine.Resource, error) {
	var r engine.Resource
	var notifyName, notifyAttrs string
	err := row.Scan(&r.CollectionPath, &r.Name, &r.ContentType, &r.Length, &r.Owner, &r.ETag,
		&r.Created, &r.Modified, &r.Content, &notifyName, &notifyAttrs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
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
	row := s.db.QueryRowContext(ctx, `SELECT `+resourceCols+` FROM resources WHERE collection_path = ? AND name = ?`, colPath, name)
	return scanResource(row)
}

func (s *Store) ListResources(ctx context.Context, colPath string) ([]*engine.Resource, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+resourceCols+` FROM resources WHERE collection_path = ? ORDER BY name`, colPath)
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
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO resources (`+resourceCols+`)
        VALUES (?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT (collection_path, name) DO UPDATE SET
            content_type=excluded.content_type, length=excluded.length,
            etag=excluded.etag, updated_at=excluded.updated_at,
            content=excluded.content,
            notify_name=excluded.notify_name, notify_attrs=excluded.notify_attrs
    `, res.CollectionPath, res.Name, res.ContentType, res.Length, res.Owner, res.ETag,
		res.Created, res.Modified, res.Content, notifyName, notifyAttrs)
	if err == nil {
		res.New = false
	}
	return err
}

func (s *Store) DeleteResource(ctx context.Context, colPath, name string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM resources WHERE collection_path = ? AND name = ?`, colPath, name)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

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
