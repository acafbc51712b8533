package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

const entityCols = `collection_path, name, uid, summary,
    organizer_address, organizer_cn, organizer_dir, organizer_lang, organizer_sent_by,
    recipients, attendees, schedule_method, schedule_tag, prev_schedule_tag,
    etag, prev_etag, owner, created_at, updated_at, start_at, end_at, deleted, comp_type, data`

func scanEntity(row rowScanner) (*engine.Entity, error) {
	var e engine.Entity
	var org engine.Organizer
	var recips, atts string
	var compType int
	var start, end sql.NullTime
	err := row.Scan(&e.CollectionPath, &e.Name, &e.UID, &e.Summary,
		&org.Address, &org.CN, &org.Dir, &org.Language, &org.SentBy,
		&recips, &atts, &e.ScheduleMethod, &e.ScheduleTag, &e.PrevScheduleTag,
		&e.ETag, &e.PrevETag, &e.Owner, &e.Created, &e.Modified, &start, &end, &e.Deleted, &compType, &e.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if org.Address != "" {
		e.Organizer = &org
	}
	if start.Valid {
		e.Start = &start.Time
	}
	if end.Valid {
		e.End = &end.Time
	}
	e.Recipients = splitList(recips)
	e.AttendeeURIs = splitList(atts)
	e.Type = engine.EntityType(compType)
	return &e, nil
}

func (s *Store) GetEntity(ctx context.Context, colPath, name string) (*engine.Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityCols+` FROM entities WHERE collection_path = ? AND name = ?`, colPath, name)
	return scanEntity(row)
}

func (s *Store) ListEntities(ctx context.Context, colPath string, components []string, start, end *time.Time) ([]*engine.Entity, error) {
	q := `SELECT ` + entityCols + ` FROM entities WHERE collection_path = ? AND NOT deleted`
	args := []any{colPath}
	if len(components) > 0 {
		placeholders := make([]string, 0, len(components))
		for _, c := range components {
			placeholders = append(placeholders, "?")
			args = append(args, int(compTypeFor(c)))
		}
		q += ` AND comp_type IN (` + strings.Join(placeholders, ",") + `)`
	}
	if start != nil {
		q += ` AND (end_at IS NULL OR end_at > ?)`
		args = append(args, *start)
	}
	if end != nil {
		q += ` AND (start_at IS NULL OR start_at < ?)`
		args = append(args, *end)
	}
	q += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*engine.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) PutEntity(ctx context.Context, ent *engine.Entity) error {
	now := time.Now().UTC()
	if ent.Created.IsZero() {
		ent.Created = now
	}
	ent.Modified = now
	ent.PrevETag = ent.ETag
	ent.ETag = uuid.New().String()

	var org engine.Organizer
	if ent.Organizer != nil {
		org = *ent.Organizer
	}
	var start, end any
	if ent.Start != nil {
		start = *ent.Start
	}
	if ent.End != nil {
		end = *ent.End
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO entities (`+entityCols+`)
        VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
        ON CONFLICT (collection_path, name) DO UPDATE SET
            uid=excluded.uid, summary=excluded.summary,
            organizer_address=excluded.organizer_address, organizer_cn=excluded.organizer_cn,
            organizer_dir=excluded.organizer_dir, organizer_lang=excluded.organizer_lang,
            organizer_sent_by=excluded.organizer_sent_by,
            recipients=excluded.recipients, attendees=excluded.attendees,
            schedule_method=excluded.schedule_method, schedule_tag=excluded.schedule_tag,
            prev_schedule_tag=excluded.prev_schedule_tag,
            etag=excluded.etag, prev_etag=excluded.prev_etag,
            updated_at=excluded.updated_at, start_at=excluded.start_at, end_at=excluded.end_at,
            deleted=excluded.deleted, comp_type=excluded.comp_type, data=excluded.data
    `, ent.CollectionPath, ent.Name, ent.UID, ent.Summary,
		org.Address, org.CN, org.Dir, org.Language, org.SentBy,
		joinList(ent.Recipients), joinList(ent.AttendeeURIs), ent.ScheduleMethod,
		ent.ScheduleTag, ent.PrevScheduleTag, ent.ETag, ent.PrevETag, ent.Owner,
		ent.Created, ent.Modified, start, end, ent.Deleted, int(ent.Type), ent.Data)
	if err == nil {
		ent.New = false
	}
	return err
}

func (s *Store) DeleteEntity(ctx context.Context, colPath, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE collection_path = ? AND name = ?`, colPath, name)
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

func compTypeFor(component string) engine.EntityType {
	switch component {
	case "VTODO":
		return engine.TypeTask
	case "VJOURNAL":
		return engine.TypeJournal
	case "VFREEBUSY":
		return engine.TypeFreeBusy
	case "VAVAILABILITY":
		return engine.TypeAvailability
	default:
		return engine.TypeEvent
	}
}
