package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

const entityCols = `collection_path, name, uid, summary,
    organizer_address, organizer_cn, organizer_dir, organizer_lang, organizer_sent_by,
    recipients, attendees, schedule_method, schedule_tag, prev_schedule_tag,
    etag, prev_etag, owner, created_at, updated_at, start_at, end_at, deleted, comp_type, data`

func scanEntity(row pgx.Row) (*engine.Entity, error) {
	var e engine.Entity
	var org engine.Organizer
	var recips, atts string
	var compType int
	err := row.Scan(&e.CollectionPath, &e.Name, &e.UID, &e.Summary,
		&org.Address, &org.CN, &org.Dir, &org.Language, &org.SentBy,
		&recips, &atts, &e.ScheduleMethod, &e.ScheduleTag, &e.PrevScheduleTag,
		&e.ETag, &e.PrevETag, &e.Owner, &e.Created, &e.Modified, &e.Start, &e.End, &e.Deleted, &compType, &e.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	if org.Address != "" {
		e.Organizer = &org
	}
	e.Recipients = splitList(recips)
	e.AttendeeURIs = splitList(atts)
	e.Type = engine.EntityType(compType)
	return &e, nil
}

func (s *Store) GetEntity(ctx context.Context, colPath, name string) (*engine.Entity, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+entityCols+` FROM entities WHERE collection_path = $1 AND name = $2`, colPath, name)
	return scanEntity(row)
}

func (s *Store) ListEntities(ctx context.Context, colPath string, components []string, start, end *time.Time) ([]*engine.Entity, error) {
	q := `SELECT ` + entityCols + ` FROM entities WHERE collection_path = $1 AND NOT deleted`
	args := []any{colPath}
	if len(components) > 0 {
		types := make([]int, 0, len(components))
		for _, c := range components {
			types = append(types, int(compTypeFor(c)))
		}
		q += ` AND comp_type = ANY($2)`
		args = append(args, types)
	}
	if start != nil {
		q += ` AND (end_at IS NULL OR end_at > $` + strconv.Itoa(len(args)+1) + `)`
		args = append(args, *start)
	}
	if end != nil {
		q += ` AND (start_at IS NULL OR start_at < $` + strconv.Itoa(len(args)+1) + `)`
		args = append(args, *end)
	}
	q += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, q, args...)
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
	_, err := s.pool.Exec(ctx, `
        INSERT INTO entities (`+entityCols+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)
        ON CONFLICT (collection_path, name) DO UPDATE SET
            uid=EXCLUDED.uid, summary=EXCLUDED.summary,
            organizer_address=EXCLUDED.organizer_address, organizer_cn=EXCLUDED.organizer_cn,
            organizer_dir=EXCLUDED.organizer_dir, organizer_lang=EXCLUDED.organizer_lang,
            organizer_sent_by=EXCLUDED.organizer_sent_by,
            recipients=EXCLUDED.recipients, attendees=EXCLUDED.attendees,
            schedule_method=EXCLUDED.schedule_method, schedule_tag=EXCLUDED.schedule_tag,
            prev_schedule_tag=EXCLUDED.prev_schedule_tag,
            etag=EXCLUDED.etag, prev_etag=EXCLUDED.prev_etag,
            updated_at=EXCLUDED.updated_at, start_at=EXCLUDED.start_at, end_at=EXCLUDED.end_at,
            deleted=EXCLUDED.deleted, comp_type=EXCLUDED.comp_type, data=EXCLUDED.data
    `, ent.CollectionPath, ent.Name, ent.UID, ent.Summary,
		org.Address, org.CN, org.Dir, org.Language, org.SentBy,
		joinList(ent.Recipients), joinList(ent.AttendeeURIs), ent.ScheduleMethod,
		ent.ScheduleTag, ent.PrevScheduleTag, ent.ETag, ent.PrevETag, ent.Owner,
		ent.Created, ent.Modified, ent.Start, ent.End, ent.Deleted, int(ent.Type), ent.Data)
	if err == nil {
		ent.New = false
	}
	return err
}

func (s *Store) DeleteEntity(ctx context.Context, colPath, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM entities WHERE collection_path = $1 AND name = $2`, colPath, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
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
