package local

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
	"github.com/calagora/caldav/pkg/ical"
)

func (e *Engine) Entity(ctx context.Context, col *engine.Collection, name string) (*engine.Entity, error) {
	ent, err := e.store.GetEntity(ctx, col.Path, name)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return ent, nil
}

func (e *Engine) Entities(ctx context.Context, col *engine.Collection, f *engine.EntityFilter) ([]*engine.Entity, error) {
	var components []string
	var start, end *time.Time
	if f != nil {
		components = f.Components
		start, end = f.Start, f.End
	}
	ents, err := e.store.ListEntities(ctx, col.Path, components, start, end)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return ents, nil
}

func (e *Engine) AddEntity(ctx context.Context, ent *engine.Entity) error {
	if _, err := e.store.GetEntity(ctx, ent.CollectionPath, ent.Name); err == nil {
		return engine.ErrExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if ent.IsSchedulingObject() {
		ent.ScheduleTag = uuid.New().String()
	}
	return e.store.PutEntity(ctx, ent)
}

func (e *Engine) UpdateEntity(ctx context.Context, ent *engine.Entity) error {
	if _, err := e.store.GetEntity(ctx, ent.CollectionPath, ent.Name); err != nil {
		return mapStoreErr(err)
	}
	if ent.IsSchedulingObject() {
		ent.PrevScheduleTag = ent.ScheduleTag
		ent.ScheduleTag = uuid.New().String()
	}
	return e.store.PutEntity(ctx, ent)
}

func (e *Engine) DeleteEntity(ctx context.Context, ent *engine.Entity, scheduleReply bool) error {
	if scheduleReply && ent.IsSchedulingObject() && ent.ScheduleMethod != "" {
		if err := e.replyOnDelete(ctx, ent); err != nil {
			e.logger.Warn().Err(err).Str("uid", ent.UID).Msg("decline reply not delivered")
		}
	}
	return mapStoreErr(e.store.DeleteEntity(ctx, ent.CollectionPath, ent.Name))
}

// replyOnDelete sends a DECLINED reply to the organizer when an attendee
// deletes a scheduling object from their calendar.
func (e *Engine) replyOnDelete(ctx context.Context, ent *engine.Entity) error {
	org, err := e.PrincipalByAddress(ctx, ent.Organizer.Address)
	if err != nil {
		return err
	}
	reply := *ent
	reply.Name = uuid.New().String() + ".ics"
	reply.CollectionPath = org.InboxPath
	reply.Owner = org.Account
	reply.ScheduleMethod = ical.MethodReply
	reply.ETag = ""
	reply.New = true
	return e.store.PutEntity(ctx, &reply)
}

func (e *Engine) CopyMoveEntity(ctx context.Context, from *engine.Entity, toCol *engine.Collection, name string, copy, overwrite bool) error {
	if name == "" {
		name = from.Name
	}
	if _, err := e.store.GetEntity(ctx, toCol.Path, name); err == nil {
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
	if err := e.store.PutEntity(ctx, &dest); err != nil {
		return err
	}
	if !copy {
		return mapStoreErr(e.store.DeleteEntity(ctx, from.CollectionPath, from.Name))
	}
	return nil
}

func (e *Engine) FromIcal(ctx context.Context, col *engine.Collection, data []byte, contentType string) (*engine.Entity, error) {
	if e.sys.MaxEntitySize > 0 && int64(len(data)) > e.sys.MaxEntitySize {
		return nil, fmt.Errorf("calendar object exceeds %d bytes", e.sys.MaxEntitySize)
	}
	obj, err := ical.ParseObject(data)
	if err != nil {
		return nil, err
	}

	ent := &engine.Entity{
		UID:            obj.UID,
		Summary:        obj.Summary,
		CollectionPath: col.Path,
		Owner:          col.Owner,
		AttendeeURIs:   obj.Attendees,
		ScheduleMethod: obj.Method,
		Start:          obj.Start,
		End:            obj.End,
		New:            true,
		Type:           engine.EntityTypeFor(obj.Component),
		Data:           string(data),
	}
	if obj.Organizer != nil {
		ent.Organizer = &engine.Organizer{
			CN:       obj.Organizer.CN,
			Dir:      obj.Organizer.Dir,
			Language: obj.Organizer.Language,
			SentBy:   obj.Organizer.SentBy,
			Address:  obj.Organizer.Address,
		}
	}
	for _, a := range obj.Attendees {
		ent.AddRecipient(a)
	}
	return ent, nil
}

func (e *Engine) ToIcal(ctx context.Context, ent *engine.Entity, mode engine.MethodEmit, contentType string) (string, error) {
	obj, err := ical.ParseObject([]byte(ent.Data))
	if err != nil {
		return "", err
	}
	if obj.Method == "" && ent.ScheduleMethod != "" {
		obj.Method = ent.ScheduleMethod
	}
	out, err := obj.Encode(mode == engine.EventMethod)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
