// Package enginetest provides an in-memory Engine for handler tests.
package enginetest

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/pkg/ical"
)

// Fake is a map-backed Engine. Zero value is not usable; construct with New.
type Fake struct {
	Collections map[string]*engine.Collection
	Ents        map[string]*engine.Entity
	Ress        map[string]*engine.Resource
	Principals  map[string]*engine.Principal // by path
	Addresses   map[string]*engine.Principal // by calendar address

	// Denied paths fail access checks.
	Denied map[string]bool

	// SubscribeErr, when set, is returned by SubscribeNotification.
	SubscribeErr error

	// Sent accumulates notifications passed to SendNotification.
	Sent []SentNotification

	// ScheduleResults, when non-nil, overrides Schedule's computed results.
	ScheduleResults []engine.RecipientResult

	Sys engine.SysProperties

	RolledBack bool
}

type SentNotification struct {
	PrincipalHref string
	Notification  engine.Notification
}

func New() *Fake {
	return &Fake{
		Collections: map[string]*engine.Collection{},
		Ents:        map[string]*engine.Entity{},
		Ress:        map[string]*engine.Resource{},
		Principals:  map[string]*engine.Principal{},
		Addresses:   map[string]*engine.Principal{},
		Denied:      map[string]bool{},
		Sys: engine.SysProperties{
			MaxEntitySize:      1 << 20,
			MaxAttendees:       100,
			DefaultContentType: "text/calendar",
			IScheduleURI:       "/ischedule",
			FreeBusyURI:        "/freebusy",
			WebcalURI:          "/webcal",
		},
	}
}

// AddPrincipal registers a user principal with a provisioned home tree.
func (f *Fake) AddPrincipal(account, email string) *engine.Principal {
	home := "/user/" + account
	p := &engine.Principal{
		Account:           account,
		Path:              "/principals/users/" + account,
		Kind:              engine.KindUser,
		DisplayName:       account,
		CalendarAddress:   "mailto:" + email,
		HomePath:          home,
		InboxPath:         home + "/Inbox",
		OutboxPath:        home + "/Outbox",
		NotificationsPath: home + "/Notifications",
	}
	f.Principals[p.Path] = p
	f.Addresses["mailto:"+email] = p

	f.AddCollection(&engine.Collection{Path: home, ParentPath: "/user", Name: account, Type: engine.ColFolder, Owner: account})
	f.AddCollection(&engine.Collection{Path: home + "/calendar", ParentPath: home, Name: "calendar", Type: engine.ColCalendar, Owner: account, AffectsFreeBusy: true, SupportedComponents: []string{"VEVENT", "VTODO"}})
	f.AddCollection(&engine.Collection{Path: p.InboxPath, ParentPath: home, Name: "Inbox", Type: engine.ColInbox, Owner: account})
	f.AddCollection(&engine.Collection{Path: p.OutboxPath, ParentPath: home, Name: "Outbox", Type: engine.ColOutbox, Owner: account})
	f.AddCollection(&engine.Collection{Path: p.NotificationsPath, ParentPath: home, Name: "Notifications", Type: engine.ColNotifications, Owner: account})
	return p
}

func (f *Fake) AddCollection(col *engine.Collection) *engine.Collection {
	if col.ETag == "" {
		col.ETag = uuid.New().String()
	}
	col.LastModified = time.Now().UTC()
	f.Collections[col.Path] = col
	return col
}

func (f *Fake) AddEnt(ent *engine.Entity) *engine.Entity {
	if ent.ETag == "" {
		ent.ETag = uuid.New().String()
	}
	f.Ents[ent.CollectionPath+"/"+ent.Name] = ent
	return ent
}

func (f *Fake) PrincipalByPath(ctx context.Context, href string) (*engine.Principal, error) {
	if p, ok := f.Principals[strings.TrimSuffix(href, "/")]; ok {
		return p, nil
	}
	return nil, engine.ErrNotFound
}

func (f *Fake) PrincipalByAddress(ctx context.Context, caladdr string) (*engine.Principal, error) {
	if !strings.HasPrefix(caladdr, "mailto:") {
		caladdr = "mailto:" + caladdr
	}
	if p, ok := f.Addresses[caladdr]; ok {
		return p, nil
	}
	return nil, engine.ErrNotFound
}

func (f *Fake) AddressForPrincipal(ctx context.Context, p *engine.Principal) (string, error) {
	if p.CalendarAddress == "" {
		return "", engine.ErrNotFound
	}
	return p.CalendarAddress, nil
}

func (f *Fake) Collection(ctx context.Context, path string) (*engine.Collection, error) {
	if c, ok := f.Collections[path]; ok {
		return c, nil
	}
	return nil, engine.ErrNotFound
}

func (f *Fake) Children(ctx context.Context, col *engine.Collection) ([]*engine.Collection, error) {
	var out []*engine.Collection
	for _, c := range f.Collections {
		if c.ParentPath == col.Path {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Fake) MakeCollection(ctx context.Context, col *engine.Collection) error {
	if _, ok := f.Collections[col.Path]; ok {
		return engine.ErrExists
	}
	if _, ok := f.Collections[col.ParentPath]; !ok {
		return engine.ErrNotFound
	}
	f.AddCollection(col)
	return nil
}

func (f *Fake) UpdateCollection(ctx context.Context, col *engine.Collection) error {
	if _, ok := f.Collections[col.Path]; !ok {
		return engine.ErrNotFound
	}
	col.ETag = uuid.New().String()
	f.Collections[col.Path] = col
	return nil
}

func (f *Fake) DeleteCollection(ctx context.Context, col *engine.Collection) error {
	if _, ok := f.Collections[col.Path]; !ok {
		return engine.ErrNotFound
	}
	delete(f.Collections, col.Path)
	return nil
}

func (f *Fake) CopyMoveCollection(ctx context.Context, from, to *engine.Collection, copy, overwrite bool) error {
	if _, ok := f.Collections[to.Path]; ok && !overwrite {
		return engine.ErrExists
	}
	dup := *from
	dup.Path = to.Path
	dup.ParentPath = to.ParentPath
	dup.Name = to.Name
	f.AddCollection(&dup)
	if !copy {
		delete(f.Collections, from.Path)
	}
	return nil
}

func (f *Fake) ResolveAlias(ctx context.Context, col *engine.Collection, deep bool) (*engine.Collection, error) {
	cur := col
	for cur.IsAlias() {
		t, ok := f.Collections[cur.AliasTarget]
		if !ok {
			return nil, engine.ErrNotFound
		}
		cur = t
		if !deep {
			break
		}
	}
	return cur, nil
}

func (f *Fake) Entity(ctx context.Context, col *engine.Collection, name string) (*engine.Entity, error) {
	if e, ok := f.Ents[col.Path+"/"+name]; ok {
		return e, nil
	}
	return nil, engine.ErrNotFound
}

func (f *Fake) Entities(ctx context.Context, col *engine.Collection, flt *engine.EntityFilter) ([]*engine.Entity, error) {
	var out []*engine.Entity
	for _, e := range f.Ents {
		if e.CollectionPath != col.Path {
			continue
		}
		if flt != nil && len(flt.Components) > 0 && !contains(flt.Components, e.Type.Component()) {
			continue
		}
		if flt != nil && flt.Start != nil && e.End != nil && !e.End.After(*flt.Start) {
			continue
		}
		if flt != nil && flt.End != nil && e.Start != nil && !e.Start.Before(*flt.End) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *Fake) AddEntity(ctx context.Context, ent *engine.Entity) error {
	key := ent.CollectionPath + "/" + ent.Name
	if _, ok := f.Ents[key]; ok {
		return engine.ErrExists
	}
	ent.ETag = uuid.New().String()
	ent.New = false
	f.Ents[key] = ent
	return nil
}

func (f *Fake) UpdateEntity(ctx context.Context, ent *engine.Entity) error {
	key := ent.CollectionPath + "/" + ent.Name
	if _, ok := f.Ents[key]; !ok {
		return engine.ErrNotFound
	}
	ent.PrevETag = ent.ETag
	ent.ETag = uuid.New().String()
	if ent.IsSchedulingObject() {
		ent.PrevScheduleTag = ent.ScheduleTag
		ent.ScheduleTag = uuid.New().String()
	}
	f.Ents[key] = ent
	return nil
}

func (f *Fake) DeleteEntity(ctx context.Context, ent *engine.Entity, scheduleReply bool) error {
	key := ent.CollectionPath + "/" + ent.Name
	if _, ok := f.Ents[key]; !ok {
		return engine.ErrNotFound
	}
	delete(f.Ents, key)
	return nil
}

func (f *Fake) CopyMoveEntity(ctx context.Context, from *engine.Entity, toCol *engine.Collection, name string, copy, overwrite bool) error {
	if name == "" {
		name = from.Name
	}
	key := toCol.Path + "/" + name
	if _, ok := f.Ents[key]; ok && !overwrite {
		return engine.ErrExists
	}
	dup := *from
	dup.CollectionPath = toCol.Path
	dup.Name = name
	dup.ETag = uuid.New().String()
	f.Ents[key] = &dup
	if !copy {
		delete(f.Ents, from.CollectionPath+"/"+from.Name)
	}
	return nil
}

func (f *Fake) FromIcal(ctx context.Context, col *engine.Collection, data []byte, contentType string) (*engine.Entity, error) {
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
			CN:      obj.Organizer.CN,
			SentBy:  obj.Organizer.SentBy,
			Address: obj.Organizer.Address,
		}
	}
	for _, a := range obj.Attendees {
		ent.AddRecipient(a)
	}
	return ent, nil
}

func (f *Fake) ToIcal(ctx context.Context, ent *engine.Entity, mode engine.MethodEmit, contentType string) (string, error) {
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

func (f *Fake) GetResource(ctx context.Context, col *engine.Collection, name string) (*engine.Resource, error) {
	if r, ok := f.Ress[col.Path+"/"+name]; ok {
		return r, nil
	}
	return nil, engine.ErrNotFound
}

func (f *Fake) Resources(ctx context.Context, col *engine.Collection) ([]*engine.Resource, error) {
	var out []*engine.Resource
	for _, r := range f.Ress {
		if r.CollectionPath == col.Path {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *Fake) PutResource(ctx context.Context, res *engine.Resource) error {
	res.ETag = uuid.New().String()
	res.Length = int64(len(res.Content))
	res.New = false
	f.Ress[res.CollectionPath+"/"+res.Name] = res
	return nil
}

func (f *Fake) DeleteResource(ctx context.Context, res *engine.Resource) error {
	key := res.CollectionPath + "/" + res.Name
	if _, ok := f.Ress[key]; !ok {
		return engine.ErrNotFound
	}
	delete(f.Ress, key)
	return nil
}

func (f *Fake) CopyMoveResource(ctx context.Context, from *engine.Resource, toCol *engine.Collection, name string, copy, overwrite bool) error {
	if name == "" {
		name = from.Name
	}
	key := toCol.Path + "/" + name
	if _, ok := f.Ress[key]; ok && !overwrite {
		return engine.ErrExists
	}
	dup := *from
	dup.CollectionPath = toCol.Path
	dup.Name = name
	f.Ress[key] = &dup
	if !copy {
		delete(f.Ress, from.CollectionPath+"/"+from.Name)
	}
	return nil
}

func (f *Fake) Schedule(ctx context.Context, ent *engine.Entity) ([]engine.RecipientResult, error) {
	if f.ScheduleResults != nil {
		return f.ScheduleResults, nil
	}
	var out []engine.RecipientResult
	for _, r := range ent.Recipients {
		status := engine.DeliverOK
		if _, err := f.PrincipalByAddress(ctx, r); err != nil {
			status = engine.DeliverInvalidUser
		}
		out = append(out, engine.RecipientResult{Recipient: r, Status: status})
	}
	return out, nil
}

func (f *Fake) RequestFreeBusy(ctx context.Context, ent *engine.Entity) ([]engine.RecipientResult, error) {
	start, end := time.Now().UTC(), time.Now().UTC().Add(24*time.Hour)
	if ent.Start != nil {
		start = *ent.Start
	}
	if ent.End != nil {
		end = *ent.End
	}
	var out []engine.RecipientResult
	for _, r := range ent.Recipients {
		p, err := f.PrincipalByAddress(ctx, r)
		if err != nil {
			out = append(out, engine.RecipientResult{Recipient: r, Status: engine.DeliverInvalidUser})
			continue
		}
		data := ical.BuildFreeBusy(start, end, nil, ical.FreeBusyOptions{Method: ical.MethodReply, Attendee: r})
		out = append(out, engine.RecipientResult{
			Recipient: r,
			Status:    engine.DeliverOK,
			FreeBusy:  &engine.Entity{Owner: p.Account, Type: engine.TypeFreeBusy, Data: string(data)},
		})
	}
	return out, nil
}

func (f *Fake) FreeBusyForCollection(ctx context.Context, col *engine.Collection, start, end time.Time, depth int) (*engine.Entity, error) {
	data := ical.BuildFreeBusy(start, end, nil, ical.FreeBusyOptions{})
	return &engine.Entity{Owner: col.Owner, Type: engine.TypeFreeBusy, Data: string(data)}, nil
}

func (f *Fake) CheckAccess(ctx context.Context, subject any, priv engine.Privilege, returnResult bool) (*engine.Access, error) {
	path := ""
	switch s := subject.(type) {
	case *engine.Collection:
		path = s.Path
	case *engine.Entity:
		path = s.CollectionPath
	case *engine.Resource:
		path = s.CollectionPath
	}
	if f.Denied[path] {
		if !returnResult {
			return nil, engine.ErrNoAccess
		}
		return &engine.Access{Allowed: false}, nil
	}
	return &engine.Access{Allowed: true}, nil
}

func (f *Fake) Rollback(ctx context.Context) { f.RolledBack = true }

func (f *Fake) SendNotification(ctx context.Context, principalHref string, n engine.Notification) error {
	f.Sent = append(f.Sent, SentNotification{PrincipalHref: principalHref, Notification: n})
	return nil
}

func (f *Fake) SubscribeNotification(ctx context.Context, principalHref, action string, emails []string) error {
	return f.SubscribeErr
}

func (f *Fake) SysProperties() engine.SysProperties { return f.Sys }

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
