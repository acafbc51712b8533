package local

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/pkg/ical"
)

// defaultFreeBusyWindow is used when a free-busy request carries no range.
const defaultFreeBusyWindow = 7 * 24 * time.Hour

// Schedule delivers an iTIP message to each recipient's inbox, returning one
// result per recipient in request order.
func (e *Engine) Schedule(ctx context.Context, ent *engine.Entity) ([]engine.RecipientResult, error) {
	if e.sys.MaxAttendees > 0 && len(ent.Recipients) > e.sys.MaxAttendees {
		return nil, fmt.Errorf("too many recipients: %d > %d", len(ent.Recipients), e.sys.MaxAttendees)
	}

	results := make([]engine.RecipientResult, 0, len(ent.Recipients))
	for _, recip := range ent.Recipients {
		results = append(results, e.deliver(ctx, ent, recip))
	}
	return results, nil
}

func (e *Engine) deliver(ctx context.Context, ent *engine.Entity, recipient string) engine.RecipientResult {
	r := engine.RecipientResult{Recipient: recipient}

	p, err := e.PrincipalByAddress(ctx, recipient)
	if err != nil {
		r.Status = engine.DeliverInvalidUser
		return r
	}
	if !e.maySchedule(ctx, ent.Owner, p) {
		r.Status = engine.DeliverNoAccess
		return r
	}

	copy := *ent
	copy.Name = uuid.New().String() + ".ics"
	copy.CollectionPath = p.InboxPath
	copy.Owner = p.Account
	copy.ETag = ""
	copy.New = true
	if err := e.store.PutEntity(ctx, &copy); err != nil {
		e.logger.Error().Err(err).Str("recipient", recipient).Msg("inbox delivery failed")
		r.Status = engine.DeliverError
		return r
	}
	r.Status = engine.DeliverOK
	return r
}

// maySchedule asks whether sender may deliver into the recipient's inbox.
// Delivery to oneself is always allowed.
func (e *Engine) maySchedule(ctx context.Context, sender string, recipient *engine.Principal) bool {
	if sender == "" || sender == recipient.Account {
		return true
	}
	eff, err := e.effectiveFor(ctx, sender, recipient.InboxPath)
	if err != nil {
		return false
	}
	return eff.CanSchedule()
}

// RequestFreeBusy answers a free-busy request by computing each recipient's
// aggregate busy time over the requested range.
func (e *Engine) RequestFreeBusy(ctx context.Context, ent *engine.Entity) ([]engine.RecipientResult, error) {
	if e.sys.MaxAttendees > 0 && len(ent.Recipients) > e.sys.MaxAttendees {
		return nil, fmt.Errorf("too many recipients: %d > %d", len(ent.Recipients), e.sys.MaxAttendees)
	}
	start, end := freeBusyRange(ent)

	organizer := ""
	if ent.Organizer != nil {
		organizer = ent.Organizer.Address
	}

	results := make([]engine.RecipientResult, 0, len(ent.Recipients))
	for _, recip := range ent.Recipients {
		r := engine.RecipientResult{Recipient: recip}
		p, err := e.PrincipalByAddress(ctx, recip)
		if err != nil {
			r.Status = engine.DeliverInvalidUser
			results = append(results, r)
			continue
		}
		busy, err := e.busyForHome(ctx, p.Account, start, end)
		if err != nil {
			e.logger.Error().Err(err).Str("recipient", recip).Msg("free-busy computation failed")
			r.Status = engine.DeliverError
			results = append(results, r)
			continue
		}
		data := ical.BuildFreeBusy(start, end, busy, ical.FreeBusyOptions{
			ProdID:    e.cfg.ICS.BuildProdID(),
			Method:    ical.MethodReply,
			Organizer: organizer,
			Attendee:  recip,
		})
		r.Status = engine.DeliverOK
		r.FreeBusy = &engine.Entity{
			UID:   uuid.New().String(),
			Owner: p.Account,
			Start: &start,
			End:   &end,
			Type:  engine.TypeFreeBusy,
			Data:  string(data),
		}
		results = append(results, r)
	}
	return results, nil
}

func freeBusyRange(ent *engine.Entity) (time.Time, time.Time) {
	now := time.Now().UTC().Truncate(time.Hour)
	start, end := now, now.Add(defaultFreeBusyWindow)
	if ent.Start != nil {
		start = *ent.Start
	}
	if ent.End != nil {
		end = *ent.End
	}
	if !end.After(start) {
		end = start.Add(defaultFreeBusyWindow)
	}
	return start, end
}

// busyForHome merges busy intervals across every free-busy-affecting
// calendar under the account's home.
func (e *Engine) busyForHome(ctx context.Context, account string, start, end time.Time) ([]ical.Interval, error) {
	kids, err := e.store.ListChildren(ctx, homePath(account))
	if err != nil {
		return nil, mapStoreErr(err)
	}
	var busy []ical.Interval
	for _, col := range kids {
		if !col.IsCalendar() || !col.AffectsFreeBusy {
			continue
		}
		iv, err := e.busyForCollection(ctx, col, start, end)
		if err != nil {
			return nil, err
		}
		busy = append(busy, iv...)
	}
	return ical.MergeIntervals(busy), nil
}

func (e *Engine) busyForCollection(ctx context.Context, col *engine.Collection, start, end time.Time) ([]ical.Interval, error) {
	ents, err := e.store.ListEntities(ctx, col.Path, []string{"VEVENT"}, &start, &end)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	expander := ical.NewRecurrenceExpander(e.tz)
	var busy []ical.Interval
	for _, ent := range ents {
		events, err := ical.ParseEvents([]byte(ent.Data))
		if err != nil {
			e.logger.Warn().Err(err).Str("entity", ent.Name).Msg("skipping unparsable entity in free-busy")
			continue
		}
		busy = append(busy, expander.BusyIntervals(events, start, end)...)
	}
	return busy, nil
}

// FreeBusyForCollection aggregates busy time over the alias-resolved
// collection, recursing into child folders at most depth levels.
func (e *Engine) FreeBusyForCollection(ctx context.Context, col *engine.Collection, start, end time.Time, depth int) (*engine.Entity, error) {
	busy, err := e.collectBusy(ctx, col, start, end, depth)
	if err != nil {
		return nil, err
	}
	data := ical.BuildFreeBusy(start, end, ical.MergeIntervals(busy), ical.FreeBusyOptions{
		ProdID: e.cfg.ICS.BuildProdID(),
	})
	return &engine.Entity{
		UID:   uuid.New().String(),
		Owner: col.Owner,
		Start: &start,
		End:   &end,
		Type:  engine.TypeFreeBusy,
		Data:  string(data),
	}, nil
}

func (e *Engine) collectBusy(ctx context.Context, col *engine.Collection, start, end time.Time, depth int) ([]ical.Interval, error) {
	resolved, err := e.ResolveAlias(ctx, col, true)
	if err != nil {
		return nil, err
	}
	if resolved.IsCalendar() {
		if !resolved.AffectsFreeBusy {
			return nil, nil
		}
		return e.busyForCollection(ctx, resolved, start, end)
	}
	if depth <= 0 {
		return nil, nil
	}
	kids, err := e.store.ListChildren(ctx, resolved.Path)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	var busy []ical.Interval
	for _, kid := range kids {
		if strings.EqualFold(kid.Name, inboxName) || strings.EqualFold(kid.Name, outboxName) {
			continue
		}
		iv, err := e.collectBusy(ctx, kid, start, end, depth-1)
		if err != nil {
			return nil, err
		}
		busy = append(busy, iv...)
	}
	return busy, nil
}
