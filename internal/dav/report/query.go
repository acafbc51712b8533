package report

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/node"
	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/pkg/ical"
)

func (h *Handler) calendarQuery(w http.ResponseWriter, r *http.Request, path string, depth int, q calendarQuery) error {
	ref, err := h.res.Resolve(r.Context(), path, resolver.MustExist, resolver.Unknown, nil)
	if err != nil {
		return err
	}

	props := parsePropRequest(q.Prop, q.AllProp != nil)
	comps, tr := filterComponents(q.Filter)
	filter := &engine.EntityFilter{Components: comps, Retrieve: props.Retrieve}
	if tr != nil {
		if t, err := parseFilterTime(tr.Start); err == nil {
			filter.Start = t
		}
		if t, err := parseFilterTime(tr.End); err == nil {
			filter.End = t
		}
	}

	items, err := h.queryNode(r.Context(), ref, filter, 0, depth)
	if err != nil {
		return err
	}
	return WriteMultistatus(w, r.Context(), items, nil, props)
}

// queryNode walks pre-order: a component node is a singleton result, a
// calendar collection delegates to the engine's filtered listing, a plain
// folder recurses until curDepth reaches maxDepth.
func (h *Handler) queryNode(ctx context.Context, ref *resolver.Ref, filter *engine.EntityFilter, curDepth, maxDepth int) ([]Item, error) {
	switch ref.Kind {
	case resolver.KindEntity:
		return []Item{{Href: ref.Path(), Node: node.For(h.eng, ref)}}, nil

	case resolver.KindCollection:
		col, err := h.eng.ResolveAlias(ctx, ref.Col, true)
		if err != nil {
			return nil, derr.Wrap(err)
		}
		if col.IsCalendar() || col.Type == engine.ColInbox || col.Type == engine.ColOutbox {
			return h.queryCalendar(ctx, col, filter)
		}
		if curDepth >= maxDepth {
			return nil, nil
		}
		kids, err := h.eng.Children(ctx, col)
		if err != nil {
			return nil, derr.Wrap(err)
		}
		var items []Item
		for _, kid := range kids {
			sub, err := h.queryNode(ctx, resolver.CollectionRef(kid, true), filter, curDepth+1, maxDepth)
			if err != nil {
				return nil, err
			}
			items = append(items, sub...)
		}
		return items, nil

	default:
		return nil, derr.BadRequest("calendar-query target is not a calendar resource")
	}
}

func (h *Handler) queryCalendar(ctx context.Context, col *engine.Collection, filter *engine.EntityFilter) ([]Item, error) {
	ents, err := h.eng.Entities(ctx, col, filter)
	if err != nil {
		return nil, derr.Wrap(err)
	}
	items := make([]Item, 0, len(ents))
	for _, ent := range ents {
		ref := resolver.EntityRef(col, ent, ent.Name, true)
		items = append(items, Item{Href: ref.Path(), Node: node.For(h.eng, ref)})
	}
	return items, nil
}

// parseFilterTime accepts the UTC stamp form used by time-range attributes.
func parseFilterTime(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errEmptyTime
	}
	t, _, err := ical.ParseDateTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

var errEmptyTime = derr.BadRequest("empty time value")
