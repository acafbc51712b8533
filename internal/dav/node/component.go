package node

import (
	"context"
	"encoding/xml"
	"errors"
	"io"

	"github.com/samber/mo"

	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
)

// ComponentNode wraps one calendar-object resource.
type ComponentNode struct {
	eng engine.Engine
	ref *resolver.Ref
	acc access
}

func newComponentNode(eng engine.Engine, ref *resolver.Ref) *ComponentNode {
	n := &ComponentNode{eng: eng, ref: ref}
	n.acc = access{eng: eng, subject: func() any {
		if n.ref.Entity == nil {
			return nil
		}
		return n.ref.Entity
	}}
	return n
}

func (n *ComponentNode) Ref() *resolver.Ref { return n.ref }

func (n *ComponentNode) Entity() *engine.Entity { return n.ref.Entity }

func (n *ComponentNode) ETagValue(ctx context.Context, strong bool) (string, error) {
	if n.ref.Entity == nil {
		return "", errors.New("no entity")
	}
	if strong {
		return n.ref.Entity.ETag, nil
	}
	return weak(n.ref.Entity.ETag), nil
}

func (n *ComponentNode) CurrentAccess(ctx context.Context) (*engine.Access, error) {
	return n.acc.current(ctx)
}

func (n *ComponentNode) PropertyNames() []xml.Name { return componentTable.names() }

func (n *ComponentNode) KnownProperty(tag xml.Name) bool { return componentTable.known(tag) }

func (n *ComponentNode) GeneratePropertyValue(ctx context.Context, tag xml.Name, allProp bool) (mo.Option[string], error) {
	// calendar-data is too large for allprop responses; it must be asked
	// for by name.
	if allProp && tag == caldav("calendar-data") {
		return mo.None[string](), nil
	}
	v, ok, err := componentTable.generate(ctx, n, tag)
	if err != nil || ok {
		return v, err
	}
	return mo.None[string](), nil
}

func (n *ComponentNode) ContentType() string { return "text/calendar" }

// methodEmit selects iTIP METHOD inclusion: scheduling collections carry the
// method on the wire, ordinary calendars do not.
func (n *ComponentNode) methodEmit() engine.MethodEmit {
	switch n.ref.Col.Type {
	case engine.ColInbox, engine.ColOutbox:
		return engine.EventMethod
	}
	return engine.NoMethod
}

func (n *ComponentNode) WriteContent(ctx context.Context, w io.Writer, contentType string) error {
	if n.ref.Entity == nil {
		return errors.New("no entity")
	}
	data, err := n.eng.ToIcal(ctx, n.ref.Entity, n.methodEmit(), contentType)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, data)
	return err
}

// CalendarData returns the serialized iCalendar body used by REPORT
// responses.
func (n *ComponentNode) CalendarData(ctx context.Context) (string, error) {
	if n.ref.Entity == nil {
		return "", errors.New("no entity")
	}
	return n.eng.ToIcal(ctx, n.ref.Entity, n.methodEmit(), "text/calendar")
}

var componentTable = table[*ComponentNode]{props: map[xml.Name]propFn[*ComponentNode]{
	dav("getetag"): func(ctx context.Context, n *ComponentNode) (mo.Option[string], error) {
		etag, err := n.ETagValue(ctx, true)
		if err != nil {
			return mo.None[string](), err
		}
		return mo.Some(`"` + etag + `"`), nil
	},
	dav("getcontenttype"): func(ctx context.Context, n *ComponentNode) (mo.Option[string], error) {
		return mo.Some("text/calendar; charset=utf-8"), nil
	},
	dav("getlastmodified"): func(ctx context.Context, n *ComponentNode) (mo.Option[string], error) {
		if n.ref.Entity == nil {
			return mo.None[string](), nil
		}
		return text(httpDate(n.ref.Entity.Modified))
	},
	dav("resourcetype"): func(ctx context.Context, n *ComponentNode) (mo.Option[string], error) {
		return mo.Some(""), nil
	},
	dav("owner"): func(ctx context.Context, n *ComponentNode) (mo.Option[string], error) {
		if n.ref.Entity == nil {
			return mo.None[string](), nil
		}
		return text(xmlEscape(n.ref.Entity.Owner))
	},
	caldav("calendar-data"): func(ctx context.Context, n *ComponentNode) (mo.Option[string], error) {
		data, err := n.CalendarData(ctx)
		if err != nil {
			return mo.None[string](), err
		}
		return mo.Some(xmlEscape(data)), nil
	},
	caldav("schedule-tag"): func(ctx context.Context, n *ComponentNode) (mo.Option[string], error) {
		if n.ref.Entity == nil {
			return mo.None[string](), nil
		}
		return text(n.ref.Entity.ScheduleTag)
	},
}}
