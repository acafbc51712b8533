package node

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strings"

	"github.com/samber/mo"

	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
)

// CollectionNode wraps a calendar or folder collection. A free-busy result
// may be attached for serialization by a free-busy REPORT.
type CollectionNode struct {
	eng engine.Engine
	ref *resolver.Ref
	acc access

	// freeBusy is the computed VFREEBUSY attached by the report layer.
	freeBusy *engine.Entity
}

func newCollectionNode(eng engine.Engine, ref *resolver.Ref) *CollectionNode {
	n := &CollectionNode{eng: eng, ref: ref}
	n.acc = access{eng: eng, subject: func() any {
		if n.ref.Col == nil {
			return nil
		}
		return n.ref.Col
	}}
	return n
}

func (n *CollectionNode) Ref() *resolver.Ref { return n.ref }

func (n *CollectionNode) Col() *engine.Collection { return n.ref.Col }

// SetFreeBusy attaches the aggregate result served by WriteContent.
func (n *CollectionNode) SetFreeBusy(ent *engine.Entity) { n.freeBusy = ent }

// ETagValue reflects the alias-resolved target so alias etags track live
// target state.
func (n *CollectionNode) ETagValue(ctx context.Context, strong bool) (string, error) {
	col := n.ref.Col
	if col.IsAlias() {
		target, err := n.eng.ResolveAlias(ctx, col, true)
		if err != nil {
			return "", err
		}
		col = target
	}
	if strong {
		return col.ETag, nil
	}
	return weak(col.ETag), nil
}

func (n *CollectionNode) CurrentAccess(ctx context.Context) (*engine.Access, error) {
	return n.acc.current(ctx)
}

func (n *CollectionNode) PropertyNames() []xml.Name { return collectionTable.names() }

func (n *CollectionNode) KnownProperty(tag xml.Name) bool { return collectionTable.known(tag) }

func (n *CollectionNode) GeneratePropertyValue(ctx context.Context, tag xml.Name, allProp bool) (mo.Option[string], error) {
	v, ok, err := collectionTable.generate(ctx, n, tag)
	if err != nil || ok {
		return v, err
	}
	return mo.None[string](), nil
}

func (n *CollectionNode) ContentType() string { return "text/calendar" }

// WriteContent serializes the attached free-busy result; a collection has no
// other body.
func (n *CollectionNode) WriteContent(ctx context.Context, w io.Writer, contentType string) error {
	if n.freeBusy == nil {
		return errors.New("collection has no content")
	}
	data, err := n.eng.ToIcal(ctx, n.freeBusy, engine.NoMethod, contentType)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, data)
	return err
}

var collectionTable = table[*CollectionNode]{props: map[xml.Name]propFn[*CollectionNode]{
	dav("displayname"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		if n.ref.Col.DisplayName != "" {
			return mo.Some(xmlEscape(n.ref.Col.DisplayName)), nil
		}
		return text(xmlEscape(n.ref.Col.Name))
	},
	dav("getetag"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		etag, err := n.ETagValue(ctx, true)
		if err != nil {
			return mo.None[string](), err
		}
		return mo.Some(`"` + etag + `"`), nil
	},
	dav("getlastmodified"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		return text(httpDate(n.ref.Col.LastModified))
	},
	dav("resourcetype"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		return mo.Some(resourceTypeXML(n.ref.Col.Type)), nil
	},
	dav("owner"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		return text(xmlEscape(n.ref.Col.Owner))
	},
	caldav("calendar-description"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		return text(xmlEscape(n.ref.Col.Description))
	},
	caldav("calendar-timezone-id"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		return text(xmlEscape(n.ref.Col.TimeZoneID))
	},
	caldav("supported-calendar-component-set"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		if !n.ref.Col.EntitiesAllowed() {
			return mo.None[string](), nil
		}
		var b strings.Builder
		for _, c := range n.ref.Col.SupportedComponents {
			b.WriteString(`<C:comp name="` + xmlEscape(c) + `"/>`)
		}
		return mo.Some(b.String()), nil
	},
	calsrv("getctag"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		etag, err := n.ETagValue(ctx, true)
		if err != nil {
			return mo.None[string](), err
		}
		return mo.Some(etag), nil
	},
	calsrv("calendar-color"): func(ctx context.Context, n *CollectionNode) (mo.Option[string], error) {
		return text(xmlEscape(n.ref.Col.Color))
	},
}}

func resourceTypeXML(t engine.ColType) string {
	switch t {
	case engine.ColCalendar:
		return "<D:collection/><C:calendar/>"
	case engine.ColInbox:
		return "<D:collection/><C:schedule-inbox/>"
	case engine.ColOutbox:
		return "<D:collection/><C:schedule-outbox/>"
	case engine.ColNotifications:
		return "<D:collection/><CS:notification/>"
	default:
		return "<D:collection/>"
	}
}
