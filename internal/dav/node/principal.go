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

// PrincipalNode wraps a user or group principal.
type PrincipalNode struct {
	eng engine.Engine
	ref *resolver.Ref
	acc access
}

func newPrincipalNode(eng engine.Engine, ref *resolver.Ref) *PrincipalNode {
	n := &PrincipalNode{eng: eng, ref: ref}
	n.acc = access{eng: eng, subject: func() any {
		if n.ref.Principal == nil {
			return nil
		}
		return n.ref.Principal
	}}
	return n
}

func (n *PrincipalNode) Ref() *resolver.Ref { return n.ref }

func (n *PrincipalNode) Principal() *engine.Principal { return n.ref.Principal }

// Principals carry no entity tag; the directory is the source of truth.
func (n *PrincipalNode) ETagValue(ctx context.Context, strong bool) (string, error) {
	return "", errors.New("principals carry no etag")
}

func (n *PrincipalNode) CurrentAccess(ctx context.Context) (*engine.Access, error) {
	return n.acc.current(ctx)
}

func (n *PrincipalNode) PropertyNames() []xml.Name { return principalTable.names() }

func (n *PrincipalNode) KnownProperty(tag xml.Name) bool { return principalTable.known(tag) }

func (n *PrincipalNode) GeneratePropertyValue(ctx context.Context, tag xml.Name, allProp bool) (mo.Option[string], error) {
	v, ok, err := principalTable.generate(ctx, n, tag)
	if err != nil || ok {
		return v, err
	}
	return mo.None[string](), nil
}

func (n *PrincipalNode) ContentType() string { return "text/html" }

func (n *PrincipalNode) WriteContent(ctx context.Context, w io.Writer, contentType string) error {
	return errors.New("principals have no content")
}

var principalTable = table[*PrincipalNode]{props: map[xml.Name]propFn[*PrincipalNode]{
	dav("displayname"): func(ctx context.Context, n *PrincipalNode) (mo.Option[string], error) {
		return text(xmlEscape(n.ref.Principal.DisplayName))
	},
	dav("resourcetype"): func(ctx context.Context, n *PrincipalNode) (mo.Option[string], error) {
		return mo.Some("<D:principal/>"), nil
	},
	dav("principal-URL"): func(ctx context.Context, n *PrincipalNode) (mo.Option[string], error) {
		return mo.Some(href(n.ref.Principal.Path)), nil
	},
	caldav("calendar-home-set"): func(ctx context.Context, n *PrincipalNode) (mo.Option[string], error) {
		return userProp(n, n.ref.Principal.HomePath)
	},
	caldav("schedule-inbox-URL"): func(ctx context.Context, n *PrincipalNode) (mo.Option[string], error) {
		return userProp(n, n.ref.Principal.InboxPath)
	},
	caldav("schedule-outbox-URL"): func(ctx context.Context, n *PrincipalNode) (mo.Option[string], error) {
		return userProp(n, n.ref.Principal.OutboxPath)
	},
	caldav("calendar-user-address-set"): func(ctx context.Context, n *PrincipalNode) (mo.Option[string], error) {
		if n.ref.Principal.CalendarAddress == "" {
			return mo.None[string](), nil
		}
		return mo.Some(href(n.ref.Principal.CalendarAddress)), nil
	},
	calsrv("notification-URL"): func(ctx context.Context, n *PrincipalNode) (mo.Option[string], error) {
		return userProp(n, n.ref.Principal.NotificationsPath)
	},
}}

// userProp emits an href property that only user principals carry; groups
// have no home tree.
func userProp(n *PrincipalNode, path string) (mo.Option[string], error) {
	if n.ref.Principal.Kind != engine.KindUser || path == "" {
		return mo.None[string](), nil
	}
	return mo.Some(href(path)), nil
}
