package node

import (
	"context"
	"encoding/xml"
	"errors"
	"io"
	"strconv"

	"github.com/samber/mo"

	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
)

// ResourceNode wraps a binary resource in a non-calendar collection.
type ResourceNode struct {
	eng engine.Engine
	ref *resolver.Ref
	acc access
}

func newResourceNode(eng engine.Engine, ref *resolver.Ref) *ResourceNode {
	n := &ResourceNode{eng: eng, ref: ref}
	n.acc = access{eng: eng, subject: func() any {
		if n.ref.Resource == nil {
			return nil
		}
		return n.ref.Resource
	}}
	return n
}

func (n *ResourceNode) Ref() *resolver.Ref { return n.ref }

func (n *ResourceNode) Resource() *engine.Resource { return n.ref.Resource }

func (n *ResourceNode) ETagValue(ctx context.Context, strong bool) (string, error) {
	if n.ref.Resource == nil {
		return "", errors.New("no resource")
	}
	if strong {
		return n.ref.Resource.ETag, nil
	}
	return weak(n.ref.Resource.ETag), nil
}

func (n *ResourceNode) CurrentAccess(ctx context.Context) (*engine.Access, error) {
	return n.acc.current(ctx)
}

func (n *ResourceNode) PropertyNames() []xml.Name { return resourceTable.names() }

func (n *ResourceNode) KnownProperty(tag xml.Name) bool { return resourceTable.known(tag) }

func (n *ResourceNode) GeneratePropertyValue(ctx context.Context, tag xml.Name, allProp bool) (mo.Option[string], error) {
	v, ok, err := resourceTable.generate(ctx, n, tag)
	if err != nil || ok {
		return v, err
	}
	return mo.None[string](), nil
}

func (n *ResourceNode) ContentType() string {
	if n.ref.Resource != nil && n.ref.Resource.ContentType != "" {
		return n.ref.Resource.ContentType
	}
	return "application/octet-stream"
}

func (n *ResourceNode) WriteContent(ctx context.Context, w io.Writer, contentType string) error {
	if n.ref.Resource == nil {
		return errors.New("no resource")
	}
	_, err := w.Write(n.ref.Resource.Content)
	return err
}

var resourceTable = table[*ResourceNode]{props: map[xml.Name]propFn[*ResourceNode]{
	dav("getetag"): func(ctx context.Context, n *ResourceNode) (mo.Option[string], error) {
		etag, err := n.ETagValue(ctx, true)
		if err != nil {
			return mo.None[string](), err
		}
		return mo.Some(`"` + etag + `"`), nil
	},
	dav("getcontenttype"): func(ctx context.Context, n *ResourceNode) (mo.Option[string], error) {
		return mo.Some(n.ContentType()), nil
	},
	dav("getcontentlength"): func(ctx context.Context, n *ResourceNode) (mo.Option[string], error) {
		if n.ref.Resource == nil {
			return mo.None[string](), nil
		}
		return mo.Some(strconv.FormatInt(n.ref.Resource.Length, 10)), nil
	},
	dav("getlastmodified"): func(ctx context.Context, n *ResourceNode) (mo.Option[string], error) {
		if n.ref.Resource == nil {
			return mo.None[string](), nil
		}
		return text(httpDate(n.ref.Resource.Modified))
	},
	dav("resourcetype"): func(ctx context.Context, n *ResourceNode) (mo.Option[string], error) {
		return mo.Some(""), nil
	},
	calsrv("notificationtype"): func(ctx context.Context, n *ResourceNode) (mo.Option[string], error) {
		res := n.ref.Resource
		if res == nil || res.Notification == nil {
			return mo.None[string](), nil
		}
		return mo.Some("<" + res.Notification.Name.Local + ` xmlns="` + xmlEscape(res.Notification.Name.Space) + `"/>`), nil
	},
}}
