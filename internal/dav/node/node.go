// Package node wraps resolved references into typed nodes exposing property
// generation and content serialization.
package node

import (
	"context"
	"encoding/xml"
	"io"
	"sort"
	"time"

	"github.com/samber/mo"

	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
)

// XML namespaces used in property names.
const (
	NSDav    = "DAV:"
	NSCalDAV = "urn:ietf:params:xml:ns:caldav"
	NSCalSrv = "http://calendarserver.org/ns/"
)

func dav(local string) xml.Name    { return xml.Name{Space: NSDav, Local: local} }
func caldav(local string) xml.Name { return xml.Name{Space: NSCalDAV, Local: local} }
func calsrv(local string) xml.Name { return xml.Name{Space: NSCalSrv, Local: local} }

// Node is a typed view over a resolved reference. Property values are
// returned as raw inner XML or text; None means the property does not apply
// to this node.
type Node interface {
	Ref() *resolver.Ref

	// ETagValue returns the entity tag, weak form prefixed with W/.
	ETagValue(ctx context.Context, strong bool) (string, error)

	// CurrentAccess is computed once per node and cached.
	CurrentAccess(ctx context.Context) (*engine.Access, error)

	PropertyNames() []xml.Name
	KnownProperty(tag xml.Name) bool
	GeneratePropertyValue(ctx context.Context, tag xml.Name, allProp bool) (mo.Option[string], error)

	// WriteContent serializes the node body in the requested content type.
	WriteContent(ctx context.Context, w io.Writer, contentType string) error
	ContentType() string
}

// For wraps a resolved reference into its node kind.
func For(eng engine.Engine, ref *resolver.Ref) Node {
	switch {
	case ref.IsPrincipal():
		return newPrincipalNode(eng, ref)
	case ref.IsCollection():
		return newCollectionNode(eng, ref)
	case ref.IsResource():
		return newResourceNode(eng, ref)
	default:
		return newComponentNode(eng, ref)
	}
}

// access caches the lazily computed access result shared by all node kinds.
type access struct {
	eng     engine.Engine
	done    bool
	cached  *engine.Access
	subject func() any
}

func (a *access) current(ctx context.Context) (*engine.Access, error) {
	if a.done {
		return a.cached, nil
	}
	subj := a.subject()
	if subj == nil {
		a.done = true
		return nil, nil
	}
	res, err := a.eng.CheckAccess(ctx, subj, engine.PrivReadAny, true)
	if err != nil {
		return nil, err
	}
	a.done = true
	a.cached = res
	return res, nil
}

func weak(etag string) string { return `W/` + etag }

// propFn produces one property value for a node of type T.
type propFn[T any] func(ctx context.Context, n T) (mo.Option[string], error)

// table is an immutable tag-to-behavior registry for one node kind; misses
// delegate to the next table in the chain.
type table[T any] struct {
	props map[xml.Name]propFn[T]
}

func (t table[T]) known(tag xml.Name) bool {
	_, ok := t.props[tag]
	return ok
}

func (t table[T]) generate(ctx context.Context, n T, tag xml.Name) (mo.Option[string], bool, error) {
	fn, ok := t.props[tag]
	if !ok {
		return mo.None[string](), false, nil
	}
	v, err := fn(ctx, n)
	return v, true, err
}

func (t table[T]) names() []xml.Name {
	out := make([]xml.Name, 0, len(t.props))
	for n := range t.props {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Space != out[j].Space {
			return out[i].Space < out[j].Space
		}
		return out[i].Local < out[j].Local
	})
	return out
}

func text(s string) (mo.Option[string], error) {
	if s == "" {
		return mo.None[string](), nil
	}
	return mo.Some(s), nil
}

func httpDate(t time.Time) string { return t.UTC().Format(time.RFC1123) }

func href(path string) string { return "<D:href>" + xmlEscape(path) + "</D:href>" }

func xmlEscape(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			b = append(b, "&amp;"...)
		case '<':
			b = append(b, "&lt;"...)
		case '>':
			b = append(b, "&gt;"...)
		default:
			b = append(b, s[i])
		}
	}
	return string(b)
}
