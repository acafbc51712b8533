package dav

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/node"
	"github.com/calagora/caldav/internal/dav/report"
	"github.com/calagora/caldav/internal/dav/resolver"
)

type propfindBody struct {
	XMLName  xml.Name  `xml:"DAV: propfind"`
	AllProp  *struct{} `xml:"DAV: allprop"`
	PropName *struct{} `xml:"DAV: propname"`
	Prop     *struct {
		Any []struct {
			XMLName xml.Name
		} `xml:",any"`
	} `xml:"DAV: prop"`
}

// HandlePropfind answers property queries on any node. Depth 1 lists a
// collection's children; deeper traversal is refused.
func (h *Handlers) HandlePropfind(w http.ResponseWriter, r *http.Request) {
	if err := h.propfind(w, r); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handlers) propfind(w http.ResponseWriter, r *http.Request) error {
	ref, err := h.res.Resolve(r.Context(), h.path(r), resolver.MustExist, resolver.Unknown, nil)
	if err != nil {
		return err
	}

	props, err := h.parsePropfind(r)
	if err != nil {
		return err
	}

	depth := report.ParseDepth(r.Header.Get("Depth"))
	if depth == report.DepthInfinity {
		depth = 1
	}

	items := []report.Item{{Href: ref.Path(), Node: node.For(h.eng, ref)}}
	if depth > 0 && ref.IsCollection() {
		children, err := h.collectionChildren(r, ref)
		if err != nil {
			return err
		}
		items = append(items, children...)
	}
	return report.WriteMultistatus(w, r.Context(), items, nil, props)
}

// collectionChildren produces one item per member of the collection: child
// collections, calendar objects and binary resources.
func (h *Handlers) collectionChildren(r *http.Request, ref *resolver.Ref) ([]report.Item, error) {
	ctx := r.Context()
	var items []report.Item

	cols, err := h.eng.Children(ctx, ref.Col)
	if err != nil {
		return nil, mapEngineErr(err)
	}
	for _, c := range cols {
		cref := resolver.CollectionRef(c, true)
		items = append(items, report.Item{Href: cref.Path(), Node: node.For(h.eng, cref)})
	}

	if ref.Col.EntitiesAllowed() {
		ents, err := h.eng.Entities(ctx, ref.Col, nil)
		if err != nil {
			return nil, mapEngineErr(err)
		}
		for _, e := range ents {
			eref := resolver.EntityRef(ref.Col, e, e.Name, true)
			items = append(items, report.Item{Href: eref.Path(), Node: node.For(h.eng, eref)})
		}
		return items, nil
	}

	ress, err := h.eng.Resources(ctx, ref.Col)
	if err != nil {
		return nil, mapEngineErr(err)
	}
	for _, res := range ress {
		rref := resolver.ResourceRef(ref.Col, res, res.Name, true)
		items = append(items, report.Item{Href: rref.Path(), Node: node.For(h.eng, rref)})
	}
	return items, nil
}

// parsePropfind reads the optional body. An empty body and propname both
// behave as allprop.
func (h *Handlers) parsePropfind(r *http.Request) (report.PropRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.HTTP.MaxXMLBytes))
	if err != nil {
		return report.PropRequest{}, derr.BadRequest("unreadable body")
	}
	_ = r.Body.Close()
	if len(body) == 0 {
		return report.PropRequest{AllProp: true}, nil
	}

	var pf propfindBody
	if err := xml.Unmarshal(body, &pf); err != nil {
		return report.PropRequest{}, derr.BadRequest("malformed propfind body")
	}
	if pf.Prop == nil || pf.AllProp != nil || pf.PropName != nil {
		return report.PropRequest{AllProp: true}, nil
	}
	req := report.PropRequest{}
	for _, p := range pf.Prop.Any {
		req.Names = append(req.Names, p.XMLName)
	}
	return req, nil
}
