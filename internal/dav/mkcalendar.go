package dav

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
)

// mkcalendarBody is the optional MKCALENDAR request document. Only the
// properties the collection model carries are honoured; everything else in
// the set is ignored.
type mkcalendarBody struct {
	XMLName xml.Name `xml:"urn:ietf:params:xml:ns:caldav mkcalendar"`
	Set     struct {
		Prop struct {
			DisplayName *string `xml:"DAV: displayname"`
			Description *string `xml:"urn:ietf:params:xml:ns:caldav calendar-description"`
			TimeZoneID  *string `xml:"urn:ietf:params:xml:ns:caldav calendar-timezone-id"`
			Color       *string `xml:"http://apple.com/ns/ical/ calendar-color"`
			CompSet     *struct {
				Comps []struct {
					Name string `xml:"name,attr"`
				} `xml:"urn:ietf:params:xml:ns:caldav comp"`
			} `xml:"urn:ietf:params:xml:ns:caldav supported-calendar-component-set"`
		} `xml:"DAV: prop"`
	} `xml:"DAV: set"`
}

// HandleMkcalendar creates a calendar collection at the request path.
func (h *Handlers) HandleMkcalendar(w http.ResponseWriter, r *http.Request) {
	if err := h.mkcalendar(w, r); err != nil {
		h.writeError(w, r, err)
	}
}

func (h *Handlers) mkcalendar(w http.ResponseWriter, r *http.Request) error {
	ref, err := h.res.Resolve(r.Context(), h.path(r), resolver.MustNotExist, resolver.WantCollection, nil)
	if err != nil {
		return err
	}

	col := ref.Col
	col.Type = engine.ColCalendar

	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.HTTP.MaxXMLBytes))
	if err != nil {
		return derr.BadRequest("unreadable body")
	}
	_ = r.Body.Close()
	if len(body) > 0 {
		var req mkcalendarBody
		if err := xml.Unmarshal(body, &req); err != nil {
			return derr.UnsupportedMediaType("malformed mkcalendar body")
		}
		applyMkcalendarProps(col, &req)
	}

	if _, err := h.eng.CheckAccess(r.Context(), col, engine.PrivBind, false); err != nil {
		return mapEngineErr(err)
	}
	if err := h.eng.MakeCollection(r.Context(), col); err != nil {
		return mapEngineErr(err)
	}

	w.WriteHeader(http.StatusCreated)
	return nil
}

func applyMkcalendarProps(col *engine.Collection, req *mkcalendarBody) {
	p := &req.Set.Prop
	if p.DisplayName != nil {
		col.DisplayName = *p.DisplayName
	}
	if p.Description != nil {
		col.Description = *p.Description
	}
	if p.TimeZoneID != nil {
		col.TimeZoneID = *p.TimeZoneID
	}
	if p.Color != nil {
		col.Color = *p.Color
	}
	if p.CompSet != nil {
		for _, c := range p.CompSet.Comps {
			if c.Name != "" {
				col.SupportedComponents = append(col.SupportedComponents, c.Name)
			}
		}
	}
}
