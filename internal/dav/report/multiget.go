package report

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/node"
	"github.com/calagora/caldav/internal/dav/resolver"
)

// calendarMultiget resolves each requested href in isolation. One bad href
// never poisons the batch; it becomes a trailing 404 response instead.
func (h *Handler) calendarMultiget(w http.ResponseWriter, r *http.Request, mg calendarMultiget) error {
	if len(mg.Hrefs) == 0 {
		return derr.BadRequest("calendar-multiget requires at least one href")
	}
	props := parsePropRequest(mg.Prop, mg.AllProp != nil)

	var items []Item
	var badHrefs []string
	for _, raw := range mg.Hrefs {
		path := hrefPath(raw)
		if path == "" {
			badHrefs = append(badHrefs, raw)
			continue
		}
		ref, err := h.res.Resolve(r.Context(), path, resolver.MustExist, resolver.Unknown, nil)
		if err != nil {
			h.logger.Debug().Str("href", raw).Err(err).Msg("multiget href skipped")
			badHrefs = append(badHrefs, raw)
			continue
		}
		items = append(items, Item{Href: ref.Path(), Node: node.For(h.eng, ref)})
	}

	return WriteMultistatus(w, r.Context(), items, badHrefs, props)
}

// hrefPath reduces an absolute-URL href to its path component.
func hrefPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return ""
		}
		return u.Path
	}
	if u, err := url.PathUnescape(raw); err == nil {
		return u
	}
	return raw
}
