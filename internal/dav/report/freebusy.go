package report

import (
	"net/http"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
)

// freeBusyQuery aggregates busy time over the target collection tree. Unlike
// the other reports it answers with a single iCalendar body, not multistatus.
func (h *Handler) freeBusyQuery(w http.ResponseWriter, r *http.Request, path string, depth int, fb freeBusyQuery) error {
	if len(fb.Ranges) != 1 {
		return derr.BadRequest("free-busy-query requires exactly one time-range")
	}
	tr := fb.Ranges[0]
	start, err := parseFilterTime(tr.Start)
	if err != nil {
		return derr.BadRequest("bad time-range start")
	}
	end, err := parseFilterTime(tr.End)
	if err != nil {
		return derr.BadRequest("bad time-range end")
	}
	if !end.After(*start) {
		return derr.BadRequest("time-range end must follow start")
	}

	ref, err := h.res.Resolve(r.Context(), path, resolver.MustExist, resolver.WantCollection, nil)
	if err != nil {
		return err
	}
	if ref.Col == nil {
		return derr.BadRequest("free-busy-query target is not a collection")
	}

	ent, err := h.eng.FreeBusyForCollection(r.Context(), ref.Col, *start, *end, depth)
	if err != nil {
		return derr.Wrap(err)
	}
	body, err := h.eng.ToIcal(r.Context(), ent, engine.NoMethod, "text/calendar")
	if err != nil {
		return derr.Wrap(err)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
	return nil
}
