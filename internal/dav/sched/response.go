package sched

import (
	"net/http"
	"strings"

	"github.com/beevik/etree"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/node"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/metrics"
)

// RequestStatus translates a delivery outcome into the iTIP request-status
// code carried in schedule responses.
func RequestStatus(s engine.DeliveryStatus) string {
	switch s {
	case engine.DeliverOK:
		return "2.0;Success"
	case engine.DeliverDeferred:
		return "5.1;Service unavailable. Request deferred"
	case engine.DeliverNoAccess:
		return "3.8;No authority"
	case engine.DeliverInvalidUser:
		return "3.7;Invalid calendar user"
	default:
		return "5.2;Unable to deliver"
	}
}

// writeResponse renders the schedule-response document: the CalDAV shape for
// same-server POSTs, the iSchedule shape for federation. withData inlines
// each recipient's free-busy reply where one was computed.
func (h *Handler) writeResponse(w http.ResponseWriter, r *http.Request, results []engine.RecipientResult, withData, isched bool) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	var root *etree.Element
	if isched {
		root = doc.CreateElement("schedule-response")
		root.CreateAttr("xmlns", "urn:ietf:params:xml:ns:ischedule")
	} else {
		root = doc.CreateElement("C:schedule-response")
		root.CreateAttr("xmlns:C", node.NSCalDAV)
		root.CreateAttr("xmlns:D", node.NSDav)
	}

	for _, res := range results {
		code, _, _ := strings.Cut(RequestStatus(res.Status), ";")
		metrics.ObserveDelivery(code)
		var resp *etree.Element
		if isched {
			resp = root.CreateElement("response")
			resp.CreateElement("recipient").SetText(res.Recipient)
			resp.CreateElement("request-status").SetText(RequestStatus(res.Status))
		} else {
			resp = root.CreateElement("C:response")
			rec := resp.CreateElement("C:recipient")
			rec.CreateElement("D:href").SetText(res.Recipient)
			resp.CreateElement("C:request-status").SetText(RequestStatus(res.Status))
		}

		if withData && res.FreeBusy != nil {
			data, err := h.eng.ToIcal(r.Context(), res.FreeBusy, engine.EventMethod, "text/calendar")
			if err != nil {
				return derr.Wrap(err)
			}
			name := "calendar-data"
			if !isched {
				name = "C:calendar-data"
			}
			resp.CreateElement(name).SetText(data)
		}
	}

	doc.Indent(2)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if isched {
		w.Header().Set("iSchedule-Version", "1.0")
	}
	w.WriteHeader(http.StatusOK)
	_, err := doc.WriteTo(w)
	return err
}
