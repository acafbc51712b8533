package sched

import (
	"strings"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/pkg/ical"
)

// validateOriginator enforces the per-method originator policy:
//
//	PUBLISH, REFRESH                originator unconstrained
//	REQUEST                         organizer, or sole-attendee fallback
//	ADD, CANCEL, DECLINECOUNTER     organizer only
//	REPLY, COUNTER                  sole attendee only
//
// Every non-PUBLISH method requires an ORGANIZER on the component. Inbound
// federation (isched) requires exactly one attendee wherever attendee
// matching applies; a multi-attendee REPLY from another server is a
// mismatch, not something to pick through.
func validateOriginator(originator string, ent *engine.Entity, isched bool) error {
	method := ent.ScheduleMethod

	if method != ical.MethodPublish {
		if ent.Organizer == nil || ent.Organizer.Address == "" {
			return derr.BadRequestTag(derr.TagValidCalendarData, "Missing organizer")
		}
	}

	switch method {
	case ical.MethodPublish, ical.MethodRefresh:
		return nil

	case ical.MethodRequest:
		if addrEqual(originator, ent.Organizer.Address) {
			return nil
		}
		return matchAttendee(originator, ent, isched)

	case ical.MethodAdd, ical.MethodCancel, ical.MethodDeclineCounter:
		if addrEqual(originator, ent.Organizer.Address) {
			return nil
		}
		return derr.Forbidden(derr.TagValidSchedulingMessage, "originator does not match organizer")

	case ical.MethodReply, ical.MethodCounter:
		return matchAttendee(originator, ent, isched)

	default:
		return derr.Forbidden(derr.TagValidCalendarData, "unknown iTIP method "+method)
	}
}

func matchAttendee(originator string, ent *engine.Entity, isched bool) error {
	if isched && len(ent.AttendeeURIs) != 1 {
		return derr.Forbidden(derr.TagValidSchedulingMessage, "attendee/originator mismatch")
	}
	for _, a := range ent.AttendeeURIs {
		if addrEqual(originator, a) {
			return nil
		}
	}
	return derr.Forbidden(derr.TagValidSchedulingMessage, "attendee/originator mismatch")
}

// addrEqual compares calendar-user addresses ignoring case and an optional
// mailto: scheme.
func addrEqual(a, b string) bool {
	return strings.EqualFold(bareAddr(a), bareAddr(b))
}

func bareAddr(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 7 && strings.EqualFold(s[:7], "mailto:") {
		return s[7:]
	}
	return s
}
