package ical

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

// Organizer carries the ORGANIZER property with the parameters the
// scheduling layer inspects.
type Organizer struct {
	CN       string
	Dir      string
	Language string
	SentBy   string
	Address  string
}

// Object is one parsed calendar-object resource: a VCALENDAR wrapping
// exactly one logical component (plus any recurrence overrides and
// VTIMEZONEs).
type Object struct {
	Calendar *ical.Calendar

	// Method is the iTIP METHOD on the VCALENDAR, empty if absent.
	Method string

	// Component is the primary component name (VEVENT, VTODO, VJOURNAL,
	// VFREEBUSY, VAVAILABILITY, VPOLL).
	Component string

	UID     string
	Summary string

	Organizer *Organizer
	Attendees []string

	Start *time.Time
	End   *time.Time

	// TimeZoneID is the TZID of the first embedded VTIMEZONE, if any.
	TimeZoneID string

	Raw []byte
}

const (
	compAvailability = "VAVAILABILITY"
	compPoll         = "VPOLL"
)

var primaryComponents = map[string]bool{
	ical.CompEvent:    true,
	ical.CompToDo:     true,
	ical.CompJournal:  true,
	ical.CompFreeBusy: true,
	compAvailability:  true,
	compPoll:          true,
}

// ParseObject decodes a single calendar-object resource. More than one
// distinct UID among the primary components is rejected; recurrence
// overrides share the master's UID and are allowed.
func ParseObject(data []byte) (*Object, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}

	obj := &Object{Calendar: cal, Raw: data}
	if p := cal.Props.Get(ical.PropMethod); p != nil {
		obj.Method = strings.ToUpper(strings.TrimSpace(p.Value))
	}

	var master *ical.Component
	for _, comp := range cal.Children {
		if comp.Name == ical.CompTimezone {
			if obj.TimeZoneID == "" {
				if tzid := comp.Props.Get(ical.PropTimezoneID); tzid != nil {
					obj.TimeZoneID = tzid.Value
				}
			}
			continue
		}
		if !primaryComponents[comp.Name] {
			continue
		}
		uid := ""
		if p := comp.Props.Get(ical.PropUID); p != nil {
			uid = p.Value
		}
		if obj.Component == "" {
			obj.Component = comp.Name
			obj.UID = uid
			master = comp
			continue
		}
		if comp.Name != obj.Component || (uid != "" && uid != obj.UID) {
			return nil, errors.New("calendar contains more than one entity")
		}
		// Recurrence override; keep the component without RECURRENCE-ID
		// as master.
		if master.Props.Get(ical.PropRecurrenceID) != nil && comp.Props.Get(ical.PropRecurrenceID) == nil {
			master = comp
		}
	}
	if master == nil {
		return nil, errors.New("no usable component in calendar")
	}

	if p := master.Props.Get(ical.PropSummary); p != nil {
		obj.Summary = p.Value
	}
	obj.Organizer = parseOrganizer(master)
	for _, ap := range master.Props.Values(ical.PropAttendee) {
		obj.Attendees = append(obj.Attendees, strings.TrimSpace(ap.Value))
	}
	if p := master.Props.Get(ical.PropDateTimeStart); p != nil {
		if t, _, err := ParseDateTime(p.Value); err == nil {
			obj.Start = &t
		}
	}
	if p := master.Props.Get(ical.PropDateTimeEnd); p != nil {
		if t, _, err := ParseDateTime(p.Value); err == nil {
			obj.End = &t
		}
	} else if p := master.Props.Get(ical.PropDuration); p != nil && obj.Start != nil {
		if d, err := ParseDuration(p.Value); err == nil {
			t := obj.Start.Add(d)
			obj.End = &t
		}
	}

	return obj, nil
}

func parseOrganizer(comp *ical.Component) *Organizer {
	p := comp.Props.Get(ical.PropOrganizer)
	if p == nil {
		return nil
	}
	return &Organizer{
		CN:       p.Params.Get(ical.ParamCommonName),
		Dir:      p.Params.Get(ical.ParamDir),
		Language: p.Params.Get(ical.ParamLanguage),
		SentBy:   p.Params.Get(ical.ParamSentBy),
		Address:  strings.TrimSpace(p.Value),
	}
}

// OrganizerAddress returns the bare calendar-user address of the object's
// organizer, or "".
func (o *Object) OrganizerAddress() string {
	if o.Organizer == nil {
		return ""
	}
	return o.Organizer.Address
}

// Encode serializes the wrapped calendar, with the iTIP METHOD included or
// stripped depending on withMethod.
func (o *Object) Encode(withMethod bool) ([]byte, error) {
	if withMethod && o.Method != "" {
		o.Calendar.Props.SetText(ical.PropMethod, o.Method)
	} else {
		o.Calendar.Props.Del(ical.PropMethod)
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(o.Calendar); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
