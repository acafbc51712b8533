package ical

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// Event is the slim per-component view the free-busy expander works on.
type Event struct {
	UID         string
	Summary     string
	Start       time.Time
	End         time.Time
	Duration    time.Duration
	IsAllDay    bool
	IsRecurring bool
	RRule       string
	RDates      []time.Time
	ExDates     []time.Time
	Transparent bool
}

// ParseEvents extracts every VEVENT from a calendar stream, skipping
// malformed components.
func ParseEvents(data []byte) ([]*Event, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}
	var events []*Event
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		ev, err := parseEvent(comp)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseEvent(comp *ical.Component) (*Event, error) {
	ev := &Event{}

	if p := comp.Props.Get(ical.PropUID); p != nil {
		ev.UID = p.Value
	} else {
		return nil, fmt.Errorf("missing UID")
	}
	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(ical.PropTransparency); p != nil && p.Value == "TRANSPARENT" {
		ev.Transparent = true
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, fmt.Errorf("missing DTSTART")
	}
	start, allDay, err := ParseDateTime(dtstart.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}
	ev.Start = start
	ev.IsAllDay = allDay

	switch {
	case comp.Props.Get(ical.PropDateTimeEnd) != nil:
		end, _, err := ParseDateTime(comp.Props.Get(ical.PropDateTimeEnd).Value)
		if err != nil {
			return nil, fmt.Errorf("invalid DTEND: %w", err)
		}
		ev.End = end
		ev.Duration = end.Sub(start)
	case comp.Props.Get(ical.PropDuration) != nil:
		dur, err := ParseDuration(comp.Props.Get(ical.PropDuration).Value)
		if err != nil {
			return nil, fmt.Errorf("invalid DURATION: %w", err)
		}
		ev.Duration = dur
		ev.End = start.Add(dur)
	default:
		if allDay {
			ev.Duration = 24 * time.Hour
		}
		ev.End = start.Add(ev.Duration)
	}

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		ev.RRule = p.Value
		ev.IsRecurring = true
	}
	for _, p := range comp.Props.Values(ical.PropRecurrenceDates) {
		if dates, err := parseMultipleDates(p.Value); err == nil {
			ev.RDates = append(ev.RDates, dates...)
		}
	}
	if len(ev.RDates) > 0 {
		ev.IsRecurring = true
	}
	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		if dates, err := parseMultipleDates(p.Value); err == nil {
			ev.ExDates = append(ev.ExDates, dates...)
		}
	}

	return ev, nil
}

func parseMultipleDates(s string) ([]time.Time, error) {
	var dates []time.Time
	for _, part := range bytes.Split([]byte(s), []byte(",")) {
		p := string(bytes.TrimSpace(part))
		if p == "" {
			continue
		}
		d, _, err := ParseDateTime(p)
		if err != nil {
			continue
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// RecurrenceExpander expands recurring events into concrete busy intervals
// within a range.
type RecurrenceExpander struct {
	timeZone *time.Location
}

func NewRecurrenceExpander(tz *time.Location) *RecurrenceExpander {
	if tz == nil {
		tz = time.UTC
	}
	return &RecurrenceExpander{timeZone: tz}
}

// BusyIntervals computes the clipped busy intervals of events (recurrence
// expanded) inside [rangeStart, rangeEnd). Transparent events contribute
// nothing.
func (re *RecurrenceExpander) BusyIntervals(events []*Event, rangeStart, rangeEnd time.Time) []Interval {
	var busy []Interval
	for _, ev := range events {
		if ev.Transparent {
			continue
		}
		if !ev.IsRecurring {
			if iv, ok := clip(ev.Start, ev.End, rangeStart, rangeEnd); ok {
				busy = append(busy, iv)
			}
			continue
		}
		starts, err := re.occurrences(ev, rangeStart, rangeEnd)
		if err != nil {
			continue
		}
		for _, s := range starts {
			if iv, ok := clip(s, s.Add(ev.Duration), rangeStart, rangeEnd); ok {
				busy = append(busy, iv)
			}
		}
	}
	return MergeIntervals(busy)
}

func (re *RecurrenceExpander) occurrences(ev *Event, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	var starts []time.Time

	if ev.RRule != "" {
		rruleStr := "DTSTART:" + ev.Start.UTC().Format(utcStamp) + "\nRRULE:" + ev.RRule
		rule, err := rrule.StrToRRule(rruleStr)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE: %w", err)
		}
		starts = append(starts, rule.Between(rangeStart.Add(-ev.Duration), rangeEnd.Add(ev.Duration), true)...)
	}
	starts = append(starts, ev.RDates...)
	starts = dropExcluded(starts, ev.ExDates)

	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	return starts, nil
}

func dropExcluded(starts, exdates []time.Time) []time.Time {
	if len(exdates) == 0 {
		return starts
	}
	excluded := make(map[string]bool, len(exdates))
	for _, d := range exdates {
		excluded[d.UTC().Format(utcStamp)] = true
	}
	var kept []time.Time
	for _, s := range starts {
		if !excluded[s.UTC().Format(utcStamp)] {
			kept = append(kept, s)
		}
	}
	return kept
}

func clip(s, e, rangeStart, rangeEnd time.Time) (Interval, bool) {
	if !e.After(rangeStart) || !s.Before(rangeEnd) {
		return Interval{}, false
	}
	if s.Before(rangeStart) {
		s = rangeStart
	}
	if e.After(rangeEnd) {
		e = rangeEnd
	}
	if !e.After(s) {
		return Interval{}, false
	}
	return Interval{S: s, E: e}, true
}
