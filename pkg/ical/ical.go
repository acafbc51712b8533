package ical

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
)

const utcStamp = "20060102T150405Z"

type Interval struct{ S, E time.Time }

// NormalizeICS parses and re-serializes to ensure validity and consistent
// formatting.
func NormalizeICS(data []byte) ([]byte, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseDateTime accepts DATE, floating DATE-TIME, UTC DATE-TIME and RFC3339
// forms. The second return is true for all-day DATE values.
func ParseDateTime(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)

	if len(s) == 8 {
		t, err := time.Parse("20060102", s)
		return t, true, err
	}
	if len(s) == 15 {
		t, err := time.ParseInLocation("20060102T150405", s, time.Local)
		return t, false, err
	}
	if len(s) == 16 && strings.HasSuffix(s, "Z") {
		t, err := time.Parse(utcStamp, s)
		return t, false, err
	}
	t, err := time.Parse(time.RFC3339, s)
	return t, false, err
}

// ParseDuration handles the RFC 5545 duration form (P..DT..H..M..S).
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	s = strings.TrimPrefix(s, "+")
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var days, hours, minutes, seconds, weeks int
	var inTime bool
	var current strings.Builder
	for _, r := range s[1:] {
		switch r {
		case 'W':
			if n, err := strconv.Atoi(current.String()); err == nil {
				weeks = n
			}
			current.Reset()
		case 'D':
			if n, err := strconv.Atoi(current.String()); err == nil {
				days = n
			}
			current.Reset()
		case 'T':
			inTime = true
			current.Reset()
		case 'H':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					hours = n
				}
			}
			current.Reset()
		case 'M':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					minutes = n
				}
			}
			current.Reset()
		case 'S':
			if inTime {
				if n, err := strconv.Atoi(current.String()); err == nil {
					seconds = n
				}
			}
			current.Reset()
		default:
			current.WriteRune(r)
		}
	}

	d := time.Duration(weeks)*7*24*time.Hour +
		time.Duration(days)*24*time.Hour +
		time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}

// MergeIntervals coalesces overlapping or touching busy intervals.
func MergeIntervals(in []Interval) []Interval {
	if len(in) <= 1 {
		return in
	}
	sort.Slice(in, func(i, j int) bool { return in[i].S.Before(in[j].S) })
	out := []Interval{in[0]}
	for _, iv := range in[1:] {
		last := &out[len(out)-1]
		if !iv.S.After(last.E) {
			if iv.E.After(last.E) {
				last.E = iv.E
			}
			continue
		}
		out = append(out, iv)
	}
	return out
}

// FreeBusyOptions shape the produced VFREEBUSY.
type FreeBusyOptions struct {
	ProdID string
	// Method, when non-empty, is emitted on the VCALENDAR (REPLY for
	// scheduling responses).
	Method    string
	Organizer string
	Attendee  string
}

// BuildFreeBusy renders a VFREEBUSY calendar over [start, end) from merged
// busy intervals.
func BuildFreeBusy(start, end time.Time, busy []Interval, opts FreeBusyOptions) []byte {
	cal := ical.NewCalendar()
	prodID := opts.ProdID
	if prodID == "" {
		prodID = "-//Calagora//CalDAV//EN"
	}
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropVersion, "2.0")
	if opts.Method != "" {
		cal.Props.SetText(ical.PropMethod, opts.Method)
	}

	fb := ical.NewComponent(ical.CompFreeBusy)
	fb.Props.SetText(ical.PropUID, fmt.Sprintf("%d-freebusy", start.Unix()))
	fb.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	fb.Props.SetDateTime(ical.PropDateTimeStart, start.UTC())
	fb.Props.SetDateTime(ical.PropDateTimeEnd, end.UTC())
	if opts.Organizer != "" {
		fb.Props.SetText(ical.PropOrganizer, opts.Organizer)
	}
	if opts.Attendee != "" {
		fb.Props.SetText(ical.PropAttendee, opts.Attendee)
	}
	for _, iv := range busy {
		p := ical.NewProp(ical.PropFreeBusy)
		p.Params.Set(ical.ParamFreeBusyType, "BUSY")
		p.SetText(iv.S.UTC().Format(utcStamp) + "/" + iv.E.UTC().Format(utcStamp))
		fb.Props.Add(p)
	}
	cal.Children = append(cal.Children, fb)

	var buf bytes.Buffer
	_ = ical.NewEncoder(&buf).Encode(cal)
	return buf.Bytes()
}
