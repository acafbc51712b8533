// Package report implements the three CalDAV REPORTs: calendar-query,
// calendar-multiget and free-busy-query.
package report

import (
	"encoding/xml"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/dav/node"
	"github.com/calagora/caldav/internal/dav/resolver"
	"github.com/calagora/caldav/internal/engine"
)

const (
	nsDAV    = "DAV:"
	nsCalDAV = "urn:ietf:params:xml:ns:caldav"
)

// DepthInfinity is the parsed value of "Depth: infinity".
const DepthInfinity = 1 << 30

type propContainer struct {
	XMLName xml.Name  `xml:"DAV: prop"`
	Any     []anyProp `xml:",any"`
}

type anyProp struct {
	XMLName xml.Name
	// CalData captures the component structure of a calendar-data request
	// for retrieve-list derivation.
	Comp *compReq `xml:"comp"`
}

type compReq struct {
	Name    string     `xml:"name,attr"`
	AllComp *struct{}  `xml:"allcomp"`
	AllProp *struct{}  `xml:"allprop"`
	Props   []propName `xml:"prop"`
	Comps   []compReq  `xml:"comp"`
}

type propName struct {
	Name string `xml:"name,attr"`
}

type calendarQuery struct {
	XMLName  xml.Name       `xml:"urn:ietf:params:xml:ns:caldav calendar-query"`
	Prop     *propContainer `xml:"DAV: prop"`
	AllProp  *struct{}      `xml:"DAV: allprop"`
	Filter   calendarFilter `xml:"filter"`
	Timezone *timezoneElem  `xml:"timezone"`
	TZID     string         `xml:"timezone-id"`
}

type timezoneElem struct {
	Data string `xml:",chardata"`
}

type calendarMultiget struct {
	XMLName xml.Name       `xml:"urn:ietf:params:xml:ns:caldav calendar-multiget"`
	Prop    *propContainer `xml:"DAV: prop"`
	AllProp *struct{}      `xml:"DAV: allprop"`
	Hrefs   []string       `xml:"DAV: href"`
}

type calendarFilter struct {
	CompFilter compFilter `xml:"comp-filter"`
}

type compFilter struct {
	Name        string       `xml:"name,attr"`
	CompFilters []compFilter `xml:"comp-filter"`
	TimeRange   *timeRange   `xml:"time-range"`
}

type timeRange struct {
	Start string `xml:"start,attr,omitempty"`
	End   string `xml:"end,attr,omitempty"`
}

type freeBusyQuery struct {
	XMLName xml.Name     `xml:"urn:ietf:params:xml:ns:caldav free-busy-query"`
	Ranges  []*timeRange `xml:"time-range"`
}

// PropRequest is the parsed property request of a REPORT body.
type PropRequest struct {
	AllProp bool
	Names   []xml.Name
	// Retrieve is the best-effort retrieve-list derived from the
	// calendar-data component structure; nil means full fetch.
	Retrieve []string
}

// Item is one resolved REPORT result.
type Item struct {
	Href string
	Node node.Node
}

type Handler struct {
	eng     engine.Engine
	res     *resolver.Resolver
	logger  zerolog.Logger
	maxBody int64
}

func NewHandler(eng engine.Engine, res *resolver.Resolver, maxBody int64, logger zerolog.Logger) *Handler {
	if maxBody <= 0 {
		maxBody = 8 << 20
	}
	return &Handler{eng: eng, res: res, maxBody: maxBody, logger: logger.With().Str("component", "report").Logger()}
}

// Handle dispatches a REPORT request on path by root element tag.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request, path string) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBody))
	if err != nil {
		return derr.BadRequest("unreadable body")
	}
	_ = r.Body.Close()

	root := struct{ XMLName xml.Name }{}
	if err := xml.Unmarshal(body, &root); err != nil {
		return derr.BadRequest("bad xml")
	}

	depth := ParseDepth(r.Header.Get("Depth"))

	switch root.XMLName.Space + " " + root.XMLName.Local {
	case nsCalDAV + " calendar-query":
		var q calendarQuery
		if err := xml.Unmarshal(body, &q); err != nil {
			return derr.BadRequest("bad calendar-query")
		}
		return h.calendarQuery(w, r, path, depth, q)
	case nsCalDAV + " calendar-multiget":
		var mg calendarMultiget
		if err := xml.Unmarshal(body, &mg); err != nil {
			return derr.BadRequest("bad calendar-multiget")
		}
		return h.calendarMultiget(w, r, mg)
	case nsCalDAV + " free-busy-query":
		var fb freeBusyQuery
		if err := xml.Unmarshal(body, &fb); err != nil {
			return derr.BadRequest("bad free-busy-query")
		}
		return h.freeBusyQuery(w, r, path, depth, fb)
	default:
		return derr.BadRequest("unsupported REPORT " + root.XMLName.Local)
	}
}

// ParseDepth maps the Depth header onto a traversal bound; absence means
// unbounded.
func ParseDepth(s string) int {
	switch strings.TrimSpace(s) {
	case "0":
		return 0
	case "1":
		return 1
	default:
		return DepthInfinity
	}
}

func parsePropRequest(prop *propContainer, allProp bool) PropRequest {
	pr := PropRequest{AllProp: allProp}
	if prop == nil {
		pr.AllProp = true
		return pr
	}
	for _, p := range prop.Any {
		pr.Names = append(pr.Names, p.XMLName)
		if p.XMLName.Space == nsCalDAV && p.XMLName.Local == "calendar-data" {
			pr.Retrieve = retrieveList(p.Comp)
		}
	}
	return pr
}

// retrieveList derives the property-name fetch hint from a calendar-data
// component request. It accumulates names across all requested
// sub-components into one flat list; a query asking different properties
// for VEVENT vs VTODO gets the union for both.
func retrieveList(comp *compReq) []string {
	if comp == nil || comp.AllComp != nil || comp.Name != "VCALENDAR" {
		return nil
	}
	var out []string
	for _, sub := range comp.Comps {
		if sub.AllProp != nil || len(sub.Props) == 0 {
			return nil
		}
		for _, p := range sub.Props {
			out = appendUnique(out, p.Name)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

// filterComponents collects component names one level beneath the VCALENDAR
// filter, and the innermost time range.
func filterComponents(f calendarFilter) ([]string, *timeRange) {
	top := f.CompFilter
	if !strings.EqualFold(top.Name, "VCALENDAR") {
		return nil, nil
	}
	var names []string
	var tr *timeRange
	for i := range top.CompFilters {
		cf := &top.CompFilters[i]
		if cf.Name != "" {
			names = appendUnique(names, strings.ToUpper(cf.Name))
		}
		if cf.TimeRange != nil {
			tr = cf.TimeRange
		}
		for j := range cf.CompFilters {
			if cf.CompFilters[j].TimeRange != nil && tr == nil {
				tr = cf.CompFilters[j].TimeRange
			}
		}
	}
	return names, tr
}
