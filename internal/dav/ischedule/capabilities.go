package ischedule

import (
	"net/http"
	"strconv"

	"github.com/beevik/etree"
)

// NS is the iSchedule XML namespace.
const NS = "urn:ietf:params:xml:ns:ischedule"

// Version is the protocol version this server speaks.
const Version = "1.0"

// Capabilities describes what this endpoint advertises on
// GET ?action=capabilities.
type Capabilities struct {
	Serial     int
	MaxContent int64
	Methods    map[string][]string // component name -> supported methods
}

// DefaultCapabilities matches what the POST handler actually accepts.
func DefaultCapabilities(maxContent int64) Capabilities {
	return Capabilities{
		Serial:     1,
		MaxContent: maxContent,
		Methods: map[string][]string{
			"VEVENT":    {"REQUEST", "ADD", "CANCEL", "REPLY", "COUNTER", "DECLINECOUNTER"},
			"VFREEBUSY": {"REQUEST"},
			"VPOLL":     {"REQUEST", "REPLY"},
		},
	}
}

// WriteCapabilities renders the capabilities document.
func WriteCapabilities(w http.ResponseWriter, caps Capabilities) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("query-result")
	root.CreateAttr("xmlns", NS)
	c := root.CreateElement("capabilities")
	c.CreateElement("serial-number").SetText(strconv.Itoa(caps.Serial))
	versions := c.CreateElement("versions")
	versions.CreateElement("version").SetText(Version)

	msgs := c.CreateElement("scheduling-messages")
	for _, comp := range []string{"VEVENT", "VFREEBUSY", "VPOLL"} {
		methods, ok := caps.Methods[comp]
		if !ok {
			continue
		}
		ce := msgs.CreateElement("component")
		ce.CreateAttr("name", comp)
		for _, m := range methods {
			me := ce.CreateElement("method")
			me.CreateAttr("name", m)
		}
	}

	types := c.CreateElement("calendar-data-types")
	cdt := types.CreateElement("calendar-data-type")
	cdt.CreateAttr("content-type", "text/calendar")
	cdt.CreateAttr("version", "2.0")

	c.CreateElement("attachments").CreateElement("inline")
	if caps.MaxContent > 0 {
		c.CreateElement("max-content-length").SetText(strconv.FormatInt(caps.MaxContent, 10))
	}

	doc.Indent(2)
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.Header().Set("iSchedule-Version", Version)
	w.WriteHeader(http.StatusOK)
	_, err := doc.WriteTo(w)
	return err
}
