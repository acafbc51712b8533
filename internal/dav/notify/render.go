package notify

import (
	"encoding/xml"
	"strconv"

	"github.com/beevik/etree"

	"github.com/calagora/caldav/internal/engine"
)

// Render serializes a typed notification back to its wire XML for storage in
// a notifications collection. The returned name tags the stored resource.
func Render(n engine.Notification) ([]byte, xml.Name, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	var root *etree.Element
	switch v := n.(type) {
	case engine.EventregCancelled:
		root = doc.CreateElement(elemEventregCancelled)
		root.CreateElement(elemHref).SetText(v.Href)
		root.CreateElement(elemUID).SetText(v.UID)
		root.CreateElement(elemPrincipalHref).SetText(v.PrincipalHref)
	case engine.EventregRegistered:
		root = doc.CreateElement(elemEventregRegistered)
		root.CreateElement(elemHref).SetText(v.Href)
		root.CreateElement(elemUID).SetText(v.UID)
		root.CreateElement(elemNumTicketsRequested).SetText(strconv.Itoa(v.NumTicketsRequested))
		root.CreateElement(elemNumTickets).SetText(strconv.Itoa(v.NumTickets))
		root.CreateElement(elemPrincipalHref).SetText(v.PrincipalHref)
	default:
		root = doc.CreateElement(n.NotificationKind())
	}
	root.CreateAttr("xmlns", NS)

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, xml.Name{}, err
	}
	return out, xml.Name{Space: NS, Local: root.Tag}, nil
}
