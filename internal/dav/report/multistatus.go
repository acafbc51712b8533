package report

import (
	"context"
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/calagora/caldav/internal/dav/node"
)

const (
	statusOK       = "HTTP/1.1 200 OK"
	statusNotFound = "HTTP/1.1 404 Not Found"
)

type multistatus struct {
	XMLName   xml.Name   `xml:"D:multistatus"`
	XmlnsD    string     `xml:"xmlns:D,attr"`
	XmlnsC    string     `xml:"xmlns:C,attr"`
	XmlnsCS   string     `xml:"xmlns:CS,attr"`
	Responses []response `xml:"D:response"`
}

type response struct {
	Href      string     `xml:"D:href"`
	Propstats []propstat `xml:"D:propstat,omitempty"`
	Status    string     `xml:"D:status,omitempty"`
}

type propstat struct {
	Prop   rawProp `xml:"D:prop"`
	Status string  `xml:"D:status"`
}

type rawProp struct {
	Inner string `xml:",innerxml"`
}

// WriteMultistatus renders the 207 body. All responses are built before the
// first byte goes out so an error never leaves a truncated document behind.
// Synthetic 404 responses for badHrefs follow the resolved results.
func WriteMultistatus(w http.ResponseWriter, ctx context.Context, items []Item, badHrefs []string, props PropRequest) error {
	ms := multistatus{
		XmlnsD:  nsDAV,
		XmlnsC:  nsCalDAV,
		XmlnsCS: node.NSCalSrv,
	}

	for _, item := range items {
		resp, err := buildResponse(ctx, item, props)
		if err != nil {
			return err
		}
		ms.Responses = append(ms.Responses, resp)
	}
	for _, href := range badHrefs {
		ms.Responses = append(ms.Responses, response{Href: href, Status: statusNotFound})
	}

	out, err := xml.MarshalIndent(ms, "", "  ")
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = w.Write([]byte(xml.Header))
	_, _ = w.Write(out)
	_, _ = w.Write([]byte("\n"))
	return nil
}

func buildResponse(ctx context.Context, item Item, props PropRequest) (response, error) {
	names := props.Names
	if props.AllProp {
		names = item.Node.PropertyNames()
	}

	var found, missing strings.Builder
	for _, tag := range names {
		v, err := item.Node.GeneratePropertyValue(ctx, tag, props.AllProp)
		if err != nil {
			return response{}, err
		}
		if val, ok := v.Get(); ok {
			found.WriteString(propElem(tag, val))
		} else if !props.AllProp {
			missing.WriteString(propElem(tag, ""))
		}
	}

	resp := response{Href: item.Href}
	if found.Len() > 0 || missing.Len() == 0 {
		resp.Propstats = append(resp.Propstats, propstat{Prop: rawProp{Inner: found.String()}, Status: statusOK})
	}
	if missing.Len() > 0 {
		resp.Propstats = append(resp.Propstats, propstat{Prop: rawProp{Inner: missing.String()}, Status: statusNotFound})
	}
	return resp, nil
}

// propElem wraps a raw property value. Values arrive pre-escaped from the
// node layer with D:/C:/CS: prefixes matching the root declarations.
func propElem(tag xml.Name, value string) string {
	name, ok := prefixed(tag)
	if !ok {
		if value == "" {
			return `<` + tag.Local + ` xmlns="` + tag.Space + `"/>`
		}
		return `<` + tag.Local + ` xmlns="` + tag.Space + `">` + value + `</` + tag.Local + `>`
	}
	if value == "" {
		return "<" + name + "/>"
	}
	return "<" + name + ">" + value + "</" + name + ">"
}

func prefixed(tag xml.Name) (string, bool) {
	switch tag.Space {
	case nsDAV:
		return "D:" + tag.Local, true
	case nsCalDAV:
		return "C:" + tag.Local, true
	case node.NSCalSrv:
		return "CS:" + tag.Local, true
	default:
		return "", false
	}
}
