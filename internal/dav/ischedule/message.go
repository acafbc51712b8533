// Package ischedule parses inbound server-to-server scheduling requests:
// the header message, the DKIM signature record and the capabilities
// document.
package ischedule

import (
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/calagora/caldav/internal/dav/derr"
)

// Recognized header names, compared case-insensitively.
const (
	HdrOriginator = "Originator"
	HdrRecipient  = "Recipient"
	HdrVersion    = "Ischedule-Version"
	HdrMessageID  = "Ischedule-Message-Id"
	HdrSignature  = "Dkim-Signature"
)

// Message is one parsed inbound scheduling request.
type Message struct {
	Originator string
	Recipients []string
	Version    string
	MessageID  string

	// Signature is nil when the request carries no DKIM-Signature header.
	Signature *Signature

	// Headers retains every non-recognized header verbatim, values
	// comma-joined per name. DKIM canonicalization needs the original
	// header multiset.
	Headers map[string]string
}

// Signature is the parsed DKIM-Signature record (RFC 6376 tag=value list).
type Signature struct {
	Raw        string
	Version    string            // v=
	Algorithm  string            // a=
	Domain     string            // d=
	Selector   string            // s=
	BodyHash   string            // bh=
	SignedData string            // b=
	HeaderList []string          // h=, colon-split
	Tags       map[string]string // every tag, including the above
}

// Parse reads the iSchedule headers into a Message. principalHosts lists
// the absolute URL prefixes of this server; recipient principal URLs under
// one of them are rewritten to relative form.
func Parse(h http.Header, principalHosts []string) (*Message, error) {
	msg := &Message{Headers: map[string]string{}}

	for name, values := range h {
		switch textproto.CanonicalMIMEHeaderKey(name) {
		case HdrOriginator:
			if len(values) > 1 || msg.Originator != "" {
				return nil, derr.BadRequest("duplicate Originator header")
			}
			msg.Originator = strings.TrimSpace(values[0])
		case HdrRecipient:
			for _, v := range values {
				for _, r := range strings.Split(v, ",") {
					r = strings.TrimSpace(r)
					if r == "" {
						continue
					}
					msg.Recipients = append(msg.Recipients, unprefix(r, principalHosts))
				}
			}
		case HdrVersion:
			if len(values) > 1 {
				return nil, derr.BadRequest("duplicate iSchedule-Version header")
			}
			msg.Version = strings.TrimSpace(values[0])
		case HdrMessageID:
			if len(values) > 1 {
				return nil, derr.BadRequest("duplicate iSchedule-Message-Id header")
			}
			msg.MessageID = strings.TrimSpace(values[0])
		case HdrSignature:
			if len(values) > 1 {
				return nil, derr.BadRequest("duplicate DKIM-Signature header")
			}
			sig, err := parseSignature(values[0])
			if err != nil {
				return nil, err
			}
			msg.Signature = sig
		default:
			msg.Headers[name] = strings.Join(values, ",")
		}
	}

	return msg, nil
}

// unprefix rewrites an absolute principal URL on this server to its
// relative path; foreign or non-URL addresses pass through unchanged.
func unprefix(addr string, principalHosts []string) string {
	if !strings.Contains(addr, "://") {
		return addr
	}
	for _, host := range principalHosts {
		if strings.HasPrefix(addr, host) {
			u, err := url.Parse(addr)
			if err != nil {
				return addr
			}
			return u.Path
		}
	}
	return addr
}

func parseSignature(raw string) (*Signature, error) {
	sig := &Signature{Raw: raw, Tags: map[string]string{}}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return nil, derr.BadRequest("malformed DKIM-Signature tag " + part)
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		sig.Tags[k] = v
		switch k {
		case "v":
			sig.Version = v
		case "a":
			sig.Algorithm = v
		case "d":
			sig.Domain = v
		case "s":
			sig.Selector = v
		case "bh":
			sig.BodyHash = v
		case "b":
			sig.SignedData = v
		case "h":
			for _, hn := range strings.Split(v, ":") {
				sig.HeaderList = append(sig.HeaderList, strings.TrimSpace(hn))
			}
		}
	}
	if sig.Version == "" && sig.Domain == "" {
		return nil, derr.BadRequest("DKIM-Signature carries no v= or d= tag")
	}
	return sig, nil
}
