// Package notify decodes the fixed notification vocabulary POSTed by the
// event-registration front end and forwards typed events to the engine.
package notify

import (
	"context"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/calagora/caldav/internal/dav/derr"
	"github.com/calagora/caldav/internal/engine"
)

// NS is the namespace of all notification elements.
const NS = "http://calagora.org/ns/notifications"

const (
	elemEventregCancelled  = "eventreg-cancelled"
	elemEventregRegistered = "eventreg-registered"
	elemNotifySubscribe    = "notify-subscribe"

	elemHref                = "href"
	elemUID                 = "uid"
	elemNumTicketsRequested = "num-tickets-requested"
	elemNumTickets          = "num-tickets"
	elemPrincipalHref       = "principal-href"
	elemAction              = "action"
	elemEmail               = "email"
)

type Handler struct {
	eng    engine.Engine
	logger zerolog.Logger
}

func NewHandler(eng engine.Engine, logger zerolog.Logger) *Handler {
	return &Handler{eng: eng, logger: logger}
}

// Process parses one notification body and dispatches it. Malformed bodies
// are a protocol-adaptation failure, reported as 400, never a server error.
func (h *Handler) Process(ctx context.Context, body []byte) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return derr.BadRequest("unparsable notification body")
	}
	root := doc.Root()
	if root == nil {
		return derr.BadRequest("empty notification body")
	}

	switch root.Tag {
	case elemEventregCancelled:
		return h.eventregCancelled(ctx, root)
	case elemEventregRegistered:
		return h.eventregRegistered(ctx, root)
	case elemNotifySubscribe:
		return h.notifySubscribe(ctx, root)
	default:
		return derr.BadRequest("unknown notification " + root.Tag)
	}
}

// eventregCancelled expects (href, uid) then zero or more principal hrefs,
// one cancellation delivered per principal.
func (h *Handler) eventregCancelled(ctx context.Context, root *etree.Element) error {
	children := root.ChildElements()
	if len(children) < 2 {
		return derr.BadRequest("eventreg-cancelled requires href and uid")
	}
	href, err := childText(children[0], elemHref)
	if err != nil {
		return err
	}
	uid, err := childText(children[1], elemUID)
	if err != nil {
		return err
	}

	for _, ch := range children[2:] {
		principal, err := childText(ch, elemPrincipalHref)
		if err != nil {
			return err
		}
		n := engine.EventregCancelled{UID: uid, Href: href, PrincipalHref: principal}
		if err := h.eng.SendNotification(ctx, principal, n); err != nil {
			h.logger.Error().Err(err).Str("principal", principal).Msg("cancellation notification failed")
			return derr.Wrap(err)
		}
	}
	return nil
}

// eventregRegistered expects exactly five children in fixed order.
func (h *Handler) eventregRegistered(ctx context.Context, root *etree.Element) error {
	children := root.ChildElements()
	if len(children) != 5 {
		return derr.BadRequest("eventreg-registered requires exactly 5 elements")
	}
	href, err := childText(children[0], elemHref)
	if err != nil {
		return err
	}
	uid, err := childText(children[1], elemUID)
	if err != nil {
		return err
	}
	requested, err := childInt(children[2], elemNumTicketsRequested)
	if err != nil {
		return err
	}
	granted, err := childInt(children[3], elemNumTickets)
	if err != nil {
		return err
	}
	principal, err := childText(children[4], elemPrincipalHref)
	if err != nil {
		return err
	}

	n := engine.EventregRegistered{
		UID:                 uid,
		Href:                href,
		NumTicketsRequested: requested,
		NumTickets:          granted,
		PrincipalHref:       principal,
	}
	if err := h.eng.SendNotification(ctx, principal, n); err != nil {
		h.logger.Error().Err(err).Str("principal", principal).Msg("registration notification failed")
		return derr.Wrap(err)
	}
	return nil
}

// notifySubscribe expects (principal-href, action, email...). Engine refusal
// maps to 417 per the subscription contract.
func (h *Handler) notifySubscribe(ctx context.Context, root *etree.Element) error {
	children := root.ChildElements()
	if len(children) < 3 {
		return derr.BadRequest("notify-subscribe requires principal-href, action and at least one email")
	}
	principal, err := childText(children[0], elemPrincipalHref)
	if err != nil {
		return err
	}
	action, err := childText(children[1], elemAction)
	if err != nil {
		return err
	}
	var emails []string
	for _, ch := range children[2:] {
		email, err := childText(ch, elemEmail)
		if err != nil {
			return err
		}
		emails = append(emails, email)
	}

	if err := h.eng.SubscribeNotification(ctx, principal, action, emails); err != nil {
		h.logger.Debug().Err(err).Str("principal", principal).Str("action", action).Msg("subscription rejected")
		return derr.ExpectationFailed("subscription rejected")
	}
	return nil
}

func childText(el *etree.Element, want string) (string, error) {
	if el.Tag != want {
		return "", derr.BadRequest("expected " + want + ", got " + el.Tag)
	}
	return strings.TrimSpace(el.Text()), nil
}

func childInt(el *etree.Element, want string) (int, error) {
	s, err := childText(el, want)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, derr.BadRequest("bad integer in " + want)
	}
	return n, nil
}
