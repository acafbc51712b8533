package local

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/google/uuid"

	"github.com/calagora/caldav/internal/dav/notify"
	"github.com/calagora/caldav/internal/engine"
)

func xmlName(space, local string) xml.Name { return xml.Name{Space: space, Local: local} }

// SendNotification stores the rendered notification in the principal's
// notifications collection, provisioning the home tree when needed.
func (e *Engine) SendNotification(ctx context.Context, principalHref string, n engine.Notification) error {
	p, err := e.PrincipalByPath(ctx, principalHref)
	if err != nil {
		return err
	}
	if err := e.EnsureHome(ctx, p); err != nil {
		return err
	}

	content, name, err := notify.Render(n)
	if err != nil {
		return err
	}
	res := &engine.Resource{
		Name:           n.NotificationKind() + "-" + uuid.New().String() + ".xml",
		CollectionPath: p.NotificationsPath,
		ContentType:    "application/xml",
		Owner:          p.Account,
		Content:        content,
		Notification:   &engine.NotificationType{Name: name},
		New:            true,
	}
	return mapStoreErr(e.store.PutResource(ctx, res))
}

// SubscribeNotification records an email subscription change for the
// principal. Unknown actions are rejected so the caller can answer 417.
func (e *Engine) SubscribeNotification(ctx context.Context, principalHref, action string, emails []string) error {
	action = strings.ToLower(strings.TrimSpace(action))
	if action != "subscribe" && action != "unsubscribe" {
		return fmt.Errorf("unknown subscription action %q", action)
	}
	if len(emails) == 0 {
		return fmt.Errorf("subscription without addresses")
	}
	p, err := e.PrincipalByPath(ctx, principalHref)
	if err != nil {
		return err
	}
	if err := e.EnsureHome(ctx, p); err != nil {
		return err
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("notify-subscribe")
	root.CreateAttr("xmlns", notify.NS)
	root.CreateElement("principal-href").SetText(p.Path)
	root.CreateElement("action").SetText(action)
	for _, email := range emails {
		root.CreateElement("email").SetText(email)
	}
	doc.Indent(2)
	content, err := doc.WriteToBytes()
	if err != nil {
		return err
	}

	res := &engine.Resource{
		Name:           "subscription.xml",
		CollectionPath: p.NotificationsPath,
		ContentType:    "application/xml",
		Owner:          p.Account,
		Content:        content,
		Notification: &engine.NotificationType{
			Name:  xmlName(notify.NS, "notify-subscribe"),
			Attrs: map[string]string{"action": action},
		},
		New: true,
	}
	return mapStoreErr(e.store.PutResource(ctx, res))
}
