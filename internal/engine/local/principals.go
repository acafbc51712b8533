package local

import (
	"context"
	"errors"
	"strings"

	"github.com/calagora/caldav/internal/directory"
	"github.com/calagora/caldav/internal/engine"
	"github.com/calagora/caldav/internal/storage"
)

const (
	userSegment  = "users"
	groupSegment = "groups"
	homePrefix   = "/user"

	inboxName         = "Inbox"
	outboxName        = "Outbox"
	notificationsName = "Notifications"
	defaultCalendar   = "calendar"
)

func (e *Engine) userPrincipalPath(account string) string {
	return e.cfg.PrincipalPrefix + "/" + userSegment + "/" + account
}

func (e *Engine) groupPrincipalPath(name string) string {
	return e.cfg.PrincipalPrefix + "/" + groupSegment + "/" + name
}

func homePath(account string) string { return homePrefix + "/" + account }

func inboxPath(account string) string { return homePath(account) + "/" + inboxName }

func outboxPath(account string) string { return homePath(account) + "/" + outboxName }

func notificationsPath(account string) string { return homePath(account) + "/" + notificationsName }

func (e *Engine) principalFromUser(u *directory.User) *engine.Principal {
	addr := ""
	if u.Mail != "" {
		addr = "mailto:" + u.Mail
	}
	return &engine.Principal{
		Account:           u.UID,
		Path:              e.userPrincipalPath(u.UID),
		Kind:              engine.KindUser,
		DisplayName:       u.DisplayName,
		CalendarAddress:   addr,
		HomePath:          homePath(u.UID),
		InboxPath:         inboxPath(u.UID),
		OutboxPath:        outboxPath(u.UID),
		NotificationsPath: notificationsPath(u.UID),
	}
}

func (e *Engine) PrincipalByPath(ctx context.Context, href string) (*engine.Principal, error) {
	p := strings.TrimSuffix(href, "/")
	rest, ok := strings.CutPrefix(p, e.cfg.PrincipalPrefix+"/")
	if !ok {
		return nil, engine.ErrNotFound
	}
	kind, account, ok := strings.Cut(rest, "/")
	if !ok || account == "" || strings.Contains(account, "/") {
		return nil, engine.ErrNotFound
	}
	switch kind {
	case userSegment:
		u, err := e.dir.LookupUserByAttr(ctx, e.cfg.LDAP.TokenUserAttr, account)
		if err != nil {
			return nil, engine.ErrNotFound
		}
		return e.principalFromUser(u), nil
	case groupSegment:
		g, err := e.dir.LookupGroup(ctx, account)
		if err != nil {
			return nil, engine.ErrNotFound
		}
		return &engine.Principal{
			Account:     g.CN,
			Path:        e.groupPrincipalPath(g.CN),
			Kind:        engine.KindGroup,
			DisplayName: g.DisplayName,
		}, nil
	default:
		return nil, engine.ErrNotFound
	}
}

func (e *Engine) PrincipalByAddress(ctx context.Context, caladdr string) (*engine.Principal, error) {
	addr := strings.TrimSpace(caladdr)
	addr = strings.TrimPrefix(addr, "mailto:")
	if addr == "" {
		return nil, engine.ErrNotFound
	}
	u, err := e.dir.LookupUserByEmail(ctx, addr)
	if err != nil {
		return nil, engine.ErrNotFound
	}
	return e.principalFromUser(u), nil
}

func (e *Engine) AddressForPrincipal(ctx context.Context, p *engine.Principal) (string, error) {
	if p.CalendarAddress != "" {
		return p.CalendarAddress, nil
	}
	u, err := e.dir.LookupUserByAttr(ctx, e.cfg.LDAP.TokenUserAttr, p.Account)
	if err != nil || u.Mail == "" {
		return "", engine.ErrNotFound
	}
	return "mailto:" + u.Mail, nil
}

// EnsureHome provisions the principal's home tree on first contact: the home
// folder, a default calendar, scheduling inbox/outbox and the notifications
// collection.
func (e *Engine) EnsureHome(ctx context.Context, p *engine.Principal) error {
	if p.Kind != engine.KindUser {
		return nil
	}
	if _, err := e.store.GetCollection(ctx, p.HomePath); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	home := p.HomePath
	cols := []*engine.Collection{
		{Path: home, ParentPath: homePrefix, Name: p.Account, DisplayName: p.DisplayName, Type: engine.ColFolder, Owner: p.Account},
		{Path: home + "/" + defaultCalendar, ParentPath: home, Name: defaultCalendar, DisplayName: "Calendar",
			Type: engine.ColCalendar, Owner: p.Account, AffectsFreeBusy: true,
			SupportedComponents: []string{"VEVENT", "VTODO", "VJOURNAL"}},
		{Path: p.InboxPath, ParentPath: home, Name: inboxName, Type: engine.ColInbox, Owner: p.Account,
			SupportedComponents: []string{"VEVENT", "VTODO", "VFREEBUSY"}},
		{Path: p.OutboxPath, ParentPath: home, Name: outboxName, Type: engine.ColOutbox, Owner: p.Account,
			SupportedComponents: []string{"VEVENT", "VTODO", "VFREEBUSY"}},
		{Path: p.NotificationsPath, ParentPath: home, Name: notificationsName, Type: engine.ColNotifications, Owner: p.Account},
	}
	for _, c := range cols {
		if err := e.store.CreateCollection(ctx, c); err != nil {
			return err
		}
	}
	e.logger.Info().Str("account", p.Account).Msg("provisioned principal home")
	return nil
}
