package engine

// Notification is a typed notification message handed to the engine for
// delivery to a principal.
type Notification interface {
	NotificationKind() string
}

// EventregCancelled tells a registered principal the event was cancelled.
type EventregCancelled struct {
	UID           string
	Href          string
	PrincipalHref string
}

func (EventregCancelled) NotificationKind() string { return "eventreg-cancelled" }

// EventregRegistered confirms an event registration with ticket counts.
type EventregRegistered struct {
	UID                 string
	Href                string
	NumTicketsRequested int
	NumTickets          int
	PrincipalHref       string
}

func (EventregRegistered) NotificationKind() string { return "eventreg-registered" }
