package engine

import (
	"encoding/xml"
	"strings"
	"time"
)

// ColType classifies a collection in the virtual hierarchy.
type ColType int

const (
	ColFolder ColType = iota
	ColCalendar
	ColInbox
	ColOutbox
	ColNotifications
)

func (t ColType) String() string {
	switch t {
	case ColCalendar:
		return "calendar"
	case ColInbox:
		return "inbox"
	case ColOutbox:
		return "outbox"
	case ColNotifications:
		return "notifications"
	default:
		return "folder"
	}
}

// Collection is the in-request representation of a calendar or folder
// collection. Storage of the underlying row belongs to the engine; handlers
// only mutate it and hand it back.
type Collection struct {
	Path        string
	ParentPath  string
	Name        string
	DisplayName string
	Description string
	Type        ColType
	Owner       string

	// AffectsFreeBusy marks the collection as contributing to free-busy
	// aggregation for its owner.
	AffectsFreeBusy bool

	TimeZoneID string
	Color      string

	// AliasTarget, when non-empty, is the path of the collection this one
	// forwards to.
	AliasTarget string

	// Remote subscription credentials for synched collections.
	RemoteID string
	RemotePW string

	SynchDeleteSuppressed bool

	SupportedComponents []string

	ETag         string
	LastModified time.Time
}

// EntitiesAllowed reports whether calendar-object resources may live directly
// in this collection.
func (c *Collection) EntitiesAllowed() bool {
	switch c.Type {
	case ColCalendar, ColInbox, ColOutbox:
		return true
	}
	return false
}

func (c *Collection) IsAlias() bool { return c.AliasTarget != "" }

func (c *Collection) IsCalendar() bool { return c.Type == ColCalendar }

// EntityType classifies a calendar-object resource.
type EntityType int

const (
	TypeEvent EntityType = iota
	TypeTask
	TypeJournal
	TypeFreeBusy
	TypeAvailability
)

func (t EntityType) Component() string {
	switch t {
	case TypeTask:
		return "VTODO"
	case TypeJournal:
		return "VJOURNAL"
	case TypeFreeBusy:
		return "VFREEBUSY"
	case TypeAvailability:
		return "VAVAILABILITY"
	default:
		return "VEVENT"
	}
}

// EntityTypeFor maps a primary component name onto its entity type; unknown
// names fall back to event.
func EntityTypeFor(component string) EntityType {
	switch component {
	case "VTODO":
		return TypeTask
	case "VJOURNAL":
		return TypeJournal
	case "VFREEBUSY":
		return TypeFreeBusy
	case "VAVAILABILITY":
		return TypeAvailability
	default:
		return TypeEvent
	}
}

// Organizer mirrors the iCalendar ORGANIZER property. Address is mutable: it
// gets rewritten when absolute principal URLs are stripped to relative form.
type Organizer struct {
	CN       string
	Dir      string
	Language string
	SentBy   string
	Address  string
}

// Entity is an event, task or journal (possibly with recurrence overrides)
// as seen by the protocol layer.
type Entity struct {
	UID     string
	Name    string
	Summary string

	CollectionPath string

	Organizer    *Organizer
	Recipients   []string
	AttendeeURIs []string

	// ScheduleMethod is the iTIP METHOD carried by the stored object, empty
	// for ordinary calendar data.
	ScheduleMethod string

	ScheduleTag     string
	PrevScheduleTag string
	ETag            string
	PrevETag        string

	Owner    string
	Created  time.Time
	Modified time.Time

	Start *time.Time
	End   *time.Time

	Deleted bool
	// New is true until the entity has been committed once.
	New bool

	Type EntityType

	// Data is the serialized iCalendar form as stored.
	Data string
}

// AddRecipient records a calendar-user address, ignoring duplicates.
func (e *Entity) AddRecipient(addr string) {
	for _, r := range e.Recipients {
		if strings.EqualFold(r, addr) {
			return
		}
	}
	e.Recipients = append(e.Recipients, addr)
}

// IsSchedulingObject reports whether the entity takes part in iTIP
// scheduling, i.e. carries an organizer and at least one attendee.
func (e *Entity) IsSchedulingObject() bool {
	return e.Organizer != nil && e.Organizer.Address != "" && len(e.AttendeeURIs) > 0
}

// NotificationType tags a binary resource that is itself a stored
// notification message.
type NotificationType struct {
	Name  xml.Name
	Attrs map[string]string
}

// Resource is a binary (non-calendar) resource stored in a folder
// collection.
type Resource struct {
	Name           string
	CollectionPath string
	ContentType    string
	Length         int64
	Owner          string
	ETag           string
	Created        time.Time
	Modified       time.Time
	Content        []byte

	Notification *NotificationType

	New bool
}

// PrincipalKind distinguishes user and group principals.
type PrincipalKind int

const (
	KindUser PrincipalKind = iota
	KindGroup
)

// Principal is an authenticated or addressed calendar user.
type Principal struct {
	Account     string
	Path        string
	Kind        PrincipalKind
	DisplayName string

	// CalendarAddress is the principal's canonical calendar-user address
	// (mailto form).
	CalendarAddress string

	HomePath          string
	InboxPath         string
	OutboxPath        string
	NotificationsPath string
}

// DeliveryStatus is the per-recipient outcome of a scheduling operation.
type DeliveryStatus int

const (
	DeliverOK DeliveryStatus = iota
	DeliverDeferred
	DeliverNoAccess
	DeliverInvalidUser
	DeliverError
)

// RecipientResult is one recipient's outcome from Schedule or
// RequestFreeBusy, in recipient order.
type RecipientResult struct {
	Recipient string
	Status    DeliveryStatus
	// FreeBusy carries the computed reply for free-busy requests; nil for
	// event scheduling.
	FreeBusy *Entity
}

// SysProperties are process-wide limits and service locations the protocol
// layer consults.
type SysProperties struct {
	MaxEntitySize        int64
	MaxAttendees         int
	DirectoryBrowsingOff bool
	DefaultContentType   string

	IScheduleURI string
	FreeBusyURI  string
	WebcalURI    string
}
