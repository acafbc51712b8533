package ical

// iTIP methods as defined in RFC 5546.
const (
	MethodPublish        = "PUBLISH"
	MethodRequest        = "REQUEST"
	MethodReply          = "REPLY"
	MethodAdd            = "ADD"
	MethodCancel         = "CANCEL"
	MethodRefresh        = "REFRESH"
	MethodCounter        = "COUNTER"
	MethodDeclineCounter = "DECLINECOUNTER"
)

// Participation status values.
const (
	PartStatNeedsAction = "NEEDS-ACTION"
	PartStatAccepted    = "ACCEPTED"
	PartStatDeclined    = "DECLINED"
	PartStatTentative   = "TENTATIVE"
	PartStatDelegated   = "DELEGATED"
)

var itipMethods = map[string]bool{
	MethodPublish:        true,
	MethodRequest:        true,
	MethodReply:          true,
	MethodAdd:            true,
	MethodCancel:         true,
	MethodRefresh:        true,
	MethodCounter:        true,
	MethodDeclineCounter: true,
}

// ValidITIPMethod reports whether m is a recognized iTIP method.
func ValidITIPMethod(m string) bool { return itipMethods[m] }

// RequestClass reports whether the method originates from the organizer side
// of a scheduling exchange (REQUEST, ADD, CANCEL, DECLINECOUNTER).
func RequestClass(m string) bool {
	switch m {
	case MethodRequest, MethodAdd, MethodCancel, MethodDeclineCounter:
		return true
	}
	return false
}
