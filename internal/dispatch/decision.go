// Package dispatch classifies inbound events and decides an outcome,
// consulting the access store and the cooldown limiter.
package dispatch

// DecisionKind enumerates every outcome an event can produce.
type DecisionKind int

const (
	// Noop produces no reply and no state change.
	Noop DecisionKind = iota
	// IssueOTP replies with a freshly generated passcode.
	IssueOTP
	// OwnerUserAllowed confirms the owner added a user to the allow-list.
	OwnerUserAllowed
	// OwnerUserDisallowed confirms the owner removed a user.
	OwnerUserDisallowed
	// OwnerUserAlreadyAllowed reports the target was already listed.
	OwnerUserAlreadyAllowed
	// OwnerUserNotAllowed reports the target was not listed.
	OwnerUserNotAllowed
	// OwnerInvalidUser reports the target id failed the profile lookup.
	OwnerInvalidUser
	// GroupAllowed confirms the current group was added.
	GroupAllowed
	// GroupDisallowed confirms the current group was removed.
	GroupDisallowed
	// GroupAlreadyAllowed reports the group was already listed.
	GroupAlreadyAllowed
	// GroupNotAllowed reports the group was not listed.
	GroupNotAllowed
	// GroupUnauthorized rejects a passcode request from an unlisted group.
	GroupUnauthorized
	// SelfRequestAccepted acknowledges a self-service verification request;
	// the owner is notified out of band.
	SelfRequestAccepted
	// SelfRequestCoolingDown rejects a self-service request still inside the
	// cooldown window.
	SelfRequestCoolingDown
	// SelfRequestDenied instructs an unverified sender how to request access.
	SelfRequestDenied
)

var decisionNames = map[DecisionKind]string{
	Noop:                    "noop",
	IssueOTP:                "issue_otp",
	OwnerUserAllowed:        "owner_user_allowed",
	OwnerUserDisallowed:     "owner_user_disallowed",
	OwnerUserAlreadyAllowed: "owner_user_already_allowed",
	OwnerUserNotAllowed:     "owner_user_not_allowed",
	OwnerInvalidUser:        "owner_invalid_user",
	GroupAllowed:            "group_allowed",
	GroupDisallowed:         "group_disallowed",
	GroupAlreadyAllowed:     "group_already_allowed",
	GroupNotAllowed:         "group_not_allowed",
	GroupUnauthorized:       "group_unauthorized",
	SelfRequestAccepted:     "self_request_accepted",
	SelfRequestCoolingDown:  "self_request_cooling_down",
	SelfRequestDenied:       "self_request_denied",
}

// String returns the snake_case name used in log fields.
func (k DecisionKind) String() string {
	if name, ok := decisionNames[k]; ok {
		return name
	}
	return "unknown"
}

// Decision is the dispatcher's outcome for one event, carrying exactly the
// data the reply composer and transport need.
type Decision struct {
	Kind             DecisionKind
	ReplyToken       string
	TargetUserID     string // owner user commands
	RequesterID      string // self-service request, for the owner notice
	RemainingMinutes int    // cooldown denials
}
