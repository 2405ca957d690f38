// Package reply maps decisions to outbound message texts. Pure functions,
// no I/O.
package reply

import (
	"fmt"

	"line_otp_bot/internal/dispatch"
)

// Compose returns the reply text for a decision. ok is false when the
// decision produces no reply (Noop and persistence-aborted events).
// ownerName is the configured owner display name; otpCode is the passcode to
// send for IssueOTP decisions.
func Compose(d dispatch.Decision, ownerName, otpCode string) (string, bool) {
	switch d.Kind {
	case dispatch.IssueOTP:
		return otpCode, true
	case dispatch.OwnerUserAllowed:
		return "This user has been verified.", true
	case dispatch.OwnerUserAlreadyAllowed:
		return "This user is already allowed.", true
	case dispatch.OwnerUserDisallowed:
		return "This user has been disallowed.", true
	case dispatch.OwnerUserNotAllowed:
		return "This user isn't already allowed.", true
	case dispatch.OwnerInvalidUser:
		return "Invalid user ID", true
	case dispatch.GroupAllowed:
		return "This group has been allowed.", true
	case dispatch.GroupAlreadyAllowed:
		return "This group is already allowed.", true
	case dispatch.GroupDisallowed:
		return "This group has been disallowed.", true
	case dispatch.GroupNotAllowed:
		return "This group isn't already allowed.", true
	case dispatch.GroupUnauthorized:
		return "This group isn't allowed to use lambda otp.", true
	case dispatch.SelfRequestAccepted:
		return fmt.Sprintf("Requested for %s's verification", ownerName), true
	case dispatch.SelfRequestCoolingDown:
		return fmt.Sprintf("You must wait %d more minutes before requesting verification again.", d.RemainingMinutes), true
	case dispatch.SelfRequestDenied:
		return fmt.Sprintf("You have not been verified, type %q here and %s will be able to verify you", "allow me", ownerName), true
	default:
		return "", false
	}
}

// OwnerNotice builds the push text sent to the owner when an unverified user
// requests access.
func OwnerNotice(displayName, userID string) string {
	return fmt.Sprintf("Allow? Name: %s ID: %s", displayName, userID)
}
