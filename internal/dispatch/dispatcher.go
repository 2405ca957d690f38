package dispatch

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"line_otp_bot/internal/access"
	"line_otp_bot/internal/cooldown"
	"line_otp_bot/internal/domain"
	"line_otp_bot/internal/logging"
)

// ProfileFetcher looks up a platform user profile. A lookup error (including
// timeout) means the target id could not be verified.
type ProfileFetcher interface {
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// Dispatcher is the decision core. State lives in the access store and the
// cooldown limiter; Dispatch applies any mutations as part of reaching its
// decision, not after.
//
// Owner commands and self-service requests perform a profile lookup before
// touching the store, so two events whose lookups resolve out of arrival
// order can interleave their mutations. Each individual mutation persists
// atomically under the store mutex, but the read-modify-write across the
// lookup is deliberately not serialized.
type Dispatcher struct {
	store    *access.Store
	limiter  *cooldown.Limiter
	profiles ProfileFetcher
	logger   *logrus.Entry
}

// New constructs a Dispatcher.
func New(store *access.Store, limiter *cooldown.Limiter, profiles ProfileFetcher, logger *logrus.Entry) *Dispatcher {
	if logger == nil {
		logger = logging.Logger()
	}

	return &Dispatcher{
		store:    store,
		limiter:  limiter,
		profiles: profiles,
		logger:   logger,
	}
}

// Dispatch classifies one inbound event and returns the decision. Non-message
// events and events with an unrecognized source are ignored. Errors never
// escape: a persistence failure aborts the mutation (already rolled back by
// the store) and degrades to Noop.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.Event, now time.Time) Decision {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.Kind != domain.EventMessage {
		return Decision{Kind: Noop}
	}

	src := event.Source
	if !src.IsUser() && !src.IsGroup() {
		return Decision{Kind: Noop}
	}

	cmd := domain.ParseCommand(event.Text)

	if src.IsUser() && src.UserID == d.store.OwnerID() {
		if decision, handled := d.ownerCommand(ctx, event, cmd); handled {
			return decision
		}
	}

	if d.store.IsUserAllowed(src.UserID) {
		if src.IsUser() {
			return Decision{Kind: IssueOTP, ReplyToken: event.ReplyToken}
		}

		if decision, handled := d.groupCommand(ctx, event, cmd); handled {
			return decision
		}
	} else if src.IsUser() {
		return d.selfRequest(event, cmd, now)
	}

	if src.IsGroup() && cmd.Kind == domain.CommandGroupOTP {
		if d.store.IsGroupAllowed(src.GroupID) {
			return Decision{Kind: IssueOTP, ReplyToken: event.ReplyToken}
		}
		return Decision{Kind: GroupUnauthorized, ReplyToken: event.ReplyToken}
	}

	return Decision{Kind: Noop}
}

// ownerCommand handles the owner's allow/disallow user commands in a direct
// conversation. The second return value reports whether the event was
// consumed by this path.
func (d *Dispatcher) ownerCommand(ctx context.Context, event domain.Event, cmd domain.Command) (Decision, bool) {
	switch cmd.Kind {
	case domain.CommandAllowUser:
		if _, err := d.profiles.GetProfile(ctx, cmd.TargetUserID); err != nil {
			d.logger.WithFields(logging.Fields{
				"event":          "owner_allow_invalid_target",
				"target_user_id": cmd.TargetUserID,
			}).WithError(err).Warn("profile lookup for allow target failed")

			return Decision{Kind: OwnerInvalidUser, ReplyToken: event.ReplyToken, TargetUserID: cmd.TargetUserID}, true
		}

		result, err := d.store.AllowUser(ctx, cmd.TargetUserID)
		if err != nil {
			return d.persistFailure(event, err), true
		}
		if result == access.AlreadyPresent {
			return Decision{Kind: OwnerUserAlreadyAllowed, ReplyToken: event.ReplyToken, TargetUserID: cmd.TargetUserID}, true
		}
		return Decision{Kind: OwnerUserAllowed, ReplyToken: event.ReplyToken, TargetUserID: cmd.TargetUserID}, true

	case domain.CommandDisallowUser:
		result, err := d.store.DisallowUser(ctx, cmd.TargetUserID)
		if err != nil {
			return d.persistFailure(event, err), true
		}
		if result == access.Removed {
			return Decision{Kind: OwnerUserDisallowed, ReplyToken: event.ReplyToken, TargetUserID: cmd.TargetUserID}, true
		}
		return Decision{Kind: OwnerUserNotAllowed, ReplyToken: event.ReplyToken, TargetUserID: cmd.TargetUserID}, true
	}

	return Decision{}, false
}

// groupCommand handles the allow/disallow group commands from an authorized
// sender inside a group chat.
func (d *Dispatcher) groupCommand(ctx context.Context, event domain.Event, cmd domain.Command) (Decision, bool) {
	switch cmd.Kind {
	case domain.CommandAllowGroup:
		result, err := d.store.AllowGroup(ctx, event.Source.GroupID)
		if err != nil {
			return d.persistFailure(event, err), true
		}
		if result == access.AlreadyPresent {
			return Decision{Kind: GroupAlreadyAllowed, ReplyToken: event.ReplyToken}, true
		}
		return Decision{Kind: GroupAllowed, ReplyToken: event.ReplyToken}, true

	case domain.CommandDisallowGroup:
		result, err := d.store.DisallowGroup(ctx, event.Source.GroupID)
		if err != nil {
			return d.persistFailure(event, err), true
		}
		if result == access.Removed {
			return Decision{Kind: GroupDisallowed, ReplyToken: event.ReplyToken}, true
		}
		return Decision{Kind: GroupNotAllowed, ReplyToken: event.ReplyToken}, true
	}

	return Decision{}, false
}

// selfRequest handles direct messages from unverified users.
func (d *Dispatcher) selfRequest(event domain.Event, cmd domain.Command, now time.Time) Decision {
	if cmd.Kind != domain.CommandAllowMe {
		return Decision{Kind: SelfRequestDenied, ReplyToken: event.ReplyToken}
	}

	allowed, remaining := d.limiter.CheckAndConsume(event.Source.UserID, now)
	if !allowed {
		return Decision{
			Kind:             SelfRequestCoolingDown,
			ReplyToken:       event.ReplyToken,
			RemainingMinutes: ceilMinutes(remaining),
		}
	}

	d.logger.WithFields(logging.Fields{
		"event":   "self_request_accepted",
		"user_id": event.Source.UserID,
	}).Info("verification request accepted, owner will be notified")

	return Decision{
		Kind:        SelfRequestAccepted,
		ReplyToken:  event.ReplyToken,
		RequesterID: event.Source.UserID,
	}
}

func (d *Dispatcher) persistFailure(event domain.Event, err error) Decision {
	d.logger.WithFields(logging.Fields{
		"event": "dispatch_persist_failure",
	}).WithError(err).Error("mutation aborted, durable store unavailable")

	return Decision{Kind: Noop, ReplyToken: event.ReplyToken}
}

func ceilMinutes(d time.Duration) int {
	minutes := int(d / time.Minute)
	if d%time.Minute != 0 {
		minutes++
	}
	return minutes
}
