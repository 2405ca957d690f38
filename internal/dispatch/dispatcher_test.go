package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"line_otp_bot/internal/access"
	"line_otp_bot/internal/cooldown"
	"line_otp_bot/internal/domain"
)

const (
	ownerID   = "Uowner"
	ownerName = "Nadeko"
)

type memPersister struct {
	err error
}

func (m *memPersister) Persist(context.Context, access.State) error {
	return m.err
}

type fakeProfiles struct {
	err     error
	lookups []string
}

func (f *fakeProfiles) GetProfile(_ context.Context, userID string) (domain.Profile, error) {
	f.lookups = append(f.lookups, userID)
	if f.err != nil {
		return domain.Profile{}, f.err
	}
	return domain.Profile{DisplayName: "Display " + userID}, nil
}

type fixture struct {
	dispatcher *Dispatcher
	store      *access.Store
	limiter    *cooldown.Limiter
	profiles   *fakeProfiles
	persister  *memPersister
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	logger, _ := logtest.NewNullLogger()
	entry := logrus.NewEntry(logger)

	persister := &memPersister{}
	store := access.NewStore(
		access.NewState(ownerID, ownerName, []string{"Uallowed"}, []string{"Gallowed"}),
		persister,
		entry,
	)
	limiter := cooldown.NewLimiter(time.Hour, entry)
	profiles := &fakeProfiles{}

	return &fixture{
		dispatcher: New(store, limiter, profiles, entry),
		store:      store,
		limiter:    limiter,
		profiles:   profiles,
		persister:  persister,
	}
}

func userMessage(userID, text string) domain.Event {
	return domain.Event{
		Kind:       domain.EventMessage,
		Source:     domain.Source{Type: domain.SourceUser, UserID: userID},
		Text:       text,
		ReplyToken: "reply-token",
	}
}

func groupMessage(groupID, userID, text string) domain.Event {
	return domain.Event{
		Kind:       domain.EventMessage,
		Source:     domain.Source{Type: domain.SourceGroup, UserID: userID, GroupID: groupID},
		Text:       text,
		ReplyToken: "reply-token",
	}
}

func dispatchAt(t *testing.T, f *fixture, event domain.Event) Decision {
	t.Helper()
	return f.dispatcher.Dispatch(context.Background(), event, time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
}

func TestNonMessageEventsAreIgnored(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, domain.Event{Kind: "follow", Source: domain.Source{Type: domain.SourceUser, UserID: "U1"}})
	if decision.Kind != Noop {
		t.Fatalf("expected Noop for non-message event, got %s", decision.Kind)
	}
}

func TestUnrecognizedSourceIsIgnored(t *testing.T) {
	f := newFixture(t)

	event := domain.Event{Kind: domain.EventMessage, Source: domain.Source{Type: "room", UserID: "U1"}, Text: "allow me"}
	if decision := dispatchAt(t, f, event); decision.Kind != Noop {
		t.Fatalf("expected Noop for unrecognized source, got %s", decision.Kind)
	}
}

func TestOwnerAllowUserVerifiesAndAdds(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, userMessage(ownerID, "allow user U123"))
	if decision.Kind != OwnerUserAllowed {
		t.Fatalf("expected OwnerUserAllowed, got %s", decision.Kind)
	}
	if decision.TargetUserID != "U123" {
		t.Fatalf("expected target U123, got %q", decision.TargetUserID)
	}
	if !f.store.IsUserAllowed("U123") {
		t.Fatalf("expected U123 to be added to the allow-list")
	}
	if len(f.profiles.lookups) != 1 || f.profiles.lookups[0] != "U123" {
		t.Fatalf("expected one profile lookup for U123, got %v", f.profiles.lookups)
	}
}

func TestOwnerAllowUserAlreadyListed(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, userMessage(ownerID, "allow user Uallowed"))
	if decision.Kind != OwnerUserAlreadyAllowed {
		t.Fatalf("expected OwnerUserAlreadyAllowed, got %s", decision.Kind)
	}
}

func TestOwnerAllowUserInvalidTarget(t *testing.T) {
	f := newFixture(t)
	f.profiles.err = errors.New("profile not found")

	decision := dispatchAt(t, f, userMessage(ownerID, "allow user Ughost"))
	if decision.Kind != OwnerInvalidUser {
		t.Fatalf("expected OwnerInvalidUser, got %s", decision.Kind)
	}
	if f.store.IsUserAllowed("Ughost") {
		t.Fatalf("expected no mutation after failed lookup")
	}
}

func TestOwnerDisallowUser(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, userMessage(ownerID, "disallow user Uallowed"))
	if decision.Kind != OwnerUserDisallowed {
		t.Fatalf("expected OwnerUserDisallowed, got %s", decision.Kind)
	}
	if f.store.IsUserAllowed("Uallowed") {
		t.Fatalf("expected Uallowed to be removed")
	}

	decision = dispatchAt(t, f, userMessage(ownerID, "disallow user Uallowed"))
	if decision.Kind != OwnerUserNotAllowed {
		t.Fatalf("expected OwnerUserNotAllowed for absent target, got %s", decision.Kind)
	}

	// No profile lookup on the disallow path.
	if len(f.profiles.lookups) != 0 {
		t.Fatalf("expected no profile lookups, got %v", f.profiles.lookups)
	}
}

func TestOwnerCommandInGroupIsNotOwnerPath(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, groupMessage("G1", ownerID, "allow user U123"))
	if decision.Kind == OwnerUserAllowed || decision.Kind == OwnerInvalidUser {
		t.Fatalf("owner commands must only work in a direct conversation, got %s", decision.Kind)
	}
	if f.store.IsUserAllowed("U123") {
		t.Fatalf("expected no mutation from a group-sourced owner command")
	}
}

func TestNonOwnerAllowUserNeverMutates(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, userMessage("Umallory", "allow user Umallory"))
	if decision.Kind != SelfRequestDenied {
		t.Fatalf("expected unverified sender to get the instructional reply, got %s", decision.Kind)
	}
	if f.store.IsUserAllowed("Umallory") {
		t.Fatalf("expected no mutation from a non-owner allow command")
	}
	if len(f.profiles.lookups) != 0 {
		t.Fatalf("expected no profile lookup for non-owner command")
	}
}

func TestAuthorizedDirectMessageIssuesOTP(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, userMessage("Uallowed", "anything at all"))
	if decision.Kind != IssueOTP {
		t.Fatalf("expected IssueOTP, got %s", decision.Kind)
	}
	if decision.ReplyToken != "reply-token" {
		t.Fatalf("expected reply token to be carried, got %q", decision.ReplyToken)
	}
}

func TestAuthorizedSenderAllowsGroup(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, groupMessage("G1", "Uallowed", "lambda allow group"))
	if decision.Kind != GroupAllowed {
		t.Fatalf("expected GroupAllowed, got %s", decision.Kind)
	}
	if !f.store.IsGroupAllowed("G1") {
		t.Fatalf("expected G1 to be added")
	}

	decision = dispatchAt(t, f, groupMessage("G1", "Uallowed", "lambda allow group"))
	if decision.Kind != GroupAlreadyAllowed {
		t.Fatalf("expected GroupAlreadyAllowed, got %s", decision.Kind)
	}
}

func TestAuthorizedSenderDisallowsGroup(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, groupMessage("Gallowed", "Uallowed", "lambda disallow group"))
	if decision.Kind != GroupDisallowed {
		t.Fatalf("expected GroupDisallowed, got %s", decision.Kind)
	}
	if f.store.IsGroupAllowed("Gallowed") {
		t.Fatalf("expected Gallowed to be removed")
	}

	decision = dispatchAt(t, f, groupMessage("Gallowed", "Uallowed", "lambda disallow group"))
	if decision.Kind != GroupNotAllowed {
		t.Fatalf("expected GroupNotAllowed, got %s", decision.Kind)
	}
}

func TestUnauthorizedGroupCommandsDoNotMutate(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, groupMessage("G9", "Ustranger", "lambda allow group"))
	if decision.Kind != Noop {
		t.Fatalf("expected Noop for unauthorized group command, got %s", decision.Kind)
	}
	if f.store.IsGroupAllowed("G9") {
		t.Fatalf("expected no mutation from unauthorized sender")
	}
}

func TestGroupOTPInAllowedGroup(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, groupMessage("Gallowed", "Uanyone", "lambda otp"))
	if decision.Kind != IssueOTP {
		t.Fatalf("expected IssueOTP for allowed group, got %s", decision.Kind)
	}
}

func TestGroupOTPInUnlistedGroup(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, groupMessage("Gunlisted", "Uanyone", "lambda otp"))
	if decision.Kind != GroupUnauthorized {
		t.Fatalf("expected GroupUnauthorized, got %s", decision.Kind)
	}
}

func TestAuthorizedSenderGroupOTPStillChecksGroup(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, groupMessage("Gunlisted", "Uallowed", "lambda otp"))
	if decision.Kind != GroupUnauthorized {
		t.Fatalf("expected the group allow-list to gate group passcodes, got %s", decision.Kind)
	}
}

func TestSelfRequestAcceptedThenCoolingDown(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	decision := f.dispatcher.Dispatch(context.Background(), userMessage("Unew", "allow me"), start)
	if decision.Kind != SelfRequestAccepted {
		t.Fatalf("expected SelfRequestAccepted, got %s", decision.Kind)
	}
	if decision.RequesterID != "Unew" {
		t.Fatalf("expected requester id to be carried, got %q", decision.RequesterID)
	}

	decision = f.dispatcher.Dispatch(context.Background(), userMessage("Unew", "allow me"), start.Add(30*time.Minute))
	if decision.Kind != SelfRequestCoolingDown {
		t.Fatalf("expected SelfRequestCoolingDown, got %s", decision.Kind)
	}
	if decision.RemainingMinutes != 30 {
		t.Fatalf("expected 30 remaining minutes, got %d", decision.RemainingMinutes)
	}

	decision = f.dispatcher.Dispatch(context.Background(), userMessage("Unew", "allow me"), start.Add(61*time.Minute))
	if decision.Kind != SelfRequestAccepted {
		t.Fatalf("expected SelfRequestAccepted after the window, got %s", decision.Kind)
	}
}

func TestSelfRequestRemainingMinutesRoundUp(t *testing.T) {
	f := newFixture(t)
	start := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)

	f.dispatcher.Dispatch(context.Background(), userMessage("Unew", "allow me"), start)

	decision := f.dispatcher.Dispatch(context.Background(), userMessage("Unew", "allow me"), start.Add(30*time.Minute+30*time.Second))
	if decision.Kind != SelfRequestCoolingDown {
		t.Fatalf("expected SelfRequestCoolingDown, got %s", decision.Kind)
	}
	if decision.RemainingMinutes != 30 {
		t.Fatalf("expected partial minutes to round up to 30, got %d", decision.RemainingMinutes)
	}
}

func TestUnverifiedPlainTextGetsInstructions(t *testing.T) {
	f := newFixture(t)

	decision := dispatchAt(t, f, userMessage("Unew", "hello?"))
	if decision.Kind != SelfRequestDenied {
		t.Fatalf("expected SelfRequestDenied, got %s", decision.Kind)
	}
}

func TestPersistFailureAbortsAndStaysSilent(t *testing.T) {
	f := newFixture(t)
	f.persister.err = errors.New("disk full")

	decision := dispatchAt(t, f, userMessage(ownerID, "allow user U123"))
	if decision.Kind != Noop {
		t.Fatalf("expected Noop after persistence failure, got %s", decision.Kind)
	}
	if f.store.IsUserAllowed("U123") {
		t.Fatalf("expected mutation to be rolled back")
	}
}

func TestGroupPlainTextIsNoop(t *testing.T) {
	f := newFixture(t)

	if decision := dispatchAt(t, f, groupMessage("Gallowed", "Uallowed", "what's up")); decision.Kind != Noop {
		t.Fatalf("expected Noop for plain group chatter, got %s", decision.Kind)
	}
}
