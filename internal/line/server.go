package line

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"line_otp_bot/internal/dispatch"
	"line_otp_bot/internal/domain"
	"line_otp_bot/internal/logging"
	"line_otp_bot/internal/reply"
)

const (
	readHeaderTimeout = 2 * time.Second
	maxWebhookBody    = 1 << 20
	notifyTimeout     = 10 * time.Second
)

// Dispatcher decides the outcome of one inbound event.
type Dispatcher interface {
	Dispatch(ctx context.Context, event domain.Event, now time.Time) dispatch.Decision
}

// Messenger is the outbound surface the server needs: replies, owner pushes,
// and the profile lookup for the owner notice.
type Messenger interface {
	ReplyMessage(ctx context.Context, replyToken, text string) error
	PushMessage(ctx context.Context, to, text string) error
	GetProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// CodeSource produces the passcode for IssueOTP decisions.
type CodeSource interface {
	GenerateChecked(at time.Time) (string, error)
}

// Server hosts the webhook endpoint, the root acknowledgement, and the health
// endpoint, and drives the dispatcher for every verified event.
type Server struct {
	server        *http.Server
	channelSecret string
	dispatcher    Dispatcher
	messenger     Messenger
	codes         CodeSource
	ownerID       string
	ownerName     string
	healthHandler http.Handler
	logger        *logrus.Entry

	// now is overridable for tests.
	now func() time.Time
}

// ServerOption customizes the Server.
type ServerOption func(*Server)

// WithDispatcher wires the decision core.
func WithDispatcher(d Dispatcher) ServerOption {
	return func(s *Server) { s.dispatcher = d }
}

// WithMessenger wires the outbound messaging client.
func WithMessenger(m Messenger) ServerOption {
	return func(s *Server) { s.messenger = m }
}

// WithCodeSource wires the passcode generator.
func WithCodeSource(c CodeSource) ServerOption {
	return func(s *Server) { s.codes = c }
}

// WithOwner sets the owner principal the server notifies and names in replies.
func WithOwner(id, name string) ServerOption {
	return func(s *Server) {
		s.ownerID = id
		s.ownerName = name
	}
}

// WithHealthHandler mounts a health endpoint at /healthz.
func WithHealthHandler(h http.Handler) ServerOption {
	return func(s *Server) { s.healthHandler = h }
}

// NewServer constructs the webhook server listening on the provided port.
func NewServer(port int, channelSecret string, logger *logrus.Entry, opts ...ServerOption) (*Server, error) {
	if channelSecret == "" {
		return nil, errors.New("channel secret is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	srv := &Server{
		channelSecret: channelSecret,
		logger:        logger,
		now:           time.Now,
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if srv.messenger == nil {
		return nil, errors.New("messenger is required")
	}
	if srv.codes == nil {
		return nil, errors.New("code source is required")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", srv.handleWebhook)
	mux.HandleFunc("/", srv.handleRoot)
	if srv.healthHandler != nil {
		mux.Handle("/healthz", srv.healthHandler)
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return srv, nil
}

// ListenAndServe starts the server and blocks until shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.WithFields(logging.Fields{
		"event": "webhook_listen",
		"addr":  s.server.Addr,
	}).Info("starting webhook server")

	if err := s.server.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			s.logger.WithField("event", "webhook_stopped").Info("webhook server stopped")
			return nil
		}

		return fmt.Errorf("webhook server listen: %w", err)
	}

	s.logger.WithField("event", "webhook_stopped").Info("webhook server stopped")
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

// Handler exposes the HTTP handler; used in tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	fmt.Fprint(w, "ok")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		s.logger.WithField("event", "webhook_body_error").WithError(err).Warn("failed to read webhook body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if !ValidateSignature(s.channelSecret, body, r.Header.Get(signatureHeader)) {
		s.logger.WithField("event", "webhook_bad_signature").Warn("rejected webhook with invalid signature")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	events, err := decodeWebhook(body)
	if err != nil {
		s.logger.WithField("event", "webhook_decode_error").WithError(err).Warn("failed to decode webhook payload")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Events are dispatched in arrival order; a failure handling one event
	// never affects the next.
	for _, event := range events {
		s.handleEvent(r.Context(), event)
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleEvent(ctx context.Context, event domain.Event) {
	decision := s.dispatcher.Dispatch(ctx, event, s.now())

	s.logger.WithFields(logging.Fields{
		"event":    "webhook_decision",
		"decision": decision.Kind.String(),
		"user_id":  event.Source.UserID,
		"group_id": event.Source.GroupID,
	}).Debug("event dispatched")

	if decision.Kind == dispatch.SelfRequestAccepted {
		go s.notifyOwner(decision.RequesterID)
	}

	otpCode := ""
	if decision.Kind == dispatch.IssueOTP {
		code, err := s.codes.GenerateChecked(s.now())
		if err != nil {
			s.logger.WithField("event", "otp_generate_error").WithError(err).Error("failed to generate passcode")
			return
		}
		otpCode = code
	}

	text, ok := reply.Compose(decision, s.ownerName, otpCode)
	if !ok {
		return
	}

	// The reply token is single use; this is the only send for the event.
	if err := s.messenger.ReplyMessage(ctx, decision.ReplyToken, text); err != nil {
		s.logger.WithFields(logging.Fields{
			"event":    "reply_send_error",
			"decision": decision.Kind.String(),
		}).WithError(err).Warn("failed to send reply")
	}
}

// notifyOwner pushes the pending-request notice to the owner. Failures are
// logged and swallowed; no reply substitutes for a failed notice.
func (s *Server) notifyOwner(requesterID string) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	profile, err := s.messenger.GetProfile(ctx, requesterID)
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"event":   "owner_notify_lookup_error",
			"user_id": requesterID,
		}).WithError(err).Warn("failed to look up requester profile")
		return
	}

	notice := reply.OwnerNotice(profile.DisplayName, requesterID)
	if err := s.messenger.PushMessage(ctx, s.ownerID, notice); err != nil {
		s.logger.WithFields(logging.Fields{
			"event":   "owner_notify_push_error",
			"user_id": requesterID,
		}).WithError(err).Warn("failed to push owner notice")
	}
}
