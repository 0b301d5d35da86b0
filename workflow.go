package chaty

import (
	"context"
	"errors"
	"net/url"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// DefaultVerifiedMessage is published when no fragment renderer is configured.
const DefaultVerifiedMessage = "Your email address has been verified."

// Service orchestrates signup, email verification and the token endpoints
// of the identity provider.
type Service struct {
	admin    IdentityAdmin
	client   TokenClient
	signer   Signer
	accounts AccountStore
	contacts ContactStore

	states    VerificationStateMachine
	bus       *VerificationBus
	tasks     TaskRunner
	limiter   *KeyedLimiter
	fragments FragmentRenderer

	redirectBase string
	activity     ActivitySink
	logger       Logger
	now          func() time.Time
}

type ServiceOption func(*Service)

func WithServiceLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		s.logger = normalizeLogger(logger)
	}
}

func WithServiceContacts(contacts ContactStore) ServiceOption {
	return func(s *Service) {
		s.contacts = contacts
	}
}

func WithServiceBus(bus *VerificationBus) ServiceOption {
	return func(s *Service) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// WithServiceTaskRunner sets where detached email tasks run.
func WithServiceTaskRunner(runner TaskRunner) ServiceOption {
	return func(s *Service) {
		if runner != nil {
			s.tasks = runner
		}
	}
}

func WithServiceStateMachine(sm VerificationStateMachine) ServiceOption {
	return func(s *Service) {
		if sm != nil {
			s.states = sm
		}
	}
}

// WithServiceRateLimiter limits resend requests per user.
func WithServiceRateLimiter(limiter *KeyedLimiter) ServiceOption {
	return func(s *Service) {
		s.limiter = limiter
	}
}

func WithServiceFragments(fragments FragmentRenderer) ServiceOption {
	return func(s *Service) {
		s.fragments = fragments
	}
}

// WithServiceRedirectBase sets the callback URL embedded in verification emails.
func WithServiceRedirectBase(base string) ServiceOption {
	return func(s *Service) {
		s.redirectBase = base
	}
}

func WithServiceActivitySink(sink ActivitySink) ServiceOption {
	return func(s *Service) {
		s.activity = normalizeActivitySink(sink)
	}
}

func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wires the workflow. The state machine defaults to one backed by
// accounts and detached tasks default to a fresh Dispatcher.
func NewService(admin IdentityAdmin, client TokenClient, signer Signer, accounts AccountStore, opts ...ServiceOption) *Service {
	s := &Service{
		admin:    admin,
		client:   client,
		signer:   signer,
		accounts: accounts,
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.bus == nil {
		s.bus = NewVerificationBus(WithVerificationBusLogger(s.logger))
	}
	if s.states == nil {
		s.states = NewVerificationStateMachine(accounts,
			WithStateMachineLogger(s.logger),
			WithStateMachineActivitySink(s.activity),
			WithStateMachineClock(s.now),
		)
	}
	if s.tasks == nil {
		s.tasks = NewDispatcher(WithDispatcherLogger(s.logger))
	}

	return s
}

// Bus returns the verification bus the service publishes on.
func (s *Service) Bus() *VerificationBus {
	return s.bus
}

// Signup creates the account at the identity provider, stores it locally and
// returns the new user id. The verification email is sent by a detached task;
// its outcome never affects the result of Signup.
func (s *Service) Signup(ctx context.Context, params SignupParams) (string, error) {
	identity, err := s.admin.AddUser(ctx, params)
	if err != nil {
		return "", MapUpstreamError("add_user", err)
	}

	user, err := UserFromIdentity(identity, params)
	if err != nil {
		return "", withMeta(ErrPersistence, err, map[string]any{
			"reason":  "identity provider returned an invalid user id",
			"user_id": identity.ID,
		})
	}

	if _, err := s.accounts.SaveUser(ctx, user); err != nil {
		if HasTextCode(err, TextCodeUserAlreadyExists) {
			return "", err
		}
		return "", withMeta(ErrPersistence, err, map[string]any{"user_id": user.ID.String()})
	}

	s.logger.Info("user signed up", "user_id", user.ID.String())
	recordActivity(ctx, s.activity, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventSignup,
		Actor:     ActorRef{ID: user.ID.String(), Type: "user"},
		UserID:    user.ID.String(),
		ToState:   VerificationSignedUp,
	})

	if err := s.queueVerifyEmail(ctx, user); err != nil {
		s.logger.Warn("verification email not queued", "user_id", user.ID.String(), "error", err)
	}

	return user.ID.String(), nil
}

// Signin exchanges credentials for a token set.
func (s *Service) Signin(ctx context.Context, params SigninParams) (*TokenSet, error) {
	tokens, err := s.client.Token(ctx, params)
	if err != nil {
		return nil, MapUpstreamError("token", err)
	}

	recordActivity(ctx, s.activity, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventSignin,
		Actor:     ActorRef{ID: params.Username, Type: "user"},
	})

	return tokens, nil
}

func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*TokenSet, error) {
	tokens, err := s.client.RefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, MapUpstreamError("refresh_token", err)
	}
	return tokens, nil
}

func (s *Service) RevokeToken(ctx context.Context, token string) error {
	if err := s.client.RevokeToken(ctx, token); err != nil {
		return MapUpstreamError("revoke_token", err)
	}

	recordActivity(ctx, s.activity, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventTokenRevoked,
	})
	return nil
}

// SendVerifyEmail lets a signed in, unverified user ask for a fresh email.
// The session token is introspected and must be active.
func (s *Service) SendVerifyEmail(ctx context.Context, token string) error {
	introspection, err := s.client.Introspect(ctx, token)
	if err != nil {
		return MapUpstreamError("introspect", err)
	}
	if introspection == nil || !introspection.Active {
		return ErrTokenInactive
	}

	info, err := s.client.UserInfo(ctx, token)
	if err != nil {
		return MapUpstreamError("user_info", err)
	}
	if info.EmailVerified {
		return ErrAlreadyVerified
	}

	userID := firstNonEmpty(info.Subject, introspection.Subject)

	if s.limiter != nil && !s.limiter.Allow(userID) {
		return withMeta(ErrRateLimited, nil, map[string]any{"user_id": userID})
	}

	recordActivity(ctx, s.activity, s.logger, s.now, ActivityEvent{
		EventType: ActivityEventVerifyEmailRequested,
		Actor:     ActorRef{ID: userID, Type: "user"},
		UserID:    userID,
	})

	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		s.logger.Warn("resend for user without local record", "user_id", userID)
		s.dispatch(userID, nil)
		return nil
	}

	if user.EmailVerified || user.VerificationState == VerificationVerified {
		return ErrAlreadyVerified
	}

	return s.queueVerifyEmail(ctx, user)
}

// SendVerificationLink signs userID and asks the identity provider to email
// the callback link. It runs inside the detached task.
func (s *Service) SendVerificationLink(ctx context.Context, userID string) error {
	signature, err := s.signer.Sign(userID)
	if err != nil {
		return err
	}

	link, err := BuildCallbackURL(s.redirectBase, userID, signature)
	if err != nil {
		return err
	}

	if err := s.admin.SendVerifyEmail(ctx, userID, link); err != nil {
		return MapUpstreamError("send_verify_email", err)
	}
	return nil
}

// CallbackVerifyEmail validates the signed link, marks the user verified and
// announces it on the bus. An invalid signature changes nothing.
func (s *Service) CallbackVerifyEmail(ctx context.Context, userID, signature string) error {
	if err := s.signer.Verify(userID, signature); err != nil {
		recordActivity(ctx, s.activity, s.logger, s.now, ActivityEvent{
			EventType: ActivityEventVerifyEmailRejected,
			Actor:     ActorCallback,
			UserID:    userID,
		})
		return ErrInvalidSignature
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return withMeta(ErrPersistence, err, map[string]any{"user_id": userID})
	}

	user, err := s.accounts.FindUser(ctx, id)
	if err != nil {
		return withMeta(ErrPersistence, err, map[string]any{"user_id": userID})
	}

	if _, err := s.states.Transition(ctx, ActorCallback, user, VerificationVerified, "callback link"); err != nil {
		return withMeta(ErrPersistence, err, map[string]any{"user_id": userID})
	}

	s.logger.Info("email verified", "user_id", userID)
	s.publishVerified(userID)

	return nil
}

// ContactList returns the contacts of userID.
func (s *Service) ContactList(ctx context.Context, userID string) ([]*Contact, error) {
	if s.contacts == nil {
		return []*Contact{}, nil
	}

	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid user id").
			WithCode(goerrors.CodeBadRequest)
	}

	contacts, err := s.contacts.ListByUserID(ctx, id)
	if err != nil {
		return nil, withMeta(ErrPersistence, err, map[string]any{"user_id": userID})
	}
	return contacts, nil
}

// queueVerifyEmail marks the user queued and dispatches the email task. A user
// verified concurrently yields ErrAlreadyVerified and nothing is sent.
func (s *Service) queueVerifyEmail(ctx context.Context, user *User) error {
	if _, err := s.states.Transition(ctx, ActorSystem, user, VerificationEmailQueued, "verification email queued"); err != nil {
		if HasTextCode(err, TextCodeTerminalState) {
			return ErrAlreadyVerified
		}
		s.logger.Warn("unable to mark email queued", "user_id", user.ID.String(), "error", err)
	}
	s.dispatch(user.ID.String(), user)
	return nil
}

func (s *Service) dispatch(userID string, user *User) {
	err := s.tasks.Go("verify-email:"+userID, func(ctx context.Context) error {
		s.logger.Info("send email verification", "user_id", userID)

		if err := s.SendVerificationLink(ctx, userID); err != nil {
			s.markDelivery(ctx, user, VerificationFailed)
			return err
		}

		s.markDelivery(ctx, user, VerificationEmailSent)
		return nil
	})
	if err != nil {
		s.logger.Error("unable to dispatch verification email", "user_id", userID, "error", err)
	}
}

func (s *Service) markDelivery(ctx context.Context, user *User, state VerificationState) {
	if user == nil {
		return
	}

	// reload, the callback may have verified the user meanwhile
	current, err := s.accounts.FindUser(ctx, user.ID)
	if err != nil {
		s.logger.Warn("unable to load user after email dispatch", "user_id", user.ID.String(), "error", err)
		return
	}
	if current.VerificationState == VerificationVerified {
		return
	}

	if _, err := s.states.Transition(ctx, ActorSystem, current, state, "verification email dispatch"); err != nil {
		if HasTextCode(err, TextCodeTerminalState) {
			s.logger.Debug("user verified during email dispatch", "user_id", user.ID.String())
			return
		}
		s.logger.Warn("unable to record email dispatch", "user_id", user.ID.String(), "state", state, "error", err)
	}
}

func (s *Service) publishVerified(userID string) {
	message := DefaultVerifiedMessage
	if s.fragments != nil {
		html, err := s.fragments.Render(FragmentVerifiedEmail, map[string]any{
			"message":   DefaultVerifiedMessage,
			"user_id":   userID,
			"login_url": "/login",
		})
		if err != nil {
			s.logger.Warn("unable to render verified notice", "user_id", userID, "error", err)
		} else {
			message = html
		}
	}

	if _, err := s.bus.Publish(EmailVerifiedEvent{UserID: userID, Message: message}); err != nil {
		s.logger.Warn("unable to publish email verified event", "user_id", userID, "error", err)
	}
}

func (s *Service) lookupUser(ctx context.Context, userID string) (*User, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, nil
	}

	user, err := s.accounts.FindUser(ctx, id)
	if err != nil {
		if IsNotFoundError(err) {
			return nil, nil
		}
		return nil, withMeta(ErrPersistence, err, map[string]any{"user_id": userID})
	}
	return user, nil
}

// BuildCallbackURL appends token and user_id to base, keeping any existing query.
func BuildCallbackURL(base, userID, signature string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "invalid verification redirect url")
	}

	q := u.Query()
	q.Set("token", signature)
	q.Set("user_id", userID)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// IsNotFoundError reports whether err means a missing record.
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	return repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) || errors.Is(err, ErrChannelNotFound)
}
