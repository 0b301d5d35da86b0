package chaty

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	TextCodeInvalidTransition = "INVALID_VERIFICATION_TRANSITION"
	TextCodeTerminalState     = "TERMINAL_VERIFICATION_STATE"
)

// ErrInvalidTransition is returned when a requested state change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid verification state transition", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ErrTerminalState is returned when attempting to leave the verified state.
var ErrTerminalState = goerrors.New("verification state is terminal", goerrors.CategoryConflict).
	WithTextCode(TextCodeTerminalState).
	WithCode(goerrors.CodeConflict)

// ActorRef identifies who or what triggered a transition.
type ActorRef struct {
	ID   string
	Type string
}

var (
	ActorSystem   = ActorRef{ID: "system", Type: "system"}
	ActorCallback = ActorRef{ID: "callback", Type: "link"}
)

// VerificationStore persists verification state.
type VerificationStore interface {
	UpdateVerificationState(ctx context.Context, id uuid.UUID, state VerificationState, verifiedAt *time.Time) (*User, error)
	UpdateVerifiedEmail(ctx context.Context, id uuid.UUID) (*User, error)
}

// VerificationStateMachine guards the verification lifecycle.
type VerificationStateMachine interface {
	Transition(ctx context.Context, actor ActorRef, user *User, target VerificationState, reason string) (*User, error)
	CanTransition(from, to VerificationState) bool
}

// StateMachineOption customizes state machine construction.
type StateMachineOption func(*verificationStateMachine)

// WithStateMachineClock injects a custom clock.
func WithStateMachineClock(clock func() time.Time) StateMachineOption {
	return func(sm *verificationStateMachine) {
		if clock != nil {
			sm.now = clock
		}
	}
}

func WithStateMachineActivitySink(sink ActivitySink) StateMachineOption {
	return func(sm *verificationStateMachine) {
		sm.activitySink = normalizeActivitySink(sink)
	}
}

func WithStateMachineLogger(logger Logger) StateMachineOption {
	return func(sm *verificationStateMachine) {
		if logger != nil {
			sm.logger = logger
		}
	}
}

type verificationStateMachine struct {
	store        VerificationStore
	transitions  map[VerificationState]map[VerificationState]struct{}
	now          func() time.Time
	activitySink ActivitySink
	logger       Logger
}

// NewVerificationStateMachine returns the default state machine backed by store.
func NewVerificationStateMachine(store VerificationStore, opts ...StateMachineOption) VerificationStateMachine {
	sm := &verificationStateMachine{
		store: store,
		transitions: map[VerificationState]map[VerificationState]struct{}{
			VerificationSignedUp: {
				VerificationEmailQueued: {},
				VerificationVerified:    {},
				VerificationFailed:      {},
			},
			VerificationEmailQueued: {
				VerificationEmailSent: {},
				VerificationVerified:  {},
				VerificationFailed:    {},
			},
			VerificationEmailSent: {
				VerificationEmailQueued: {},
				VerificationVerified:    {},
				VerificationFailed:      {},
			},
			VerificationFailed: {
				VerificationEmailQueued: {},
				VerificationVerified:    {},
			},
		},
		now:          time.Now,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(sm)
		}
	}

	return sm
}

// Transition moves user to target and persists it. A transition to the
// current state is a no-op.
func (sm *verificationStateMachine) Transition(ctx context.Context, actor ActorRef, user *User, target VerificationState, reason string) (*User, error) {
	if user == nil {
		return nil, withMeta(ErrInvalidTransition, nil, map[string]any{
			"target": target,
			"reason": "user is nil",
		})
	}

	from := user.VerificationState
	if from == "" {
		from = VerificationSignedUp
	}

	if target == "" {
		return nil, withMeta(ErrInvalidTransition, nil, map[string]any{
			"reason": "target state is empty",
		})
	}

	if from == target {
		return user, nil
	}

	if from == VerificationVerified {
		return nil, withMeta(ErrTerminalState, nil, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	if !sm.CanTransition(from, target) {
		return nil, withMeta(ErrInvalidTransition, nil, map[string]any{
			"from": from,
			"to":   target,
		})
	}

	var (
		updated *User
		err     error
	)
	if target == VerificationVerified {
		updated, err = sm.store.UpdateVerifiedEmail(ctx, user.ID)
	} else {
		updated, err = sm.store.UpdateVerificationState(ctx, user.ID, target, nil)
	}
	if err != nil {
		return nil, err
	}

	sm.apply(user, updated, target)

	meta := map[string]any{}
	if reason != "" {
		meta["reason"] = reason
	}

	recordActivity(ctx, sm.activitySink, sm.logger, sm.now, ActivityEvent{
		EventType: ActivityEventVerificationChanged,
		Actor:     actor,
		UserID:    user.ID.String(),
		FromState: from,
		ToState:   target,
		Metadata:  meta,
	})

	return user, nil
}

func (sm *verificationStateMachine) CanTransition(from, to VerificationState) bool {
	if allowed, ok := sm.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (sm *verificationStateMachine) apply(user, updated *User, target VerificationState) {
	if updated != nil {
		user.VerificationState = updated.VerificationState
		user.EmailVerified = updated.EmailVerified
		user.VerifiedAt = updated.VerifiedAt
		if user.VerificationState == "" {
			user.VerificationState = target
		}
		return
	}

	user.VerificationState = target
	if target == VerificationVerified {
		now := sm.now()
		user.EmailVerified = true
		user.VerifiedAt = &now
	}
}
