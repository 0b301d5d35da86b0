package chaty

import (
	"context"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
)

type SendVerifyEmailMessage struct {
	AccessToken string `json:"-"`
}

func (e SendVerifyEmailMessage) Type() string { return "user.verify_email.send" }

// SendVerifyEmailHandler re-sends the verification link for a signed in user.
type SendVerifyEmailHandler struct {
	service *Service
}

var _ command.Commander[SendVerifyEmailMessage] = (*SendVerifyEmailHandler)(nil)

func NewSendVerifyEmailHandler(service *Service) *SendVerifyEmailHandler {
	return &SendVerifyEmailHandler{service: service}
}

func (h *SendVerifyEmailHandler) Execute(ctx context.Context, event SendVerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during verify email request",
		)
	default:
	}

	if strings.TrimSpace(event.AccessToken) == "" {
		return goerrors.New("missing access token", goerrors.CategoryAuth).
			WithCode(goerrors.CodeUnauthorized)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	return h.service.SendVerifyEmail(ctx, event.AccessToken)
}

type CallbackVerifyEmailMessage struct {
	UserID string `json:"user_id" query:"user_id"`
	Token  string `json:"token" query:"token"`
}

func (e CallbackVerifyEmailMessage) Type() string { return "user.verify_email.callback" }

// Validate will run validation rules
func (e CallbackVerifyEmailMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.UserID, validation.Required),
			validation.Field(&e.Token, validation.Required),
		)
	}, "invalid verification link")
}

// CallbackVerifyEmailHandler completes verification from a signed link.
type CallbackVerifyEmailHandler struct {
	service *Service
	logger  Logger
}

var _ command.Commander[CallbackVerifyEmailMessage] = (*CallbackVerifyEmailHandler)(nil)

func NewCallbackVerifyEmailHandler(service *Service) *CallbackVerifyEmailHandler {
	return &CallbackVerifyEmailHandler{
		service: service,
		logger:  defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *CallbackVerifyEmailHandler) WithLogger(logger Logger) *CallbackVerifyEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *CallbackVerifyEmailHandler) Execute(ctx context.Context, event CallbackVerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during email verification",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *CallbackVerifyEmailHandler) execute(ctx context.Context, event CallbackVerifyEmailMessage) error {
	if verr := event.Validate(); verr != nil {
		return ErrInvalidSignature
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := h.service.CallbackVerifyEmail(ctx, event.UserID, event.Token); err != nil {
		h.logger.Warn("email verification rejected", "user_id", event.UserID, "error", err)
		return err
	}

	return nil
}
