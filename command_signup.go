package chaty

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used to parse phone numbers without a country prefix.
var DefaultPhoneRegion = "US"

type SignupMessage struct {
	FirstName string `json:"first_name" form:"first_name"`
	LastName  string `json:"last_name" form:"last_name"`
	Username  string `json:"username" form:"username"`
	Email     string `json:"email" form:"email"`
	Phone     string `json:"phone" form:"phone"`
	Password  string `json:"password" form:"password"`

	// Result receives the created user id.
	Result *SignupResult `json:"-" form:"-"`
}

type SignupResult struct {
	UserID string `json:"user_id"`
}

func (e SignupMessage) Type() string { return "user.signup" }

// Validate will run validation rules
func (e SignupMessage) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&e,
			validation.Field(&e.Email, validation.Required, is.Email),
			validation.Field(&e.Username, validation.Required, validation.Length(3, 64)),
			validation.Field(&e.Password, validation.Required, validation.Length(8, 128)),
			validation.Field(&e.FirstName, validation.Length(0, 128)),
			validation.Field(&e.LastName, validation.Length(0, 128)),
			validation.Field(&e.Phone, validation.By(validPhone)),
		)
	}, "invalid signup payload")
}

// Params normalizes the message into identity provider parameters.
func (e SignupMessage) Params() SignupParams {
	return SignupParams{
		FirstName: strings.TrimSpace(e.FirstName),
		LastName:  strings.TrimSpace(e.LastName),
		Username:  strings.TrimSpace(e.Username),
		Email:     strings.ToLower(strings.TrimSpace(e.Email)),
		Phone:     NormalizePhone(e.Phone),
		Password:  e.Password,
	}
}

// NormalizePhone returns the E.164 form of phone, or the trimmed input when it cannot be parsed.
func NormalizePhone(phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return ""
	}
	num, err := phonenumbers.Parse(phone, DefaultPhoneRegion)
	if err != nil {
		return phone
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func validPhone(value any) error {
	phone, _ := value.(string)
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil
	}
	num, err := phonenumbers.Parse(phone, DefaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return errors.New("must be a valid phone number")
	}
	return nil
}

type SignupHandler struct {
	service *Service
	logger  Logger
}

var _ command.Commander[SignupMessage] = (*SignupHandler)(nil)

func NewSignupHandler(service *Service) *SignupHandler {
	return &SignupHandler{
		service: service,
		logger:  defLogger{},
	}
}

// WithLogger overrides the logger used by the handler.
func (h *SignupHandler) WithLogger(logger Logger) *SignupHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *SignupHandler) Execute(ctx context.Context, event SignupMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during signup",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *SignupHandler) execute(ctx context.Context, event SignupMessage) error {
	if verr := event.Validate(); verr != nil {
		return verr
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	userID, err := h.service.Signup(ctx, event.Params())
	if err != nil {
		h.logger.Error("signup failed", "email", event.Email, "error", err)
		return err
	}

	if event.Result != nil {
		event.Result.UserID = userID
	}

	return nil
}
