package chaty

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"

	"github.com/goliatone/go-chaty/middleware/jwtware"
)

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// BaseResponse is the JSON envelope of every API response.
type BaseResponse struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Data    any    `json:"data,omitempty"`
	Details any    `json:"details,omitempty"`
}

// HTTPConfig configures the HTTP controller.
type HTTPConfig struct {
	// SessionContextKey is the router locals key set by the auth middleware (default: "user")
	SessionContextKey string

	// LoginRedirect is where a verified callback lands (default: "/login")
	LoginRedirect string

	// ErrorRedirect receives failed callbacks with a msg query parameter (default: "/error")
	ErrorRedirect string

	// Dev enables the mock chat feed route.
	Dev bool

	Logger Logger
}

// HTTPController exposes the account, verification and chat endpoints.
type HTTPController struct {
	service  *Service
	chat     *ChatFanout
	signup   *SignupHandler
	resend   *SendVerifyEmailHandler
	callback *CallbackVerifyEmailHandler
	config   HTTPConfig
	logger   Logger
	now      func() time.Time
}

func NewHTTPController(service *Service, chat *ChatFanout, cfg HTTPConfig) *HTTPController {
	if cfg.SessionContextKey == "" {
		cfg.SessionContextKey = DefaultSessionContextKey
	}
	if cfg.LoginRedirect == "" {
		cfg.LoginRedirect = "/login"
	}
	if cfg.ErrorRedirect == "" {
		cfg.ErrorRedirect = "/error"
	}
	logger := normalizeLogger(cfg.Logger)

	return &HTTPController{
		service:  service,
		chat:     chat,
		signup:   NewSignupHandler(service).WithLogger(logger),
		resend:   NewSendVerifyEmailHandler(service),
		callback: NewCallbackVerifyEmailHandler(service).WithLogger(logger),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes registers the API. Routes that need a session get protected.
func (c *HTTPController) RegisterRoutes(r RouteRegistrar, protected ...router.MiddlewareFunc) {
	r.Post("/signup", c.Signup)
	r.Post("/signin", c.Signin)
	r.Post("/refresh-token", c.RefreshToken)
	r.Post("/revoke-token", c.RevokeToken)
	r.Get("/send-verify-email", c.SendVerifyEmail)
	r.Get("/callback-verified-email", c.CallbackVerifyEmail)

	r.Get("/contacts", c.Contacts, protected...)
	r.Post("/chat/:user_id", c.SendChat, protected...)

	if c.config.Dev {
		r.Post("/dev/chat/:user_id/mock", c.MockChat)
	}
}

func (c *HTTPController) Signup(ctx router.Context) error {
	payload := SignupMessage{}
	if err := ctx.Bind(&payload); err != nil {
		return WriteError(ctx, badRequest(err, "invalid signup payload"))
	}

	result := &SignupResult{}
	payload.Result = result

	if err := c.signup.Execute(ctx.Context(), payload); err != nil {
		return WriteError(ctx, err)
	}

	return ctx.JSON(http.StatusCreated, BaseResponse{
		Status:  http.StatusCreated,
		Message: "verification email on its way",
		Data:    result,
	})
}

// SigninRequest payload
type SigninRequest struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r SigninRequest) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Username, validation.Required),
			validation.Field(&r.Password, validation.Required),
		)
	}, "invalid signin payload")
}

func (c *HTTPController) Signin(ctx router.Context) error {
	payload := SigninRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return WriteError(ctx, badRequest(err, "invalid signin payload"))
	}
	if verr := payload.Validate(); verr != nil {
		return WriteError(ctx, verr)
	}

	tokens, err := c.service.Signin(ctx.Context(), SigninParams{
		Username: strings.TrimSpace(payload.Username),
		Password: payload.Password,
	})
	if err != nil {
		return WriteError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, BaseResponse{Status: http.StatusOK, Message: "ok", Data: tokens})
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" form:"refresh_token"`
}

func (c *HTTPController) RefreshToken(ctx router.Context) error {
	payload := RefreshTokenRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return WriteError(ctx, badRequest(err, "invalid refresh payload"))
	}
	if strings.TrimSpace(payload.RefreshToken) == "" {
		return WriteError(ctx, ErrTokenMalformed)
	}

	tokens, err := c.service.RefreshToken(ctx.Context(), payload.RefreshToken)
	if err != nil {
		return WriteError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, BaseResponse{Status: http.StatusOK, Message: "ok", Data: tokens})
}

func (c *HTTPController) RevokeToken(ctx router.Context) error {
	token, err := bearerToken(ctx)
	if err != nil {
		return WriteError(ctx, err)
	}

	if err := c.service.RevokeToken(ctx.Context(), token); err != nil {
		return WriteError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, BaseResponse{Status: http.StatusOK, Message: "ok"})
}

// SendVerifyEmail re-sends the verification email for the bearer of the
// session token.
func (c *HTTPController) SendVerifyEmail(ctx router.Context) error {
	token, err := bearerToken(ctx)
	if err != nil {
		return WriteError(ctx, err)
	}

	if err := c.resend.Execute(ctx.Context(), SendVerifyEmailMessage{AccessToken: token}); err != nil {
		return WriteError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, BaseResponse{Status: http.StatusOK, Message: "ok"})
}

// CallbackVerifyEmail completes verification and redirects. Failures
// redirect to the error location with the message in msg.
func (c *HTTPController) CallbackVerifyEmail(ctx router.Context) error {
	msg := CallbackVerifyEmailMessage{
		UserID: ctx.Query("user_id"),
		Token:  ctx.Query("token"),
	}

	if err := c.callback.Execute(ctx.Context(), msg); err != nil {
		return ctx.Redirect(c.errorLocation(err), http.StatusSeeOther)
	}

	return ctx.Redirect(c.config.LoginRedirect, http.StatusSeeOther)
}

func (c *HTTPController) Contacts(ctx router.Context) error {
	claims, ok := c.sessionClaims(ctx)
	if !ok {
		return WriteError(ctx, ErrTokenMalformed)
	}

	contacts, err := c.service.ContactList(ctx.Context(), claims.UserID())
	if err != nil {
		return WriteError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, BaseResponse{Status: http.StatusOK, Message: "ok", Data: contacts})
}

// ChatRequest payload
type ChatRequest struct {
	Content     string `json:"content" form:"content"`
	ContentType string `json:"content_type" form:"content_type"`
}

// Validate will run validation rules
func (r ChatRequest) Validate() *goerrors.Error {
	return goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&r,
			validation.Field(&r.Content, validation.Required, validation.Length(1, 4096)),
			validation.Field(&r.ContentType, validation.In("", string(ContentTypeText), string(ContentTypeImage))),
		)
	}, "invalid chat message")
}

// SendChat publishes a message from the session user to :user_id.
func (c *HTTPController) SendChat(ctx router.Context) error {
	claims, ok := c.sessionClaims(ctx)
	if !ok {
		return WriteError(ctx, ErrTokenMalformed)
	}

	payload := ChatRequest{}
	if err := ctx.Bind(&payload); err != nil {
		return WriteError(ctx, badRequest(err, "invalid chat message"))
	}
	if verr := payload.Validate(); verr != nil {
		return WriteError(ctx, verr)
	}

	receiver := ctx.Param("user_id")
	message := NewChatMessage(AuthorFromClaims(claims), receiver, payload.Content, ParseContentType(payload.ContentType), c.now())

	delivered, err := c.chat.Send(receiver, message)
	if err != nil {
		return WriteError(ctx, err)
	}

	return ctx.JSON(http.StatusOK, BaseResponse{
		Status:  http.StatusOK,
		Message: "ok",
		Data: map[string]any{
			"id":              message.ID,
			"conversation_id": message.ConversationID,
			"delivered":       delivered,
		},
	})
}

// MockChat pushes a canned message to :user_id. Development only.
func (c *HTTPController) MockChat(ctx router.Context) error {
	receiver := ctx.Param("user_id")
	author := Author{
		ID:       "9925ce5d-6174-4fd7-b978-018976280eb1",
		Username: "mock",
		Email:    "email_test@example.com",
		Avatar:   AvatarURL("9925ce5d-6174-4fd7-b978-018976280eb1"),
	}
	message := NewChatMessage(author, receiver, "test", ContentTypeText, c.now())

	delivered, err := c.chat.Send(receiver, message)
	if err != nil {
		c.logger.Error("mock chat send failed", "user_id", receiver, "error", err)
		return WriteError(ctx, err)
	}

	c.logger.Info("mock chat sent", "user_id", receiver, "delivered", delivered)
	return ctx.JSON(http.StatusOK, BaseResponse{Status: http.StatusOK, Message: "ok", Data: map[string]any{"delivered": delivered}})
}

func (c *HTTPController) errorLocation(err error) string {
	message := err.Error()
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich.Message != "" {
		message = rich.Message
	}
	return c.config.ErrorRedirect + "?msg=" + url.QueryEscape(message)
}

// sessionClaims prefers the claims the auth middleware put on the request
// context and falls back to the router locals.
func (c *HTTPController) sessionClaims(ctx router.Context) (AuthClaims, bool) {
	if claims, ok := GetClaims(ctx.Context()); ok && claims != nil {
		return claims, true
	}
	return GetRouterClaims(ctx, c.config.SessionContextKey)
}

// AuthorFromClaims describes the session user as a chat author.
func AuthorFromClaims(claims AuthClaims) Author {
	return Author{
		ID:       claims.UserID(),
		Username: claims.Username(),
		Email:    claims.Email(),
		Avatar:   AvatarURL(claims.UserID()),
	}
}

// AvatarURL is the gravatar location derived from a user id.
func AvatarURL(userID string) string {
	return "https://gravatar.com/avatar/" + strings.ReplaceAll(userID, "-", "")
}

// WriteError renders err as a JSON BaseResponse with its HTTP status.
func WriteError(ctx router.Context, err error) error {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		rich = goerrors.Wrap(err, goerrors.CategoryInternal, "An unexpected server error occurred").
			WithCode(goerrors.CodeInternal)
	}

	status := HTTPStatus(rich)
	resp := BaseResponse{
		Status:  status,
		Message: rich.Message,
		Code:    rich.TextCode,
	}
	if status < http.StatusInternalServerError && len(rich.Metadata) > 0 {
		resp.Details = rich.Metadata
	}

	return ctx.JSON(status, resp)
}

func bearerToken(ctx router.Context) (string, error) {
	token, err := jwtware.ExtractRawTokenFromContext(ctx, jwtware.GetExtractors("header:Authorization"))
	if err != nil || token == "" {
		return "", ErrTokenMalformed
	}
	return token, nil
}

func badRequest(err error, message string) error {
	return goerrors.Wrap(err, goerrors.CategoryBadInput, message).
		WithCode(goerrors.CodeBadRequest)
}

// DescribeError renders a rich error for debug logs.
func DescribeError(err error) string {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return fmt.Sprintf("%s [%s] %s", rich.Category, rich.TextCode, print.MaybePrettyJSON(rich.Metadata))
	}
	return err.Error()
}
