package chaty

import (
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidSignature  = "INVALID_SIGNATURE"
	TextCodeChannelNotFound   = "CHANNEL_NOT_FOUND"
	TextCodeSubscriberLag     = "SUBSCRIBER_LAG"
	TextCodeNoSubscribers     = "NO_SUBSCRIBERS"
	TextCodeChannelClosed     = "CHANNEL_CLOSED"
	TextCodeAlreadyVerified   = "EMAIL_ALREADY_VERIFIED"
	TextCodeTokenInactive     = "TOKEN_INACTIVE"
	TextCodePersistence       = "PERSISTENCE_ERROR"
	TextCodeUserAlreadyExists = "USER_ALREADY_EXISTS"
	TextCodeRateLimited       = "RATE_LIMITED"
	TextCodeUpstream          = "UPSTREAM_IDP_ERROR"
	TextCodeQueueFull         = "TASK_QUEUE_FULL"
	TextCodeTokenMalformed    = "TOKEN_MALFORMED"
	TextCodeTokenExpired      = "TOKEN_EXPIRED"
)

// ErrInvalidSignature is returned for a forged, tampered, or undecodable callback token.
var ErrInvalidSignature = goerrors.New("invalid signature", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidSignature).
	WithCode(goerrors.CodeBadRequest)

// ErrChannelNotFound is returned when publishing to a key that was never established.
var ErrChannelNotFound = goerrors.New("channel not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeChannelNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrSubscriberLag signals a receiver fell behind the channel buffer.
var ErrSubscriberLag = goerrors.New("subscriber lagged behind channel buffer", goerrors.CategoryOperation).
	WithTextCode(TextCodeSubscriberLag).
	WithCode(goerrors.CodeInternal)

// ErrNoSubscribers is returned by Send when nobody is listening. It is not a request failure.
var ErrNoSubscribers = goerrors.New("channel has no active subscribers", goerrors.CategoryOperation).
	WithTextCode(TextCodeNoSubscribers).
	WithCode(goerrors.CodeInternal)

var ErrChannelClosed = goerrors.New("channel closed", goerrors.CategoryOperation).
	WithTextCode(TextCodeChannelClosed).
	WithCode(goerrors.CodeInternal)

var ErrAlreadyVerified = goerrors.New("email already verified", goerrors.CategoryBadInput).
	WithTextCode(TextCodeAlreadyVerified).
	WithCode(goerrors.CodeBadRequest)

var ErrTokenInactive = goerrors.New("token is not active", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenInactive).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("missing or malformed token", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenExpired = goerrors.New("token expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrMissingUserID = goerrors.New("user_id is required", goerrors.CategoryBadInput).
	WithTextCode("MISSING_USER_ID").
	WithCode(goerrors.CodeBadRequest)

var ErrPersistence = goerrors.New("persistence failure", goerrors.CategoryInternal).
	WithTextCode(TextCodePersistence).
	WithCode(goerrors.CodeInternal)

var ErrUserAlreadyExists = goerrors.New("user already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeUserAlreadyExists).
	WithCode(goerrors.CodeConflict)

var ErrRateLimited = goerrors.New("too many requests", goerrors.CategoryRateLimit).
	WithTextCode(TextCodeRateLimited).
	WithCode(http.StatusTooManyRequests)

var ErrQueueFull = goerrors.New("task queue is full", goerrors.CategoryOperation).
	WithTextCode(TextCodeQueueFull).
	WithCode(http.StatusServiceUnavailable)

// LagError reports how many messages a receiver missed. It unwraps to ErrSubscriberLag.
type LagError struct {
	Skipped uint64
}

func (e *LagError) Error() string {
	return fmt.Sprintf("subscriber lagged: %d messages skipped", e.Skipped)
}

func (e *LagError) Unwrap() error {
	return ErrSubscriberLag
}

// IsLagError reports whether err is a receiver overrun and returns the skipped count.
func IsLagError(err error) (uint64, bool) {
	var lag *LagError
	if errors.As(err, &lag) && lag != nil {
		return lag.Skipped, true
	}
	return 0, false
}

// UpstreamStatusError is implemented by identity provider errors that carry
// an HTTP status and message.
type UpstreamStatusError interface {
	error
	StatusCode() int
	UpstreamMessage() string
}

// MapUpstreamError converts an identity provider failure into a rich error
// with the upstream status propagated as the error code.
func MapUpstreamError(operation string, err error) error {
	if err == nil {
		return nil
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return err
	}

	status := http.StatusBadGateway
	message := err.Error()

	var upstream UpstreamStatusError
	if errors.As(err, &upstream) {
		if upstream.StatusCode() > 0 {
			status = upstream.StatusCode()
		}
		if msg := upstream.UpstreamMessage(); msg != "" {
			message = msg
		}
	}

	return goerrors.Wrap(err, categoryForStatus(status), message).
		WithCode(status).
		WithTextCode(TextCodeUpstream).
		WithMetadata(map[string]any{
			"operation": operation,
			"status":    status,
		})
}

func categoryForStatus(status int) goerrors.Category {
	switch {
	case status == http.StatusUnauthorized:
		return goerrors.CategoryAuth
	case status == http.StatusForbidden:
		return goerrors.CategoryAuthz
	case status == http.StatusNotFound:
		return goerrors.CategoryNotFound
	case status == http.StatusConflict:
		return goerrors.CategoryConflict
	case status == http.StatusTooManyRequests:
		return goerrors.CategoryRateLimit
	case status >= 400 && status < 500:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryOperation
	}
}

// HTTPStatus resolves the response status for err.
func HTTPStatus(err error) int {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return http.StatusInternalServerError
	}
	if rich.Code >= 400 && rich.Code < 600 {
		return rich.Code
	}
	switch rich.Category {
	case goerrors.CategoryValidation, goerrors.CategoryBadInput:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// IsMalformedError reports whether err means the token could not be parsed.
func IsMalformedError(err error) bool {
	return HasTextCode(err, TextCodeTokenMalformed)
}

// IsTokenExpiredError reports whether err means the token is past its expiry.
// An inactive introspection result counts as expired.
func IsTokenExpiredError(err error) bool {
	return HasTextCode(err, TextCodeTokenExpired) || HasTextCode(err, TextCodeTokenInactive)
}

// HasTextCode reports whether err carries the given rich error text code.
func HasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) && rich != nil {
		return rich.TextCode == code
	}
	return false
}

func withMeta(base *goerrors.Error, source error, meta map[string]any) error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if source != nil {
		clone.Source = source
	}
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}
