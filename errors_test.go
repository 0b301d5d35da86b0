package chaty_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-chaty"
)

type upstreamErr struct {
	status  int
	message string
}

func (e *upstreamErr) Error() string           { return fmt.Sprintf("upstream %d", e.status) }
func (e *upstreamErr) StatusCode() int         { return e.status }
func (e *upstreamErr) UpstreamMessage() string { return e.message }

func TestErrorDefinitions(t *testing.T) {
	tests := []struct {
		err      *goerrors.Error
		category goerrors.Category
		status   int
	}{
		{chaty.ErrInvalidSignature, goerrors.CategoryAuth, http.StatusBadRequest},
		{chaty.ErrChannelNotFound, goerrors.CategoryNotFound, http.StatusNotFound},
		{chaty.ErrAlreadyVerified, goerrors.CategoryBadInput, http.StatusBadRequest},
		{chaty.ErrTokenInactive, goerrors.CategoryAuth, http.StatusUnauthorized},
		{chaty.ErrTokenExpired, goerrors.CategoryAuth, http.StatusUnauthorized},
		{chaty.ErrUserAlreadyExists, goerrors.CategoryConflict, http.StatusConflict},
		{chaty.ErrRateLimited, goerrors.CategoryRateLimit, http.StatusTooManyRequests},
		{chaty.ErrPersistence, goerrors.CategoryInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.TextCode, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.status, chaty.HTTPStatus(tt.err))
			assert.True(t, chaty.HasTextCode(tt.err, tt.err.TextCode))
		})
	}
}

func TestMapUpstreamError(t *testing.T) {
	t.Run("propagates status and message", func(t *testing.T) {
		err := chaty.MapUpstreamError("token", &upstreamErr{status: http.StatusUnauthorized, message: "Invalid user credentials"})

		var rich *goerrors.Error
		require.True(t, goerrors.As(err, &rich))
		assert.Equal(t, "Invalid user credentials", rich.Message)
		assert.Equal(t, goerrors.CategoryAuth, rich.Category)
		assert.Equal(t, chaty.TextCodeUpstream, rich.TextCode)
		assert.Equal(t, "token", rich.Metadata["operation"])
		assert.Equal(t, http.StatusUnauthorized, chaty.HTTPStatus(err))
	})

	t.Run("transport failure is a bad gateway", func(t *testing.T) {
		err := chaty.MapUpstreamError("introspect", errors.New("dial tcp: connection refused"))
		assert.Equal(t, http.StatusBadGateway, chaty.HTTPStatus(err))
	})

	t.Run("rich errors pass through", func(t *testing.T) {
		err := chaty.MapUpstreamError("introspect", chaty.ErrTokenInactive)
		assert.Same(t, chaty.ErrTokenInactive, err)
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, chaty.MapUpstreamError("token", nil))
	})
}

func TestHTTPStatus_FallsBackToCategory(t *testing.T) {
	validation := goerrors.New("bad payload", goerrors.CategoryValidation)
	assert.Equal(t, http.StatusBadRequest, chaty.HTTPStatus(validation))
	assert.Equal(t, http.StatusInternalServerError, chaty.HTTPStatus(errors.New("plain")))
}

func TestLagError(t *testing.T) {
	var err error = &chaty.LagError{Skipped: 7}

	skipped, ok := chaty.IsLagError(fmt.Errorf("wrapped: %w", err))
	assert.True(t, ok)
	assert.Equal(t, uint64(7), skipped)
	assert.ErrorIs(t, err, chaty.ErrSubscriberLag)

	_, ok = chaty.IsLagError(errors.New("other"))
	assert.False(t, ok)
}

func TestTokenErrorClassifiers(t *testing.T) {
	assert.True(t, chaty.IsTokenExpiredError(chaty.ErrTokenExpired))
	assert.True(t, chaty.IsTokenExpiredError(chaty.ErrTokenInactive))
	assert.False(t, chaty.IsTokenExpiredError(chaty.ErrTokenMalformed))
	assert.True(t, chaty.IsMalformedError(chaty.ErrTokenMalformed))
	assert.False(t, chaty.IsMalformedError(errors.New("token is malformed")))
}
