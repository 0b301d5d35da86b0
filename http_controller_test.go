package chaty

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testUserID = "239f1055-0a6b-4d01-9202-c0fff0a50a26"

type controllerFixture struct {
	admin    *MockIdentityAdmin
	client   *MockTokenClient
	accounts *memAccounts
	signer   *HMACSigner
	service  *Service
	chat     *ChatFanout
	ctrl     *HTTPController
}

func newControllerFixture(t *testing.T, users ...*User) *controllerFixture {
	t.Helper()

	signer, err := NewHMACSigner("admin")
	require.NoError(t, err)

	f := &controllerFixture{
		admin:    &MockIdentityAdmin{},
		client:   &MockTokenClient{},
		accounts: newMemAccounts(users...),
		signer:   signer,
		chat:     NewChatFanout(nil, WithChatFanoutLogger(nopLogger{})),
	}

	f.service = NewService(f.admin, f.client, signer, f.accounts,
		WithServiceLogger(nopLogger{}),
		WithServiceTaskRunner(NewDispatcher(WithInlineDispatch(), WithDispatcherLogger(nopLogger{}))),
		WithServiceRedirectBase("http://localhost:3000/callback-verified-email"),
		WithServiceContacts(memContacts{}),
	)
	f.ctrl = NewHTTPController(f.service, f.chat, HTTPConfig{Logger: nopLogger{}})
	return f
}

func captureJSON(ctx *router.MockContext, status int) *BaseResponse {
	out := &BaseResponse{}
	ctx.On("JSON", status, mock.Anything).Run(func(args mock.Arguments) {
		*out = args.Get(1).(BaseResponse)
	}).Return(nil)
	return out
}

func TestHTTPController_Signup(t *testing.T) {
	f := newControllerFixture(t)

	f.admin.On("AddUser", mock.Anything, mock.MatchedBy(func(p SignupParams) bool {
		return p.Email == "ada@example.com" && p.Username == "ada"
	})).Return(&IdentityUser{ID: testUserID, Username: "ada", Email: "ada@example.com"}, nil)
	f.admin.On("SendVerifyEmail", mock.Anything, testUserID, mock.MatchedBy(func(link string) bool {
		return strings.Contains(link, "user_id="+testUserID)
	})).Return(nil)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		msg := args.Get(0).(*SignupMessage)
		msg.Username = "ada"
		msg.Email = "Ada@Example.com"
		msg.Password = "correct-horse"
	}).Return(nil)
	resp := captureJSON(ctx, http.StatusCreated)

	require.NoError(t, f.ctrl.Signup(ctx))

	result, ok := resp.Data.(*SignupResult)
	require.True(t, ok)
	assert.Equal(t, testUserID, result.UserID)
	assert.Equal(t, VerificationEmailSent, f.accounts.state(uuid.MustParse(testUserID)))
	f.admin.AssertExpectations(t)
	ctx.AssertExpectations(t)
}

func TestHTTPController_SignupValidation(t *testing.T) {
	f := newControllerFixture(t)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		msg := args.Get(0).(*SignupMessage)
		msg.Email = "not-an-email"
	}).Return(nil)
	resp := captureJSON(ctx, http.StatusBadRequest)

	require.NoError(t, f.ctrl.Signup(ctx))
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	f.admin.AssertNotCalled(t, "AddUser", mock.Anything, mock.Anything)
}

func TestHTTPController_SignupUpstreamConflict(t *testing.T) {
	f := newControllerFixture(t)

	f.admin.On("AddUser", mock.Anything, mock.Anything).
		Return(nil, &stubUpstreamError{status: http.StatusConflict, message: "User exists with same username"})

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		msg := args.Get(0).(*SignupMessage)
		msg.Username = "ada"
		msg.Email = "ada@example.com"
		msg.Password = "correct-horse"
	}).Return(nil)
	resp := captureJSON(ctx, http.StatusConflict)

	require.NoError(t, f.ctrl.Signup(ctx))
	assert.Equal(t, "User exists with same username", resp.Message)
	assert.Equal(t, TextCodeUpstream, resp.Code)
}

func TestHTTPController_Signin(t *testing.T) {
	f := newControllerFixture(t)
	tokens := &TokenSet{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 300}
	f.client.On("Token", mock.Anything, SigninParams{Username: "ada", Password: "secret"}).Return(tokens, nil)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
		req := args.Get(0).(*SigninRequest)
		req.Username = " ada "
		req.Password = "secret"
	}).Return(nil)
	resp := captureJSON(ctx, http.StatusOK)

	require.NoError(t, f.ctrl.Signin(ctx))
	assert.Same(t, tokens, resp.Data)
}

func TestHTTPController_SigninRequiresCredentials(t *testing.T) {
	f := newControllerFixture(t)

	ctx := router.NewMockContext()
	ctx.On("Bind", mock.Anything).Return(nil)
	resp := captureJSON(ctx, http.StatusBadRequest)

	require.NoError(t, f.ctrl.Signin(ctx))
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	f.client.AssertNotCalled(t, "Token", mock.Anything, mock.Anything)
}

func TestHTTPController_SendVerifyEmailNeedsBearer(t *testing.T) {
	f := newControllerFixture(t)

	ctx := router.NewMockContext()
	ctx.On("GetString", "Authorization", "").Return("")
	resp := captureJSON(ctx, http.StatusUnauthorized)

	require.NoError(t, f.ctrl.SendVerifyEmail(ctx))
	assert.Equal(t, TextCodeTokenMalformed, resp.Code)
}

func TestHTTPController_SendVerifyEmailInactiveToken(t *testing.T) {
	f := newControllerFixture(t)
	f.client.On("Introspect", mock.Anything, "stale").Return(&TokenIntrospection{Active: false}, nil)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("GetString", "Authorization", "").Return("Bearer stale")
	resp := captureJSON(ctx, http.StatusUnauthorized)

	require.NoError(t, f.ctrl.SendVerifyEmail(ctx))
	assert.Equal(t, TextCodeTokenInactive, resp.Code)
}

func TestHTTPController_CallbackRedirects(t *testing.T) {
	id := uuid.MustParse(testUserID)
	f := newControllerFixture(t, &User{ID: id, Email: "ada@example.com", VerificationState: VerificationEmailSent})

	t.Run("valid signature", func(t *testing.T) {
		signature, err := f.signer.Sign(testUserID)
		require.NoError(t, err)

		ctx := router.NewMockContext()
		ctx.QueriesM["user_id"] = testUserID
		ctx.QueriesM["token"] = signature
		ctx.On("Context").Return(context.Background())
		ctx.On("Redirect", "/login", []int{http.StatusSeeOther}).Return(nil)

		require.NoError(t, f.ctrl.CallbackVerifyEmail(ctx))
		ctx.AssertExpectations(t)
		assert.Equal(t, VerificationVerified, f.accounts.state(id))
	})

	t.Run("forged signature", func(t *testing.T) {
		ctx := router.NewMockContext()
		ctx.QueriesM["user_id"] = testUserID
		ctx.QueriesM["token"] = "Zm9yZ2Vk"
		ctx.On("Context").Return(context.Background())
		ctx.On("Redirect", "/error?msg=invalid+signature", []int{http.StatusSeeOther}).Return(nil)

		require.NoError(t, f.ctrl.CallbackVerifyEmail(ctx))
		ctx.AssertExpectations(t)
	})
}

func TestHTTPController_Contacts(t *testing.T) {
	f := newControllerFixture(t)
	owner := uuid.MustParse(testUserID)
	friend := uuid.New()
	f.service.contacts = memContacts{owner: {{ID: uuid.New(), UserID: owner, FriendID: friend, Name: "bob"}}}

	ctx := router.NewMockContext()
	ctx.LocalsMock["user"] = testClaims(testUserID)
	ctx.On("Context").Return(context.Background())
	resp := captureJSON(ctx, http.StatusOK)

	require.NoError(t, f.ctrl.Contacts(ctx))
	contacts, ok := resp.Data.([]*Contact)
	require.True(t, ok)
	require.Len(t, contacts, 1)
	assert.Equal(t, friend, contacts[0].FriendID)
}

func TestHTTPController_ContactsReadsRequestContextClaims(t *testing.T) {
	f := newControllerFixture(t)
	owner := uuid.MustParse(testUserID)
	f.service.contacts = memContacts{owner: {{ID: uuid.New(), UserID: owner, FriendID: uuid.New(), Name: "bob"}}}

	ctx := router.NewMockContext()
	ctx.On("Context").Return(ContextEnricherAdapter(context.Background(), testClaims(testUserID)))
	resp := captureJSON(ctx, http.StatusOK)

	require.NoError(t, f.ctrl.Contacts(ctx))
	contacts, ok := resp.Data.([]*Contact)
	require.True(t, ok)
	assert.Len(t, contacts, 1)
}

func TestHTTPController_ContactsWithoutSession(t *testing.T) {
	f := newControllerFixture(t)

	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	resp := captureJSON(ctx, http.StatusUnauthorized)

	require.NoError(t, f.ctrl.Contacts(ctx))
	assert.Equal(t, TextCodeTokenMalformed, resp.Code)
}

func TestHTTPController_SendChat(t *testing.T) {
	receiver := uuid.NewString()

	t.Run("unknown channel", func(t *testing.T) {
		f := newControllerFixture(t)

		ctx := router.NewMockContext()
		ctx.LocalsMock["user"] = testClaims(testUserID)
		ctx.ParamsM["user_id"] = receiver
		ctx.On("Context").Return(context.Background())
		ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
			args.Get(0).(*ChatRequest).Content = "hello"
		}).Return(nil)
		resp := captureJSON(ctx, http.StatusNotFound)

		require.NoError(t, f.ctrl.SendChat(ctx))
		assert.Equal(t, TextCodeChannelNotFound, resp.Code)
	})

	t.Run("delivered to open channel", func(t *testing.T) {
		f := newControllerFixture(t)
		f.ctrl.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
		rx := f.chat.Open(receiver)
		defer rx.Close()

		ctx := router.NewMockContext()
		ctx.LocalsMock["user"] = testClaims(testUserID)
		ctx.ParamsM["user_id"] = receiver
		ctx.On("Context").Return(context.Background())
		ctx.On("Bind", mock.Anything).Run(func(args mock.Arguments) {
			req := args.Get(0).(*ChatRequest)
			req.Content = "hello"
			req.ContentType = "text"
		}).Return(nil)
		resp := captureJSON(ctx, http.StatusOK)

		require.NoError(t, f.ctrl.SendChat(ctx))
		data := resp.Data.(map[string]any)
		assert.Equal(t, 1, data["delivered"])

		env, err := rx.TryRecv()
		require.NoError(t, err)
		msg := env.Data.(ChatMessage)
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, testUserID, msg.Author.ID)
		assert.Equal(t, "https://gravatar.com/avatar/239f10550a6b4d019202c0fff0a50a26", msg.Author.Avatar)
		assert.Equal(t, ConversationID(testUserID, receiver), msg.ConversationID)
	})
}

func TestHTTPController_RegisterRoutesDevOnly(t *testing.T) {
	f := newControllerFixture(t)

	routes := &recordingRegistrar{}
	f.ctrl.RegisterRoutes(routes)
	assert.NotContains(t, routes.paths, "POST /dev/chat/:user_id/mock")
	assert.Contains(t, routes.paths, "GET /callback-verified-email")

	dev := NewHTTPController(f.service, f.chat, HTTPConfig{Dev: true, Logger: nopLogger{}})
	routes = &recordingRegistrar{}
	dev.RegisterRoutes(routes)
	assert.Contains(t, routes.paths, "POST /dev/chat/:user_id/mock")
}

func TestWriteError_HidesInternalDetails(t *testing.T) {
	ctx := router.NewMockContext()
	resp := captureJSON(ctx, http.StatusInternalServerError)

	err := withMeta(ErrPersistence, nil, map[string]any{"user_id": testUserID})
	require.NoError(t, WriteError(ctx, err))
	assert.Nil(t, resp.Details)
	assert.Equal(t, TextCodePersistence, resp.Code)
}

type recordingRegistrar struct {
	paths []string
}

func (r *recordingRegistrar) Get(path string, _ router.HandlerFunc, _ ...router.MiddlewareFunc) router.RouteInfo {
	r.paths = append(r.paths, "GET "+path)
	return nil
}

func (r *recordingRegistrar) Post(path string, _ router.HandlerFunc, _ ...router.MiddlewareFunc) router.RouteInfo {
	r.paths = append(r.paths, "POST "+path)
	return nil
}

type stubUpstreamError struct {
	status  int
	message string
}

func (e *stubUpstreamError) Error() string           { return e.message }
func (e *stubUpstreamError) StatusCode() int         { return e.status }
func (e *stubUpstreamError) UpstreamMessage() string { return e.message }

func testClaims(userID string) *JWTClaims {
	claims := &JWTClaims{PreferredUsername: "ada", Mail: "ada@example.com"}
	claims.RegisteredClaims.Subject = userID
	return claims
}
