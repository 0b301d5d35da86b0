package chaty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-router"
	"github.com/gorilla/websocket"
)

// DefaultWSValidateTimeout bounds token validation during the handshake.
const DefaultWSValidateTimeout = 5 * time.Second

// WSTokenValidator implements go-router's WSTokenValidator interface on top
// of a TokenValidator.
type WSTokenValidator struct {
	validator TokenValidator
	timeout   time.Duration
}

func NewWSTokenValidator(validator TokenValidator) *WSTokenValidator {
	return &WSTokenValidator{
		validator: validator,
		timeout:   DefaultWSValidateTimeout,
	}
}

// Validate validates a token string and returns WebSocket-compatible auth claims
func (w *WSTokenValidator) Validate(tokenString string) (router.WSAuthClaims, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	claims, err := w.validator.Validate(ctx, tokenString)
	if err != nil {
		return nil, err
	}
	return &WSAuthClaimsAdapter{claims: claims}, nil
}

// WSAuthClaimsAdapter exposes AuthClaims to go-router. A user may act on
// their own resources only.
type WSAuthClaimsAdapter struct {
	claims AuthClaims
}

func (w *WSAuthClaimsAdapter) Subject() string {
	return w.claims.Subject()
}

func (w *WSAuthClaimsAdapter) UserID() string {
	return w.claims.UserID()
}

// Role returns the first realm role, or DefaultRole.
func (w *WSAuthClaimsAdapter) Role() string {
	if roles := w.claims.Roles(); len(roles) > 0 {
		return roles[0]
	}
	return DefaultRole
}

func (w *WSAuthClaimsAdapter) CanRead(resource string) bool {
	return w.owns(resource)
}

func (w *WSAuthClaimsAdapter) CanEdit(resource string) bool {
	return w.owns(resource)
}

func (w *WSAuthClaimsAdapter) CanCreate(resource string) bool {
	return w.owns(resource)
}

func (w *WSAuthClaimsAdapter) CanDelete(resource string) bool {
	return w.owns(resource)
}

func (w *WSAuthClaimsAdapter) HasRole(role string) bool {
	return w.claims.HasRole(role)
}

// IsAtLeast has no role hierarchy, it is the same as HasRole.
func (w *WSAuthClaimsAdapter) IsAtLeast(minRole string) bool {
	return w.claims.HasRole(minRole)
}

func (w *WSAuthClaimsAdapter) owns(resource string) bool {
	return resource != "" && resource == w.claims.UserID()
}

// NewWSAuthMiddleware authenticates WebSocket upgrades with validator. The
// token is read from the token query parameter unless config says otherwise.
func NewWSAuthMiddleware(validator TokenValidator, config ...router.WSAuthConfig) router.WebSocketMiddleware {
	var cfg router.WSAuthConfig
	if len(config) > 0 {
		cfg = config[0]
	}

	cfg.TokenValidator = NewWSTokenValidator(validator)
	if cfg.TokenExtractor == nil {
		cfg.TokenExtractor = func(ctx context.Context, client router.WSClient) (string, error) {
			token := client.Conn().Query("token")
			if token == "" {
				return "", ErrTokenMalformed
			}
			return token, nil
		}
	}

	return router.NewWSAuth(cfg)
}

// WSAuthClaimsFromContext returns the AuthClaims stored by NewWSAuthMiddleware.
func WSAuthClaimsFromContext(ctx context.Context) (AuthClaims, bool) {
	wsAuthClaims, ok := router.WSAuthClaimsFromContext(ctx)
	if !ok {
		return nil, false
	}

	if adapter, ok := wsAuthClaims.(*WSAuthClaimsAdapter); ok {
		return adapter.claims, true
	}

	return nil, false
}

// wsConn is the part of router.WSClient the sockets use.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
}

// ChatSocket pushes a user's chat channel to their WebSocket connections.
type ChatSocket struct {
	chat      *ChatFanout
	fragments FragmentRenderer
	logger    Logger
}

func NewChatSocket(chat *ChatFanout, fragments FragmentRenderer, logger Logger) *ChatSocket {
	return &ChatSocket{
		chat:      chat,
		fragments: fragments,
		logger:    normalizeLogger(logger),
	}
}

// Handle serves an authenticated connection until it closes.
func (s *ChatSocket) Handle(ctx context.Context, client router.WSClient) error {
	claims, ok := WSAuthClaimsFromContext(ctx)
	if !ok {
		return ErrTokenMalformed
	}
	return s.serve(ctx, client, claims.UserID())
}

func (s *ChatSocket) serve(ctx context.Context, conn wsConn, userID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rx := s.chat.Open(userID)
	defer rx.Close()

	go drain(conn, cancel)

	s.logger.Info("chat socket connected", "user_id", userID)
	defer s.logger.Info("chat socket disconnected", "user_id", userID)

	for {
		env, err := rx.Recv(ctx)
		if err != nil {
			if skipped, lagged := IsLagError(err); lagged {
				s.logger.Warn("chat socket lagged", "user_id", userID, "skipped", skipped)
				if werr := s.writeAlert(conn, fmt.Sprintf("%d messages were skipped", skipped)); werr != nil {
					return nil
				}
				continue
			}
			if errors.Is(err, ErrChannelClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := s.writeEnvelope(conn, env); err != nil {
			s.logger.Debug("chat socket write failed", "user_id", userID, "error", err)
			return nil
		}
	}
}

func (s *ChatSocket) writeEnvelope(conn wsConn, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}

	if s.fragments == nil {
		return nil
	}
	html, err := RenderEnvelope(s.fragments, env)
	if err != nil {
		s.logger.Warn("unable to render chat fragment", "type", env.Type(), "error", err)
		return nil
	}
	if html == "" {
		return nil
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(html))
}

func (s *ChatSocket) writeAlert(conn wsConn, message string) error {
	body := message
	if s.fragments != nil {
		html, err := s.fragments.Render(FragmentAlert, map[string]any{
			"level":   "warning",
			"message": message,
		})
		if err == nil {
			body = html
		}
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(body))
}

// EmailVerifiedSocket waits for the verification notice of one user, pushes
// it and returns so the connection closes.
type EmailVerifiedSocket struct {
	bus    *VerificationBus
	logger Logger
}

func NewEmailVerifiedSocket(bus *VerificationBus, logger Logger) *EmailVerifiedSocket {
	return &EmailVerifiedSocket{
		bus:    bus,
		logger: normalizeLogger(logger),
	}
}

func (s *EmailVerifiedSocket) Handle(ctx context.Context, client router.WSClient) error {
	userID := client.Conn().Query("user_id")
	if userID == "" {
		return ErrMissingUserID
	}
	return s.serve(ctx, client, userID)
}

func (s *EmailVerifiedSocket) serve(ctx context.Context, conn wsConn, userID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rx := s.bus.Subscribe()
	defer rx.Close()

	go drain(conn, cancel)

	event, err := s.bus.WaitFor(ctx, rx, userID)
	if err != nil {
		if errors.Is(err, ErrChannelClosed) || ctx.Err() != nil {
			return nil
		}
		return err
	}

	s.logger.Info("pushing email verified notice", "user_id", userID)
	return conn.WriteMessage(websocket.TextMessage, []byte(event.Message))
}

// drain reads and discards client frames; a read error ends the session.
func drain(conn wsConn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
