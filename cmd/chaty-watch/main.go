package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-print"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"
)

const (
	modeChat          = "chat"
	modeEmailVerified = "email-verified"
)

type options struct {
	server    string
	mode      string
	token     string
	userID    string
	timeout   time.Duration
	fragments bool
	verbose   bool
}

// logger is the slice of glog.Logger the watcher needs.
type logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if stderrors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := newLogger(opts.verbose)

	endpoint, err := endpointURL(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := websocket.Dialer{HandshakeTimeout: opts.timeout}
	conn, _, err := d.DialContext(ctx, endpoint, nil)
	if err != nil {
		logger.Error("dial failed", "url", redact(endpoint), "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	logger.Info("connected", "url", redact(endpoint), "mode", opts.mode)

	w := newWatcher(conn, os.Stdout, logger)
	w.fragments = opts.fragments
	w.once = opts.mode == modeEmailVerified

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := w.run(); err != nil {
		logger.Error("watch stopped", "err", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	opts := options{}
	flagSet := pflag.NewFlagSet("chaty-watch", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.server, "server", "s", "ws://localhost:3000", "websocket server base URL")
	flagSet.StringVarP(&opts.mode, "mode", "m", modeChat, "stream to watch: chat or email-verified")
	flagSet.StringVarP(&opts.token, "token", "t", "", "access token (chat mode)")
	flagSet.StringVarP(&opts.userID, "user-id", "u", "", "user id (email-verified mode)")
	flagSet.DurationVar(&opts.timeout, "timeout", 10*time.Second, "handshake timeout")
	flagSet.BoolVar(&opts.fragments, "fragments", false, "also print rendered HTML fragments")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log skipped frames and connection details")

	if err := flagSet.Parse(args); err != nil {
		return opts, err
	}

	switch opts.mode {
	case modeChat:
		if strings.TrimSpace(opts.token) == "" {
			return opts, stderrors.New("--token is required in chat mode")
		}
	case modeEmailVerified:
		if strings.TrimSpace(opts.userID) == "" {
			return opts, stderrors.New("--user-id is required in email-verified mode")
		}
	default:
		return opts, fmt.Errorf("unknown mode %q", opts.mode)
	}

	return opts, nil
}

func endpointURL(opts options) (string, error) {
	base, err := url.Parse(strings.TrimRight(opts.server, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}

	q := url.Values{}
	switch opts.mode {
	case modeEmailVerified:
		base.Path += "/ws/email-verified"
		q.Set("user_id", opts.userID)
	default:
		base.Path += "/ws/chat"
		q.Set("token", opts.token)
	}
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func redact(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

type wsConn interface {
	ReadMessage() (int, []byte, error)
	Close() error
}

type watcher struct {
	conn      wsConn
	out       io.Writer
	logger    logger
	fragments bool
	// once stops after the first frame, the email-verified stream sends one notice.
	once bool
}

func newWatcher(conn wsConn, out io.Writer, lgr logger) *watcher {
	if lgr == nil {
		lgr = newLogger(false)
	}
	return &watcher{conn: conn, out: out, logger: lgr}
}

func newLogger(verbose bool) glog.Logger {
	if verbose {
		return glog.NewLogger(
			glog.WithLoggerTypePretty(),
			glog.WithLevel(glog.Trace),
			glog.WithName("chaty-watch"),
			glog.WithAddSource(false),
			glog.WithRichErrorHandler(errors.ToSlogAttributes),
		).GetLogger("watch")
	}
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithName("chaty-watch"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	).GetLogger("watch")
}

func (w *watcher) run() error {
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				w.logger.Info("server closed connection", "reason", err)
				return nil
			}
			if stderrors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		w.handleFrame(data)
		if w.once {
			return nil
		}
	}
}

func (w *watcher) handleFrame(data []byte) {
	var env struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err == nil && env.Type != "" {
		var payload any
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			payload = string(env.Payload)
		}
		fmt.Fprintf(w.out, "[%s]\n%s\n", env.Type, print.MaybePrettyJSON(payload))
		return
	}

	text := strings.TrimSpace(string(data))
	if strings.Contains(text, `role="alert"`) {
		fmt.Fprintf(w.out, "[alert]\n%s\n", text)
		return
	}
	if w.once || w.fragments {
		fmt.Fprintf(w.out, "[fragment]\n%s\n", text)
		return
	}
	w.logger.Debug("skipped fragment", "bytes", len(data))
}
