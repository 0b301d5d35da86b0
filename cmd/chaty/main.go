package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	gconfig "github.com/goliatone/go-config/config"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/goliatone/go-chaty"
	"github.com/goliatone/go-chaty/activitymap"
	"github.com/goliatone/go-chaty/config"
	"github.com/goliatone/go-chaty/middleware/jwtware"
	"github.com/goliatone/go-chaty/provider/keycloak"
)

type App struct {
	config *gconfig.Container[*config.Config]
	logger *glog.BaseLogger

	bunDB *bun.DB
	repo  chaty.RepositoryManager

	admin     *keycloak.Admin
	client    *keycloak.Client
	jwks      *keycloak.JWKSValidator
	validator chaty.TokenValidator

	dispatcher *chaty.Dispatcher
	bus        *chaty.VerificationBus
	registry   *chaty.ChannelRegistry[chaty.Envelope]
	chat       *chaty.ChatFanout
	fragments  *chaty.Fragments
	service    *chaty.Service

	srv router.Server[*fiber.App]
}

func (a *App) Config() *config.Config {
	return a.config.Raw()
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Trace),
		glog.WithName("chaty"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)

	cfg := gconfig.New(&config.Config{}).
		WithLogger(lgr.GetLogger("config"))

	ctx := context.Background()
	if err := cfg.Load(ctx); err != nil {
		panic(err)
	}

	fmt.Println("============")
	fmt.Println(print.MaybeHighlightJSON(cfg.Raw()))
	fmt.Println("============")

	app := &App{
		config: cfg,
		logger: lgr,
	}

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithIdentityProvider(ctx, app); err != nil {
		panic(err)
	}

	if err := WithCore(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	Routes(app)
	SocketRoutes(app)

	go func() {
		if err := app.srv.Serve(app.Config().GetApp().Address()); err != nil {
			app.GetLogger("app").Error("server stopped", "error", err)
		}
	}()

	sig := WaitExitSignal()
	app.GetLogger("app").Info("shutting down", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	Shutdown(shutdownCtx, app)
}

func WithPersistence(ctx context.Context, app *App) error {
	pcfg := app.Config().GetPersistence()

	db, err := sql.Open(sqliteshim.ShimName, pcfg.GetServer())
	if err != nil {
		return err
	}

	persistence.RegisterModel((*chaty.User)(nil))
	persistence.RegisterModel((*chaty.Contact)(nil))

	client, err := persistence.New(pcfg, db, sqlitedialect.New())
	if err != nil {
		return err
	}

	client.SetLogger(app.GetLogger("persistence"))
	migrationsFS, err := fs.Sub(chaty.GetMigrationsFS(), "data/sql/migrations")
	if err != nil {
		return err
	}
	client.RegisterDialectMigrations(
		migrationsFS,
		persistence.WithDialectSourceLabel("data/sql/migrations"),
		persistence.WithValidationTargets("postgres", "sqlite"),
	)
	if err := client.ValidateDialects(ctx); err != nil {
		return err
	}

	if err := client.Migrate(ctx); err != nil {
		return err
	}

	if report := client.Report(); report != nil && !report.IsZero() {
		app.GetLogger("persistence").Info("migrations applied", "report", report.String())
	}

	app.bunDB = client.DB()
	app.repo = chaty.NewRepositoryManager(client.DB())
	app.repo.MustValidate()

	return nil
}

func WithIdentityProvider(ctx context.Context, app *App) error {
	kc := app.Config().GetKeycloak()
	kcfg := keycloak.Config{
		URL:           kc.URL,
		Realm:         kc.Realm,
		ClientID:      kc.ClientID,
		ClientSecret:  kc.ClientSecret,
		AdminUsername: kc.AdminUsername,
		AdminPassword: kc.AdminPassword,
		EmailLifespan: kc.GetEmailLifespan(),
	}

	admin, err := keycloak.NewAdmin(kcfg)
	if err != nil {
		return err
	}

	client, err := keycloak.NewClient(kcfg)
	if err != nil {
		return err
	}

	jwks, err := keycloak.NewJWKSValidator(kcfg,
		keycloak.WithJWKSLogger(app.GetLogger("jwks")),
	)
	if err != nil {
		return err
	}

	app.admin = admin
	app.client = client
	app.jwks = jwks
	// Local JWKS validation first, introspection for tokens it cannot parse.
	app.validator = chaty.NewMultiTokenValidator(jwks, chaty.NewIntrospectionValidator(client))

	return nil
}

func WithCore(ctx context.Context, app *App) error {
	cfg := app.Config()

	signer, err := chaty.NewHMACSigner(cfg.GetKeycloak().HMACKey())
	if err != nil {
		return err
	}

	fragments, err := chaty.NewFragments(nil)
	if err != nil {
		return err
	}

	dcfg := cfg.GetDispatcher()
	app.dispatcher = chaty.NewDispatcher(
		chaty.WithDispatcherWorkers(dcfg.Workers),
		chaty.WithDispatcherQueueSize(dcfg.QueueSize),
		chaty.WithDispatcherTaskTimeout(dcfg.GetTaskTimeout()),
		chaty.WithDispatcherLogger(app.GetLogger("dispatcher")),
	)

	capacity := cfg.GetChannels().Capacity
	app.bus = chaty.NewVerificationBus(
		chaty.WithVerificationBusCapacity(capacity),
		chaty.WithVerificationBusLogger(app.GetLogger("bus")),
	)
	app.registry = chaty.NewChannelRegistry[chaty.Envelope](chaty.WithChannelCapacity(capacity))
	app.chat = chaty.NewChatFanout(app.registry, chaty.WithChatFanoutLogger(app.GetLogger("chat")))
	app.fragments = fragments

	var limiter *chaty.KeyedLimiter
	if rl := cfg.GetRateLimit(); rl.Enabled() {
		limiter = chaty.NewKeyedLimiter(chaty.PerMinute(rl.SendVerifyEmailPerMinute, rl.Burst))
	}

	app.service = chaty.NewService(app.admin, app.client, signer, app.repo.Users(),
		chaty.WithServiceLogger(app.GetLogger("workflow")),
		chaty.WithServiceContacts(app.repo.Contacts()),
		chaty.WithServiceBus(app.bus),
		chaty.WithServiceTaskRunner(app.dispatcher),
		chaty.WithServiceRateLimiter(limiter),
		chaty.WithServiceFragments(fragments),
		chaty.WithServiceRedirectBase(cfg.GetApp().RedirectSendVerifyEmailURL),
		chaty.WithServiceActivitySink(activitymap.LogSink(app.GetLogger("activity"))),
	)

	return nil
}

func WithHTTPServer(ctx context.Context, app *App) error {
	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			EnablePrintRoutes: app.Config().GetApp().Dev,
			StrictRouting:     false,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))
	app.srv = srv

	return nil
}

func Routes(app *App) {
	acfg := app.Config().GetApp()

	protected := chaty.NewAuthMiddleware(app.validator, app.client, jwtware.Config{
		ContextKey:  chaty.DefaultSessionContextKey,
		TokenLookup: "header:Authorization",
		AuthScheme:  "Bearer",
	})

	ctrl := chaty.NewHTTPController(app.service, app.chat, chaty.HTTPConfig{
		SessionContextKey: chaty.DefaultSessionContextKey,
		LoginRedirect:     acfg.GetLoginRedirect(),
		ErrorRedirect:     acfg.GetErrorRedirect(),
		Dev:               acfg.Dev,
		Logger:            app.GetLogger("http"),
	})

	ctrl.RegisterRoutes(app.srv.Router(), protected)
}

func SocketRoutes(app *App) {
	r := app.srv.Router()
	wsLogger := app.GetLogger("ws")

	chatSocket := chaty.NewChatSocket(app.chat, app.fragments, wsLogger)
	chatHandler := router.ChainWSMiddleware(
		router.NewWSRecover(),
		chaty.NewWSAuthMiddleware(app.validator),
	)(chatSocket.Handle)

	verifiedSocket := chaty.NewEmailVerifiedSocket(app.bus, wsLogger)
	verifiedHandler := router.ChainWSMiddleware(
		router.NewWSRecover(),
	)(verifiedSocket.Handle)

	r.Get("/ws/chat", router.WebSocketHandler(chatHandler))
	r.Get("/ws/email-verified", router.WebSocketHandler(verifiedHandler))
}

// Shutdown stops accepting work, drains detached tasks and closes open channels.
func Shutdown(ctx context.Context, app *App) {
	logger := app.GetLogger("app")

	if err := app.srv.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", "error", err)
	}

	if err := app.dispatcher.Shutdown(ctx); err != nil {
		logger.Error("dispatcher shutdown", "error", err, "pending", app.dispatcher.Pending())
	}

	app.registry.Close()
	app.bus.Close()
	app.jwks.Close()

	if err := app.bunDB.Close(); err != nil {
		logger.Error("database close", "error", err)
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
