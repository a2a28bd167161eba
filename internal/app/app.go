package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"keygate/internal/activation"
	"keygate/internal/config"
	"keygate/internal/infrastructure"
	"keygate/internal/middleware"
	handlers "keygate/internal/transport/http"
	ws "keygate/internal/websocket"
)

// Application represents the activation host
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Activation    *Stack
	WebSocketHub  *ws.Hub
	StatusWatcher *ws.StatusWatcher
	Router        http.Handler
	Server        *http.Server
}

// NewApplication wires the host from a loaded configuration. Options are
// forwarded to NewStack.
func NewApplication(cfg *config.Config, logger *slog.Logger, opts ...StackOption) (*Application, error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}

	logger.Info("Application starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("addr", cfg.Server.Addr))

	if err := cfg.EnsureStateDir(); err != nil {
		return nil, err
	}

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: providers,
	}

	if err := a.initializeServices(opts); err != nil {
		_ = providers.Shutdown(context.Background())
		return nil, err
	}
	if err := a.setupRouter(); err != nil {
		_ = a.Activation.Close()
		_ = providers.Shutdown(context.Background())
		return nil, err
	}
	a.Server = handlers.NewServer(cfg.Server, a.Router)

	return a, nil
}

func (a *Application) initializeServices(opts []StackOption) error {
	meter := a.OTelProviders.MeterOrNoop()

	metrics, err := activation.InitializeMetrics(meter)
	if err != nil {
		return fmt.Errorf("failed to initialize activation metrics: %w", err)
	}

	stackOpts := append([]StackOption{WithActivationMetrics(metrics)}, opts...)
	a.Activation, err = NewStack(a.Config.Activation, a.Logger, stackOpts...)
	if err != nil {
		return err
	}

	wsMetrics, err := ws.NewMetrics(meter)
	if err != nil {
		_ = a.Activation.Close()
		return fmt.Errorf("failed to initialize websocket metrics: %w", err)
	}

	a.WebSocketHub = ws.NewHub(infrastructure.WithComponent(a.Logger, "websocket"), wsMetrics)
	a.StatusWatcher = ws.NewStatusWatcher(a.Activation.Status, a.WebSocketHub, a.Config.Server.StatusInterval, a.Logger)
	a.WebSocketHub.OnRefresh(a.StatusWatcher.Notify)

	return nil
}

func (a *Application) setupRouter() error {
	otelMW, err := middleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.OTelProviders.MeterOrNoop(), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP instrumentation: %w", err)
	}

	deps := handlers.RouterDeps{
		Activation:   a.Activation.Validator,
		Status:       a.Activation.Status,
		Notifier:     a.StatusWatcher,
		WebSocket:    ws.NewHandler(a.WebSocketHub, a.Config.Server.AllowedOrigins, a.Logger),
		OTel:         otelMW,
		Server:       a.Config.Server,
		Logger:       infrastructure.WithComponent(a.Logger, "http"),
		IncludeStack: a.Config.Logging.Development,
	}
	if a.OTelProviders.PrometheusHTTP != nil {
		deps.Metrics = a.OTelProviders.PrometheusHTTP
	}

	a.Router = handlers.NewRouter(deps)
	return nil
}

// Run listens on the configured address and serves until ctx is done
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Config.Server.Addr)
	if err != nil {
		_ = a.Stop(ctx)
		return fmt.Errorf("failed to listen on %s: %w", a.Config.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the launch check, then the hub, the status watcher and the
// HTTP server on ln until ctx is done or one of them fails. Everything is
// shut down before it returns.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	a.launchCheck(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.WebSocketHub.Run(gctx) })
	g.Go(func() error { return a.StatusWatcher.Run(gctx) })

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "Server listening", slog.String("addr", ln.Addr().String()))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	err := g.Wait()
	return errors.Join(err, a.Stop(context.Background()))
}

// launchCheck re-evaluates the stored activation once at startup so the
// clock sighting is refreshed before the UI asks for status
func (a *Application) launchCheck(ctx context.Context) {
	ctx = infrastructure.EnsureTraceID(ctx)

	result, err := a.Activation.Validator.Check(ctx)
	if err != nil {
		a.Logger.ErrorContext(ctx, "Launch check failed", slog.String("error", err.Error()))
		return
	}
	a.Logger.InfoContext(ctx, "Launch check",
		slog.String("result", result.String()),
		slog.Bool("granted", result.OK()))
}

// Stop flushes telemetry and closes the store
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}
	if err := a.Activation.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}
