package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"licshop/internal/billing"
	"licshop/internal/config"
	apierrors "licshop/internal/errors"
	"licshop/internal/infrastructure"
	"licshop/internal/license"
	"licshop/internal/mail"
	custommw "licshop/internal/middleware"
	"licshop/internal/pdf"
	"licshop/internal/services"
	"licshop/internal/store"
	handlers "licshop/internal/transport/http"
)

const (
	// Version is reported on /api/version and stamped into telemetry.
	Version = "1.0.0"
	AppName = "licshop"
)

// Application is the composition root. Everything it owns is created in
// NewApplication and released in Stop.
type Application struct {
	Config *config.Config
	Router *chi.Mux
	Server *http.Server
	Logger *slog.Logger

	Store         *store.Store
	OTelProviders *infrastructure.OTelProviders

	LicenseService *services.LicenseService
	OrderService   *services.OrderService
	AdminService   *services.AdminService
}

// NewApplication loads configuration and wires every component.
func NewApplication(ctx context.Context) (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version),
		slog.Int("port", cfg.Server.Port),
	)

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}

	st, err := store.Open(ctx, cfg.Storage.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		Store:         st,
		OTelProviders: otelProviders,
	}

	app.initializeServices()
	app.setupRouter()
	app.createServer()

	return app, nil
}

func (a *Application) branding() mail.Branding {
	c := a.Config.Company
	return mail.Branding{
		CompanyName:  c.Name,
		CompanyID:    c.FiscalID,
		Address:      c.Address,
		Phone:        c.Phone,
		ProductName:  c.ProductName,
		ProductURL:   c.ProductURL,
		SupportEmail: c.SupportEmail,
	}
}

func (a *Application) pricing() billing.Pricing {
	p := a.Config.Pricing
	return billing.Pricing{
		BaseCents:        p.BaseCents,
		IVAPercent:       p.IVAPercent,
		RetentionPercent: p.RetentionPercent,
		TotalCents:       p.TotalCents,
	}
}

func (a *Application) initializeServices() {
	metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		a.Logger.Error("failed to create business metrics", slog.String("error", err.Error()))
		metrics = nil
	}

	issuer := license.NewIssuer(a.Store, a.Logger)
	manager := license.NewManager(a.Store, a.Logger)

	sender := mail.NewSMTPSender(mail.SMTPConfig{
		Host:     a.Config.SMTP.Host,
		Port:     a.Config.SMTP.Port,
		Username: a.Config.SMTP.Username,
		Password: a.Config.SMTP.Password,
		From:     a.Config.SMTP.From,
		Timeout:  a.Config.SMTP.Timeout,
	}, a.Logger)

	renderer := pdf.NewChromeRenderer(a.Logger, 0)

	a.LicenseService = services.NewLicenseService(manager, sender, a.branding(), a.Logger, metrics)
	a.OrderService = services.NewOrderService(
		a.Store, issuer, sender, renderer,
		a.pricing(), a.Config.Pricing.Currency, a.Config.Payment,
		a.branding(), a.Logger, metrics,
	)
	a.AdminService = services.NewAdminService(a.Store, a.Logger)
}

func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(custommw.RealIP)

	r.Group(func(r chi.Router) {
		otelMiddleware, err := custommw.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("failed to create telemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(custommw.StructuredLogger(a.Logger))
		r.Use(custommw.Recoverer(a.Logger))
		r.Use(custommw.SecurityHeaders)
		r.Use(custommw.Compress(5))

		if a.Config.Security.EnableCORS {
			r.Use(custommw.CORS(custommw.CORSConfig{
				AllowedOrigins: a.Config.Security.AllowedOrigins,
			}))
		}
		if a.Config.Security.RateLimit.Enabled {
			r.Use(custommw.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

func (a *Application) setupAPIRoutes(r chi.Router) {
	errorHandler := apierrors.NewErrorHandler(a.Logger, a.Config.Security.IncludeStack)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)

		healthHandler := handlers.NewHealthHandler(a.Store, Version, a.Logger)
		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/version", healthHandler.Version)

		licenseHandler := handlers.NewLicenseHandler(a.LicenseService, errorHandler, a.Logger)
		r.Mount("/license", licenseHandler.Routes())

		orderHandler := handlers.NewOrderHandler(a.OrderService, errorHandler, a.Logger)
		r.Mount("/orders", orderHandler.Routes())

		webhookHandler := handlers.NewWebhookHandler(a.OrderService, errorHandler, a.Logger)
		r.Group(func(r chi.Router) {
			r.Use(custommw.WebhookAuth(a.Config.Security.WebhookKey, a.Logger))
			r.Mount("/webhook", webhookHandler.Routes())
		})

		adminHandler := handlers.NewAdminHandler(
			a.OrderService, a.LicenseService, a.AdminService, errorHandler, a.Logger)
		r.Group(func(r chi.Router) {
			r.Use(custommw.AdminAuth(a.Config.Security.AdminKey, a.Logger))
			r.Mount("/admin", adminHandler.Routes())
		})
	})
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Run serves until the context is canceled or a termination signal arrives,
// then shuts down gracefully within the configured timeout.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("http server listening", slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Logger.Info("shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	err := g.Wait()
	a.cleanup()
	return err
}

func (a *Application) cleanup() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Error("storage close failed", slog.String("error", err.Error()))
		}
	}
	if err := infrastructure.CloseLogFile(); err != nil {
		fmt.Fprintf(os.Stderr, "close log file: %v\n", err)
	}
	a.Logger.Info("application stopped")
}
