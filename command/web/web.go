// Package web serves the cost dashboard and its JSON API, and runs the refresh scheduler
// in the background.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"cloud-costs/connectors/store"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/config"
	"cloud-costs/domain/recommend"
	"cloud-costs/pipeline"
)

// uploadLimit bounds POST /api/upload bodies.
const uploadLimit = "32M"

// NewCommand builds `web`.
func NewCommand(load func() (*config.Config, error)) *cobra.Command {
	var (
		addr       string
		noSchedule bool
	)
	cmd := &cobra.Command{
		Use:   "web",
		Short: "Serve the cost dashboard and refresh provider data on a schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Web.Addr = addr
			}
			return Run(cmd.Context(), *cfg, !noSchedule)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address (default from config web.addr)")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "do not run the periodic refresh")
	return cmd
}

// Run opens the store, starts the scheduler and serves until ctx is done.
func Run(ctx context.Context, cfg config.Config, schedule bool) error {
	st, err := store.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	refresher := pipeline.NewRefresher(st, cfg, pipeline.NewMetrics(registry))

	if schedule {
		sched := pipeline.NewScheduler(refresher, cfg.Schedule.Interval, cfg.Schedule.FetchTimeout)
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Schedule.FetchTimeout)
			defer cancel()
			sched.Stop(stopCtx)
		}()
	}

	e := New(Deps{
		Store:        st,
		Refresher:    refresher,
		Registry:     registry,
		FetchTimeout: cfg.Schedule.FetchTimeout,
		Recommend:    recommend.DefaultOptions(),
	})

	errc := make(chan error, 1)
	go func() {
		slog.Info("web.listen", "addr", cfg.Web.Addr)
		errc <- e.Start(cfg.Web.Addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	slog.Info("web.shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}

// Deps are the collaborators of the HTTP server.
type Deps struct {
	Store        cloudspending.Store
	Refresher    pipeline.Runner
	Registry     *prometheus.Registry
	FetchTimeout time.Duration
	Recommend    recommend.Options
}

// New builds the echo server with every route registered.
func New(d Deps) *echo.Echo {
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	if d.FetchTimeout <= 0 {
		d.FetchTimeout = 2 * time.Minute
	}
	h := &handlers{Deps: d}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Renderer = newRenderer()
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.Use(requestMetrics(d.Registry))

	e.GET("/", h.dashboard)
	e.GET("/healthz", h.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(d.Registry, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	api.GET("/costs", h.costs)
	api.GET("/costs/services", h.services)
	api.GET("/costs/daily", h.daily)
	api.GET("/recommendations", h.recommendations)
	api.GET("/export.csv", h.export)
	api.POST("/upload", h.upload, middleware.BodyLimit(uploadLimit))
	api.POST("/credentials", h.saveCredentials)
	api.GET("/credentials/:provider", h.showCredentials)
	api.POST("/refresh", h.refresh)
	return e
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency.String()}
			if v.Error != nil {
				slog.Warn("web.request", append(attrs, "error", v.Error)...)
				return nil
			}
			slog.Debug("web.request", attrs...)
			return nil
		},
	})
}

// requestMetrics counts requests per route pattern, not per raw path.
func requestMetrics(reg prometheus.Registerer) echo.MiddlewareFunc {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cloud_costs",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, []string{"route", "method", "code"})
	reg.MustRegister(requests)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			code := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				code = he.Code
			}
			requests.WithLabelValues(c.Path(), c.Request().Method, strconv.Itoa(code)).Inc()
			return err
		}
	}
}
