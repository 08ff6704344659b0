package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"hwcast/internal/broadcast"
	"hwcast/internal/config"
	"hwcast/internal/metrics"
	"hwcast/internal/middleware"
	"hwcast/internal/models"
	"hwcast/internal/telemetry"
	"hwcast/internal/utils"
	"hwcast/internal/version"
)

type App struct {
	cfg         *config.Config
	logger      *utils.Logger
	registry    *prometheus.Registry
	metrics     *metrics.Telemetry
	feed        *broadcast.Broadcaster[models.HardwareSnapshot]
	wsHandler   *middleware.ConnectionHandler
	rateLimiter *middleware.RateLimiter
}

func newApp(cfg *config.Config, logger *utils.Logger) *App {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	tm := metrics.New(reg)
	feed := broadcast.New[models.HardwareSnapshot]()
	return &App{
		cfg:         cfg,
		logger:      logger,
		registry:    reg,
		metrics:     tm,
		feed:        feed,
		wsHandler:   middleware.NewConnectionHandler(feed, logger, tm),
		rateLimiter: middleware.PerMinute(cfg.WSRate, tm),
	}
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "hwcast: %v\n", err)
		os.Exit(2)
	}

	logger := utils.NewLogger(cfg.LogFile, cfg.LogLevel)
	defer logger.Close()
	if cfg.DotEnvLoaded {
		logger.Infof("using .env configuration")
	} else {
		logger.Warnf(".env file not found, using environment and defaults")
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	logger.Infof("hwcast %s starting", version.String())
	if err := run(cfg, logger); err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *utils.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := newApp(cfg, logger)
	defer app.rateLimiter.Stop()

	sampler, err := telemetry.NewSystemSampler(ctx, telemetry.NewHostSource())
	if err != nil {
		return fmt.Errorf("initial sample: %w", err)
	}
	loop := telemetry.NewSamplingLoop(sampler, app.feed, cfg.Interval(), logger, app.metrics)

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}
	srv := &http.Server{
		Handler:           setupRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return loop.Run(gctx)
	})
	g.Go(func() error {
		logger.Infof("serving hardware telemetry on ws://%s/ws", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Infof("shutting down")
		// Closing the feed ends every websocket handler; Shutdown does not
		// wait for hijacked connections.
		app.feed.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.NATMap {
		if cfg.AllInterfaces() {
			g.Go(func() error {
				utils.MaintainPortMapping(gctx, logger.With("nat"), "tcp", cfg.Port)
				return nil
			})
		} else {
			logger.Warnf("NAT mapping requested but listener is loopback-only; skipping")
		}
	}

	return g.Wait()
}

func setupRouter(app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Output:    app.logger.Writer(),
		SkipPaths: []string{"/healthz", "/metrics"},
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC1123),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))
	r.Use(middleware.SecurityHeaders())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"subscribers": app.feed.Subscribers(),
			"sequence":    app.feed.Sequence(),
		})
	})
	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.Current())
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))

	// Clients connect to the bare host as well as /ws.
	ws := app.wsHandler.HandleWebSocket()
	r.GET("/", app.rateLimiter.Middleware(), ws)
	r.GET("/ws", app.rateLimiter.Middleware(), ws)

	return r
}
