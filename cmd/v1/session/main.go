package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/watchsync/core/internal/v1/admission"
	"github.com/watchsync/core/internal/v1/auth"
	"github.com/watchsync/core/internal/v1/bus"
	"github.com/watchsync/core/internal/v1/config"
	"github.com/watchsync/core/internal/v1/health"
	"github.com/watchsync/core/internal/v1/idgen"
	"github.com/watchsync/core/internal/v1/logging"
	"github.com/watchsync/core/internal/v1/middleware"
	"github.com/watchsync/core/internal/v1/ratelimit"
	"github.com/watchsync/core/internal/v1/session"
	"github.com/watchsync/core/internal/v1/store"
	"github.com/watchsync/core/internal/v1/tracing"
)

func main() {
	envPaths := []string{".env", "../../../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		logging.Fatal(context.Background(), "invalid configuration", zap.Error(err))
	}

	var validator session.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(context.Background(), "authentication disabled: do not use this configuration in production")
		validator = &auth.MockValidator{}
	} else {
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			logging.Fatal(context.Background(), "AUTH0_DOMAIN and AUTH0_AUDIENCE must be set when SKIP_AUTH=false")
		}
		v, err := auth.NewValidator(context.Background(), cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(context.Background(), "failed to create auth validator", zap.Error(err))
		}
		validator = v
	}

	metaStore := store.New(cfg.StoreDSN)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go metaStore.RunSweep(sweepCtx, cfg.RoomSweepInterval)
	defer stopSweep()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(context.Background(), cfg.TracingServiceName, cfg.TracingCollectorAddr)
		if err != nil {
			logging.Warn(context.Background(), "tracing unavailable, continuing untraced", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tp.Shutdown(shutdownCtx); err != nil {
					logging.Warn(context.Background(), "tracer provider shutdown failed", zap.Error(err))
				}
			}()
		}
	}

	var busService *bus.Service
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Warn(context.Background(), "redis bus unavailable, running single-instance fan-out only", zap.Error(err))
			busService = nil
		} else {
			redisClient = busService.Client()
		}
	}

	hub := session.NewHub(validator, metaStore, wrapBus(busService), session.Config{
		AllowedOrigins: cfg.CORSOrigins,
		PingInterval:   cfg.SocketPingInterval,
		PongTimeout:    cfg.SocketPingTimeout,
		GracePeriod:    time.Duration(cfg.HostReconnectGraceMs) * time.Millisecond,
	})

	admissionHandler := admission.NewHandler(metaStore, idgen.New(cfg.RoomIDLength), hub, cfg.RoomExpiryDays)

	var limiterMw gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if rl, err := ratelimit.New(cfg, redisClient); err != nil {
		logging.Warn(context.Background(), "rate limiter disabled", zap.Error(err))
	} else {
		limiterMw = rl.Middleware()
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = cfg.CORSOrigins
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	router.Use(cors.New(corsCfg))

	healthHandler := health.NewHandler(metaStore, busService)
	router.GET("/health", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", hub.ServeWs)

	authMw := admission.RequireAuth(validator.(admission.TokenValidator))
	apiGroup := router.Group("/")
	apiGroup.Use(limiterMw)
	admissionHandler.RegisterRoutes(apiGroup, authMw)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(context.Background(), "server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(context.Background(), "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(context.Background(), "shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error(context.Background(), "server forced to shutdown", zap.Error(err))
	}
	if busService != nil {
		busService.Close()
	}
	logging.Info(context.Background(), "server exited")
}

// wrapBus adapts a possibly-nil *bus.Service into the Hub's BusService
// interface; a nil *bus.Service already no-ops on every method, so a nil
// Service wrapped here is indistinguishable from no bus at all.
func wrapBus(s *bus.Service) session.BusService {
	if s == nil {
		return nil
	}
	return s
}
