package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	limiterstdlib "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-paybridge/internal/common"
	"github.com/noah-isme/backend-paybridge/internal/config"
	"github.com/noah-isme/backend-paybridge/internal/handlers"
	"github.com/noah-isme/backend-paybridge/internal/health"
	"github.com/noah-isme/backend-paybridge/internal/obs"
	"github.com/noah-isme/backend-paybridge/internal/onboarding"
	"github.com/noah-isme/backend-paybridge/internal/paypal"
	"github.com/noah-isme/backend-paybridge/internal/processor"
	"github.com/noah-isme/backend-paybridge/internal/ratelimit"
	"github.com/noah-isme/backend-paybridge/internal/resilience"
	"github.com/noah-isme/backend-paybridge/internal/security"
	"github.com/noah-isme/backend-paybridge/internal/store"
	"github.com/noah-isme/backend-paybridge/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "paybridge")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "paybridge-api",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			Exporter:      envOrDefault("OBS_TRACING_EXPORTER", "otlp"),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				ctx := context.Background()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "paybridge-api"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metricsEnabled {
		if err := redisotel.InstrumentMetrics(redisClient); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	orders := store.NewPostgres(pool)

	tokens := &paypal.TokenCache{
		ClientID: cfg.PayPalClientID,
		Secret:   cfg.PayPalClientSecret,
		BaseURL:  cfg.PayPalBaseURL,
		HTTP: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.RequestTimeout,
		},
		Margin: cfg.TokenMargin,
		Logger: logger.With().Str("component", "paypal_token").Logger(),
	}
	gateway := &paypal.Client{
		BaseURL: cfg.PayPalBaseURL,
		Tokens:  tokens,
		HTTP: resilience.HTTPClient{
			Client: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			// One attempt only: capture and verification calls must not be
			// retried blindly, redelivery handles transient failures.
			MaxAttempts: 1,
			Timeout:     cfg.RequestTimeout,
		},
		Logger: logger.With().Str("component", "paypal_client").Logger(),
	}
	verifier := paypal.WebhookVerifier{Client: gateway, WebhookID: cfg.PayPalWebhookID}

	captures := &processor.Processor{
		Store:   orders,
		Gateway: gateway,
		Logger:  logger.With().Str("component", "processor").Logger(),
	}

	registry := webhook.NewRegistry()
	handlerLogger := logger.With().Str("component", "webhook_handlers").Logger()
	registry.Register(&handlers.VaultPaymentTokenCreated{
		Store:     orders,
		Processor: captures,
		Prefix:    cfg.CustomerIDPrefix,
		Logger:    handlerLogger,
	})
	registry.Register(&handlers.VaultPaymentTokenDeleted{Store: orders, Prefix: cfg.CustomerIDPrefix, Logger: handlerLogger})
	registry.Register(&handlers.PaymentCaptureCompleted{Store: orders, Logger: handlerLogger})
	registry.Register(&handlers.PaymentCaptureRefunded{Store: orders, Logger: handlerLogger})
	registry.Register(&handlers.PaymentCaptureDenied{Store: orders, Logger: handlerLogger})
	registry.Register(&handlers.BillingSubscriptionStatusChanged{Store: orders, Logger: handlerLogger})
	registry.Register(&handlers.ShippingTrackingUpdated{Store: orders, Logger: handlerLogger})
	registry.Register(&handlers.DisputeCreated{Store: orders, Logger: handlerLogger})
	registry.ExemptFromVerification(cfg.VerificationExemptEvents...)
	logger.Info().Strs("event_types", registry.EventTypes()).Msg("webhook handlers registered")

	dispatcher := &webhook.Dispatcher{
		Registry:  registry,
		Verifier:  verifier,
		Replay:    redisClient,
		ReplayTTL: cfg.ReplayTTL,
		Logger:    logger.With().Str("component", "webhook_dispatcher").Logger(),
	}

	connectGen := &onboarding.Generator{
		Referrals:   gateway,
		Cache:       redisClient,
		TTL:         cfg.OnboardingTTL,
		Environment: cfg.PayPalEnvironment,
		ReturnURL:   cfg.OnboardingReturn,
		Logger:      logger.With().Str("component", "onboarding").Logger(),
	}
	connectHandler := &onboarding.Handler{Gen: connectGen}

	limiterStore, err := limiterredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{Prefix: "rl:webhook"})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	webhookLimiter := limiterstdlib.NewMiddleware(limiter.New(limiterStore, limiter.Rate{
		Period: time.Minute,
		Limit:  int64(cfg.WebhookRatePerMinute),
	}))

	connectLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:connect:"},
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				if uid := strings.TrimSpace(r.URL.Query().Get("user_id")); uid != "" {
					return uid
				}
				return common.ClientIP(r)
			},
			Window: time.Minute,
			Max:    envInt("ONBOARDING_RATE_PER_MINUTE", 30),
		},
		OnError: func(err error) {
			logger.Error().Err(err).Msg("rate limit store unavailable")
		},
	}

	var httpMetrics *obs.HTTPMetrics
	if metricsEnabled {
		buckets := obs.ParseBucketsCSV(envOrDefault("OBS_METRICS_BUCKETS_MS", ""))
		httpMetrics = obs.NewHTTPMetrics(metricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if metricsEnabled && httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(security.Headers{
		Enable:     envBool("SECURE_HEADERS_ENABLED", true),
		EnableHSTS: envBool("SECURE_HSTS_ENABLED", false),
	}.Middleware)

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}
	pprofEnabled := envBool("OBS_ENABLE_PPROF", true)
	if pprofEnabled {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	bodyLimit := security.BodyLimit{Max: int64(envInt("SECURE_MAX_BODY_BYTES", 1<<20))}
	r.Route("/api/v1", func(v chi.Router) {
		v.With(bodyLimit.Middleware, webhookLimiter.Handler).Post("/webhooks/paypal", dispatcher.Handle)
		v.With(connectLimiter.Middleware).Get("/onboarding/connect-url", connectHandler.ConnectURL)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		sig := <-stop
		logger.Info().Str("signal", sig.String()).Msg("shutting down")

		// Fail the readiness probe first so load balancers drain us before
		// in-flight requests are cut off.
		health.SetReady(false)
		time.Sleep(envDurationMillis("SHUTDOWN_DRAIN_DELAY_MS", 2000))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}()

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

type readinessChecker struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

func (c readinessChecker) PingDB(ctx context.Context, timeout time.Duration) error {
	if c.db == nil {
		return errors.New("db not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.db.Ping(ctx)
}

func (c readinessChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	if c.redis == nil {
		return errors.New("redis not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.redis.Ping(ctx).Err()
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDurationMillis(key string, fallback int) time.Duration {
	return time.Duration(envInt(key, fallback)) * time.Millisecond
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/block", pprof.Handler("block"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	mux.Handle("/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
