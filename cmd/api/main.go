package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/esewa-checkout/internal/basket"
	"github.com/noah-isme/esewa-checkout/internal/config"
	"github.com/noah-isme/esewa-checkout/internal/esewa"
	"github.com/noah-isme/esewa-checkout/internal/events"
	"github.com/noah-isme/esewa-checkout/internal/health"
	"github.com/noah-isme/esewa-checkout/internal/obs"
	"github.com/noah-isme/esewa-checkout/internal/order"
	"github.com/noah-isme/esewa-checkout/internal/payment"
	"github.com/noah-isme/esewa-checkout/internal/ratelimit"
	"github.com/noah-isme/esewa-checkout/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("env", cfg.AppEnv).Logger()

	metricsNamespace := envOrDefault("OBS_METRICS_NAMESPACE", "esewa_checkout")
	metricsEnabled := envBool("OBS_ENABLE_PROMETHEUS", true)
	obs.MustRegisterDomainMetrics(metricsNamespace, nil)

	tracingEnabled := envBool("OBS_ENABLE_TRACING", true)
	if tracingEnabled {
		sampling := envFloat("OBS_TRACING_SAMPLING_RATIO", 1.0)
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "esewa-checkout",
			Endpoint:      envOrDefault("OBS_OTLP_ENDPOINT", ""),
			SamplingRatio: sampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.MigrationsEnabled {
		if err := migrations.Run(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("run migrations")
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
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "esewa-checkout"

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

	numbers, err := order.NewNumberCodec(cfg.OrderNumberSalt, cfg.OrderNumberPrefix)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise order number codec")
	}

	baskets := &basket.Store{Pool: pool}
	offers := &basket.OfferApplicator{Pool: pool, TaxBps: cfg.PricingTaxRateBPS}
	placer := &order.Placer{Pool: pool, Currency: cfg.CurrencyCode}

	bus := &events.Bus{
		Store:  &events.PGStore{Pool: pool},
		Topics: events.DefaultTopics(),
	}

	notifyURL := strings.TrimRight(cfg.PublicBaseURL, "/") + "/api/v1/payments/esewa/notify"
	processor := esewa.Processor{Config: esewa.Config{
		MerchantCode:  cfg.EsewaMerchantCode,
		MerchantEmail: cfg.EsewaMerchantEmail,
		SecretKey:     cfg.EsewaSecretKey,
		BaseURL:       cfg.EsewaBaseURL,
		SuccessURL:    notifyURL,
		FailureURL:    cfg.PaymentErrorURL(),
		SignedFields:  cfg.EsewaSignedFields,
	}}
	verifier := &esewa.Client{
		BaseURL:       cfg.EsewaBaseURL,
		VerifyPath:    cfg.EsewaVerifyPath,
		MerchantCode:  cfg.EsewaMerchantCode,
		MerchantEmail: cfg.EsewaMerchantEmail,
		SecretKey:     cfg.EsewaSecretKey,
		Timeout:       cfg.EsewaVerifyTimeout,
	}

	paymentHandler := &payment.Handler{
		Baskets:   baskets,
		Offers:    offers,
		Numbers:   numbers,
		Processor: processor,
		Credit:    esewa.CreditIssuer{Logger: logger},
		Validate:  validator.New(),
		Logger:    logger,
	}
	webhook := &payment.Webhook{
		Verifier:     verifier,
		Baskets:      baskets,
		Offers:       offers,
		Orders:       placer,
		References:   numbers,
		Audit:        &payment.Recorder{Pool: pool},
		Events:       bus,
		Replay:       redisClient,
		ReplayTTL:    cfg.NotifyReplayTTL,
		SuccessCodes: cfg.EsewaSuccessCodes,
		ErrorURL:     cfg.PaymentErrorURL(),
		ReceiptURL: func(orderNumber string) string {
			return order.ReceiptURL(cfg.ReceiptBaseURL, orderNumber)
		},
		Logger: logger,
	}
	notifyLimiter := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: redisClient, Prefix: "rl:notify"},
		Config: ratelimit.Config{
			Key: func(r *http.Request) string {
				host, _, found := strings.Cut(r.RemoteAddr, ":")
				if !found {
					host = r.RemoteAddr
				}
				return host
			},
			Window: cfg.NotifyRateWindow,
			Max:    cfg.NotifyRateMax,
		},
		OnError: func(err error) {
			logger.Warn().Err(err).Msg("rate limiter unavailable")
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	healthHandler := health.Handler{
		Checker:      readinessChecker{db: pool, redis: redisClient},
		DBTimeout:    envDurationMillis("HEALTH_READY_DB_TIMEOUT_MS", 500),
		RedisTimeout: envDurationMillis("HEALTH_READY_REDIS_TIMEOUT_MS", 300),
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Route("/payments/esewa", func(p chi.Router) {
			p.Post("/request", paymentHandler.CreateRequest)
			// The gateway redirects the customer's browser here, so the
			// notification arrives as a GET or POST without any auth token.
			p.Group(func(n chi.Router) {
				n.Use(notifyLimiter.Middleware)
				n.Get("/notify", webhook.Handle)
				n.Post("/notify", webhook.Handle)
			})
		})
		v.Post("/admin/refunds", paymentHandler.IssueCredit)
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: r,
	}

	logger.Info().Str("addr", srv.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server exited unexpectedly")
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
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
