package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/booking"
	"github.com/iliyamo/travel-booking/internal/clock"
	"github.com/iliyamo/travel-booking/internal/config"
	"github.com/iliyamo/travel-booking/internal/csrf"
	"github.com/iliyamo/travel-booking/internal/database"
	"github.com/iliyamo/travel-booking/internal/handler"
	"github.com/iliyamo/travel-booking/internal/kv"
	"github.com/iliyamo/travel-booking/internal/lockout"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/metrics"
	"github.com/iliyamo/travel-booking/internal/payment"
	"github.com/iliyamo/travel-booking/internal/queue"
	"github.com/iliyamo/travel-booking/internal/ratelimit"
	"github.com/iliyamo/travel-booking/internal/repository"
	"github.com/iliyamo/travel-booking/internal/router"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	sec := config.LoadSecurityConfig()
	rl := config.LoadRateLimitConfig()
	qc := config.LoadQueueConfig()
	rc := config.LoadRedisConfig()

	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "travel-booking"})
	metrics.Register()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatal("mysql connect failed", "err", err)
	}
	defer db.Close()
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatal("schema migration failed", "err", err)
		}
	}

	clk := clock.System{}
	rdb, store := sharedStore(ctx, cfg, rc, clk, log)
	if rdb != nil {
		defer rdb.Close()
	}

	limiter := ratelimit.New(store, clk, sec.StoreTimeout)
	tracker := lockout.New(store, clk, sec.Lockout, sec.StoreTimeout)
	guard := csrf.New(store, clk, sec.CSRFTTL, sec.StoreTimeout)

	publisher := queue.NewPublisher(qc.AMQPURL, log)
	var streams []audit.Stream
	switch qc.AuditStream {
	case config.AuditStreamAMQP:
		streams = append(streams, publisher)
	case config.AuditStreamKafka:
		ks, err := queue.NewKafkaAuditSink(qc.KafkaBrokers, qc.AuditTopic, log)
		if err != nil {
			log.Fatal("kafka audit sink", "err", err)
		}
		defer ks.Close()
		streams = append(streams, ks)
	}
	auditLog := audit.NewLog(repository.NewAuditRepo(db), clk, sec.StoreTimeout, log, streams...)

	bookings := booking.NewService(repository.NewBookingRepo(db), auditLog, publisher, clk, sec.StoreTimeout, log)

	switch {
	case !qc.RefundConsumer:
	case sec.PaymentBaseURL == "":
		log.Warn("PAYMENT_BASE_URL not set; refund consumer disabled")
	default:
		worker := &queue.RefundWorker{
			Refunder: payment.NewHTTPRefunder(sec.PaymentBaseURL, []byte(sec.WebhookSecret), sec.PaymentTimeout),
			Bookings: bookings,
			Timeout:  sec.PaymentTimeout,
			Log:      log,
		}
		go func() {
			if err := queue.StartRefundConsumer(ctx, qc.AMQPURL, worker, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("refund consumer stopped", "err", err)
			}
		}()
	}

	e := echo.New()
	deps := router.Deps{
		JWTSecret: cfg.JWTSecret,
		Sec:       sec,
		RateLimit: rl,
		Limiter:   limiter,
		CSRF:      guard,
		Audit:     auditLog,
		Log:       log,
	}
	router.Configure(e, deps)

	bh := handler.NewBookingHandler(bookings, sec.RequestTimeout)
	router.RegisterRoutes(e, handler.NewHealthHandler(db, rdb))
	router.RegisterAuth(e, deps,
		handler.NewAuthHandler(cfg, sec, repository.NewUserRepo(db), repository.NewTokenRepo(db),
			tracker, guard, auditLog, clk, log),
		handler.NewCSRFHandler(guard, sec))
	router.RegisterBookings(e, deps, bh)
	router.RegisterAdmin(e, deps, bh, handler.NewAuditHandler(auditLog))
	router.RegisterWebhooks(e, deps, bh)

	addr := ":" + cfg.Port
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		log.Error("shutdown", "err", err)
	}
}

// sharedStore returns the Redis-backed store every instance shares. A
// process-local store is only accepted outside prod or when explicitly
// allowed, since per-instance counters make limits ineffective.
func sharedStore(ctx context.Context, cfg config.Config, rc config.RedisConfig, c clock.Clock, log *logger.Logger) (*redis.Client, kv.Store) {
	if rdb := config.NewRedisClient(rc); rdb != nil {
		return rdb, kv.NewRedisStore(rdb, "tb")
	}
	if cfg.IsProd() && !cfg.AllowLocalStores {
		log.Fatal("redis unreachable; refusing per-instance gate stores in prod (set ALLOW_LOCAL_STORES=true to override)")
	}
	log.Warn("redis unreachable; using process-local gate stores", "addr", rc.Addr)
	mem := kv.NewMemoryStore(c)
	mem.StartSweeper(ctx, time.Minute)
	return nil, mem
}
