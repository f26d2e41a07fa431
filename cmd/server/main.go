package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/drivetime/lesson-booking/internal/audit"
	"github.com/drivetime/lesson-booking/internal/calendar"
	"github.com/drivetime/lesson-booking/internal/config"
	"github.com/drivetime/lesson-booking/internal/database"
	"github.com/drivetime/lesson-booking/internal/engine"
	"github.com/drivetime/lesson-booking/internal/handler"
	"github.com/drivetime/lesson-booking/internal/hub"
	"github.com/drivetime/lesson-booking/internal/middleware"
	"github.com/drivetime/lesson-booking/internal/queue"
	"github.com/drivetime/lesson-booking/internal/ratelimit"
	"github.com/drivetime/lesson-booking/internal/repository"
	"github.com/drivetime/lesson-booking/internal/router"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	// Repositories
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	slots := repository.NewSlotRepository(db)
	store := repository.NewBookingStore(db)
	auditRepo := repository.NewAuditRepository(db)

	// Realtime hub shared by the engine and the calendar importer.
	availability := hub.New()

	recorder := audit.NewRecorder(auditRepo, cfg.QueueEvents)
	eng := engine.New(store, recorder, availability)

	// Calendar importer is optional; without a feed URL the resync
	// endpoint reports it as unconfigured.
	var syncer *calendar.Syncer
	if cfg.CalendarICSURL != "" {
		loc, err := time.LoadLocation(cfg.CalendarTimezone)
		if err != nil {
			log.Printf("calendar: unknown timezone %q, using UTC", cfg.CalendarTimezone)
			loc = time.UTC
		}
		syncer = calendar.NewSyncer(calendar.Config{
			FeedURL:         cfg.CalendarICSURL,
			Location:        loc,
			Tag:             cfg.CalendarName,
			DefaultCapacity: cfg.CalendarCapacity,
		}, slots, availability)
	}

	// Background consumer mirrors lifecycle events to logs/booking.log.
	if cfg.QueueEvents {
		go func() {
			if err := queue.StartBookingConsumer(); err != nil {
				log.Printf("booking-consumer: %v", err)
			}
		}()
	}

	e := echo.New()

	rlCfg := config.LoadRateLimitConfig()
	limiter := ratelimit.New()
	rateMW := middleware.NewRateLimit(rlCfg, limiter)

	// Hourly housekeeping: drop expired refresh tokens and idle limiter
	// keys so neither grows for the life of the process.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := tokens.PruneExpired(ctx, time.Now().UTC()); err != nil {
				log.Printf("maintenance: prune refresh tokens: %v", err)
			} else if n > 0 {
				log.Printf("maintenance: pruned %d expired refresh token(s)", n)
			}
			cancel()
			limiter.Sweep(rlCfg.Window)
		}
	}()

	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret, rateMW)

	// Public slot listing, cached in Redis when available.
	cacheMW := middleware.NewRedisCache(config.LoadCacheConfig(), config.NewRedisClient())
	router.RegisterPublic(e, handler.NewSlotHandler(slots), cacheMW)

	router.RegisterBookings(e, handler.NewBookingHandler(eng, store, auditRepo), cfg.JWTSecret, rateMW)
	router.RegisterAdmin(e, handler.NewAdminHandler(eng, slots, store, auditRepo, users, syncer), cfg.JWTSecret)
	router.RegisterWS(e, handler.NewWSHandler(availability), cfg.JWTSecret)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
