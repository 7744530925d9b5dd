package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/soulline/backend/config"
	"github.com/soulline/backend/internal/api/handlers"
	"github.com/soulline/backend/internal/api/middleware"
	"github.com/soulline/backend/internal/api/routes"
	"github.com/soulline/backend/internal/cache"
	"github.com/soulline/backend/internal/logger"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/queue"
	"github.com/soulline/backend/internal/realtime"
	mongorepo "github.com/soulline/backend/internal/repositories/mongo"
	pgrepo "github.com/soulline/backend/internal/repositories/postgres"
	"github.com/soulline/backend/internal/services"
	"github.com/soulline/backend/internal/workers"
)

func main() {
	_ = godotenv.Load()
	log := logger.New()

	if err := config.InitPostgres(); err != nil {
		log.WithError(err).Fatal("PostgreSQL init failed")
	}
	if err := config.InitMongo(); err != nil {
		log.WithError(err).Fatal("MongoDB init failed")
	}
	if err := config.InitRedis(); err != nil {
		log.WithError(err).Fatal("Redis init failed")
	}
	if err := config.EnsureMongoIndexes(); err != nil {
		log.WithError(err).Warn("mongo index bootstrap failed")
	}
	if err := config.PostgresDB.AutoMigrate(
		&models.Session{}, &models.Wallet{}, &models.Transaction{}, &models.ConsultantRate{},
	); err != nil {
		log.WithError(err).Fatal("migration failed")
	}

	engineCfg, err := config.LoadEngine()
	if err != nil {
		log.WithError(err).Fatal("engine config invalid")
	}
	rateLimitCfg := config.LoadRateLimit()

	// event publisher is optional: without a broker the engine still runs
	var events queue.Publisher = queue.NopPublisher{}
	var amqpPub *queue.AMQPPublisher
	if err := config.InitRabbitMQ(); err != nil {
		log.WithError(err).Warn("RabbitMQ unavailable, events disabled")
	} else {
		amqpPub, err = queue.NewAMQPPublisher(config.RabbitConn, log)
		if err != nil {
			log.WithError(err).Warn("RabbitMQ channel failed, events disabled")
		} else {
			events = amqpPub
		}
	}

	sessionRepo := pgrepo.NewSessionRepo(config.PostgresDB)
	walletRepo := pgrepo.NewWalletRepo(config.PostgresDB)
	rateRepo := pgrepo.NewRateRepo(config.PostgresDB)
	messageRepo := mongorepo.NewMessageRepo(config.MongoDatabase())

	ledgerSvc := services.NewLedgerService(walletRepo, events, log)
	sessionSvc := services.NewSessionService(sessionRepo, rateRepo)
	messageSvc := services.NewMessageService(messageRepo)

	redisCache := cache.NewRedisCache(config.RedisClient)
	hub := realtime.NewHub(engineCfg, realtime.Deps{
		Ledger:   ledgerSvc,
		Sessions: sessionSvc,
		Messages: messageSvc,
		Dedup:    realtime.NewDeduper(redisCache, engineCfg.DedupWindow),
		Events:   events,
		Log:      log,
	})

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	sweeper := &workers.BookingSweeper{Sessions: sessionRepo, Hub: hub, Logger: log}
	if err := sweeper.Start(workerCtx); err != nil {
		log.WithError(err).Fatal("booking sweeper failed to start")
	}

	verifier := &realtime.HS256Verifier{Secret: []byte(os.Getenv("AUTH_JWT_SECRET"))}

	r := gin.New()
	r.Use(middleware.RequestLogger(log), gin.Recovery())
	routes.RegisterRoutes(r, routes.Deps{
		Session:   handlers.NewSessionHandler(sessionSvc, messageSvc, hub),
		Wallet:    handlers.NewWalletHandler(ledgerSvc),
		WS:        handlers.NewWSHandler(hub, verifier, engineCfg, log),
		RateLimit: rateLimitCfg,
		Redis:     config.RedisClient,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	srv := &http.Server{Addr: ":" + port, Handler: r}

	serverDone := make(chan error, 1)
	go func() {
		log.WithField("port", port).Info("server listening")
		serverDone <- srv.ListenAndServe()
	}()

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverDone:
		log.WithError(err).Error("server stopped")
	case sig := <-osSignals:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	// live sessions first so every room broadcasts session_ended
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	hub.Shutdown(shutdownCtx)
	stopWorkers()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	if amqpPub != nil {
		amqpPub.Close()
	}
	log.Info("shutdown complete")
}
