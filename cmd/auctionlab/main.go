package main

import (
	"context"
	"database/sql"

	auctionApp "github.com/davicafu/auctionlab/internal/auction/application"
	auctionDomain "github.com/davicafu/auctionlab/internal/auction/domain"
	auctionEvents "github.com/davicafu/auctionlab/internal/auction/infra/inbound/events"
	auctionHttp "github.com/davicafu/auctionlab/internal/auction/infra/inbound/http"
	clickhouseRepo "github.com/davicafu/auctionlab/internal/auction/infra/outbound/analytics/clickhouse"
	auctionCache "github.com/davicafu/auctionlab/internal/auction/infra/outbound/cache"
	auctionRepoPostgres "github.com/davicafu/auctionlab/internal/auction/infra/outbound/db/postgre"
	auctionRepoSQLite "github.com/davicafu/auctionlab/internal/auction/infra/outbound/db/sqlite"
	config "github.com/davicafu/auctionlab/internal/config"
	infraEvents "github.com/davicafu/auctionlab/internal/shared/infra/events"
	outboxPostgres "github.com/davicafu/auctionlab/internal/shared/infra/platform/db/postgres"
	outboxSQLite "github.com/davicafu/auctionlab/internal/shared/infra/platform/db/sqlite"
	"github.com/davicafu/auctionlab/internal/shared/infra/relayer"
	"github.com/davicafu/auctionlab/pkg/logger"

	sharedDomain "github.com/davicafu/auctionlab/internal/shared/domain"
	sharedBus "github.com/davicafu/auctionlab/internal/shared/infra/platform/bus"
	sharedCache "github.com/davicafu/auctionlab/internal/shared/infra/platform/cache"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ---------------- Main ----------------
func main() {
	logger.Init()
	log := logger.Logger()
	defer log.Sync()

	ctx := context.Background()
	cfg := config.LoadConfig()

	// ---------------- DB ----------------
	var auctionRepo auctionDomain.AuctionRepository
	var ledger sharedDomain.OutboxLedger

	if cfg.PostgresDSN != "" {
		db, err := sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatal("failed to open Postgres", zap.Error(err))
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			log.Fatal("failed to ping Postgres", zap.Error(err))
		}
		if err := auctionRepoPostgres.InitPostgres(db); err != nil {
			log.Fatal("failed to initialize Postgres", zap.Error(err))
		}

		auctionRepo = auctionRepoPostgres.NewAuctionRepoPostgres(db)
		pgLedger := outboxPostgres.NewOutboxRepoPostgres(db)
		pgLedger.Visibility = cfg.OutboxVisibility
		pgLedger.Base = cfg.BackoffBase
		pgLedger.Max = cfg.BackoffMax
		ledger = pgLedger

		log.Info("✅ Postgres conectado")
	} else {
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			log.Fatal("failed to open SQLite", zap.Error(err))
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			log.Fatal("failed to ping SQLite", zap.Error(err))
		}
		if err := auctionRepoSQLite.InitSQLite(db); err != nil {
			log.Fatal("failed to initialize SQLite", zap.Error(err))
		}

		auctionRepo = auctionRepoSQLite.NewAuctionRepoSQLite(db)
		liteLedger := outboxSQLite.NewOutboxRepoSQLite(db)
		liteLedger.Visibility = cfg.OutboxVisibility
		liteLedger.Base = cfg.BackoffBase
		liteLedger.Max = cfg.BackoffMax
		ledger = liteLedger

		log.Info("✅ SQLite listo", zap.String("path", cfg.SQLitePath))
	}

	// ---------------- Cache ----------------
	var cacheInstance sharedCache.Cache
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn("⚠️ Redis no disponible, cache en memoria:", zap.Error(err))
		cacheInstance = auctionCache.NewInMemoryCache(cfg.CacheTTL, 3*cfg.CacheTTL)
	} else {
		cacheInstance = auctionCache.NewRedisAuctionCache(rdb, cfg.CacheTTL)
		log.Info("✅ Redis conectado, cache habilitado")
	}

	// --------------- Servicio --------------
	auctionService := auctionApp.NewAuctionService(auctionRepo, cacheInstance, log)

	// ---------------- Events ---------------
	eventRegistry := auctionDomain.NewEventRegistry()

	var publisher sharedBus.EventBus

	if cfg.UseKafka {
		log.Info("🚀 Usando Kafka como bus de eventos")

		writer := kafka.NewWriter(kafka.WriterConfig{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopicAuction,
		})
		defer writer.Close()

		publisher = infraEvents.NewKafkaPublisher(writer, log)

		if sink := newAnalyticsSink(cfg, log); sink != nil {
			consumer := auctionEvents.NewAuctionConsumer(sink, log)

			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:  cfg.KafkaBrokers,
				Topic:    cfg.KafkaTopicAuction,
				GroupID:  "auctionlab-analytics",
				MinBytes: 10e3, // 10KB
				MaxBytes: 10e6, // 10MB
			})
			defer reader.Close()

			consumerAdapter := infraEvents.NewConsumerAdapter(reader, consumer, log)
			consumerAdapter.Start(ctx)
		}
	} else {
		log.Info("⚡️Usando bus de eventos en memoria (canales de Go)")

		inMemoryBus := infraEvents.NewInMemoryEventBus(auctionDomain.AuctionTopic)
		publisher = inMemoryBus

		if sink := newAnalyticsSink(cfg, log); sink != nil {
			consumer := auctionEvents.NewAuctionConsumer(sink, log)
			eventsChannel := inMemoryBus.Subscribe(10)

			log.Info("🎧 Iniciando listener en memoria para eventos de subastas")
			auctionEvents.BackgroundConsumerChan(ctx, eventsChannel, consumer)
		}
	}

	// ------------- Outbox Relay ------------
	// Se podría ejecutar externamente; varias instancias se coordinan a través
	// del claim del ledger.
	relay := relayer.NewOutboxRelay(ledger, publisher, eventRegistry,
		cfg.RelayPeriod, cfg.RelayBatchSize, cfg.RelayMaxAttempts, log)
	relay.Start(ctx)

	// ---------------- HTTP ----------------
	auctionHandler := auctionHttp.NewAuctionHandler(auctionService)
	router := gin.Default()
	auctionHttp.RegisterAuctionRoutes(router, auctionHandler)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	log.Info("🚀 Server running",
		zap.String("url", "http://localhost:"+cfg.HTTPPort),
	)
	if err := router.Run(":" + cfg.HTTPPort); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}

// newAnalyticsSink conecta con ClickHouse si está configurado. Sin él, el
// servicio funciona igual; solo se pierde la proyección analítica.
func newAnalyticsSink(cfg *config.Config, log *zap.Logger) auctionEvents.AnalyticsSink {
	if cfg.ClickHouseAddr == "" {
		return nil
	}

	sink, err := clickhouseRepo.NewAuctionAnalyticsRepo(cfg.ClickHouseAddr, cfg.ClickHouseDB)
	if err != nil {
		log.Warn("⚠️ ClickHouse no disponible, sin proyección analítica", zap.Error(err))
		return nil
	}
	if err := sink.InitSchema(); err != nil {
		log.Warn("⚠️ No se pudo inicializar el esquema de ClickHouse", zap.Error(err))
		return nil
	}

	log.Info("✅ ClickHouse conectado, proyección analítica habilitada")
	return sink
}
