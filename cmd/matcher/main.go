package main

import (
	"context"
	"time"

	"bloodmatch/internal/matching/consumer"
	"bloodmatch/internal/matching/donors"
	"bloodmatch/internal/matching/events"
	"bloodmatch/internal/matching/handler"
	"bloodmatch/internal/matching/metrics"
	"bloodmatch/internal/matching/repository"
	"bloodmatch/internal/matching/service"
	"bloodmatch/internal/matching/sweeper"
	"bloodmatch/pkg/app"
	"bloodmatch/pkg/config"
	"bloodmatch/pkg/kafka"
	kafka_middleware "bloodmatch/pkg/kafka/middleware"

	"github.com/prometheus/client_golang/prometheus"
)

const ServiceName = "bloodmatch-matcher"

func main() {
	cfg := config.Load(ServiceName)
	ctx := context.Background()

	if err := cfg.SetMongo(ctx); err != nil {
		cfg.Log.Fatal("Failed to connect to MongoDB", "error", err)
	}

	cfg.Log.Info("Starting matching engine")

	m := metrics.New(prometheus.DefaultRegisterer)
	bus := events.NewBus(cfg.Log)
	engine := initEngine(ctx, cfg, bus, m)

	serverApp := app.NewApplication(cfg, prometheus.DefaultGatherer)
	serverApp.OnShutdown(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		cfg.GracefulShutdown(shutdownCtx)
	})

	if cfg.Kafka.Enabled {
		initKafka(cfg, serverApp, bus, engine, m)
	}
	// closers run in reverse, so the bus drains before the producer closes
	serverApp.OnShutdown(bus.Close)

	expiry := sweeper.New(engine.Requests, cfg.SweepInterval, cfg.RequestRetention, cfg.Log, sweeper.WithMetrics(m))
	serverApp.AddWorker("expiry-sweeper", expiry.Run)

	var pinger handler.Pinger
	if cfg.MongoEnabled {
		pinger = cfg.Client
	}
	serverApp.SetApp(
		handler.NewHealthHandler(pinger, cfg.Log),
		handler.NewMatchingHandler(engine.Service, cfg.Log),
	)

	if err := serverApp.Run(ctx); err != nil {
		cfg.Log.Fatal("Matching engine stopped with error", "error", err)
	}
}

func initEngine(ctx context.Context, cfg *config.Config, bus *events.Bus, m *metrics.Metrics) *service.Engine {
	var store donors.Store
	if cfg.MongoEnabled {
		store = repository.NewMongoDonorRepository(cfg)
	}

	engine := service.NewEngine(cfg, bus, m, store)
	engine.Subscribe(bus, m, cfg.EventBufferSize)

	restoreCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	restored, err := engine.Directory.Restore(restoreCtx)
	if err != nil {
		cfg.Log.Fatal("Failed to restore donor directory", "error", err)
	}

	cfg.Log.Info("Matching engine initialized",
		"restored_donors", restored,
		"shards", cfg.ReservationShards,
		"grid_cell_degrees", cfg.GridCellSizeDegrees,
	)
	return engine
}

func initKafka(cfg *config.Config, serverApp *app.Application, bus *events.Bus, engine *service.Engine, m *metrics.Metrics) {
	kafkaMetrics := kafka_middleware.NewMetrics(prometheus.DefaultRegisterer)

	producer, err := kafka.NewProducer(cfg.Kafka, cfg.Kafka.EventsTopic, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}
	producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
	producer.Use(kafka_middleware.MetricsProducerMiddleware(kafkaMetrics))
	serverApp.OnShutdown(func() {
		if err := producer.Close(); err != nil {
			cfg.Log.Error("Failed to close Kafka producer", "error", err)
		}
	})

	forwarder := events.NewForwarder(producer, cfg.WriteTimeout, cfg.Log)
	bus.Subscribe("kafka-forwarder", cfg.EventBufferSize, forwarder.Handle)

	inbound := consumer.NewInboundHandler(engine.Service, m, cfg.Log)
	kafkaConsumer, err := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.InboundTopic, inbound.Handle, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka consumer", "error", err)
	}
	kafkaConsumer.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
	kafkaConsumer.Use(kafka_middleware.MetricsConsumerMiddleware(kafkaMetrics))
	serverApp.AddWorker("kafka-consumer", kafkaConsumer.Start)
	serverApp.OnShutdown(func() {
		if err := kafkaConsumer.Close(); err != nil {
			cfg.Log.Error("Failed to close Kafka consumer", "error", err)
		}
	})
}
