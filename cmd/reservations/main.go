package main

import (
	"context"
	"os"

	bookingsHandler "swimbook/internal/bookings/handler"
	bookingsRepository "swimbook/internal/bookings/repository"
	bookingsService "swimbook/internal/bookings/service"
	bookingsValidator "swimbook/internal/bookings/validator"
	"swimbook/internal/capacity"
	membersRepository "swimbook/internal/members/repository"
	sessionsHandler "swimbook/internal/sessions/handler"
	sessionsRepository "swimbook/internal/sessions/repository"
	sessionsService "swimbook/internal/sessions/service"
	sessionsValidator "swimbook/internal/sessions/validator"
	"swimbook/pkg/app"
	"swimbook/pkg/config"
	"swimbook/pkg/db"
	"swimbook/pkg/db/memory"
	mongodb "swimbook/pkg/db/mongo"
	"swimbook/pkg/events"
	"swimbook/pkg/kafka"
	kafka_config "swimbook/pkg/kafka/config"
	kafka_middleware "swimbook/pkg/kafka/middleware"
)

const ServiceName = "reservations"

type stores struct {
	sessions  sessionsRepository.SessionRepository
	bookings  bookingsRepository.BookingRepository
	members   membersRepository.MemberRepository
	txManager db.TransactionManager
}

func main() {
	cfg := config.Load(ServiceName)
	cfg.Log.Info("Starting Reservations service")

	if cfg.UsesMongo() {
		cfg.SetMongo()
	}
	cfg.SetRedis()

	s := initStores(cfg)
	publisher, publishMetrics := initPublisher(cfg)
	viewer := capacity.NewViewer(s.sessions, s.bookings)
	bookingValidator := bookingsValidator.NewBookingValidator(cfg.Log)

	reservationService := bookingsService.NewReservationService(
		s.bookings,
		s.sessions,
		s.members,
		viewer,
		s.txManager,
		publisher,
		bookingValidator,
		cfg,
	)
	sessionService := sessionsService.NewSessionService(
		s.sessions,
		viewer,
		s.txManager,
		reservationService,
		sessionsValidator.NewSessionValidator(cfg.Log),
		cfg,
	)

	serverApp := app.NewApplication(cfg)
	serverApp.OnShutdown(publisher.Close)
	if publishMetrics != nil {
		serverApp.OnShutdown(func() error {
			publishMetrics.Log(cfg.Log)
			return nil
		})
	}
	serverApp.SetApp(readinessCheckers(cfg),
		sessionsHandler.NewSessionHandler(sessionService, cfg.Log),
		bookingsHandler.NewBookingHandler(reservationService, bookingValidator, cfg.Log),
	)
	serverApp.Run()
}

func initStores(cfg *config.Config) stores {
	if cfg.UsesMongo() {
		s := stores{
			sessions:  sessionsRepository.NewMongoSessionRepository(cfg),
			bookings:  bookingsRepository.NewMongoBookingRepository(cfg),
			members:   membersRepository.NewMongoMemberRepository(cfg),
			txManager: mongodb.NewTransactionManager(cfg.Client.Mongo),
		}
		s.members = withMemberCache(cfg, s.members)
		cfg.Log.Info("Stores initialized", "driver", cfg.StoreDriver, "database", cfg.MongoDatabaseName)
		return s
	}

	sessions := sessionsRepository.NewMemorySessionRepository()
	bookings := bookingsRepository.NewMemoryBookingRepository()
	s := stores{
		sessions:  sessions,
		bookings:  bookings,
		members:   withMemberCache(cfg, loadMemoryMembers(cfg)),
		txManager: memory.NewTransactionManager(sessions, bookings),
	}
	cfg.Log.Info("Stores initialized", "driver", cfg.StoreDriver)
	return s
}

func loadMemoryMembers(cfg *config.Config) membersRepository.MemberRepository {
	directory := membersRepository.NewMemoryMemberRepository()
	if cfg.MemberSeedFile == "" {
		cfg.Log.Warn("No member seed file configured, member directory is empty")
		return directory
	}

	f, err := os.Open(cfg.MemberSeedFile)
	if err != nil {
		cfg.Log.Fatal("Failed to open member seed file", "path", cfg.MemberSeedFile, "error", err)
	}
	defer f.Close()

	members, err := membersRepository.LoadMembers(f)
	if err != nil {
		cfg.Log.Fatal("Failed to load member seed file", "path", cfg.MemberSeedFile, "error", err)
	}
	for _, m := range members {
		directory.Add(m)
	}
	cfg.Log.Info("Member directory seeded", "count", len(members))
	return directory
}

func withMemberCache(cfg *config.Config, members membersRepository.MemberRepository) membersRepository.MemberRepository {
	if cfg.Client.Redis == nil {
		return members
	}
	cfg.Log.Info("Member lookups cached in Redis", "ttl", cfg.MemberCacheTTL)
	return membersRepository.NewCachedMemberRepository(members, cfg.Client.Redis, cfg.MemberCacheTTL, cfg.Log)
}

// initPublisher returns the configured event publisher. Metrics are only
// collected for Kafka and are nil otherwise.
func initPublisher(cfg *config.Config) (events.Publisher, *kafka_middleware.PublishMetrics) {
	switch cfg.EventsBroker {
	case config.BrokerKafka:
		kafkaCfg, err := kafka_config.Load(cfg.EventsTopic)
		if err != nil {
			cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
		}
		producer, err := kafka.NewProducer(kafkaCfg, cfg.Log)
		if err != nil {
			cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
		}
		metrics := kafka_middleware.NewPublishMetrics()
		producer.Use(kafka_middleware.MetricsProducerMiddleware(metrics))
		if kafkaCfg.EnableMiddleware {
			producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
		}
		cfg.Log.Info("Publishing booking events to Kafka", "topic", cfg.EventsTopic, "brokers", kafkaCfg.Brokers)
		return events.NewKafkaPublisher(producer), metrics
	case config.BrokerRabbitMQ:
		cfg.Log.Info("Publishing booking events to RabbitMQ", "queue", cfg.RabbitMQQueue)
		return events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue, cfg.Log), nil
	default:
		cfg.Log.Info("Event publishing disabled")
		return events.NewNopPublisher(), nil
	}
}

func readinessCheckers(cfg *config.Config) []app.Checker {
	var checkers []app.Checker
	if cfg.Client.Mongo != nil {
		checkers = append(checkers, app.Checker{
			Name: "mongo",
			Check: func(ctx context.Context) error {
				return cfg.Client.Mongo.Ping(ctx, nil)
			},
		})
	}
	if cfg.Client.Redis != nil {
		checkers = append(checkers, app.Checker{
			Name: "redis",
			Check: func(ctx context.Context) error {
				return cfg.Client.Redis.Ping(ctx).Err()
			},
		})
	}
	return checkers
}
