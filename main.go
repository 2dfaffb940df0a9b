package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"table-service/internal/catalog"
	"table-service/internal/config"
	"table-service/internal/events"
	"table-service/internal/floor"
	"table-service/internal/handlers"
	"table-service/internal/kafka"
	"table-service/internal/logger"
	"table-service/internal/migration"
	"table-service/internal/models"
	"table-service/internal/pricing"
	"table-service/internal/qrtoken"
	"table-service/internal/rabbitmq"
	rediswrap "table-service/internal/redis"
	"table-service/internal/services"
	"table-service/internal/storage"
	"table-service/internal/utils"
)

// Global logger instance
var log *logger.Logger

func main() {
	migrate := flag.Bool("migrate", false, "create the MySQL schema, seed the menu and exit")
	envFile := flag.String("env-file", "", "path to a .env file")
	flag.Parse()

	log = logger.NewLogger()
	defer log.Close()

	if err := loadEnv(*envFile); err != nil {
		log.Warn("ENV", "Error loading .env file, using environment variables")
	}

	log.LogProcess("STARTUP", "Table service starting up...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}
	log.Info("CONFIG", "Configuration loaded successfully")
	utils.SetNodeID(cfg.Server.NodeID)

	if *migrate {
		if err := runMigration(cfg); err != nil {
			log.Fatal("MIGRATE", err.Error())
		}
		log.Info("MIGRATE", "Migration completed successfully")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal("SHUTDOWN", err.Error())
	}
	log.Info("SHUTDOWN", "Table service shutdown completed successfully")
}

func loadEnv(path string) error {
	if path != "" {
		return godotenv.Load(path)
	}
	return godotenv.Load()
}

func run(ctx context.Context, cfg *config.Config) error {
	var mysqlStore *storage.MySQLStore
	openMySQL := func() (*storage.MySQLStore, error) {
		if mysqlStore != nil {
			return mysqlStore, nil
		}
		s, err := storage.NewMySQLStore(cfg.Database, log)
		if err != nil {
			return nil, err
		}
		mysqlStore = s
		return s, nil
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled || cfg.Store.Driver == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("REDIS", "Redis ping failed: "+err.Error())
		} else {
			log.LogProcess("SERVICE", "Redis connection successful")
		}
	}

	// Snapshot backend
	log.LogProcess("DATABASE", "Initializing "+cfg.Store.Driver+" snapshot backend...")
	var backend storage.Backend
	switch cfg.Store.Driver {
	case "memory":
		backend = storage.NewInMemoryStore()
	case "file":
		fs, err := storage.NewFileStore(cfg.Store.Dir, log)
		if err != nil {
			return fmt.Errorf("file store: %w", err)
		}
		backend = fs
	case "mysql":
		ms, err := openMySQL()
		if err != nil {
			return fmt.Errorf("mysql store: %w", err)
		}
		backend = ms
	case "postgres":
		ps, err := storage.NewPostgresStore(ctx, cfg.Postgres.URL, log)
		if err != nil {
			return fmt.Errorf("postgres store: %w", err)
		}
		backend = ps
	case "redis":
		backend = rediswrap.NewSnapshotStore(redisClient, log)
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	defer backend.Close()

	// Menu catalog
	var menu services.MenuCatalog
	switch cfg.Menu.Source {
	case "mysql":
		ms, err := openMySQL()
		if err != nil {
			return fmt.Errorf("menu catalog: %w", err)
		}
		menu = catalog.NewMySQLCatalog(ms.DB())
	default:
		c, err := catalog.Load(cfg.Menu.File)
		if err != nil {
			return err
		}
		menu = c
		log.Info("MENU", fmt.Sprintf("Loaded %d menu items from %s", len(c.Items()), cfg.Menu.File))
	}
	if mysqlStore != nil && cfg.Store.Driver != "mysql" {
		defer mysqlStore.Close()
	}

	// Floor model
	var graph *floor.Graph
	if cfg.Floor.TransitionsFile != "" {
		g, err := floor.LoadGraph(cfg.Floor.TransitionsFile)
		if err != nil {
			return err
		}
		graph = g
	}
	machine := floor.NewMachine(graph, cfg.Floor.MaxCovers)

	taxDefault, err := pricing.ParseTaxDefault(cfg.Pricing.DefaultTaxCode, cfg.Pricing.DefaultTaxName, cfg.Pricing.DefaultTaxRate)
	if err != nil {
		return fmt.Errorf("default tax: %w", err)
	}

	// Stores
	tableStore := services.NewTableStore(backend, cfg.Store.KeyPrefix, log)
	orderStore := services.NewOrderStore(backend, cfg.Store.KeyPrefix, log)
	sessionStore := services.NewSessionStore(backend, cfg.Store.KeyPrefix, log)
	for _, s := range []interface{ Initialize(context.Context) error }{tableStore, orderStore, sessionStore} {
		if err := s.Initialize(ctx); err != nil {
			return fmt.Errorf("store initialization: %w", err)
		}
	}
	defer tableStore.Close()
	defer orderStore.Close()
	defer sessionStore.Close()
	log.LogDatabase("INIT", cfg.Store.Driver, "Stores initialized successfully")

	bus := events.NewBus(cfg.Events.HistorySize, cfg.Events.SubscriberBuffer, log)
	defer bus.Close()

	// Services
	qr := qrtoken.NewManager(cfg.QR.Secret, cfg.QR.TokenTTL)
	tables := services.NewTableService(tableStore, machine, qr, bus, log)
	sessions := services.NewSessionService(sessionStore, tables, qr, bus, log, services.SessionConfig{
		TTL:       cfg.Session.TTL,
		Extension: cfg.Session.Extension,
	})

	orderable := make([]models.TableStatus, 0, len(cfg.Floor.OrderableStatuses))
	for _, st := range cfg.Floor.OrderableStatuses {
		orderable = append(orderable, models.TableStatus(st))
	}
	orders := services.NewOrderService(orderStore, tables, sessions, menu, bus, log, services.OrderConfig{
		OrderableStatuses: orderable,
		TaxDefault:        taxDefault,
		DefaultStock:      cfg.Inventory.DefaultStock,
		DefaultMinStock:   cfg.Inventory.DefaultMinStock,
	})

	var (
		preferences services.PreferenceCreator
		checker     services.CheckoutStatusChecker
	)
	if cfg.Stripe.SecretKey != "" {
		stripeService, err := services.NewStripeService(cfg.Stripe, log)
		if err != nil {
			return fmt.Errorf("stripe: %w", err)
		}
		preferences = stripeService
		checker = stripeService
	} else {
		log.Warn("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		preferences = services.NewOfflinePreferences(cfg.Stripe.SuccessURL, log)
	}

	var lock services.CheckoutLock
	if redisClient != nil {
		lock = rediswrap.NewRedis(redisClient, cfg.Store.KeyPrefix)
	}
	checkout := services.NewCheckoutService(orders, tables, sessions, preferences, lock, bus, log, cfg.Pricing.Currency, cfg.Checkout.PhoneRegion)
	payments := services.NewPaymentService(orders, tables, sessions, checker, log)
	log.LogProcess("SERVICE", "All services initialized")

	seeds, err := floor.LoadSeeds(cfg.Floor.SeedFile)
	if err != nil {
		return err
	}
	if created, err := tables.ProvisionTables(ctx, seeds); err != nil {
		return fmt.Errorf("table provisioning: %w", err)
	} else if len(created) > 0 {
		log.Info("FLOOR", fmt.Sprintf("Provisioned %d tables from %s", len(created), cfg.Floor.SeedFile))
	}

	// Outbound messaging
	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, !cfg.Kafka.Enabled, log)
	if err != nil {
		return fmt.Errorf("kafka producer: %w", err)
	}
	defer producer.Close()
	if cfg.Kafka.Enabled {
		defer producer.Forward(bus)()
	}

	if cfg.RabbitMQ.Enabled {
		kitchen, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, tables, log)
		if err != nil {
			return fmt.Errorf("rabbitmq: %w", err)
		}
		defer kitchen.Close()
		defer kitchen.Attach(bus)()
	}

	router := handlers.NewRouter(handlers.Set{
		Tables:   handlers.NewTableHandler(tables),
		Orders:   handlers.NewOrderHandler(orders),
		Sessions: handlers.NewSessionHandler(sessions),
		Events:   handlers.NewEventHandler(bus),
		Payments: handlers.NewPaymentHandler(checkout, payments, cfg.Stripe.WebhookSecret, log),
	}, handlers.DefaultRouterOptions(), log)

	srv := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.LogProcess("SERVER", "Starting HTTP server on port "+cfg.Server.Port)
		log.Info("STARTUP", "Health check available at: http://localhost"+cfg.Server.Port+"/health")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Warn("SHUTDOWN", "Received shutdown signal, initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	sweeper := services.NewSweeper(sessions, orders, cfg.Session.CleanupInterval, cfg.Session.CleanupRetention, log)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if cfg.Kafka.Enabled {
		consumer, err := kafka.NewConsumer(cfg.Kafka, log)
		if err != nil {
			return fmt.Errorf("kafka consumer: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return consumer.Close()
		})
		g.Go(func() error {
			log.LogKafka("START", "consumer", "Starting Kafka payment consumer")
			return consumer.ConsumePayments(gctx, payments.ProcessPaymentEvent)
		})
	}

	return g.Wait()
}

func runMigration(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := sql.Open("mysql", storage.DSN(cfg.Database, "multiStatements=true"))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	var seed []models.MenuItemSnapshot
	if c, err := catalog.Load(cfg.Menu.File); err == nil {
		seed = c.Items()
	} else {
		log.Warn("MIGRATE", "Menu file not loaded, skipping seed: "+err.Error())
	}
	return migration.Run(ctx, db, seed, log)
}
