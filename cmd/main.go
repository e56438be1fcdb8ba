package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"campuscart/chat-service/internal/auth"
	"campuscart/chat-service/internal/cache"
	"campuscart/chat-service/internal/events"
	grpcServer "campuscart/chat-service/internal/grpc"
	"campuscart/chat-service/internal/httpapi"
	"campuscart/chat-service/internal/live"
	"campuscart/chat-service/internal/repository"
	"campuscart/chat-service/internal/service"

	pb "github.com/kegazani/metachat-proto/chat"
	"github.com/sirupsen/logrus"
)

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.http_port", "8080")
	viper.SetDefault("server.grpc_port", "50055")
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)

	viper.SetDefault("storage.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "campuscart")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	viper.SetDefault("auth.id_claim", "id")

	viper.SetDefault("live.broker", "local")
	viper.SetDefault("live.redis_channel", "chat:live")
	viper.SetDefault("live.nats_subject", "chat.live")
	viper.SetDefault("live.send_queue_size", live.DefaultSendQueueSize)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("cache.profile_ttl", time.Hour)
	viper.SetDefault("nats.url", nats.DefaultURL)
	viper.SetDefault("kafka.topic", "chat.message.sent")

	viper.SetDefault("chat.touch_retries", 3)
	viper.SetDefault("chat.touch_backoff", 50*time.Millisecond)
	viper.SetDefault("chat.max_content_length", 4000)
	viper.SetDefault("chat.history_page_size", 50)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

func newLogger() *logrus.Logger {
	logger := logrus.New()

	switch viper.GetString("logging.level") {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "info":
		logger.SetLevel(logrus.InfoLevel)
	case "warn":
		logger.SetLevel(logrus.WarnLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if viper.GetString("logging.format") == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{})
	}
	return logger
}

func openDatabase(ctx context.Context) (*sql.DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.host"),
		viper.GetInt("database.port"),
		viper.GetString("database.dbname"),
		viper.GetString("database.sslmode"),
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(viper.GetInt("database.max_open_conns"))
	db.SetMaxIdleConns(viper.GetInt("database.max_idle_conns"))
	db.SetConnMaxLifetime(viper.GetDuration("database.conn_max_lifetime"))

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func main() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix("")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/app/config")
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		logrus.Fatalf("Failed to read config file: %v", err)
	}

	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		chatRepo  repository.ChatRepository
		directory repository.UserDirectory
	)

	switch driver := viper.GetString("storage.driver"); driver {
	case "memory":
		store := repository.NewMemoryStore()
		chatRepo, directory = store, store
		logger.Warn("Using in-memory storage, data is lost on restart")
	case "postgres":
		db, err := openDatabase(ctx)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		logger.Info("Connected to PostgreSQL database")

		chatRepo = repository.NewChatRepository(db)
		directory = repository.NewUserDirectory(db)
		if err := chatRepo.InitializeTables(ctx); err != nil {
			logger.Fatalf("Failed to initialize database tables: %v", err)
		}
	default:
		logger.Fatalf("Unknown storage driver %q", driver)
	}

	var redisClient *redis.Client
	needRedis := viper.GetString("live.broker") == "redis" || viper.GetBool("cache.enabled")
	if needRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Failed to connect to redis: %v", err)
		}
		logger.Info("Connected to Redis")
	}

	if viper.GetBool("cache.enabled") {
		directory = cache.NewCachedDirectory(directory, &cache.ProfileCache{
			R:   redisClient,
			TTL: viper.GetDuration("cache.profile_ttl"),
		}, logger)
	}

	registry := live.NewRegistry()

	var broker live.Broker
	switch name := viper.GetString("live.broker"); name {
	case "local":
		broker = live.NewLocalBroker(registry)
	case "redis":
		broker = live.NewRedisBroker(redisClient, viper.GetString("live.redis_channel"), registry, logger)
	case "nats":
		nc, err := nats.Connect(viper.GetString("nats.url"),
			nats.Name("campuscart-chat"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer nc.Drain()
		broker = live.NewNATSBroker(nc, viper.GetString("live.nats_subject"), registry, logger)
	default:
		logger.Fatalf("Unknown live broker %q", name)
	}
	logger.WithField("broker", viper.GetString("live.broker")).Info("Live delivery configured")

	var sink events.Sink = events.NopSink{}
	if brokers := viper.GetStringSlice("kafka.brokers"); len(brokers) > 0 {
		sink = events.NewKafkaSink(brokers, viper.GetString("kafka.topic"))
		logger.WithField("topic", viper.GetString("kafka.topic")).Info("Kafka message sink enabled")
	}

	chatService := service.NewChatService(chatRepo, directory, broker, sink, service.Config{
		TouchRetries:     viper.GetInt("chat.touch_retries"),
		TouchBackoff:     viper.GetDuration("chat.touch_backoff"),
		MaxContentLength: viper.GetInt("chat.max_content_length"),
		HistoryPageSize:  viper.GetInt("chat.history_page_size"),
	}, logger)

	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		logger.Fatal("auth.jwt_secret is required")
	}
	authenticator := auth.NewAuthenticator(secret, viper.GetString("auth.id_claim"))

	liveHandler := live.NewHandler(registry, broker, authenticator, live.HandlerConfig{
		SendQueueSize:    viper.GetInt("live.send_queue_size"),
		AllowedOrigins:   viper.GetStringSlice("server.allowed_origins"),
		MaxContentLength: viper.GetInt("chat.max_content_length"),
		Profiles:         directory,
	}, logger)

	router := httpapi.NewRouter(httpapi.NewHandler(chatService, chatRepo, logger), authenticator, liveHandler, logger)

	host := viper.GetString("server.host")
	httpAddress := net.JoinHostPort(host, viper.GetString("server.http_port"))
	httpSrv := &http.Server{
		Addr:              httpAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcAddress := net.JoinHostPort(host, viper.GetString("server.grpc_port"))
	lis, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		logger.Fatalf("Failed to listen on %s: %v", grpcAddress, err)
	}

	s := grpc.NewServer()
	pb.RegisterChatServiceServer(s, grpcServer.NewChatServer(chatService, logger))

	if viper.GetBool("grpc.reflection_enabled") {
		reflection.Register(s)
		logger.Info("gRPC reflection enabled")
	}

	brokerCtx, cancelBroker := context.WithCancel(context.Background())
	brokerDone := make(chan struct{})
	go func() {
		defer close(brokerDone)
		live.Supervise(brokerCtx, broker, time.Second, 30*time.Second, logger)
	}()

	go func() {
		logger.Infof("Starting gRPC server on %s", grpcAddress)
		if err := s.Serve(lis); err != nil {
			logger.Fatalf("Failed to start gRPC server: %v", err)
		}
	}()

	go func() {
		logger.Infof("Starting HTTP server on %s", httpAddress)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down servers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("server.shutdown_timeout"))
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		chatService.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("Servers exited gracefully")
	case <-shutdownCtx.Done():
		logger.Info("Server shutdown timeout")
		s.Stop()
	}

	cancelBroker()
	<-brokerDone

	if err := sink.Close(); err != nil {
		logger.WithError(err).Warn("Failed to close message sink")
	}

	logger.Info("Server exited")
}
