package service

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"carelink-core/internal/config"
	"carelink-core/internal/consumer"
	"carelink-core/internal/database"
	"carelink-core/internal/engine"
	httpapi "carelink-core/internal/http"
	"carelink-core/internal/mqttclient"
	"carelink-core/internal/notifier"
	"carelink-core/internal/publisher"
	"carelink-core/internal/repository"
)

// CareLinkService 照护联动服务（整合各层）
type CareLinkService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttclient.Client
	logger      *zap.Logger

	// 各层组件
	devicesRepo  *repository.DevicesRepository
	eventsRepo   *repository.EventsRepository
	patientsRepo *repository.PatientsRepository
	engine       *engine.Engine
	consumer     *consumer.MQTTConsumer
	httpServer   *http.Server
}

// NewCareLinkService 创建照护联动服务
func NewCareLinkService(cfg *config.Config, logger *zap.Logger) (*CareLinkService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT Broker
	mqttClient, err := mqttclient.NewClient(&cfg.MQTT, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mqtt broker: %w", err)
	}

	// 4. 创建 Repository 层
	devicesRepo := repository.NewDevicesRepository(db, logger)
	eventsRepo := repository.NewEventsRepository(db, logger)
	patientsRepo := repository.NewPatientsRepository(db, logger)

	// 5. 创建通知器和发布器
	lineNotifier := notifier.NewLineNotifier(&cfg.Line, patientsRepo, logger)
	streamPublisher := publisher.NewStreamPublisher(redisClient, cfg.CareLink.TransitionStream, logger)

	// 6. 创建状态机引擎
	eng := engine.NewEngine(db, lineNotifier, streamPublisher, logger)

	// 7. 创建 MQTT 消费者
	mqttConsumer := consumer.NewMQTTConsumer(cfg, mqttClient, devicesRepo, eng, logger)

	// 8. 创建 HTTP 路由
	router := httpapi.NewRouter(logger)
	router.RegisterEventRoutes(httpapi.NewEventHandler(eng, eventsRepo, logger))
	router.RegisterDeviceRoutes(httpapi.NewDeviceHandler(eng, devicesRepo, logger))
	router.RegisterHealthRoute()

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return &CareLinkService{
		config:       cfg,
		db:           db,
		redisClient:  redisClient,
		mqttClient:   mqttClient,
		logger:       logger,
		devicesRepo:  devicesRepo,
		eventsRepo:   eventsRepo,
		patientsRepo: patientsRepo,
		engine:       eng,
		consumer:     mqttConsumer,
		httpServer:   httpServer,
	}, nil
}

// Start 启动服务（阻塞直到 ctx 取消或出错）
func (s *CareLinkService) Start(ctx context.Context) error {
	s.logger.Info("Starting carelink service",
		zap.String("http_addr", s.config.HTTP.Addr),
		zap.String("mqtt_broker", s.config.MQTT.Broker),
	)

	errChan := make(chan error, 2)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	go func() {
		if err := s.consumer.Start(ctx); err != nil {
			errChan <- fmt.Errorf("mqtt consumer error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop 停止服务
func (s *CareLinkService) Stop() error {
	s.logger.Info("Stopping carelink service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Failed to shutdown http server", zap.Error(err))
	}

	if err := s.consumer.Stop(shutdownCtx); err != nil {
		s.logger.Error("Failed to stop mqtt consumer", zap.Error(err))
	}

	s.mqttClient.Disconnect()

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}

	return nil
}
