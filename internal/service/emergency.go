package service

import (
	"context"
	"database/sql"
	"fmt"

	"lifevault-emergency/common/database"
	"lifevault-emergency/common/mqtt"
	commonredis "lifevault-emergency/common/redis"
	"lifevault-emergency/internal/cache"
	"lifevault-emergency/internal/config"
	"lifevault-emergency/internal/engine"
	"lifevault-emergency/internal/models"
	"lifevault-emergency/internal/notifier"
	"lifevault-emergency/internal/repository"
	"lifevault-emergency/internal/scheduler"
	"lifevault-emergency/internal/verification"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
)

// EmergencyService 紧急访问协议服务（整合各层）
type EmergencyService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqtt.Client
	logger      *zap.Logger

	// 各层组件
	requestRepo   *repository.AccessRequestRepository
	protocolRepo  *repository.ProtocolRepository
	contactRepo   *repository.ContactRepository
	verifyRepo    *repository.VerificationRepository
	jobRepo       *repository.ScheduledJobRepository
	protocolCache *cache.ProtocolCache
	jobScheduler  *scheduler.Scheduler
	registry      *verification.Registry
	router        *notifier.Router
	engine        *engine.Engine
}

// NewEmergencyService 创建紧急访问服务
func NewEmergencyService(cfg *config.Config, logger *zap.Logger) (*EmergencyService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 连接 MQTT（可选）
	var mqttClient *mqtt.Client
	if cfg.Emergency.Notify.MQTTEnabled {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("failed to connect mqtt: %w", err)
		}
	}

	// 4. 创建 Repository 层
	requestRepo := repository.NewAccessRequestRepository(db, logger)
	protocolRepo := repository.NewProtocolRepository(db, logger)
	contactRepo := repository.NewContactRepository(db, logger)
	verifyRepo := repository.NewVerificationRepository(db, logger)
	jobRepo := repository.NewScheduledJobRepository(db, logger)

	// 5. 创建缓存与调度器
	protocolCache := cache.NewProtocolCache(cfg, redisClient, logger)
	jobScheduler := scheduler.NewScheduler(cfg, jobRepo, logger)

	// 6. 注册验证方法
	registry := verification.NewRegistry()
	registry.Register(verification.NewCodeAdapter(cfg, models.MethodEmailCode, redisClient, logger))
	registry.Register(verification.NewCodeAdapter(cfg, models.MethodSMSCode, redisClient, logger))
	registry.Register(verification.NewDocumentAdapter(cfg, redisClient, logger))
	registry.Register(verification.NewQuorumAdapter(cfg, redisClient, logger))

	// 7. 注册通知渠道
	router := notifier.NewRouter()
	router.Register("webhook", notifier.NewWebhookNotifier(logger))
	if mqttClient != nil {
		router.Register("mqtt", notifier.NewMQTTNotifier(mqttClient, cfg.Emergency.Notify.MQTTTopicBase, cfg.MQTT.QoS, logger))
	}

	// 8. 创建引擎
	publisher := engine.NewPublisher(redisClient, cfg.Emergency.EventStream, logger)
	eng := engine.NewEngine(cfg, engine.Dependencies{
		Requests:      requestRepo,
		Protocols:     protocolRepo,
		Contacts:      contactRepo,
		Verifications: verifyRepo,
		Scheduler:     jobScheduler,
		Registry:      registry,
		Router:        router,
		Resolver:      engine.NewCategoryResolver(protocolRepo),
		Cache:         protocolCache,
		Publisher:     publisher,
	}, logger)

	return &EmergencyService{
		config:        cfg,
		db:            db,
		redisClient:   redisClient,
		mqttClient:    mqttClient,
		logger:        logger,
		requestRepo:   requestRepo,
		protocolRepo:  protocolRepo,
		contactRepo:   contactRepo,
		verifyRepo:    verifyRepo,
		jobRepo:       jobRepo,
		protocolCache: protocolCache,
		jobScheduler:  jobScheduler,
		registry:      registry,
		router:        router,
		engine:        eng,
	}, nil
}

// Engine 返回引擎门面（操作入口）
func (s *EmergencyService) Engine() *engine.Engine {
	return s.engine
}

// Start 启动服务（阻塞直到 ctx 取消）
func (s *EmergencyService) Start(ctx context.Context) error {
	s.logger.Info("Starting emergency access service")

	errChan := make(chan error, 2)

	go func() {
		if err := s.jobScheduler.Start(ctx); err != nil {
			errChan <- fmt.Errorf("scheduler failed: %w", err)
		}
	}()

	go func() {
		if err := s.engine.StartInactivityMonitor(ctx); err != nil {
			errChan <- fmt.Errorf("inactivity monitor failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errChan:
		return err
	}
}

// Stop 停止服务，关闭连接
func (s *EmergencyService) Stop() error {
	s.logger.Info("Stopping emergency access service")

	if err := s.db.Close(); err != nil {
		s.logger.Error("Failed to close database",
			zap.Error(err),
		)
	}

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis",
			zap.Error(err),
		)
	}

	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	return nil
}
