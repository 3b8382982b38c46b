package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/panjf2000/ants/v2"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"knowledgebase/internal/config"
	"knowledgebase/internal/model"
	minioClient "knowledgebase/internal/platform/minio"
	postgresClient "knowledgebase/internal/platform/postgres"
	rabbitmqClient "knowledgebase/internal/platform/rabbitmq"
	redisClient "knowledgebase/internal/platform/redis"
	"knowledgebase/internal/repository"
	"knowledgebase/internal/worker"
)

// App holds the shared infrastructure every service is wired from.
type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *gorm.DB
	Redis         *redis.Client
	MQConn        *amqp.Connection
	Blobs         *minioClient.BlobStore
	EmbedPool     *ants.Pool
	MessageWorker *worker.MessagePersistWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	logger := newLogger(cfg.App.Env)
	slog.SetDefault(logger)

	db, err := postgresClient.New(ctx, cfg.PostgresDSN())
	if err != nil {
		return nil, err
	}
	if err := postgresClient.EnsureVectorExtension(db); err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Document{},
		&model.DocumentChunk{},
		&model.Conversation{},
		&model.Message{},
	); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}
	if err := postgresClient.EnsureChunkSchema(db, cfg.LLM.EmbeddingDimension); err != nil {
		return nil, err
	}

	redisCli, err := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	blobs, err := minioClient.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.Bucket,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		return nil, err
	}

	// Single shared pool for embedding calls: its capacity caps in-flight
	// embeddings across every document being ingested at once.
	embedPool, err := ants.NewPool(cfg.Processing.MaxConcurrentChunks)
	if err != nil {
		return nil, fmt.Errorf("create embed pool failed: %w", err)
	}

	messageRepo := repository.NewMessageRepository(db)
	messageWorker := worker.NewMessagePersistWorker(mqConn, messageRepo, cfg.RabbitMQ.MessagePersistQueue, logger)
	if err := messageWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start message worker failed: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            db,
		Redis:         redisCli,
		MQConn:        mqConn,
		Blobs:         blobs,
		EmbedPool:     embedPool,
		MessageWorker: messageWorker,
		StartedAt:     time.Now(),
	}, nil
}

func newLogger(env string) *slog.Logger {
	if env == "dev" {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func (a *App) Close() error {
	var closeErr error
	if a.EmbedPool != nil {
		a.EmbedPool.Release()
	}
	if a.MessageWorker != nil {
		a.MessageWorker.Close()
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
