package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"omnirag/internal/ai"
	"omnirag/internal/app"
	"omnirag/internal/cache"
	"omnirag/internal/config"
	"omnirag/internal/model"
	mysqlClient "omnirag/internal/platform/mysql"
	rabbitmqClient "omnirag/internal/platform/rabbitmq"
	redisClient "omnirag/internal/platform/redis"
	"omnirag/internal/repository"
	"omnirag/internal/vectorstore/qdrant"
	"omnirag/internal/worker"
)

// App wires every service explicitly at startup. Nothing here is a
// singleton: handlers receive what they need from this struct.
type App struct {
	Config *config.Config
	MySQL  *gorm.DB
	Redis  *redis.Client
	MQConn *amqp.Connection

	Cache     *cache.ResponseCache
	Documents *repository.DocumentRepository
	Chat      *app.ChatService
	Ingest    *app.IngestService
	History   *app.HistoryService
	Publisher *rabbitmqClient.IngestPublisher
	Worker    *worker.IngestWorker

	StartedAt time.Time
}

func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	mysqlDB, err := mysqlClient.New(ctx, cfg.MySQLDSN())
	if err != nil {
		return nil, err
	}
	if err := mysqlDB.AutoMigrate(&model.Document{}, &model.ChatSession{}, &model.Conversation{}); err != nil {
		return nil, fmt.Errorf("auto migrate tables failed: %w", err)
	}

	// A missing redis only disables response caching.
	redisCli := redisClient.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL)
	if err != nil {
		return nil, err
	}

	index := qdrant.NewManager(cfg.Qdrant.URL, cfg.Qdrant.Collection, cfg.RAG.EmbeddingDim)
	if err := index.EnsureReady(ctx, cfg.RAG.EmbeddingDim); err != nil {
		return nil, fmt.Errorf("prepare vector collection failed: %w", err)
	}

	llm := ai.NewOpenAICompatibleClient()
	responseCache := cache.NewResponseCache(redisCli, time.Duration(cfg.RAG.CacheTTLSeconds)*time.Second)

	var scorer app.CandidateScorer
	if cfg.Rerank.Enabled {
		scorer = app.NewReranker(cfg.Rerank.URL)
	}

	documentRepo := repository.NewDocumentRepository(mysqlDB)
	sessionRepo := repository.NewChatSessionRepository(mysqlDB)
	conversationRepo := repository.NewConversationRepository(mysqlDB)

	retriever := app.NewRetriever(llm, index, scorer, cfg.LLM)
	historySvc := app.NewHistoryService(sessionRepo, conversationRepo, llm, cfg.LLM)
	chatSvc := app.NewChatService(llm, responseCache, retriever, historySvc, cfg.LLM, cfg.RAG)
	ingestSvc := app.NewIngestService(llm, index, responseCache, cfg.LLM, cfg.RAG)

	publisher := rabbitmqClient.NewIngestPublisher(mqConn, cfg.RabbitMQ.IngestQueue)
	ingestWorker := worker.NewIngestWorker(mqConn, ingestSvc, documentRepo, cfg.RabbitMQ.IngestQueue)
	if err := ingestWorker.Start(ctx); err != nil {
		return nil, fmt.Errorf("start ingest worker failed: %w", err)
	}

	return &App{
		Config:    cfg,
		MySQL:     mysqlDB,
		Redis:     redisCli,
		MQConn:    mqConn,
		Cache:     responseCache,
		Documents: documentRepo,
		Chat:      chatSvc,
		Ingest:    ingestSvc,
		History:   historySvc,
		Publisher: publisher,
		Worker:    ingestWorker,
		StartedAt: time.Now(),
	}, nil
}

func (a *App) Close() error {
	var closeErr error
	if a.Worker != nil {
		a.Worker.Close()
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
	if a.MySQL != nil {
		sqlDB, err := a.MySQL.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
