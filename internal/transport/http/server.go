package http

import (
	"time"

	"github.com/gin-gonic/gin"

	"knowledgebase/internal/ai"
	appsvc "knowledgebase/internal/app"
	"knowledgebase/internal/bootstrap"
	"knowledgebase/internal/cache"
	"knowledgebase/internal/pkg/loader"
	rabbitmqClient "knowledgebase/internal/platform/rabbitmq"
	"knowledgebase/internal/repository"
	"knowledgebase/internal/transport/http/handler"
	"knowledgebase/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	userRepo := repository.NewUserRepository(app.DB)
	docRepo := repository.NewDocumentRepository(app.DB)
	chunkRepo := repository.NewChunkRepository(app.DB,
		app.Config.Retrieval.IvfflatProbes,
		app.Config.Retrieval.HnswEfSearch,
	)
	convRepo := repository.NewConversationRepository(app.DB)
	messageRepo := repository.NewMessageRepository(app.DB)

	llm := ai.NewClient(ai.Config{
		BaseURL:            app.Config.LLM.BaseURL,
		APIKey:             app.Config.LLM.APIKey,
		ChatModel:          app.Config.LLM.Model,
		EmbeddingModel:     app.Config.LLM.EmbeddingModel,
		EmbeddingDimension: app.Config.LLM.EmbeddingDimension,
	})
	progress := cache.NewProgressCache(app.Redis,
		time.Duration(app.Config.Redis.ProgressTTLSeconds)*time.Second)
	answers := cache.NewAnswerCache(app.Redis,
		time.Duration(app.Config.Redis.AnswerTTLSeconds)*time.Second)
	publisher := rabbitmqClient.NewMessagePublisher(app.MQConn, app.Config.RabbitMQ.MessagePersistQueue)

	authService := appsvc.NewAuthService(
		userRepo,
		app.Config.Auth.JWTSecret,
		time.Duration(app.Config.Auth.JWTExpireMinute)*time.Minute,
	)
	documentService := appsvc.NewDocumentService(
		docRepo,
		chunkRepo,
		app.Blobs,
		llm,
		progress,
		loader.NewRegistry(),
		app.EmbedPool,
		app.Config.Processing,
		app.Logger,
	)
	retriever := appsvc.NewHybridRetriever(chunkRepo, chunkRepo, app.Config.Retrieval, app.Logger)
	qaService := appsvc.NewQAService(retriever, llm, answers, app.Logger)
	conversationService := appsvc.NewConversationService(
		convRepo,
		messageRepo,
		retriever,
		llm,
		publisher,
		app.Config.LLM.MaxContextMessage,
		app.Logger,
	)

	authHandler := handler.NewAuthHandler(authService)
	documentHandler := handler.NewDocumentHandler(documentService)
	searchHandler := handler.NewSearchHandler(retriever, llm)
	qaHandler := handler.NewQAHandler(qaService)
	conversationHandler := handler.NewConversationHandler(conversationService)

	v1 := router.Group("/api/v1")
	authGroup := v1.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)
	authGroup.GET("/me", middleware.AuthJWT(app.Config.Auth.JWTSecret), authHandler.Me)

	authed := v1.Group("")
	authed.Use(middleware.AuthJWT(app.Config.Auth.JWTSecret))

	documents := authed.Group("/documents")
	documents.POST("/batch-upload", documentHandler.BatchUpload)
	documents.GET("/batch-upload/progress/:taskId", documentHandler.Progress)
	documents.GET("", documentHandler.List)
	documents.GET("/:id", documentHandler.Get)
	documents.GET("/:id/chunks", documentHandler.Chunks)
	documents.DELETE("/:id", documentHandler.Delete)

	authed.POST("/search", searchHandler.Search)
	authed.POST("/qa/answer", qaHandler.Answer)

	conversations := authed.Group("/conversations")
	conversations.POST("/chat", conversationHandler.Chat)
	conversations.GET("", conversationHandler.List)
	conversations.GET("/:sessionId/messages", conversationHandler.Messages)
	conversations.DELETE("/:sessionId", conversationHandler.Delete)

	return router
}
