package main

import (
	"context"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"groupchat-service/internal/ai"
	"groupchat-service/internal/auth"
	"groupchat-service/internal/chat"
	"groupchat-service/internal/config"
	"groupchat-service/internal/db"
	"groupchat-service/internal/email"
	"groupchat-service/internal/handlers"
	"groupchat-service/internal/middleware"
	"groupchat-service/internal/observability"
	"groupchat-service/internal/rabbitmq"
	"groupchat-service/internal/repositories"
	"groupchat-service/internal/telemetry"
	"groupchat-service/internal/ws"
)

const serviceName = "groupchat-service"

func main() {
	cfg := config.Load()
	ctx := context.Background()

	database, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	shutdownTracing, err := telemetry.InitTracing(ctx, serviceName, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to init tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Printf("event publisher mode=%s", rabbitmq.PublisherMode(publisher))
	observability.SetPublisher(publisher)
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", serviceName, cfg.Environment)

	userRepo := repositories.NewUserRepo(database)
	groupRepo := repositories.NewGroupRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()

	backend, err := ai.NewChatBackend(ai.BackendConfig{
		BaseURL:     cfg.AIBaseURL,
		APIKey:      cfg.AIAPIKey,
		Model:       cfg.AIModel,
		MaxTokens:   cfg.AIMaxTokens,
		Temperature: cfg.AITemperature,
		Timeout:     cfg.AITimeout,
	})
	if err != nil {
		log.Fatalf("failed to init ai backend: %v", err)
	}

	assembler := ai.NewAssembler(messageRepo)
	assembler.Window = cfg.ContextWindow
	assembler.MaxMessages = cfg.ContextMaxMessages

	processor := ai.NewProcessor(messageRepo, assembler, backend, hub, cfg.AIWorkers)
	processor.Start(ctx)
	defer processor.Stop()

	chatService := chat.NewService(messageRepo, groupRepo, hub, processor)

	tokens := auth.NewTokenManager(cfg.JWTSecret, 24*time.Hour)
	mailer := email.NewSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)

	authHandler := handlers.NewAuthHandler(userRepo, tokens, mailer, audit)
	groupHandler := handlers.NewGroupHandler(groupRepo, messageRepo, chatService, audit)
	messageHandler := handlers.NewMessageHandler(chatService, audit)
	wsHandler := ws.NewHandler(hub, chatService, groupRepo, tokens)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/auth/register", authHandler.Register)
	router.POST("/auth/login", authHandler.Login)
	router.POST("/auth/verify", authHandler.Verify)

	authMiddleware := middleware.AuthMiddleware(tokens)

	router.POST("/groups", authMiddleware, groupHandler.CreateGroup)
	router.GET("/groups", authMiddleware, groupHandler.ListGroups)
	router.POST("/groups/:group_id/join", authMiddleware, groupHandler.JoinGroup)
	router.GET("/groups/:group_id/messages", authMiddleware, groupHandler.GetGroupMessages)
	router.POST("/groups/:group_id/messages", authMiddleware, messageHandler.PostGroupMessage)

	router.GET("/ws", wsHandler.Handle)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
