package configuration

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"tradepost/internal/advisory"
	"tradepost/internal/auth"
	"tradepost/internal/collab"
	"tradepost/internal/db"
	"tradepost/internal/handler"
	"tradepost/internal/hub"
	"tradepost/internal/model"
	"tradepost/internal/negotiation"
	"tradepost/internal/repo"
	"tradepost/internal/service"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

const defaultConfigPath = "config/config.json"

type Container struct {
	ConversationHandler handler.ConversationHandler
	DealHandler         handler.DealHandler
	MonitorHandler      handler.MonitorHandler
	Authenticator       *auth.Authenticator
	Hub                 *hub.Hub
	Config              Config
	Logger              *zap.Logger

	// private - for cleanup
	mongoClient *mongo.Database
	advisor     *advisory.Advisor
}

func BuildContainer() (*Container, error) {
	configPath := os.Getenv("TRADEPOST_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	config, err := LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	con, err := db.OpenConnection(config.ChatDatabase.Uri, config.ChatDatabase.Database)
	if err != nil {
		return nil, err
	}

	logger, _ := zap.NewProduction()

	messageDocs := db.NewRepository[model.Message](con, config.ChatDatabase.MessagesCollection)
	conversationDocs := db.NewRepository[model.Conversation](con, config.ChatDatabase.ConversationsCollection)
	advisoryDocs := db.NewRepository[model.Advisory](con, config.ChatDatabase.AdvisoriesCollection)

	messageRepo := repo.NewMessageRepository(messageDocs, logger)
	conversationRepo := repo.NewConversationRepository(conversationDocs, logger)
	advisoryRepo := repo.NewAdvisoryRepository(advisoryDocs, logger)

	indexCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := messageRepo.EnsureIndexes(indexCtx); err != nil {
		return nil, fmt.Errorf("message indexes: %w", err)
	}
	if err := conversationRepo.EnsureIndexes(indexCtx); err != nil {
		return nil, fmt.Errorf("conversation indexes: %w", err)
	}

	authenticator := auth.NewAuthenticator(
		config.Auth.JwtSecret,
		config.Auth.Issuer,
		time.Duration(config.Auth.TokenValidityMinutes)*time.Minute,
	)

	var listings collab.ListingClient = collab.NoopListingClient{}
	if config.Collab.ListingBaseUrl != "" {
		listings = collab.NewListingClient(config.Collab.ListingBaseUrl, logger)
	}

	var notifier collab.Notifier = collab.NoopNotifier{}
	if config.Collab.NotifyBaseUrl != "" {
		notifier = collab.NewNotifier(config.Collab.NotifyBaseUrl, logger)
	}

	socketHub := hub.NewHub(config.Server.AllowedOrigins)

	var evaluator advisory.Evaluator = advisory.NewRuleEvaluator()
	if config.Advisory.GeminiApiKey != "" {
		gemini, err := advisory.NewGeminiEvaluator(context.Background(), config.Advisory.GeminiApiKey)
		if err != nil {
			logger.Warn("gemini evaluator unavailable, using rule evaluator", zap.Error(err))
		} else {
			evaluator = gemini
		}
	}

	advisor := advisory.NewAdvisor(
		conversationRepo,
		messageRepo,
		advisoryRepo,
		evaluator,
		socketHub,
		config.Advisory.QueueSize,
		config.Advisory.Workers,
		logger,
	)

	engine := negotiation.NewEngine(
		time.Duration(config.Negotiation.OfferTtlMinutes)*time.Minute,
		logger,
	)

	conversationService := service.NewConversationService(
		conversationRepo,
		messageRepo,
		engine,
		socketHub,
		advisor,
		listings,
		notifier,
		logger,
	)

	// client-sent socket events (typing, read receipts) route back into the service
	socketHub.SetHandler(conversationService)

	return &Container{
		ConversationHandler: handler.NewConversationHandler(conversationService),
		DealHandler:         handler.NewDealHandler(conversationService),
		MonitorHandler:      handler.NewMonitorHandler(hub.NewMonitorService(socketHub), advisor),
		Authenticator:       authenticator,
		Hub:                 socketHub,
		Config:              *config,
		Logger:              logger,
		mongoClient:         con,
		advisor:             advisor,
	}, nil
}

// Close gracefully shuts down all connections
func (c *Container) Close() error {
	// Stop the hub first (closes all WebSocket connections)
	if c.Hub != nil {
		c.Hub.Stop()
	}

	// Drain the advisory pipeline
	if c.advisor != nil {
		c.advisor.Stop()
	}

	// Sync logger
	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	// Close MongoDB connection pool
	if c.mongoClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoClient.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
