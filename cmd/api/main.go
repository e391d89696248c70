package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/oversightlab/llm-safety-study/cmd/mainconfig"
	"github.com/oversightlab/llm-safety-study/internal/api/router"
	"github.com/oversightlab/llm-safety-study/internal/chat"
	appconfig "github.com/oversightlab/llm-safety-study/internal/config"
	"github.com/oversightlab/llm-safety-study/internal/observability/metrics"
	"github.com/oversightlab/llm-safety-study/internal/questions"
	"github.com/oversightlab/llm-safety-study/internal/records"
	"github.com/oversightlab/llm-safety-study/internal/study"
	"github.com/oversightlab/llm-safety-study/internal/web"
	"github.com/oversightlab/llm-safety-study/pkg/logging"
)

func main() {
	// Load .env in development; ignore its absence everywhere else.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting llm-safety-study API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	source, err := questions.Load()
	if err != nil {
		logger.Error("failed to load question datasets", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	sessionStore := study.NewSessionStore(redisClient, cfg.SessionTTL)

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	recordStore := records.NewDynamoStore(dynamoClient, cfg.SessionsTable, cfg.ResponsesTable, logger)
	archive := records.NewArchive(s3.NewFromConfig(awsCfg), cfg.ArchiveBucket, logger)

	studyMetrics := metrics.NewStudyMetrics(nil)
	manager := study.NewManager(sessionStore, recordStore, archive, logger, studyMetrics)

	chatClient := buildChatClient(cfg, awsCfg, logger, studyMetrics)

	detection := study.NewDetectionController(manager, source, logger)
	elicitation := study.NewElicitationController(manager, source, chatClient, logger, studyMetrics)
	handler := study.NewHandler(manager, detection, elicitation, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		StudyHandler:       handler,
		Pages:              web.NewRenderer(logger),
		StaticHandler:      web.Static(),
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSOrigins(),
		ChatRatePerSecond:  cfg.ChatRatePerSecond,
		ChatRateBurst:      cfg.ChatRateBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 45 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// buildChatClient selects the configured model provider and wraps it so a
// provider outage degrades to the scripted responder instead of breaking
// the game.
func buildChatClient(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger, m *metrics.StudyMetrics) chat.Client {
	scripted := chat.NewScriptedResponder()
	onFallback := func() { m.ObserveChatFallback() }

	switch cfg.ChatProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Warn("OPENAI_API_KEY not set, using scripted chat responses")
			return scripted
		}
		clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
		if cfg.OpenAIBaseURL != "" {
			clientCfg.BaseURL = cfg.OpenAIBaseURL
		}
		primary := chat.NewOpenAIClient(openai.NewClientWithConfig(clientCfg), cfg.OpenAIModel, cfg.ChatMaxTokens)
		return chat.NewFallbackClient(primary, scripted, cfg.ChatTimeout, logger, onFallback)
	case "bedrock":
		primary := chat.NewBedrockClient(bedrockruntime.NewFromConfig(awsCfg), cfg.BedrockModelID, cfg.ChatMaxTokens)
		return chat.NewFallbackClient(primary, scripted, cfg.ChatTimeout, logger, onFallback)
	default:
		if cfg.ChatProvider != "scripted" {
			logger.Warn("unknown chat provider, using scripted chat responses", "provider", cfg.ChatProvider)
		}
		return scripted
	}
}
