package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"example.com/momentum/internal/api"
	"example.com/momentum/internal/auth"
	"example.com/momentum/internal/config"
	"example.com/momentum/internal/domain"
	"example.com/momentum/internal/feedback"
	"example.com/momentum/internal/llm"
	"example.com/momentum/internal/logging"
	"example.com/momentum/internal/outbox"
	"example.com/momentum/internal/platform"
	httptransport "example.com/momentum/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	loc, err := cfg.Location()
	if err != nil {
		logger.WithError(err).Fatal("invalid reference timezone")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := platform.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to open store")
	}
	defer res.Close()

	var dispatcher *outbox.Dispatcher
	if res.Pool != nil {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		dispatcher = outbox.NewDispatcher(res.Pool, producer, logger, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
		go dispatcher.Start(ctx)
	}

	verifier, err := newVerifier(ctx, cfg, res)
	if err != nil {
		logger.WithError(err).Fatal("failed to configure authentication")
	}

	engine := domain.NewEngine(res.Store, loc, domain.WithLogger(logger.WithField("component", "engine")))

	var generator api.FeedbackGenerator
	if cfg.OpenAIAPIKey != "" {
		provider := llm.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, cfg.OpenRouterReferrer, cfg.OpenRouterTitle)
		generator = feedback.NewService(provider, loc,
			feedback.WithMaxTokens(cfg.FeedbackMaxTokens),
			feedback.WithTimeout(cfg.FeedbackTimeout),
			feedback.WithLogger(logger.WithField("component", "feedback")),
		)
	} else {
		logger.Warn("OPENAI_API_KEY not set; feedback endpoint disabled")
	}

	handler := api.NewHandler(engine, generator,
		api.WithFeedbackLimit(cfg.FeedbackRatePerMinute, cfg.FeedbackBurst),
		api.WithIncrementDefault(cfg.GoalIncrementDefault),
		api.WithLogger(logger.WithField("component", "api")),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	corsMiddleware := cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
	authMiddleware := auth.NewMiddleware(verifier, auth.PublicPaths)

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.FeedbackTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}, api.RequestLogger(logger)(corsMiddleware(authMiddleware.Wrap(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	serveErr := httptransport.Serve(server, logger)

	select {
	case <-shutdownCh:
	case <-serveErr:
	}
	cancel()

	if err := httptransport.Shutdown(server, 15*time.Second); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}

func newVerifier(ctx context.Context, cfg config.Config, res *platform.Resources) (auth.Verifier, error) {
	if cfg.AuthMode == config.AuthFirebase {
		client, err := res.Firebase.Auth(ctx)
		if err != nil {
			return nil, err
		}
		return auth.NewFirebaseVerifier(client), nil
	}
	return auth.NewJWTVerifier(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}), nil
}
