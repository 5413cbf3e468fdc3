// Package pushservice assembles the push delivery service: the Pub/Sub
// pipeline, the HTTP API and the metrics endpoint around one push session.
package pushservice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-session/internal/api"
	"github.com/tinywideclouds/go-push-session/internal/pipeline"
	"github.com/tinywideclouds/go-push-session/pkg/dispatch"
	"github.com/tinywideclouds/go-push-session/pkg/notification"
	"github.com/tinywideclouds/go-push-session/pushservice/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[notification.NotificationRequest]
	logger          *slog.Logger
}

// New assembles the service. invalidStore and forgetter may be nil.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	dispatcher dispatch.Dispatcher,
	invalidStore dispatch.InvalidTokenStore,
	forgetter api.TokenForgetter,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Processor
	processor := pipeline.NewProcessor(dispatcher, invalidStore, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.NotificationRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	pushAPI := api.NewPushAPI(dispatcher, invalidStore, forgetter, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	handle("POST /api/v1/push", pushAPI.Push)
	handle("DELETE /api/v1/tokens/invalid", pushAPI.ForgetToken)

	// CORS preflight for the API namespace
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	// 5. Metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
