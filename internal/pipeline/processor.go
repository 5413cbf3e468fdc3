package pipeline

import (
	"context"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-session/internal/obs"
	"github.com/tinywideclouds/go-push-session/pkg/dispatch"
	"github.com/tinywideclouds/go-push-session/pkg/notification"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// NewProcessor creates the stage that delivers one request's batch.
// Tokens already known to be invalid are skipped, and tokens the gateway
// rejects permanently are recorded. invalidStore may be nil.
func NewProcessor(
	dispatcher dispatch.Dispatcher,
	invalidStore dispatch.InvalidTokenStore,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[notification.NotificationRequest] {

	return func(ctx context.Context, original messagepipeline.Message, request *notification.NotificationRequest) error {
		procLogger := logger.With(
			"pubsub_msg_id", original.ID,
			"tokens", len(request.Tokens),
		)

		_, err := Deliver(ctx, dispatcher, invalidStore, request, procLogger)
		return err
	}
}

// Deliver runs one request through the invalid-token filter and the
// dispatcher. It is shared by the pipeline and the HTTP API.
func Deliver(
	ctx context.Context,
	dispatcher dispatch.Dispatcher,
	invalidStore dispatch.InvalidTokenStore,
	request *notification.NotificationRequest,
	logger *slog.Logger,
) (notification.Receipt, error) {
	// 1. Filter suppressed tokens.
	tokens, skipped := filterInvalid(ctx, invalidStore, request.Tokens, logger)
	if skipped > 0 {
		obs.SkippedTokensTotal.Add(float64(skipped))
	}
	if len(tokens) == 0 {
		logger.Info("No deliverable tokens; dropping notification.", "skipped", skipped)
		return notification.Receipt{Skipped: skipped}, nil
	}

	// 2. Dispatch.
	receipt, rejected, err := dispatcher.Dispatch(ctx, tokens, request.Content, request.DataPayload)
	receipt.Skipped = skipped

	// 3. Self-Healing: remember permanently rejected tokens.
	if len(rejected) > 0 && invalidStore != nil {
		logger.Info("Recording invalid device tokens", "count", len(rejected))
		for _, r := range rejected {
			token, perr := push.HexToken(r.Token)
			if perr != nil {
				continue
			}
			if merr := invalidStore.MarkInvalid(ctx, token, r.Reason); merr != nil {
				logger.Warn("Failed to record invalid token", "token", token, "err", merr)
			}
		}
	}

	if err != nil {
		logger.Error("Dispatch failed", "err", err)
		return receipt, err
	}
	logger.Info("Dispatched", "success", receipt.Success, "invalid", receipt.Invalid, "failed", receipt.Failed, "skipped", receipt.Skipped)
	return receipt, nil
}

// filterInvalid drops tokens the store knows are invalid. Lookup failures
// keep the token; the gateway is the source of truth.
func filterInvalid(
	ctx context.Context,
	store dispatch.InvalidTokenStore,
	tokens []string,
	logger *slog.Logger,
) ([]string, int) {
	if store == nil {
		return tokens, 0
	}
	kept := make([]string, 0, len(tokens))
	for _, raw := range tokens {
		token, err := push.HexToken(raw)
		if err != nil {
			// The dispatcher reports malformed tokens.
			kept = append(kept, raw)
			continue
		}
		invalid, err := store.IsInvalid(ctx, token)
		if err != nil {
			logger.Warn("Invalid token lookup failed", "token", token, "err", err)
		}
		if invalid {
			continue
		}
		kept = append(kept, raw)
	}
	return kept, len(tokens) - len(kept)
}
