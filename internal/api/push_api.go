package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-session/internal/pipeline"
	"github.com/tinywideclouds/go-push-session/pkg/dispatch"
	"github.com/tinywideclouds/go-push-session/pkg/notification"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// maxRequestBytes bounds the JSON body of a push request.
const maxRequestBytes = 1 << 20

// TokenForgetter clears a suppressed token, e.g. after the device
// registers it again.
type TokenForgetter interface {
	Forget(ctx context.Context, token push.Token) error
}

type PushAPI struct {
	Dispatcher   dispatch.Dispatcher
	InvalidStore dispatch.InvalidTokenStore
	Forgetter    TokenForgetter
	Logger       *slog.Logger
}

// NewPushAPI creates the HTTP surface. invalidStore and forgetter may be nil
// when no Redis is configured.
func NewPushAPI(
	dispatcher dispatch.Dispatcher,
	invalidStore dispatch.InvalidTokenStore,
	forgetter TokenForgetter,
	logger *slog.Logger,
) *PushAPI {
	return &PushAPI{
		Dispatcher:   dispatcher,
		InvalidStore: invalidStore,
		Forgetter:    forgetter,
		Logger:       logger.With("component", "PushAPI"),
	}
}

// Push handles POST /api/v1/push and replies with the batch receipt.
func (api *PushAPI) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caller, ok := middleware.GetUserIDFromContext(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req notification.NotificationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if len(req.Tokens) == 0 {
		response.WriteJSONError(w, http.StatusBadRequest, "missing tokens")
		return
	}

	logger := api.Logger.With("caller", caller, "tokens", len(req.Tokens))
	if handle, ok := middleware.GetUserHandleFromContext(ctx); ok {
		logger = logger.With("handle", handle)
	}
	receipt, err := pipeline.Deliver(ctx, api.Dispatcher, api.InvalidStore, &req, logger)
	if err != nil {
		var ce *push.ContractError
		switch {
		case errors.Is(err, push.ErrReservedField):
			response.WriteJSONError(w, http.StatusBadRequest, "data payload uses a reserved key")
		case errors.Is(err, push.ErrSessionClosed):
			response.WriteJSONError(w, http.StatusServiceUnavailable, "push session closed")
		case errors.As(err, &ce):
			response.WriteJSONError(w, http.StatusBadGateway, "unexpected gateway response")
		default:
			response.WriteJSONError(w, http.StatusBadGateway, "dispatch failed")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(receipt); err != nil {
		logger.Warn("Failed to write receipt", "err", err)
	}
}

type forgetTokenRequest struct {
	Token string `json:"token"`
}

// ForgetToken handles DELETE /api/v1/tokens/invalid.
func (api *PushAPI) ForgetToken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := middleware.GetUserIDFromContext(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if api.Forgetter == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "invalid token store not configured")
		return
	}

	var req forgetTokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	token, err := push.HexToken(req.Token)
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "malformed token")
		return
	}

	if err := api.Forgetter.Forget(ctx, token); err != nil {
		api.Logger.Error("failed to forget token", "token", token, "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
