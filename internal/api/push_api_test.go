package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-session/internal/api"
	"github.com/tinywideclouds/go-push-session/pkg/dispatch"
	"github.com/tinywideclouds/go-push-session/pkg/notification"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// --- Mocks ---
type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]any) (notification.Receipt, []dispatch.Rejection, error) {
	args := m.Called(ctx, tokens, content, data)
	rejected, _ := args.Get(1).([]dispatch.Rejection)
	return args.Get(0).(notification.Receipt), rejected, args.Error(2)
}

type MockForgetter struct {
	mock.Mock
}

func (m *MockForgetter) Forget(ctx context.Context, token push.Token) error {
	return m.Called(ctx, token).Error(0)
}

// --- Setup ---
func setupAPI(t *testing.T) (*api.PushAPI, *MockDispatcher, *MockForgetter) {
	t.Helper()
	dispatcher := new(MockDispatcher)
	forgetter := new(MockForgetter)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return api.NewPushAPI(dispatcher, nil, forgetter, logger), dispatcher, forgetter
}

// withUser injects the caller into the context, simulating the auth middleware.
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

func pushRequest(t *testing.T, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return withUser(httptest.NewRequest(http.MethodPost, "/api/v1/push", bytes.NewReader(raw)), "urn:test:user:123")
}

// --- Tests ---

func TestPush(t *testing.T) {
	content := notification.NotificationContent{Title: "Hello", Body: "World"}

	t.Run("Success returns the receipt", func(t *testing.T) {
		apiHandler, dispatcher, _ := setupAPI(t)
		dispatcher.On("Dispatch", mock.Anything, []string{"aabb"}, content, mock.Anything).
			Return(notification.Receipt{Success: 1}, nil, nil)

		w := httptest.NewRecorder()
		apiHandler.Push(w, pushRequest(t, notification.NotificationRequest{Tokens: []string{"aabb"}, Content: content}))

		require.Equal(t, http.StatusOK, w.Code)
		var receipt notification.Receipt
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &receipt))
		assert.Equal(t, notification.Receipt{Success: 1}, receipt)
		dispatcher.AssertExpectations(t)
	})

	t.Run("Rejects unauthenticated caller", func(t *testing.T) {
		apiHandler, _, _ := setupAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/push", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()

		apiHandler.Push(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Accepts caller authenticated by user ID only", func(t *testing.T) {
		apiHandler, _, _ := setupAPI(t)
		handler := middleware.NoopAuth(true, "urn:test:user:1")(http.HandlerFunc(apiHandler.Push))
		req := httptest.NewRequest(http.MethodPost, "/api/v1/push", bytes.NewReader([]byte(`{}`)))
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects invalid JSON", func(t *testing.T) {
		apiHandler, _, _ := setupAPI(t)
		req := withUser(httptest.NewRequest(http.MethodPost, "/api/v1/push", bytes.NewReader([]byte("nope"))), "u")
		w := httptest.NewRecorder()

		apiHandler.Push(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects empty token list", func(t *testing.T) {
		apiHandler, _, _ := setupAPI(t)
		w := httptest.NewRecorder()

		apiHandler.Push(w, pushRequest(t, notification.NotificationRequest{Content: content}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Reserved data key is a client error", func(t *testing.T) {
		apiHandler, dispatcher, _ := setupAPI(t)
		dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(notification.Receipt{}, nil, push.ErrReservedField)

		w := httptest.NewRecorder()
		apiHandler.Push(w, pushRequest(t, notification.NotificationRequest{Tokens: []string{"aabb"}, Content: content}))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Gateway contract violation is a bad gateway", func(t *testing.T) {
		apiHandler, dispatcher, _ := setupAPI(t)
		dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(notification.Receipt{}, nil, &push.ContractError{Status: 302})

		w := httptest.NewRecorder()
		apiHandler.Push(w, pushRequest(t, notification.NotificationRequest{Tokens: []string{"aabb"}, Content: content}))

		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("Closed session is unavailable", func(t *testing.T) {
		apiHandler, dispatcher, _ := setupAPI(t)
		dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(notification.Receipt{}, nil, push.ErrSessionClosed)

		w := httptest.NewRecorder()
		apiHandler.Push(w, pushRequest(t, notification.NotificationRequest{Tokens: []string{"aabb"}, Content: content}))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestForgetToken(t *testing.T) {
	forgetRequest := func(body string) *http.Request {
		return withUser(httptest.NewRequest(http.MethodDelete, "/api/v1/tokens/invalid", bytes.NewReader([]byte(body))), "u")
	}

	t.Run("Success", func(t *testing.T) {
		apiHandler, _, forgetter := setupAPI(t)
		forgetter.On("Forget", mock.Anything, push.Token("aabb")).Return(nil)

		w := httptest.NewRecorder()
		apiHandler.ForgetToken(w, forgetRequest(`{"token":"<AA BB>"}`))

		assert.Equal(t, http.StatusNoContent, w.Code)
		forgetter.AssertExpectations(t)
	})

	t.Run("Rejects malformed token", func(t *testing.T) {
		apiHandler, _, _ := setupAPI(t)
		w := httptest.NewRecorder()

		apiHandler.ForgetToken(w, forgetRequest(`{"token":"xyz"}`))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Storage failure", func(t *testing.T) {
		apiHandler, _, forgetter := setupAPI(t)
		forgetter.On("Forget", mock.Anything, mock.Anything).Return(assert.AnError)

		w := httptest.NewRecorder()
		apiHandler.ForgetToken(w, forgetRequest(`{"token":"aabb"}`))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("No store configured", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		apiHandler := api.NewPushAPI(new(MockDispatcher), nil, nil, logger)
		w := httptest.NewRecorder()

		apiHandler.ForgetToken(w, forgetRequest(`{"token":"aabb"}`))

		assert.Equal(t, http.StatusNotImplemented, w.Code)
	})
}
