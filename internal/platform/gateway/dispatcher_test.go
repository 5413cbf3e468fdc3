package gateway_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-session/internal/platform/gateway"
	"github.com/tinywideclouds/go-push-session/pkg/dispatch"
	"github.com/tinywideclouds/go-push-session/pkg/notification"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendRaw(ctx context.Context, token push.Token, payload []byte) (push.MessageResult, error) {
	args := m.Called(ctx, token, payload)
	return args.Get(0).(push.MessageResult), args.Error(1)
}

func (m *MockSender) SendSilent(ctx context.Context, token push.Token) (push.MessageResult, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(push.MessageResult), args.Error(1)
}

const (
	tokenA = "aaaa0001"
	tokenB = "bbbb0002"
)

func newTestDispatcher(sender gateway.Sender) *gateway.Dispatcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return gateway.NewDispatcher(sender, gateway.Config{
		Concurrency: 4,
		MaxAttempts: 3,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  2 * time.Millisecond,
	}, logger)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	content := notification.NotificationContent{Title: "Hello", Body: "World"}
	data := map[string]any{"msg_id": "123"}
	okResult := push.MessageResult{Kind: push.ResultOK}

	t.Run("Happy Path - Success", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("SendRaw", mock.Anything, push.Token(tokenA), mock.MatchedBy(func(b []byte) bool {
			var out map[string]any
			if err := json.Unmarshal(b, &out); err != nil {
				return false
			}
			alert := out["aps"].(map[string]any)["alert"].(map[string]any)
			return alert["title"] == "Hello" && out["msg_id"] == "123"
		})).Return(okResult, nil)

		receipt, invalid, err := newTestDispatcher(sender).Dispatch(ctx, []string{tokenA}, content, data)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Equal(t, notification.Receipt{Success: 1}, receipt)
		sender.AssertExpectations(t)
	})

	t.Run("Self-Healing - Unregistered token is reported", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("SendRaw", mock.Anything, push.Token(tokenA), mock.Anything).Return(okResult, nil)
		sender.On("SendRaw", mock.Anything, push.Token(tokenB), mock.Anything).
			Return(push.MessageResult{Kind: push.ResultFatal, Fatal: push.FatalUnregistered}, nil)

		receipt, invalid, err := newTestDispatcher(sender).Dispatch(ctx, []string{tokenA, tokenB}, content, nil)

		require.NoError(t, err)
		assert.Equal(t, []dispatch.Rejection{{Token: tokenB, Reason: push.FatalUnregistered}}, invalid)
		assert.Equal(t, notification.Receipt{Success: 1, Invalid: 1}, receipt)
	})

	t.Run("Fatal configuration errors are failures, not invalid tokens", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("SendRaw", mock.Anything, mock.Anything, mock.Anything).
			Return(push.MessageResult{Kind: push.ResultFatal, Fatal: push.FatalTopicDisallowed}, nil)

		receipt, invalid, err := newTestDispatcher(sender).Dispatch(ctx, []string{tokenA}, content, nil)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Equal(t, 1, receipt.Failed)
		sender.AssertNumberOfCalls(t, "SendRaw", 1)
	})

	t.Run("Retryable outcome is retried until accepted", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("SendRaw", mock.Anything, push.Token(tokenA), mock.Anything).
			Return(push.MessageResult{Kind: push.ResultBackoff}, nil).Once()
		sender.On("SendRaw", mock.Anything, push.Token(tokenA), mock.Anything).
			Return(push.MessageResult{Kind: push.ResultTemporary, Temporary: push.TemporaryTooManyRequests}, nil).Once()
		sender.On("SendRaw", mock.Anything, push.Token(tokenA), mock.Anything).Return(okResult, nil).Once()

		receipt, _, err := newTestDispatcher(sender).Dispatch(ctx, []string{tokenA}, content, nil)

		require.NoError(t, err)
		assert.Equal(t, 1, receipt.Success)
		sender.AssertNumberOfCalls(t, "SendRaw", 3)
	})

	t.Run("Transport Failure - Retries exhausted", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("SendRaw", mock.Anything, mock.Anything, mock.Anything).
			Return(push.MessageResult{Kind: push.ResultTransport, Err: errors.New("connection refused")}, nil)

		receipt, invalid, err := newTestDispatcher(sender).Dispatch(ctx, []string{tokenA}, content, nil)

		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Equal(t, 1, receipt.Failed)
		sender.AssertNumberOfCalls(t, "SendRaw", 3)
	})

	t.Run("Contract violation aborts the batch", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("SendRaw", mock.Anything, mock.Anything, mock.Anything).
			Return(push.MessageResult{}, &push.ContractError{Status: 418})

		_, _, err := newTestDispatcher(sender).Dispatch(ctx, []string{tokenA}, content, nil)

		var ce *push.ContractError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, 418, ce.Status)
	})

	t.Run("Malformed token is invalid without a send", func(t *testing.T) {
		sender := new(MockSender)

		receipt, invalid, err := newTestDispatcher(sender).Dispatch(ctx, []string{"not-hex"}, content, nil)

		require.NoError(t, err)
		assert.Equal(t, []dispatch.Rejection{{Token: "not-hex", Reason: push.FatalBadDeviceToken}}, invalid)
		assert.Equal(t, 1, receipt.Invalid)
		sender.AssertNotCalled(t, "SendRaw", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Silent content uses the silent send", func(t *testing.T) {
		sender := new(MockSender)
		sender.On("SendSilent", mock.Anything, push.Token(tokenA)).Return(okResult, nil)

		receipt, _, err := newTestDispatcher(sender).Dispatch(ctx, []string{tokenA}, notification.NotificationContent{Silent: true}, nil)

		require.NoError(t, err)
		assert.Equal(t, 1, receipt.Success)
		sender.AssertExpectations(t)
	})

	t.Run("Reserved data key is rejected", func(t *testing.T) {
		sender := new(MockSender)

		_, _, err := newTestDispatcher(sender).Dispatch(ctx, []string{tokenA}, content, map[string]any{"aps": "x"})

		assert.ErrorIs(t, err, push.ErrReservedField)
		sender.AssertNotCalled(t, "SendRaw", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Empty batch is a no-op", func(t *testing.T) {
		receipt, invalid, err := newTestDispatcher(new(MockSender)).Dispatch(ctx, nil, content, nil)
		require.NoError(t, err)
		assert.Empty(t, invalid)
		assert.Equal(t, notification.Receipt{}, receipt)
	})
}
