// Package gateway delivers notification batches through a push Session.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/tinywideclouds/go-push-session/internal/obs"
	"github.com/tinywideclouds/go-push-session/pkg/dispatch"
	"github.com/tinywideclouds/go-push-session/pkg/notification"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Sender defines the subset of the push.Session methods we use.
// This allows mocking for unit tests.
type Sender interface {
	SendRaw(ctx context.Context, token push.Token, payload []byte) (push.MessageResult, error)
	SendSilent(ctx context.Context, token push.Token) (push.MessageResult, error)
}

// Config controls fan-out and the retry policy for retryable outcomes.
type Config struct {
	// Concurrency caps the sends of one batch running at once.
	Concurrency int
	// MaxAttempts is the number of sends per token, including the first.
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 16
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 10 * c.MinBackoff
	}
	return c
}

var _ dispatch.Dispatcher = (*Dispatcher)(nil)

type Dispatcher struct {
	sender Sender
	cfg    Config
	logger *slog.Logger
}

// NewDispatcher creates a batch dispatcher on top of sender.
func NewDispatcher(sender Sender, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		cfg:    cfg.withDefaults(),
		logger: logger.With("component", "GatewayDispatcher"),
	}
}

// Dispatch sends the notification to a batch of device tokens.
// The gateway API is unary (one request per token), so the batch is fanned
// out across the session with at most Concurrency sends in flight.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	tokens []string,
	content notification.NotificationContent,
	data map[string]any,
) (notification.Receipt, []dispatch.Rejection, error) {
	var receipt notification.Receipt
	if len(tokens) == 0 {
		return receipt, nil, nil
	}

	// 1. Build the payload once; it is shared read-only by every send.
	body, err := buildPayload(content, data)
	if err != nil {
		return receipt, nil, err
	}

	start := time.Now()
	defer func() { obs.DispatchDurationSeconds.Observe(time.Since(start).Seconds()) }()

	var (
		mu            sync.Mutex
		invalidTokens []dispatch.Rejection
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for _, raw := range tokens {
		g.Go(func() error {
			token, err := push.HexToken(raw)
			if err != nil {
				d.logger.Warn("Dropping malformed device token", "token", raw, "err", err)
				mu.Lock()
				receipt.Invalid++
				invalidTokens = append(invalidTokens, dispatch.Rejection{Token: raw, Reason: push.FatalBadDeviceToken})
				mu.Unlock()
				return nil
			}

			// 2. Send, retrying outcomes the gateway says may succeed later.
			res, err := d.deliver(gctx, token, content.Silent, body)
			if err != nil {
				return fmt.Errorf("dispatch to %s: %w", token, err)
			}

			// 3. Tally the classified result.
			mu.Lock()
			defer mu.Unlock()
			switch {
			case res.OK():
				receipt.Success++
			case res.Kind == push.ResultFatal && res.Fatal.InvalidatesToken():
				receipt.Invalid++
				invalidTokens = append(invalidTokens, dispatch.Rejection{Token: raw, Reason: res.Fatal})
			default:
				receipt.Failed++
				d.logger.Warn("Gateway did not accept notification", "token", token, "result", res.String())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return receipt, invalidTokens, err
	}
	return receipt, invalidTokens, nil
}

// deliver sends to one token, repeating Backoff, Temporary and Transport
// outcomes up to MaxAttempts with jittered exponential waits.
func (d *Dispatcher) deliver(ctx context.Context, token push.Token, silent bool, body []byte) (push.MessageResult, error) {
	b := &backoff.Backoff{
		Min:    d.cfg.MinBackoff,
		Max:    d.cfg.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	for attempt := 1; ; attempt++ {
		var (
			res push.MessageResult
			err error
		)
		if silent {
			res, err = d.sender.SendSilent(ctx, token)
		} else {
			res, err = d.sender.SendRaw(ctx, token, body)
		}
		if err != nil {
			var ce *push.ContractError
			if errors.As(err, &ce) {
				obs.ContractViolationsTotal.Inc()
			}
			return res, err
		}
		obs.SendResultsTotal.WithLabelValues(res.Kind.String(), res.Reason()).Inc()

		if !res.Retryable() || attempt >= d.cfg.MaxAttempts {
			return res, nil
		}

		wait := b.Duration()
		d.logger.Debug("Retrying send", "token", token, "attempt", attempt, "result", res.String(), "wait", wait)
		obs.SendRetriesTotal.Inc()
		select {
		case <-ctx.Done():
			return res, nil
		case <-time.After(wait):
		}
	}
}

func buildPayload(content notification.NotificationContent, data map[string]any) ([]byte, error) {
	msg := push.NewMessage()
	switch {
	case content.Title != "":
		msg.TitledAlert(content.Title, content.Body)
	case content.Body != "":
		msg.Alert(content.Body)
	}
	if content.Sound != "" {
		msg.Sound(content.Sound)
	}
	if content.Category != "" {
		msg.Category(content.Category)
	}
	if content.Badge != nil {
		msg.Badge(*content.Badge)
	}
	for k, v := range data {
		if err := msg.Field(k, v); err != nil {
			return nil, err
		}
	}
	body, err := msg.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return body, nil
}
