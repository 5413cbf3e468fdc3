package dispatch

import (
	"context"

	"github.com/tinywideclouds/go-push-session/pkg/notification"
	"github.com/tinywideclouds/go-push-session/pkg/push"
)

// Rejection is a device token the gateway refused permanently.
type Rejection struct {
	Token  string
	Reason push.FatalReason
}

// Dispatcher defines the contract for a component that delivers one
// notification to a batch of device tokens through the push gateway.
type Dispatcher interface {
	// Dispatch returns a receipt and the tokens the gateway reported as
	// permanently invalid. An error means the batch could not be completed.
	Dispatch(ctx context.Context, tokens []string, content notification.NotificationContent, data map[string]any) (notification.Receipt, []Rejection, error)
}

// InvalidTokenStore remembers device tokens the gateway rejected
// permanently so they are not sent to again.
type InvalidTokenStore interface {
	MarkInvalid(ctx context.Context, token push.Token, reason push.FatalReason) error
	IsInvalid(ctx context.Context, token push.Token) (bool, error)
}
