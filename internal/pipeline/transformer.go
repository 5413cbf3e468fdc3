// Package pipeline contains the message processing stages that feed the push
// session from a Pub/Sub subscription.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-session/pkg/notification"
)

var errNoTokens = errors.New("request has no device tokens")

// NotificationRequestTransformer is a dataflow Transformer that unmarshals
// and validates a raw message payload into a notification.NotificationRequest.
// Malformed messages are skipped with an error so the StreamingService can
// route them to the dead letter topic.
func NotificationRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*notification.NotificationRequest, bool, error) {
	var req notification.NotificationRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal notification request from message %s: %w", msg.ID, err)
	}
	if len(req.Tokens) == 0 {
		return nil, true, fmt.Errorf("invalid notification request in message %s: %w", msg.ID, errNoTokens)
	}
	return &req, false, nil
}
