// Package notification contains the public domain models for the push
// delivery service.
package notification

// NotificationContent is the user visible part of a notification.
type NotificationContent struct {
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
	Sound    string `json:"sound,omitempty"`
	Category string `json:"category,omitempty"`
	Badge    *int   `json:"badge,omitempty"`
	// Silent requests a background wake-up instead of a visible alert.
	Silent bool `json:"silent,omitempty"`
}

// NotificationRequest asks for one notification to be delivered to a batch
// of device tokens.
type NotificationRequest struct {
	Tokens      []string            `json:"tokens"`
	Content     NotificationContent `json:"content"`
	DataPayload map[string]any      `json:"data,omitempty"`
}

// Receipt summarizes the outcome of one batch.
type Receipt struct {
	Success int `json:"success"`
	Invalid int `json:"invalid"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped,omitempty"`
}
