package push

import (
	"encoding/json"
	"fmt"

	"github.com/sideshow/apns2/payload"
)

const (
	apsKey                = "aps"
	appSpecificContentKey = "appspecificcontent"
)

// silentPayload asks the device to wake the application in the background
// without showing anything.
var silentPayload = []byte(`{"aps":{"content-available":1}}`)

// Message assembles a notification payload. Unset aps fields are omitted
// from the JSON.
type Message struct {
	p *payload.Payload
}

// NewMessage returns an empty message.
func NewMessage() *Message {
	return &Message{p: payload.NewPayload()}
}

// Alert sets the alert text.
func (m *Message) Alert(text string) *Message {
	m.p.Alert(text)
	return m
}

// TitledAlert sets a structured alert with a title and a body.
func (m *Message) TitledAlert(title, body string) *Message {
	m.p.AlertTitle(title).AlertBody(body)
	return m
}

// Badge sets the application badge number.
func (m *Message) Badge(n int) *Message {
	m.p.Badge(n)
	return m
}

// Sound sets the name of the sound to play.
func (m *Message) Sound(name string) *Message {
	m.p.Sound(name)
	return m
}

// Category sets the notification category identifier.
func (m *Message) Category(category string) *Message {
	m.p.Category(category)
	return m
}

// AppSpecificContent attaches opaque application data under
// "appspecificcontent".
func (m *Message) AppSpecificContent(v any) *Message {
	m.p.Custom(appSpecificContentKey, v)
	return m
}

// Field merges a supplemental top-level key into the payload. The aps key is
// reserved and rejected with ErrReservedField.
func (m *Message) Field(key string, v any) error {
	if key == apsKey {
		return fmt.Errorf("%w: %q", ErrReservedField, key)
	}
	m.p.Custom(key, v)
	return nil
}

// MarshalJSON renders the canonical JSON payload.
func (m *Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.p)
}
