package push

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeMessage(t *testing.T, m *Message) map[string]any {
	t.Helper()
	b, err := m.MarshalJSON()
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestMessage(t *testing.T) {
	t.Run("Set fields appear under aps", func(t *testing.T) {
		m := NewMessage().Alert("hello").Badge(3).Sound("default").Category("chat")
		out := decodeMessage(t, m)

		aps, ok := out["aps"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "hello", aps["alert"])
		assert.Equal(t, float64(3), aps["badge"])
		assert.Equal(t, "default", aps["sound"])
		assert.Equal(t, "chat", aps["category"])
	})

	t.Run("Titled alert is structured", func(t *testing.T) {
		out := decodeMessage(t, NewMessage().TitledAlert("Greetings", "hello there"))
		alert, ok := out["aps"].(map[string]any)["alert"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "Greetings", alert["title"])
		assert.Equal(t, "hello there", alert["body"])
	})

	t.Run("Unset fields are omitted", func(t *testing.T) {
		out := decodeMessage(t, NewMessage().Alert("only"))
		aps := out["aps"].(map[string]any)
		assert.NotContains(t, aps, "badge")
		assert.NotContains(t, aps, "sound")
		assert.NotContains(t, aps, "category")
		assert.NotContains(t, out, appSpecificContentKey)
	})

	t.Run("App specific content and supplemental fields", func(t *testing.T) {
		m := NewMessage().AppSpecificContent(map[string]string{"thread": "42"})
		require.NoError(t, m.Field("msg_id", "abc"))
		out := decodeMessage(t, m)

		assert.Equal(t, map[string]any{"thread": "42"}, out[appSpecificContentKey])
		assert.Equal(t, "abc", out["msg_id"])
		assert.Contains(t, out, "aps")
	})

	t.Run("aps cannot be overwritten", func(t *testing.T) {
		m := NewMessage().Alert("keep me")
		err := m.Field("aps", map[string]any{"alert": "hijack"})
		assert.ErrorIs(t, err, ErrReservedField)

		out := decodeMessage(t, m)
		assert.Equal(t, "keep me", out["aps"].(map[string]any)["alert"])
	})

	t.Run("Silent payload", func(t *testing.T) {
		assert.JSONEq(t, `{"aps":{"content-available":1}}`, string(silentPayload))
	})
}
