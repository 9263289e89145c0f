package stream

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessage(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		original := testMessage{ID: "42", Body: "sold"}

		encoded, err := EncodeMessage(original)
		require.NoError(t, err)
		require.Contains(t, encoded, "data")

		decoded, err := DecodeMessage[testMessage](encoded)
		require.NoError(t, err)
		assert.Equal(t, original, decoded)
	})

	t.Run("pointer types are rejected", func(t *testing.T) {
		_, err := EncodeMessage(&testMessage{ID: "42"})
		assert.ErrorIs(t, err, ErrPointerType)

		_, err = DecodeMessage[*testMessage](map[string]any{})
		assert.ErrorIs(t, err, ErrPointerType)
	})

	t.Run("empty message decodes to zero value", func(t *testing.T) {
		decoded, err := DecodeMessage[testMessage](map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, testMessage{}, decoded)
	})

	t.Run("missing data field", func(t *testing.T) {
		_, err := DecodeMessage[testMessage](map[string]any{"other": "x"})
		assert.ErrorContains(t, err, "data field")
	})

	t.Run("data field with wrong type", func(t *testing.T) {
		_, err := DecodeMessage[testMessage](map[string]any{"data": 7})
		assert.ErrorContains(t, err, "data field")
	})

	t.Run("invalid base64 payload", func(t *testing.T) {
		_, err := DecodeMessage[testMessage](map[string]any{"data": "%%%"})
		assert.ErrorContains(t, err, "base64")
	})

	t.Run("corrupt msgpack payload", func(t *testing.T) {
		garbage := base64.StdEncoding.EncodeToString([]byte{0xc1})
		_, err := DecodeMessage[testMessage](map[string]any{"data": garbage})
		assert.ErrorContains(t, err, "msgpack")
	})
}
