package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeDispatchesOnType(t *testing.T) {
	raw, err := Encode(NewRegisteredFrame("swift-otter", RoleDeveloper))
	require.NoError(t, err)

	env, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, TypeRegistered, env.Type)
}

func TestRequestFrameRoundTrip(t *testing.T) {
	frame := RequestFrame{
		Type:      TypeRequest,
		ID:        "req-1",
		SessionID: "swift-otter",
		Method:    "GET",
		URL:       "/foo?bar=1",
		Headers:   HeaderMap{"accept": {"application/json"}},
		IsBase64:  false,
	}
	raw, err := Encode(frame)
	require.NoError(t, err)

	var decoded RequestFrame
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, frame, decoded)
}
