package bridge

import (
	"encoding/base64"
	"fmt"
)

// Audio payloads cross process boundaries (the websocket feed, the
// persisted handoff file) as base64 text. Encoding must be lossless for
// arbitrary binary input of any size.

// EncodeAudio encodes raw audio bytes for text transport.
func EncodeAudio(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeAudio reverses EncodeAudio.
func DecodeAudio(encoded string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return data, nil
}
