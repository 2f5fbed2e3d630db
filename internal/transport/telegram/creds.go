package telegram

import (
	"encoding/json"
	"fmt"
	"strings"

	"groupbot/internal/transport"
)

var errNoToken = fmt.Errorf("telegram: no bot token configured: %w", transport.ErrNoCredentials)

type credentials struct {
	Token string `json:"token"`
}

// EncodeCredentials wraps a bot token in the blob format stored by the
// credential store.
func EncodeCredentials(token string) []byte {
	b, _ := json.Marshal(credentials{Token: strings.TrimSpace(token)})
	return b
}

// DecodeCredentials accepts the JSON blob or a bare token.
func DecodeCredentials(blob []byte) (string, error) {
	raw := strings.TrimSpace(string(blob))
	if raw == "" {
		return "", errNoToken
	}
	if strings.HasPrefix(raw, "{") {
		var c credentials
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return "", err
		}
		raw = strings.TrimSpace(c.Token)
	}
	if raw == "" {
		return "", errNoToken
	}
	return raw, nil
}
