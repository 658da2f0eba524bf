package llmapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// signJWT builds the Zhipu-AI-style bearer token: a detached-signature JWT
// whose header and payload are non-standard ("sign_type":"SIGN" has no
// meaning to a generic JWT library), so it is hand-assembled rather than
// built with a JWT package.
func signJWT(apiID, apiSecret string, exp time.Duration) (string, error) {
	header := map[string]string{"alg": "HS256", "sign_type": "SIGN"}
	now := time.Now()
	payload := map[string]int64{
		"timestamp": now.UnixMilli(),
		"exp":       now.Add(exp).UnixMilli(),
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadBody := map[string]interface{}{
		"api_key":   apiID,
		"exp":       payload["exp"],
		"timestamp": payload["timestamp"],
	}
	payloadJSON, err := json.Marshal(payloadBody)
	if err != nil {
		return "", err
	}

	headerPart := b64NoPad(headerJSON)
	payloadPart := b64NoPad(payloadJSON)

	signingInput := headerPart + "." + payloadPart
	mac := hmac.New(sha256.New, []byte(apiSecret))
	mac.Write([]byte(signingInput))
	sig := b64NoPad(mac.Sum(nil))

	return signingInput + "." + sig, nil
}

func b64NoPad(b []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(b), "=")
}

// splitAPIKey splits the composite "id.secret" key format used by the
// provider into its two halves.
func splitAPIKey(compositeKey string) (id, secret string, err error) {
	parts := strings.SplitN(compositeKey, ".", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("llmapi: malformed API key, expected \"id.secret\" form")
	}
	return parts[0], parts[1], nil
}
