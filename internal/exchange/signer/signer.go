// Package signer computes the HMAC-SHA256 request signatures the Gateway
// attaches to every private REST call and the private WebSocket auth
// frame — grounded on the request-signing shape in
// 0xtitan6-polymarket-mm/internal/exchange/auth.go (buildHMAC: sign
// timestamp+method+path+body with a decoded secret) and the header
// layout of aristath-sentinel's tradernet SDK client, adapted to the
// exchange's v5 scheme: sign(timestamp + apiKey + recvWindow + payload).
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Signer produces request signatures and the header set a signed call
// must carry.
type Signer struct {
	apiKey    string
	apiSecret string
}

// New creates a Signer from an API key/secret pair. Both may be empty,
// in which case HasCredentials reports false; Sign itself never fails and
// still returns a signature computed with the empty secret.
func New(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: apiSecret}
}

// HasCredentials reports whether both key and secret are configured.
func (s *Signer) HasCredentials() bool {
	return s.apiKey != "" && s.apiSecret != ""
}

// APIKey returns the configured API key for header assembly.
func (s *Signer) APIKey() string {
	return s.apiKey
}

// Sign computes the hex-encoded HMAC-SHA256 signature over
// timestamp+apiKey+recvWindow+payload, where payload is the raw query
// string (GET) or JSON body (POST) exactly as it will be sent — byte
// order and whitespace must match the wire request precisely.
func (s *Signer) Sign(timestampMS int64, recvWindowMS int, payload string) string {
	message := strconv.FormatInt(timestampMS, 10) + s.apiKey + strconv.Itoa(recvWindowMS) + payload
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the full header set for one signed request.
func (s *Signer) Headers(timestampMS int64, recvWindowMS int, payload string) map[string]string {
	ts := strconv.FormatInt(timestampMS, 10)
	return map[string]string{
		"X-BAPI-API-KEY":     s.apiKey,
		"X-BAPI-TIMESTAMP":   ts,
		"X-BAPI-RECV-WINDOW": strconv.Itoa(recvWindowMS),
		"X-BAPI-SIGN":        s.Sign(timestampMS, recvWindowMS, payload),
		"X-BAPI-SIGN-TYPE":   "2",
	}
}

// WSAuthSignature signs "GET/realtime" + expires, the payload private
// WebSocket channels expect in their auth frame.
func (s *Signer) WSAuthSignature(expiresMS int64) string {
	message := "GET/realtime" + strconv.FormatInt(expiresMS, 10)
	mac := hmac.New(sha256.New, []byte(s.apiSecret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
