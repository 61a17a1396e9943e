package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Signer produces the venue's request signature headers. The scheme is the
// exchange's published one: HMAC-SHA256 over timestamp|method|path|body with
// the shared secret, base64 encoded.
type Signer struct {
	apiKey     string
	secretKey  string
	passphrase string
}

// NewSigner creates a request signer from static credentials.
func NewSigner(apiKey, secretKey, passphrase string) *Signer {
	return &Signer{apiKey: apiKey, secretKey: secretKey, passphrase: passphrase}
}

// Sign computes the signature for one request. path must include the query
// string when present; body is empty for GET requests.
func (s *Signer) Sign(timestamp, method, path, body string) string {
	mac := hmac.New(sha256.New, []byte(s.secretKey))
	mac.Write([]byte(timestamp + method + path + body))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Headers returns the full auth header set for one request.
func (s *Signer) Headers(timestamp, method, path, body string) map[string]string {
	return map[string]string{
		"ACCESS-KEY":        s.apiKey,
		"ACCESS-SIGN":       s.Sign(timestamp, method, path, body),
		"ACCESS-TIMESTAMP":  timestamp,
		"ACCESS-PASSPHRASE": s.passphrase,
		"Content-Type":      "application/json",
	}
}
