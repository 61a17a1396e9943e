package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSigner_Sign(t *testing.T) {
	signer := NewSigner("key", "secret", "phrase")

	ts := "1700000000000"
	method := "POST"
	path := "/api/mix/v1/order/placeOrder"
	body := `{"symbol":"BTCUSDT_UMCBL"}`

	got := signer.Sign(ts, method, path, body)

	// Recompute independently: HMAC-SHA256(timestamp+method+path+body), base64.
	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte(ts + method + path + body))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	assert.Equal(t, want, got)
}

func TestSigner_SignDeterministic(t *testing.T) {
	signer := NewSigner("key", "secret", "phrase")

	a := signer.Sign("1", "GET", "/p", "")
	b := signer.Sign("1", "GET", "/p", "")
	c := signer.Sign("2", "GET", "/p", "")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c, "different timestamps must produce different signatures")
}

func TestSigner_Headers(t *testing.T) {
	signer := NewSigner("api-key", "secret", "pass")

	headers := signer.Headers("123", "GET", "/api/mix/v1/account/accounts?productType=umcbl", "")

	require.Contains(t, headers, "ACCESS-SIGN")
	assert.Equal(t, "api-key", headers["ACCESS-KEY"])
	assert.Equal(t, "123", headers["ACCESS-TIMESTAMP"])
	assert.Equal(t, "pass", headers["ACCESS-PASSPHRASE"])
	assert.Equal(t, "application/json", headers["Content-Type"])
}
