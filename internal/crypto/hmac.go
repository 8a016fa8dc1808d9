package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Credentials are the L2 API key triple returned by the CLOB's derive
// endpoint.
type Credentials struct {
	Key        string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// Empty reports whether no key has been configured or derived.
func (c Credentials) Empty() bool { return c.Key == "" }

// L2Headers returns the authentication headers for a CLOB request signed at
// the current time.
func (c Credentials) L2Headers(address, method, path, body string) http.Header {
	return c.L2HeadersAt(address, method, path, body, time.Now().Unix())
}

// L2HeadersAt is L2Headers with a caller-supplied unix timestamp.
func (c Credentials) L2HeadersAt(address, method, path, body string, unixTS int64) http.Header {
	ts := strconv.FormatInt(unixTS, 10)

	// The CLOB issues secrets in URL-safe base64.
	secret, err := base64.URLEncoding.DecodeString(c.Secret)
	if err != nil {
		secret = []byte(c.Secret)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts + method + path + body))
	sig := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	h := make(http.Header, 5)
	h.Set("POLY_ADDRESS", address)
	h.Set("POLY_API_KEY", c.Key)
	h.Set("POLY_TIMESTAMP", ts)
	h.Set("POLY_PASSPHRASE", c.Passphrase)
	h.Set("POLY_SIGNATURE", sig)
	return h
}

// String redacts the secret parts for logging.
func (c Credentials) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("Credentials{key=%s, secret=%s}", redact(c.Key), redact(c.Secret))
}
