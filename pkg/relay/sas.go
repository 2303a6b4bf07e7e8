package relay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// sasTTL is the lifetime of a generated listen token. A fresh token is
// generated on every connect, so the TTL only needs to outlive one
// control-channel session comfortably.
const sasTTL = time.Hour

// GenerateSASToken builds a Service Bus shared-access-signature token for
// the resource URI: HMAC-SHA256 over "<url-encoded-uri>\n<expiry-unix>".
func GenerateSASToken(resourceURI, keyName, key string, ttl time.Duration) string {
	expiry := time.Now().Add(ttl).Unix()
	encodedURI := url.QueryEscape(strings.ToLower(resourceURI))

	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(fmt.Sprintf("%s\n%d", encodedURI, expiry)))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return fmt.Sprintf("SharedAccessSignature sr=%s&sig=%s&se=%d&skn=%s",
		encodedURI, url.QueryEscape(signature), expiry, keyName)
}
