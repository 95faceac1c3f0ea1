package verify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader is the inbound header carrying the timestamp and signature.
const SignatureHeader = "Stripe-Signature"

// StripeVerifier checks Stripe-style signatures: the header holds
// comma-separated key=value pairs with a unix timestamp (t) and an
// HMAC-SHA256 signature (v1) over "{timestamp}.{rawBody}", hex-encoded.
type StripeVerifier struct {
	// Tolerance bounds how far in the past the header timestamp may be,
	// limiting replay exposure.
	Tolerance time.Duration

	Now func() time.Time
}

// Verify fails closed: a missing or malformed header, an expired timestamp,
// or any decoding problem all count as verification failure.
func (v *StripeVerifier) Verify(headers map[string]string, secret string, rawBody []byte) bool {
	header := lookupHeader(headers, SignatureHeader)
	if header == "" {
		return false
	}

	timestamp, signature, ok := parseSignatureHeader(header)
	if !ok {
		return false
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	elapsed := now().Unix() - timestamp
	if elapsed < 0 || time.Duration(elapsed)*time.Second > v.Tolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	received, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(received, expected)
}

// parseSignatureHeader decomposes "t=1700000000,v1=abcdef..." into its
// timestamp and signature fields.
func parseSignatureHeader(header string) (timestamp int64, signature string, ok bool) {
	for _, pair := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			t, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", false
			}
			timestamp = t
		case "v1":
			signature = value
		}
	}
	if timestamp == 0 || signature == "" {
		return 0, "", false
	}
	return timestamp, signature, true
}

func lookupHeader(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return v
	}
	// header sets arrive with inconsistent casing depending on the front end
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
