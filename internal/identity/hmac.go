package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// MaxSignatureSkew is the maximum allowed difference between a signed
// timestamp and now (§4.C1, §8 boundary behavior: 300s accepted, 301s rejected).
const MaxSignatureSkew = 300 * time.Second

// SignPayload computes the HMAC-SHA256 signature for a webhook body, per
// §4.C1: "sha256=" + hex(HMAC-SHA256(secret, T + "." + B)).
func SignPayload(secret string, timestamp int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a received signature against the expected HMAC and
// enforces the timestamp freshness window. Comparison is constant-time.
func VerifySignature(secret string, signature string, timestamp int64, body []byte, now time.Time) bool {
	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > MaxSignatureSkew {
		return false
	}

	expected := SignPayload(secret, timestamp, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SigningTimestamp returns the current time as the unix-seconds value used
// in a fresh signature (§4.C7 step 5: "a fresh timestamp").
func SigningTimestamp() int64 {
	return time.Now().UTC().Unix()
}
