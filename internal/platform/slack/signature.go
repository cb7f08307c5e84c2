package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// MaxSignatureAge is how far a request timestamp may drift from now.
const MaxSignatureAge = 5 * time.Minute

var (
	errMissingSignature = errors.New("missing slack signature headers")
	errStaleTimestamp   = errors.New("slack request timestamp outside allowed window")
	errBadSignature     = errors.New("slack signature mismatch")
)

// Sign computes the X-Slack-Signature value for body sent at timestamp.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a request against the app's signing secret.
func VerifySignature(secret, signature, timestamp string, body []byte, now time.Time) error {
	if signature == "" || timestamp == "" {
		return errMissingSignature
	}
	secs, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errStaleTimestamp
	}
	if d := now.Sub(time.Unix(secs, 0)); d > MaxSignatureAge || d < -MaxSignatureAge {
		return errStaleTimestamp
	}

	// Compare signatures in constant time.
	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return errBadSignature
	}
	return nil
}
