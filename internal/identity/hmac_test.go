package identity

import (
	"testing"
	"time"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"hello":"world"}`)
	ts := time.Now().Unix()

	sig := SignPayload(secret, ts, body)
	if !VerifySignature(secret, sig, ts, body, time.Now()) {
		t.Fatalf("expected signature to verify")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	secret := "whsec_test"
	ts := time.Now().Unix()
	sig := SignPayload(secret, ts, []byte("original"))

	if VerifySignature(secret, sig, ts, []byte("tampered"), time.Now()) {
		t.Fatalf("expected signature to fail for tampered body")
	}
}

func TestVerifyAcceptsExactly300sOld(t *testing.T) {
	secret := "whsec_test"
	now := time.Now()
	ts := now.Add(-300 * time.Second).Unix()
	body := []byte("payload")
	sig := SignPayload(secret, ts, body)

	if !VerifySignature(secret, sig, ts, body, now) {
		t.Fatalf("expected signature exactly 300s old to be accepted")
	}
}

func TestVerifyRejects301sOld(t *testing.T) {
	secret := "whsec_test"
	now := time.Now()
	ts := now.Add(-301 * time.Second).Unix()
	body := []byte("payload")
	sig := SignPayload(secret, ts, body)

	if VerifySignature(secret, sig, ts, body, now) {
		t.Fatalf("expected signature 301s old to be rejected")
	}
}

func TestVerifyRejectsFutureTimestampBeyondSkew(t *testing.T) {
	secret := "whsec_test"
	now := time.Now()
	ts := now.Add(400 * time.Second).Unix()
	body := []byte("payload")
	sig := SignPayload(secret, ts, body)

	if VerifySignature(secret, sig, ts, body, now) {
		t.Fatalf("expected future-skewed signature to be rejected")
	}
}
