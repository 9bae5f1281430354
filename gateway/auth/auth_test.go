package auth

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"
)

const (
	testAPIKey = "partner-1"
	testSecret = "super-secret"
)

func newTestAuthenticator(now time.Time, persistence NoncePersistence) *Authenticator {
	return NewAuthenticator(
		map[string]string{testAPIKey: testSecret},
		time.Minute,
		5*time.Minute,
		func() time.Time { return now },
		persistence,
	)
}

func TestAuthenticateAcceptsValidSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now, nil)
	body := []byte(`{"title":"site"}`)
	timestamp := fmt.Sprintf("%d", now.Unix())

	req := httptest.NewRequest("POST", "/v1/escrows", bytes.NewReader(body))
	req.Header.Set(HeaderAPIKey, testAPIKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, "nonce-1")
	sig := ComputeSignature(testSecret, timestamp, "nonce-1", "POST", "/v1/escrows", body)
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))

	principal, err := a.Authenticate(req, body)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if principal.APIKey != testAPIKey {
		t.Fatalf("unexpected principal: %+v", principal)
	}
}

func TestAuthenticateRejectsReplayedNonce(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now, nil)
	body := []byte(`{}`)
	timestamp := fmt.Sprintf("%d", now.Unix())
	sig := hex.EncodeToString(ComputeSignature(testSecret, timestamp, "nonce-1", "POST", "/v1/escrows", body))

	for attempt := 0; attempt < 2; attempt++ {
		req := httptest.NewRequest("POST", "/v1/escrows", bytes.NewReader(body))
		req.Header.Set(HeaderAPIKey, testAPIKey)
		req.Header.Set(HeaderTimestamp, timestamp)
		req.Header.Set(HeaderNonce, "nonce-1")
		req.Header.Set(HeaderSignature, sig)
		_, err := a.Authenticate(req, body)
		if attempt == 0 && err != nil {
			t.Fatalf("first attempt: %v", err)
		}
		if attempt == 1 && err == nil {
			t.Fatal("expected replay rejection")
		}
	}
}

func TestAuthenticateRejectsStaleTimestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now, nil)
	body := []byte(`{}`)
	timestamp := fmt.Sprintf("%d", now.Add(-10*time.Minute).Unix())
	sig := hex.EncodeToString(ComputeSignature(testSecret, timestamp, "nonce-1", "POST", "/v1/escrows", body))

	req := httptest.NewRequest("POST", "/v1/escrows", bytes.NewReader(body))
	req.Header.Set(HeaderAPIKey, testAPIKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, sig)

	if _, err := a.Authenticate(req, body); err == nil {
		t.Fatal("expected stale timestamp rejection")
	}
}

func TestAuthenticateRejectsBadSignature(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	a := newTestAuthenticator(now, nil)
	body := []byte(`{}`)
	timestamp := fmt.Sprintf("%d", now.Unix())

	req := httptest.NewRequest("POST", "/v1/escrows", bytes.NewReader(body))
	req.Header.Set(HeaderAPIKey, testAPIKey)
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderNonce, "nonce-1")
	req.Header.Set(HeaderSignature, hex.EncodeToString([]byte("not-a-signature")))

	if _, err := a.Authenticate(req, body); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestBoltNonceStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonces.db")
	store, err := NewBoltNonceStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	now := time.Unix(1_700_000_000, 0).UTC()
	record := NonceRecord{APIKey: testAPIKey, Timestamp: "1700000000", Nonce: "n1", ObservedAt: now}

	existed, err := store.EnsureNonce(context.Background(), record)
	if err != nil || existed {
		t.Fatalf("first ensure: existed=%v err=%v", existed, err)
	}
	existed, err = store.EnsureNonce(context.Background(), record)
	if err != nil || !existed {
		t.Fatalf("second ensure: existed=%v err=%v", existed, err)
	}

	if err := store.PruneNonces(context.Background(), now.Add(time.Minute)); err != nil {
		t.Fatalf("prune: %v", err)
	}
	existed, err = store.EnsureNonce(context.Background(), record)
	if err != nil || existed {
		t.Fatalf("ensure after prune: existed=%v err=%v", existed, err)
	}
}
