package dispatch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HerbHall/netmedic/pkg/models"
)

func testNotification() *Notification {
	return &Notification{
		DirectiveID: "d-1",
		RuleID:      "device-down",
		DeviceID:    "edge-1",
		Severity:    models.SeverityCritical,
		Message:     "edge-1 ping unreachable",
	}
}

func TestWebhookNotifyPostsSignedPayload(t *testing.T) {
	const secret = "test-secret"

	var gotBody []byte
	var gotSig, gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Signature")
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL, Secret: secret})
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}

	if gotContentType != "application/json" {
		t.Errorf("content type = %q", gotContentType)
	}

	var payload webhookPayload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if payload.Notification.DeviceID != "edge-1" || payload.Notification.Severity != models.SeverityCritical {
		t.Errorf("notification = %+v", payload.Notification)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestWebhookNotifySkipsSignatureWithoutSecret(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotSig != "" {
		t.Errorf("unexpected signature %q", gotSig)
	}
}

func TestWebhookNotifySetsCustomHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{
		URL:     srv.URL,
		Headers: map[string]string{"Authorization": "Bearer abc"},
	})
	if err := n.Notify(context.Background(), testNotification()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("authorization = %q", gotAuth)
	}
}

func TestWebhookNotifyRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("Notify accepted a 502 response")
	}
}

func TestWebhookNotifyConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	n := NewWebhookNotifier(WebhookConfig{URL: srv.URL})
	if err := n.Notify(context.Background(), testNotification()); err == nil {
		t.Fatal("Notify succeeded against a closed server")
	}
}
