package notify_test

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/developerYeasin/blood-donation-backend/internal/notify"
)

// testSubscription returns a browser subscription JSON pointing at endpoint
// with freshly generated client keys.
func testSubscription(t *testing.T, endpoint string) string {
	t.Helper()

	key, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatal(err)
	}

	sub := webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
	b, err := json.Marshal(sub)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func newWebPushClient(t *testing.T, client *http.Client) *notify.WebPushClient {
	t.Helper()
	priv, pub, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("GenerateVAPIDKeys() failed: %v", err)
	}
	cfg := notify.WebPushConfig{
		PublicKey:  pub,
		PrivateKey: priv,
		Subscriber: "admin@example.com",
		TTL:        60,
	}
	if client != nil {
		cfg.HTTPClient = client
	}
	return notify.NewWebPushClient(cfg)
}

func TestWebPushClient_Send(t *testing.T) {
	received := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			t.Error("push service received an empty body")
		}
		received <- r
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := newWebPushClient(t, srv.Client())
	err := client.Send(context.Background(), testSubscription(t, srv.URL+"/push/abc"), []byte(`{"title":"t","body":"b","url":"/"}`))
	if err != nil {
		t.Fatalf("Send() failed: %v", err)
	}

	r := <-received
	if r.URL.Path != "/push/abc" {
		t.Errorf("path = %q", r.URL.Path)
	}
	if enc := r.Header.Get("Content-Encoding"); enc != "aes128gcm" {
		t.Errorf("Content-Encoding = %q", enc)
	}
	if ttl := r.Header.Get("TTL"); ttl != "60" {
		t.Errorf("TTL = %q", ttl)
	}
	if auth := r.Header.Get("Authorization"); !strings.HasPrefix(auth, "vapid ") {
		t.Errorf("Authorization = %q, want vapid scheme", auth)
	}
}

func TestWebPushClient_ExpiredSubscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusGone)
		_, _ = w.Write([]byte("subscription expired"))
	}))
	defer srv.Close()

	client := newWebPushClient(t, srv.Client())
	err := client.Send(context.Background(), testSubscription(t, srv.URL), []byte(`{}`))
	if err == nil || !strings.Contains(err.Error(), "410") {
		t.Fatalf("Send() = %v, want 410 error", err)
	}
}

func TestWebPushClient_DoubleEncodedSubscription(t *testing.T) {
	var hit atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hit.Store(true)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	inner := testSubscription(t, srv.URL)
	outer, err := json.Marshal(inner)
	if err != nil {
		t.Fatal(err)
	}

	client := newWebPushClient(t, srv.Client())
	if err := client.Send(context.Background(), string(outer), []byte(`{}`)); err != nil {
		t.Fatalf("Send() failed: %v", err)
	}
	if !hit.Load() {
		t.Error("push service was not called")
	}
}

func TestWebPushClient_InvalidSubscription(t *testing.T) {
	client := newWebPushClient(t, nil)

	for _, sub := range []string{"not json", `{"keys":{}}`} {
		if err := client.Send(context.Background(), sub, []byte(`{}`)); err == nil {
			t.Errorf("Send(%q) should fail", sub)
		}
	}
}
