package websocket_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/developerYeasin/blood-donation-backend/internal/auth"
	"github.com/developerYeasin/blood-donation-backend/internal/metrics"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
	ws "github.com/developerYeasin/blood-donation-backend/internal/websocket"
)

// testClient is a dialed socket plus the session id the server assigned.
type testClient struct {
	conn      *websocket.Conn
	sessionID string
	userID    int64
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, srv *httptest.Server, header http.Header) *testClient {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	env := readEvent(t, conn)
	if env.Event != types.EventConnected {
		t.Fatalf("first event = %q, want connected", env.Event)
	}
	var p types.ConnectedPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("decode connected payload: %v", err)
	}
	return &testClient{conn: conn, sessionID: p.SessionID, userID: p.UserID}
}

func (c *testClient) emit(t *testing.T, event string, data any) {
	t.Helper()
	frame, err := types.NewEnvelope(event, data)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("failed to send %s: %v", event, err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) types.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	var env types.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("invalid frame %s: %v", msg, err)
	}
	return env
}

// expectSilence asserts that nothing arrives on conn for a short while.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
	if _, msg, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no event, got %s", msg)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newEchoServer(t *testing.T, opts ws.Options) (*ws.Server, *httptest.Server) {
	t.Helper()
	router := ws.NewRouter()
	router.Handle("echo", func(_ context.Context, c *ws.Connection, data json.RawMessage) error {
		frame, err := types.NewEnvelope("echo", data)
		if err != nil {
			return err
		}
		return c.Send(frame)
	})
	router.Handle("fail", func(context.Context, *ws.Connection, json.RawMessage) error {
		return errors.New("handler exploded")
	})

	server := ws.NewServer(router, auth.NewVerifier("secret"), zap.NewNop(), opts)
	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		_ = server.Stop(context.Background())
		srv.Close()
	})
	return server, srv
}

func TestServer_ConnectAssignsSession(t *testing.T) {
	server, srv := newEchoServer(t, ws.Options{})

	a := dial(t, srv, nil)
	b := dial(t, srv, nil)

	if !strings.HasPrefix(a.sessionID, "ses_") {
		t.Errorf("session id = %q, want ses_ prefix", a.sessionID)
	}
	if a.sessionID == b.sessionID {
		t.Error("sessions must get distinct ids")
	}
	if server.Clients().Count() != 2 {
		t.Errorf("Count() = %d, want 2", server.Clients().Count())
	}
}

func TestServer_RoutesEvents(t *testing.T) {
	_, srv := newEchoServer(t, ws.Options{})
	c := dial(t, srv, nil)

	c.emit(t, "echo", map[string]string{"k": "v"})
	env := readEvent(t, c.conn)
	if env.Event != "echo" || string(env.Data) != `{"k":"v"}` {
		t.Errorf("echo = %s %s", env.Event, env.Data)
	}
}

func TestServer_ErrorEvents(t *testing.T) {
	_, srv := newEchoServer(t, ws.Options{})
	c := dial(t, srv, nil)
	other := dial(t, srv, nil)

	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"malformed", `{not json`, "malformed event"},
		{"missing event", `{"data":1}`, "malformed event"},
		{"unknown", `{"event":"nope"}`, `unknown event "nope"`},
		{"handler error", `{"event":"fail"}`, "handler exploded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte(tt.frame)); err != nil {
				t.Fatal(err)
			}
			env := readEvent(t, c.conn)
			if env.Event != types.EventError {
				t.Fatalf("event = %q, want error", env.Event)
			}
			var p types.ErrorPayload
			if err := json.Unmarshal(env.Data, &p); err != nil {
				t.Fatal(err)
			}
			if p.Message != tt.want {
				t.Errorf("message = %q, want %q", p.Message, tt.want)
			}
		})
	}

	// Errors go to the offending session only.
	expectSilence(t, other.conn)
}

func TestServer_RateLimit(t *testing.T) {
	_, srv := newEchoServer(t, ws.Options{EventRate: 0.001, EventBurst: 2})
	c := dial(t, srv, nil)

	for i := 0; i < 3; i++ {
		c.emit(t, "echo", i)
	}
	if env := readEvent(t, c.conn); env.Event != "echo" {
		t.Fatalf("event 1 = %q", env.Event)
	}
	if env := readEvent(t, c.conn); env.Event != "echo" {
		t.Fatalf("event 2 = %q", env.Event)
	}
	env := readEvent(t, c.conn)
	if env.Event != types.EventError || !strings.Contains(string(env.Data), "rate limit") {
		t.Errorf("event 3 = %s %s, want rate limit error", env.Event, env.Data)
	}
}

func TestServer_RateLimitedEventLabels(t *testing.T) {
	_, srv := newEchoServer(t, ws.Options{EventRate: 0.0001, EventBurst: 1})
	c := dial(t, srv, nil)

	before := testutil.CollectAndCount(metrics.SocketEvents)
	const frames = 200
	for i := 0; i < frames; i++ {
		c.emit(t, "junk_"+strconv.Itoa(i), nil)
	}
	for i := 0; i < frames; i++ {
		if env := readEvent(t, c.conn); env.Event != types.EventError {
			t.Fatalf("frame %d reply = %q, want error", i, env.Event)
		}
	}

	// Unregistered names collapse into the unknown/unhandled and
	// unknown/rate_limited series.
	if grown := testutil.CollectAndCount(metrics.SocketEvents) - before; grown > 2 {
		t.Errorf("junk event names added %d series, want at most 2", grown)
	}
}

func TestServer_Authentication(t *testing.T) {
	_, srv := newEchoServer(t, ws.Options{})
	token, err := auth.NewVerifier("secret").Sign(7, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	viaHeader := dial(t, srv, http.Header{"Authorization": {"Bearer " + token}})
	if viaHeader.userID != 7 {
		t.Errorf("header auth user = %d, want 7", viaHeader.userID)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv)+"?token="+token, nil)
	if err != nil {
		t.Fatalf("query auth failed: %v", err)
	}
	defer func() { _ = conn.Close() }()
	var p types.ConnectedPayload
	_ = json.Unmarshal(readEvent(t, conn).Data, &p)
	if p.UserID != 7 {
		t.Errorf("query auth user = %d, want 7", p.UserID)
	}

	anon := dial(t, srv, nil)
	if anon.userID != 0 {
		t.Errorf("anonymous user = %d, want 0", anon.userID)
	}

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), http.Header{"Authorization": {"Bearer bogus"}})
	if err == nil {
		t.Fatal("expected bad token to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %v, want 401", resp)
	}
}

func TestServer_RequireAuth(t *testing.T) {
	_, srv := newEchoServer(t, ws.Options{RequireAuth: true})

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil {
		t.Fatal("expected anonymous session to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %v, want 401", resp)
	}
}

func TestServer_DisconnectHook(t *testing.T) {
	server, srv := newEchoServer(t, ws.Options{})
	gone := make(chan string, 1)
	server.SetDisconnectHook(func(id string) { gone <- id })

	c := dial(t, srv, nil)
	_ = c.conn.Close()

	select {
	case id := <-gone:
		if id != c.sessionID {
			t.Errorf("hook got %q, want %q", id, c.sessionID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect hook never fired")
	}
	waitFor(t, "session unregistered", func() bool { return server.Clients().Count() == 0 })
}

func TestServer_Stop(t *testing.T) {
	router := ws.NewRouter()
	server := ws.NewServer(router, nil, nil, ws.Options{})
	srv := httptest.NewServer(server)
	defer srv.Close()

	c := dial(t, srv, nil)
	if err := server.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := c.conn.ReadMessage(); err == nil {
		t.Error("expected connection to be closed after Stop()")
	}

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status after Stop() = %d, want 503", resp.StatusCode)
	}
}

func TestConnection_SendAfterClose(t *testing.T) {
	grabbed := make(chan *ws.Connection, 1)
	router := ws.NewRouter()
	router.Handle("grab", func(_ context.Context, c *ws.Connection, _ json.RawMessage) error {
		grabbed <- c
		return nil
	})
	server := ws.NewServer(router, nil, zap.NewNop(), ws.Options{})
	srv := httptest.NewServer(server)
	t.Cleanup(func() {
		_ = server.Stop(context.Background())
		srv.Close()
	})

	c := dial(t, srv, nil)
	c.emit(t, "grab", nil)

	var conn *ws.Connection
	select {
	case conn = <-grabbed:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	if conn.ID() != c.sessionID {
		t.Errorf("connection id = %q, want %q", conn.ID(), c.sessionID)
	}
	_ = conn.Close()
	if err := conn.Send([]byte(`{}`)); !errors.Is(err, ws.ErrConnectionClosed) {
		t.Errorf("Send() after Close() = %v, want ErrConnectionClosed", err)
	}
}
