package realtime_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/developerYeasin/blood-donation-backend/internal/notify"
	"github.com/developerYeasin/blood-donation-backend/internal/realtime"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

type fakeMessageStore struct {
	mu           sync.Mutex
	nextID       int64
	saved        []types.NewMessage
	participants map[int64][]int64
	insertErr    error
}

func (f *fakeMessageStore) InsertMessage(_ context.Context, m types.NewMessage) (*types.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, f.insertErr
	}
	f.nextID++
	f.saved = append(f.saved, m)
	msgType := m.Type
	if msgType == "" {
		msgType = types.DefaultMessageType
	}
	return &types.Message{
		ID:             f.nextID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		Type:           msgType,
		CreatedAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (f *fakeMessageStore) OtherParticipants(_ context.Context, conv, exclude int64) ([]int64, error) {
	var out []int64
	for _, id := range f.participants[conv] {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	reqs []notify.Request
}

func (f *fakeNotifier) Dispatch(_ context.Context, req notify.Request) (*notify.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return &notify.Result{NotificationID: int64(len(f.reqs))}, nil
}

func (f *fakeNotifier) requests() []notify.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Request(nil), f.reqs...)
}

func TestSendMessage_BroadcastsToRoomOnly(t *testing.T) {
	reg := realtime.NewRegistry(nil)
	a, b, c := newSession("A"), newSession("B"), newSession("C")
	reg.Join(a, "9")
	reg.Join(b, "9")
	reg.Join(c, "10")

	st := &fakeMessageStore{participants: map[int64][]int64{9: {1, 2}}}
	n := &fakeNotifier{}
	relay := realtime.NewRelay(st, reg, n, zap.NewNop())

	msg, err := relay.SendMessage(context.Background(), types.SendMessagePayload{
		ConversationID: 9, SenderID: 1, SenderName: "Alice", Content: "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	relay.Wait()

	if msg.Type != types.DefaultMessageType {
		t.Errorf("Type = %q, want text", msg.Type)
	}

	for _, s := range []*fakeSession{a, b} {
		evs := s.events(t)
		if len(evs) != 1 || evs[0].Event != types.EventReceiveMessage {
			t.Fatalf("session %s got %+v, want one receive_message", s.id, evs)
		}
		var p types.ReceiveMessagePayload
		if err := json.Unmarshal(evs[0].Data, &p); err != nil {
			t.Fatal(err)
		}
		if p.Content != "hello" || p.ConversationID != 9 || p.SenderName != "Alice" || p.ID != msg.ID {
			t.Errorf("session %s payload = %+v", s.id, p)
		}
		if p.CreatedAt != "2026-01-02T03:04:05.000000Z" {
			t.Errorf("CreatedAt = %q", p.CreatedAt)
		}
	}
	if len(c.events(t)) != 0 {
		t.Error("session outside the room received the message")
	}

	reqs := n.requests()
	if len(reqs) != 1 {
		t.Fatalf("got %d dispatches, want 1", len(reqs))
	}
	want := notify.Request{
		RecipientID: 2,
		Title:       "Message from Alice",
		Body:        "hello",
		Type:        types.NotificationMessage,
		ReferenceID: 9,
		ClickURL:    "/chat",
	}
	if reqs[0] != want {
		t.Errorf("dispatch = %+v, want %+v", reqs[0], want)
	}
}

func TestSendMessage_PersistenceFailure(t *testing.T) {
	reg := realtime.NewRegistry(nil)
	a, b := newSession("A"), newSession("B")
	reg.Join(a, "9")
	reg.Join(b, "9")

	core, logs := observer.New(zapcore.ErrorLevel)
	st := &fakeMessageStore{insertErr: errors.New("database is locked"), participants: map[int64][]int64{9: {1, 2}}}
	n := &fakeNotifier{}
	relay := realtime.NewRelay(st, reg, n, zap.New(core))

	_, err := relay.SendMessage(context.Background(), types.SendMessagePayload{ConversationID: 9, SenderID: 1, Content: "hello"})
	if !errors.Is(err, realtime.ErrPersistence) {
		t.Fatalf("SendMessage() error = %v, want ErrPersistence", err)
	}
	relay.Wait()

	if len(a.events(t)) != 0 || len(b.events(t)) != 0 {
		t.Error("nothing should be broadcast after a failed save")
	}
	if len(n.requests()) != 0 {
		t.Error("nothing should be dispatched after a failed save")
	}
	if logs.FilterMessage("message save failed").Len() != 1 {
		t.Errorf("expected one logged save failure, got %v", logs.All())
	}
}

func TestSendMessage_Validation(t *testing.T) {
	st := &fakeMessageStore{}
	relay := realtime.NewRelay(st, realtime.NewRegistry(nil), nil, nil)

	for _, p := range []types.SendMessagePayload{
		{ConversationID: 9, SenderID: 1},
		{SenderID: 1, Content: "x"},
		{ConversationID: 9, Content: "x"},
	} {
		if _, err := relay.SendMessage(context.Background(), p); err == nil {
			t.Errorf("SendMessage(%+v) should fail validation", p)
		}
	}
	if len(st.saved) != 0 {
		t.Errorf("invalid messages were saved: %+v", st.saved)
	}
}

func TestSendMessage_NotificationDefaults(t *testing.T) {
	reg := realtime.NewRegistry(nil)
	st := &fakeMessageStore{participants: map[int64][]int64{4: {1, 2, 3}}}
	n := &fakeNotifier{}
	relay := realtime.NewRelay(st, reg, n, nil)

	long := strings.Repeat("é", 45)
	if _, err := relay.SendMessage(context.Background(), types.SendMessagePayload{
		ConversationID: 4, SenderID: 3, Content: long, Type: "image",
	}); err != nil {
		t.Fatalf("SendMessage() failed: %v", err)
	}
	relay.Wait()

	reqs := n.requests()
	if len(reqs) != 2 {
		t.Fatalf("got %d dispatches, want 2", len(reqs))
	}
	for _, r := range reqs {
		if r.RecipientID == 3 {
			t.Error("sender must not be notified")
		}
		if r.Title != "Message from Someone" {
			t.Errorf("Title = %q", r.Title)
		}
		if r.Body != strings.Repeat("é", 30) {
			t.Errorf("Body = %q, want first 30 characters", r.Body)
		}
	}
	if st.saved[0].Type != "image" {
		t.Errorf("saved type = %q", st.saved[0].Type)
	}
}

func TestNotifyTyping_ExcludesSender(t *testing.T) {
	reg := realtime.NewRegistry(nil)
	a, b, c := newSession("A"), newSession("B"), newSession("C")
	reg.Join(a, "9")
	reg.Join(b, "9")
	reg.Join(c, "9")
	relay := realtime.NewRelay(&fakeMessageStore{}, reg, nil, nil)
	ctx := context.Background()

	n, err := relay.NotifyTyping(ctx, "9", "A", 1)
	if err != nil {
		t.Fatalf("NotifyTyping() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("typing reached %d, want 2", n)
	}
	if _, err := relay.NotifyStopTyping(ctx, "9", "A", 1); err != nil {
		t.Fatalf("NotifyStopTyping() failed: %v", err)
	}

	if len(a.events(t)) != 0 {
		t.Error("sender received its own typing indicator")
	}
	for _, s := range []*fakeSession{b, c} {
		evs := s.events(t)
		if len(evs) != 2 || evs[0].Event != types.EventDisplayTyping || evs[1].Event != types.EventHideTyping {
			t.Errorf("session %s got %+v", s.id, evs)
		}
	}
}
