package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/developerYeasin/blood-donation-backend/internal/metrics"
	"github.com/developerYeasin/blood-donation-backend/internal/notify"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// ErrPersistence is shared with notify so one errors.Is check covers both.
var ErrPersistence = notify.ErrPersistence

const (
	previewLength   = 30
	fallbackSender  = "Someone"
	messageClickURL = "/chat"
)

// MessageStore is the persistence the relay needs.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg types.NewMessage) (*types.Message, error)
	OtherParticipants(ctx context.Context, conversationID, excludeUserID int64) ([]int64, error)
}

// Notifier dispatches one notification to one recipient.
type Notifier interface {
	Dispatch(ctx context.Context, req notify.Request) (*notify.Result, error)
}

// Relay persists chat messages, broadcasts them to their room and notifies
// the other participants. It also relays typing indicators.
type Relay struct {
	store    MessageStore
	rooms    Broadcaster
	notifier Notifier
	log      *zap.Logger
	validate *validator.Validate
	wg       sync.WaitGroup
}

// NewRelay creates a relay. notifier may be nil to disable notifications.
func NewRelay(store MessageStore, rooms Broadcaster, notifier Notifier, log *zap.Logger) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{
		store:    store,
		rooms:    rooms,
		notifier: notifier,
		log:      log,
		validate: validator.New(),
	}
}

// SendMessage persists a message, broadcasts receive_message to the whole
// conversation room, and starts notifying the other participants in the
// background. If persistence fails nothing is broadcast or notified.
func (r *Relay) SendMessage(ctx context.Context, p types.SendMessagePayload) (*types.Message, error) {
	if err := r.validate.Struct(p); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	log := r.log.With(
		zap.Int64("conversation_id", int64(p.ConversationID)),
		zap.Int64("sender_id", int64(p.SenderID)))

	msg, err := r.store.InsertMessage(ctx, types.NewMessage{
		ConversationID: int64(p.ConversationID),
		SenderID:       int64(p.SenderID),
		Content:        p.Content,
		Type:           p.Type,
	})
	if err != nil {
		metrics.MessagesFailed.Inc()
		log.Error("message save failed", zap.Error(err))
		return nil, fmt.Errorf("%w: save message: %w", ErrPersistence, err)
	}
	msg.SenderName = p.SenderName

	frame, err := types.NewEnvelope(types.EventReceiveMessage, types.ReceiveMessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderName:     msg.SenderName,
		Content:        msg.Content,
		Type:           msg.Type,
		CreatedAt:      types.FormatTime(msg.CreatedAt),
	})
	if err != nil {
		return msg, err
	}

	room := types.RoomID(msg.ConversationID)
	reached, err := r.rooms.Broadcast(ctx, room, frame, "")
	if err != nil {
		log.Warn("broadcast failed", zap.String("room", room), zap.Error(err))
	}
	metrics.MessagesRelayed.Inc()
	log.Debug("message relayed", zap.Int64("message_id", msg.ID), zap.Int("reached", reached))

	if r.notifier != nil {
		r.notifyParticipants(context.WithoutCancel(ctx), log, msg)
	}
	return msg, nil
}

// notifyParticipants resolves recipients and dispatches to each of them on
// its own goroutine so a stalled push only stalls its own dispatch.
func (r *Relay) notifyParticipants(ctx context.Context, log *zap.Logger, msg *types.Message) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		recipients, err := r.store.OtherParticipants(ctx, msg.ConversationID, msg.SenderID)
		if err != nil {
			log.Error("load recipients failed", zap.Error(err))
			return
		}

		sender := msg.SenderName
		if sender == "" {
			sender = fallbackSender
		}
		req := notify.Request{
			Title:       "Message from " + sender,
			Body:        preview(msg.Content, previewLength),
			Type:        types.NotificationMessage,
			ReferenceID: msg.ConversationID,
			ClickURL:    messageClickURL,
		}

		for _, uid := range recipients {
			req.RecipientID = uid
			r.wg.Add(1)
			go func(req notify.Request) {
				defer r.wg.Done()
				if _, err := r.notifier.Dispatch(ctx, req); err != nil {
					log.Error("notify participant failed", zap.Int64("recipient_id", req.RecipientID), zap.Error(err))
				}
			}(req)
		}
	}()
}

// NotifyTyping tells everyone else in room that userID started typing.
func (r *Relay) NotifyTyping(ctx context.Context, room, senderSessionID string, userID int64) (int, error) {
	return r.typing(ctx, types.EventDisplayTyping, room, senderSessionID, userID)
}

// NotifyStopTyping tells everyone else in room that userID stopped typing.
func (r *Relay) NotifyStopTyping(ctx context.Context, room, senderSessionID string, userID int64) (int, error) {
	return r.typing(ctx, types.EventHideTyping, room, senderSessionID, userID)
}

func (r *Relay) typing(ctx context.Context, event, room, sender string, userID int64) (int, error) {
	frame, err := types.NewEnvelope(event, types.TypingPayload{Room: room, UserID: userID})
	if err != nil {
		return 0, err
	}
	return r.rooms.Broadcast(ctx, room, frame, sender)
}

// Wait blocks until every background notification has finished.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// preview returns the first n characters of s.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
