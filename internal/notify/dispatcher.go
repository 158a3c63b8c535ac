// Package notify records notifications and fans them out to every device a
// recipient registered, over web push and the Expo mobile gateway.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/developerYeasin/blood-donation-backend/internal/metrics"
	"github.com/developerYeasin/blood-donation-backend/internal/types"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	InsertNotification(ctx context.Context, n types.Notification) (int64, error)
	DevicesForUser(ctx context.Context, userID int64) ([]types.Device, error)
}

// WebSender delivers an encoded payload to one browser subscription.
type WebSender interface {
	Send(ctx context.Context, subscription string, payload []byte) error
}

// MobileSender submits one batch of mobile messages.
type MobileSender interface {
	SendBatch(ctx context.Context, msgs []ExpoMessage) ([]error, error)
}

// Request describes one notification for one recipient.
type Request struct {
	RecipientID int64  `json:"recipient_id" validate:"required,gt=0"`
	Title       string `json:"title" validate:"required,max=255"`
	Body        string `json:"body"`
	Type        string `json:"type" validate:"required,oneof=message like comment blood_request"`
	ReferenceID int64  `json:"reference_id"`
	ClickURL    string `json:"url"`
}

// Outcome status values.
const (
	StatusSent    = "sent"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// DeviceOutcome is what happened to one device during a dispatch.
type DeviceOutcome struct {
	DeviceID int64
	Class    types.DeviceClass
	Status   string
	Err      error
}

// Result reports a dispatch. Devices are in registration order.
type Result struct {
	NotificationID int64
	Devices        []DeviceOutcome
}

// Count returns how many devices ended with the given status.
func (r *Result) Count(status string) int {
	if r == nil {
		return 0
	}
	return lo.CountBy(r.Devices, func(o DeviceOutcome) bool { return o.Status == status })
}

// Options tune the fan-out.
type Options struct {
	// Concurrency bounds the provider calls in flight per dispatch.
	Concurrency int
	// Timeout bounds each provider call.
	Timeout time.Duration
}

// Dispatcher writes the notification history row and pushes to devices.
type Dispatcher struct {
	store  Store
	web    WebSender
	mobile MobileSender
	log    *zap.Logger
	opts   Options
}

// NewDispatcher creates a dispatcher. web or mobile may be nil, in which case
// devices of that channel are skipped.
func NewDispatcher(store Store, web WebSender, mobile MobileSender, log *zap.Logger, opts Options) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Dispatcher{store: store, web: web, mobile: mobile, log: log, opts: opts}
}

type pendingMobile struct {
	index int
	msg   ExpoMessage
}

// Dispatch records the notification, then pushes it to every device of the
// recipient. Exactly one record is written per call. Device failures never
// fail the call; only ErrPersistence is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	defer func() { metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	log := d.log.With(zap.Int64("recipient_id", req.RecipientID), zap.String("type", req.Type))

	id, err := d.store.InsertNotification(ctx, types.Notification{
		RecipientID: req.RecipientID,
		Title:       req.Title,
		Body:        req.Body,
		Type:        req.Type,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		log.Error("record notification failed", zap.Error(err))
		return nil, fmt.Errorf("%w: record notification: %w", ErrPersistence, err)
	}
	metrics.NotificationsCreated.WithLabelValues(req.Type).Inc()

	result := &Result{NotificationID: id}
	log = log.With(zap.Int64("notification_id", id))

	devices, err := d.store.DevicesForUser(ctx, req.RecipientID)
	if err != nil {
		log.Error("load devices failed", zap.Error(err))
		return result, fmt.Errorf("%w: load devices: %w", ErrPersistence, err)
	}
	if len(devices) == 0 {
		return result, nil
	}

	result.Devices = make([]DeviceOutcome, len(devices))
	if req.ClickURL == "" {
		req.ClickURL = "/"
	}
	webPayload, err := json.Marshal(map[string]string{
		"title": req.Title,
		"body":  req.Body,
		"url":   req.ClickURL,
	})
	if err != nil {
		return result, fmt.Errorf("marshal web payload: %w", err)
	}

	var g errgroup.Group
	g.SetLimit(d.opts.Concurrency)

	var mobile []pendingMobile
	for i, dev := range devices {
		result.Devices[i] = DeviceOutcome{DeviceID: dev.ID, Class: dev.Class}

		target, err := Classify(dev)
		if err != nil {
			d.skip(log, &result.Devices[i], err)
			continue
		}

		switch t := target.(type) {
		case WebTarget:
			if d.web == nil {
				d.skip(log, &result.Devices[i], errors.New("web push is not configured"))
				continue
			}
			idx := i
			g.Go(func() error {
				d.sendWeb(ctx, log, &result.Devices[idx], t, webPayload)
				return nil
			})
		case MobileTarget:
			if d.mobile == nil {
				d.skip(log, &result.Devices[i], errors.New("mobile push is not configured"))
				continue
			}
			mobile = append(mobile, pendingMobile{index: i, msg: ExpoMessage{
				To:    t.Token,
				Sound: "default",
				Title: req.Title,
				Body:  req.Body,
				Data: map[string]any{
					"url":         req.ClickURL,
					"type":        req.Type,
					"referenceId": req.ReferenceID,
				},
			}})
		}
	}

	for _, chunk := range lo.Chunk(mobile, ExpoBatchSize) {
		g.Go(func() error {
			d.sendMobile(ctx, log, result.Devices, chunk)
			return nil
		})
	}

	_ = g.Wait()
	return result, nil
}

func (d *Dispatcher) sendWeb(ctx context.Context, log *zap.Logger, out *DeviceOutcome, t WebTarget, payload []byte) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	if err := d.web.Send(ctx, t.Subscription, payload); err != nil {
		d.fail(log, out, ChannelWeb, err)
		return
	}
	d.sent(out, ChannelWeb)
}

func (d *Dispatcher) sendMobile(ctx context.Context, log *zap.Logger, outs []DeviceOutcome, chunk []pendingMobile) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.Timeout)
	defer cancel()

	msgs := lo.Map(chunk, func(p pendingMobile, _ int) ExpoMessage { return p.msg })
	perMessage, err := d.mobile.SendBatch(ctx, msgs)
	for j, p := range chunk {
		out := &outs[p.index]
		switch {
		case err != nil:
			d.fail(log, out, ChannelMobile, err)
		case j < len(perMessage) && perMessage[j] != nil:
			d.fail(log, out, ChannelMobile, perMessage[j])
		default:
			d.sent(out, ChannelMobile)
		}
	}
}

func (d *Dispatcher) sent(out *DeviceOutcome, channel string) {
	out.Status = StatusSent
	metrics.PushOutcomes.WithLabelValues(channel, StatusSent).Inc()
}

func (d *Dispatcher) fail(log *zap.Logger, out *DeviceOutcome, channel string, err error) {
	out.Status = StatusFailed
	out.Err = fmt.Errorf("%w: %w", ErrChannelDelivery, err)
	metrics.PushOutcomes.WithLabelValues(channel, StatusFailed).Inc()
	log.Warn("push delivery failed",
		zap.Int64("device_id", out.DeviceID),
		zap.String("channel", channel),
		zap.Error(err))
}

func (d *Dispatcher) skip(log *zap.Logger, out *DeviceOutcome, err error) {
	out.Status = StatusSkipped
	out.Err = err
	metrics.PushOutcomes.WithLabelValues(channelOf(out.Class), StatusSkipped).Inc()

	if errors.Is(err, errNoSubscription) {
		log.Debug("device has no subscription", zap.Int64("device_id", out.DeviceID))
		return
	}
	log.Warn("device skipped",
		zap.Int64("device_id", out.DeviceID),
		zap.String("device_type", string(out.Class)),
		zap.Error(err))
}

func channelOf(c types.DeviceClass) string {
	switch {
	case c == types.DeviceWeb:
		return ChannelWeb
	case c.IsMobile():
		return ChannelMobile
	default:
		return "unknown"
	}
}
