package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/models"
	"adhiba.xyz/iot-climate-service/pkg/store"
)

// Sender defines the interface for sending a single web push notification.
type Sender interface {
	Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error)
}

type webPushSender struct{}

func (webPushSender) Send(payload []byte, sub *webpush.Subscription, options *webpush.Options) (*http.Response, error) {
	return webpush.SendNotification(payload, sub, options)
}

// WebPusher sends VAPID web push notifications to every stored subscription.
type WebPusher struct {
	Store   store.Store
	Options *webpush.Options
	Sender  Sender
}

func NewWebPusher(s store.Store, publicKey, privateKey, subject string) *WebPusher {
	return &WebPusher{
		Store: s,
		Options: &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  publicKey,
			VAPIDPrivateKey: privateKey,
			TTL:             3600,
			Urgency:         webpush.UrgencyHigh,
		},
		Sender: webPushSender{},
	}
}

func (w *WebPusher) Name() string { return "webpush" }

func (w *WebPusher) Push(ctx context.Context, title, body string) error {
	logger := common.GetLoggerWith(common.LoggerNameNotifier)

	subs, err := w.Store.ListSubscriptions(ctx)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		return err
	}

	var errs error
	for _, sub := range subs {
		errs = multierr.Append(errs, w.send(ctx, logger, sub, payload))
	}
	return errs
}

func (w *WebPusher) send(ctx context.Context, logger *zap.Logger, sub models.PushSubscription, payload []byte) error {
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}

	resp, err := w.Sender.Send(payload, wpSub, w.Options)
	if err != nil {
		return fmt.Errorf("send to %s: %w", sub.Endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		logger.Info("Subscription expired, deleting", zap.String("endpoint", sub.Endpoint))
		if err := w.Store.DeleteSubscription(ctx, sub.Endpoint); err != nil {
			logger.Warn("Failed to delete expired subscription", zap.String("endpoint", sub.Endpoint), zap.Error(err))
		}
		return nil
	case resp.StatusCode >= 400:
		return fmt.Errorf("send to %s: push service returned %d", sub.Endpoint, resp.StatusCode)
	}
	return nil
}
