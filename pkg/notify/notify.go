package notify

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/metrics"
	"adhiba.xyz/iot-climate-service/pkg/models"
)

// Pusher delivers a short title/body notification to subscribed clients.
type Pusher interface {
	Name() string
	Push(ctx context.Context, title, body string) error
}

type Attachment struct {
	Filename string
	Data     []byte
}

type Message struct {
	To          string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// Dispatcher fans a battery alert out to every push channel and the alert mailbox.
type Dispatcher struct {
	Pushers []Pusher
	Mailer  Mailer
	AlertTo string
}

func NewDispatcher(mailer Mailer, alertTo string, pushers ...Pusher) *Dispatcher {
	return &Dispatcher{Pushers: pushers, Mailer: mailer, AlertTo: alertTo}
}

func BatteryPushBody(alert *models.Alert) string {
	return fmt.Sprintf("⚠️ Battery Low Alert\nDevice: %d\nBattery: %.2f V", alert.DeviceID, alert.Value)
}

// NotifyBatteryLow attempts every channel once and returns their combined failures.
func (d *Dispatcher) NotifyBatteryLow(ctx context.Context, alert *models.Alert, location string) error {
	logger := common.GetLoggerWith(
		common.LoggerNameNotifier,
		zap.String(common.LoggerFieldIOTCategory, common.LoggerCategoryIOTAlert),
	)

	var errs error
	body := BatteryPushBody(alert)

	for _, p := range d.Pushers {
		if err := p.Push(ctx, "Battery Alert", body); err != nil {
			metrics.NotifierFailures.WithLabelValues(p.Name()).Inc()
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		logger.Info("Push sent", zap.String("channel", p.Name()), zap.Int("device_id", alert.DeviceID))
	}

	if d.Mailer == nil || d.AlertTo == "" {
		logger.Warn("Alert email recipient not set, skipping email", zap.Int("device_id", alert.DeviceID))
		return errs
	}

	var html bytes.Buffer
	if err := batteryEmail.Execute(&html, newBatteryEmailData(alert, location)); err != nil {
		return multierr.Append(errs, fmt.Errorf("render battery email: %w", err))
	}

	msg := &Message{
		To:      d.AlertTo,
		Subject: fmt.Sprintf("Battery Alert - Device %d", alert.DeviceID),
		HTML:    html.String(),
	}
	if err := d.Mailer.Send(ctx, msg); err != nil {
		metrics.NotifierFailures.WithLabelValues("email").Inc()
		return multierr.Append(errs, fmt.Errorf("email: %w", err))
	}
	logger.Info("Alert email sent", zap.String("to", d.AlertTo), zap.Int("device_id", alert.DeviceID))

	return errs
}
