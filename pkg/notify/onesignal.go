package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const OneSignalNotificationsURL = "https://onesignal.com/api/v1/notifications"

// OneSignalPusher broadcasts to every OneSignal subscriber of the app.
type OneSignalPusher struct {
	AppID  string
	APIKey string
	URL    string
	Client *http.Client
}

func NewOneSignalPusher(appID, apiKey string) *OneSignalPusher {
	return &OneSignalPusher{
		AppID:  appID,
		APIKey: apiKey,
		URL:    OneSignalNotificationsURL,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

type oneSignalPayload struct {
	AppID            string            `json:"app_id"`
	Headings         map[string]string `json:"headings"`
	Contents         map[string]string `json:"contents"`
	IncludedSegments []string          `json:"included_segments"`
}

func (o *OneSignalPusher) Name() string { return "onesignal" }

func (o *OneSignalPusher) Push(ctx context.Context, title, body string) error {
	if o.AppID == "" || o.APIKey == "" {
		return fmt.Errorf("missing OneSignal app id or api key")
	}

	payload, err := json.Marshal(oneSignalPayload{
		AppID:            o.AppID,
		Headings:         map[string]string{"en": title},
		Contents:         map[string]string{"en": body},
		IncludedSegments: []string{"All"},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "key "+o.APIKey)

	resp, err := o.Client.Do(req)
	if err != nil {
		return fmt.Errorf("onesignal request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("onesignal returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
