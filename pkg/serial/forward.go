package serial

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"adhiba.xyz/iot-climate-service/pkg/common"
	"adhiba.xyz/iot-climate-service/pkg/models"
)

// HTTPForwarder posts readings to a remote POST /iot/data endpoint.
type HTTPForwarder struct {
	URL    string
	APIKey string
	Client *http.Client
}

func NewHTTPForwarder(url, apiKey string) *HTTPForwarder {
	return &HTTPForwarder{URL: url, APIKey: apiKey, Client: &http.Client{Timeout: 10 * time.Second}}
}

type forwardRequest struct {
	DeviceID    int      `json:"deviceId"`
	Temperature float64  `json:"temperature"`
	Humidity    float64  `json:"humidity"`
	Battery     *float64 `json:"battery,omitempty"`
}

type forwardResponse struct {
	Success bool                 `json:"success"`
	Outcome models.WriteOutcome  `json:"outcome"`
	Alert   models.AlertDecision `json:"alert"`
	Error   string               `json:"error"`
}

func (f *HTTPForwarder) Ingest(ctx context.Context, reading *models.Reading) (models.IngestResult, error) {
	body, err := json.Marshal(forwardRequest{
		DeviceID:    reading.DeviceID,
		Temperature: reading.Temperature,
		Humidity:    reading.Humidity,
		Battery:     reading.Battery,
	})
	if err != nil {
		return models.IngestResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.URL, bytes.NewReader(body))
	if err != nil {
		return models.IngestResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(common.HeaderDeviceAPIKey, f.APIKey)

	resp, err := f.Client.Do(req)
	if err != nil {
		return models.IngestResult{}, fmt.Errorf("forward reading: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return models.IngestResult{}, err
	}

	var out forwardResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = string(bytes.TrimSpace(raw))
		}
		return models.IngestResult{}, fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return models.IngestResult{Outcome: out.Outcome, Alert: out.Alert}, nil
}
