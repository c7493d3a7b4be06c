package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/krelinga/hls-transcoder/internal"
	"github.com/riverqueue/river"
)

// WebhookPayload is the JSON body sent to the webhook URI.
type WebhookPayload struct {
	Token []byte `json:"token,omitempty"`
	internal.ProgressEvent
}

// WebhookWorker delivers progress events to the URI a stream job was
// enqueued with.
type WebhookWorker struct {
	river.WorkerDefaults[internal.WebhookJobArgs]
	HTTPClient *http.Client
}

// Timeout bounds a single delivery attempt.
func (w *WebhookWorker) Timeout(*river.Job[internal.WebhookJobArgs]) time.Duration {
	return 30 * time.Second
}

// Work sends a POST request to the configured webhook URI.
func (w *WebhookWorker) Work(ctx context.Context, job *river.Job[internal.WebhookJobArgs]) error {
	payload := WebhookPayload{
		Token:         job.Args.Token,
		ProgressEvent: job.Args.Event,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.Args.URI, bytes.NewReader(body))
	if err != nil {
		// A malformed URI will never succeed.
		return river.JobCancel(fmt.Errorf("failed to create webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	// Retries of one delivery carry the same job ID.
	req.Header.Set("X-Webhook-Delivery", strconv.FormatInt(job.ID, 10))
	req.Header.Set("X-Webhook-Event", string(job.Args.Event.Type))

	client := w.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request for %s failed with status %d", job.Args.Event.VideoID, resp.StatusCode)
	}

	return nil
}
