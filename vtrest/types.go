// Package vtrest is the HTTP contract of the stream API: the OpenAPI
// document, its request and response types, request validation and a
// client.
package vtrest

import (
	_ "embed"
	"time"
)

//go:embed openapi.yaml
var openAPISpec []byte

// Spec returns the raw OpenAPI document.
func Spec() []byte {
	return openAPISpec
}

// StreamState is the lifecycle state of a stream job.
type StreamState string

const (
	Queued      StreamState = "queued"
	Downloading StreamState = "downloading"
	Processing  StreamState = "processing"
	Uploading   StreamState = "uploading"
	Completed   StreamState = "completed"
	Failed      StreamState = "failed"
)

// IsTerminal reports whether the job will not change state again.
func (s StreamState) IsTerminal() bool {
	return s == Completed || s == Failed
}

// CreateStreamRequest is the body of POST /streams.
type CreateStreamRequest struct {
	Key          string  `json:"key"`
	VideoID      string  `json:"videoId"`
	WebhookURI   *string `json:"webhookUri,omitempty"`
	WebhookToken []byte  `json:"webhookToken,omitempty"`
}

// ProgressEvent is the latest event a worker emitted for a job.
type ProgressEvent struct {
	Type       string  `json:"type"`
	VideoID    string  `json:"videoId"`
	Percent    int     `json:"percent"`
	Status     string  `json:"status"`
	Error      *string `json:"error,omitempty"`
	Resolution *string `json:"resolution,omitempty"`
}

// StreamStatus describes a stream job.
type StreamStatus struct {
	VideoID   string         `json:"videoId"`
	Key       string         `json:"key"`
	State     StreamState    `json:"state"`
	Progress  int            `json:"progress"`
	Event     *ProgressEvent `json:"event,omitempty"`
	Error     *string        `json:"error,omitempty"`
	Attempt   int            `json:"attempt"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Error is the body of every non-2xx response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeDuplicateVideo = "DUPLICATE_VIDEO"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL_ERROR"
)
