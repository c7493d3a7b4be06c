package internal

import (
	"fmt"
	"path"
	"strings"
)

// StreamJobArgs contains the arguments for an HLS packaging job.
// This is used as the River job args payload.
type StreamJobArgs struct {
	// Key is the remote path of the uploaded source object.
	Key string `json:"key"`
	// VideoID names the output folder and identifies the video in events.
	VideoID      string  `json:"videoId"`
	WebhookURI   *string `json:"webhookUri,omitempty"`
	WebhookToken []byte  `json:"webhookToken,omitempty"`
}

// Kind returns the job kind identifier for River.
func (StreamJobArgs) Kind() string {
	return "hls"
}

// Validate checks the payload before any work is done for it.
func (a StreamJobArgs) Validate() error {
	key := strings.TrimSpace(a.Key)
	videoID := strings.TrimSpace(a.VideoID)
	switch {
	case key == "":
		return fmt.Errorf("%w: key is required", ErrJobValidation)
	case strings.HasSuffix(key, "/"):
		return fmt.Errorf("%w: key %q names a folder", ErrJobValidation, a.Key)
	case videoID == "":
		return fmt.Errorf("%w: videoId is required", ErrJobValidation)
	case videoID != a.VideoID:
		return fmt.Errorf("%w: videoId %q has surrounding whitespace", ErrJobValidation, a.VideoID)
	case strings.ContainsAny(videoID, `/\`), videoID == ".", videoID == "..":
		return fmt.Errorf("%w: videoId %q is not a single path element", ErrJobValidation, a.VideoID)
	}
	return nil
}

// SourceExt returns the file extension used for the local copy of the source.
func (a StreamJobArgs) SourceExt() string {
	if ext := path.Ext(a.Key); ext != "" && ext != "." {
		return strings.ToLower(ext)
	}
	return ".mp4"
}

// StreamJobStatus is stored as River job output via river.RecordOutput() and
// can be read by the server and the CLI.
type StreamJobStatus struct {
	State JobState `json:"state"`
	// Progress is the overall job percentage (0-100).
	Progress int            `json:"progress"`
	Event    *ProgressEvent `json:"event,omitempty"`
	// Error contains an error message if the job failed.
	Error *string `json:"error,omitempty"`
}

// WebhookJobArgs contains the arguments for a progress webhook job.
type WebhookJobArgs struct {
	URI   string        `json:"uri"`
	Token []byte        `json:"token,omitempty"`
	Event ProgressEvent `json:"event"`
}

// Kind returns the job kind identifier for River.
func (WebhookJobArgs) Kind() string {
	return "progress_webhook"
}
