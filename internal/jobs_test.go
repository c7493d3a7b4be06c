package internal_test

import (
	"errors"
	"testing"

	"github.com/krelinga/hls-transcoder/internal"
)

func TestStreamJobArgsValidate(t *testing.T) {
	tests := []struct {
		name  string
		args  internal.StreamJobArgs
		valid bool
	}{
		{name: "valid", args: internal.StreamJobArgs{Key: "uploads/cat.mov", VideoID: "cat"}, valid: true},
		{name: "valid uuid", args: internal.StreamJobArgs{Key: "a.mp4", VideoID: "0b9f6c1e-7d0a-4a43-9b43-9d3c2b1f0e11"}, valid: true},
		{name: "empty key", args: internal.StreamJobArgs{VideoID: "cat"}},
		{name: "blank key", args: internal.StreamJobArgs{Key: "  ", VideoID: "cat"}},
		{name: "folder key", args: internal.StreamJobArgs{Key: "uploads/", VideoID: "cat"}},
		{name: "empty video id", args: internal.StreamJobArgs{Key: "uploads/cat.mov"}},
		{name: "padded video id", args: internal.StreamJobArgs{Key: "uploads/cat.mov", VideoID: " cat"}},
		{name: "slash", args: internal.StreamJobArgs{Key: "uploads/cat.mov", VideoID: "a/b"}},
		{name: "backslash", args: internal.StreamJobArgs{Key: "uploads/cat.mov", VideoID: `a\b`}},
		{name: "dot", args: internal.StreamJobArgs{Key: "uploads/cat.mov", VideoID: "."}},
		{name: "dot dot", args: internal.StreamJobArgs{Key: "uploads/cat.mov", VideoID: ".."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.args.Validate()
			if tt.valid {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, internal.ErrJobValidation) {
				t.Errorf("expected ErrJobValidation, got %v", err)
			}
		})
	}
}

func TestStreamJobArgsSourceExt(t *testing.T) {
	tests := map[string]string{
		"uploads/cat.MOV":        ".mov",
		"uploads/cat.mp4":        ".mp4",
		"uploads/archive.v2.mkv": ".mkv",
		"uploads/noext":          ".mp4",
		"uploads/trailing.":      ".mp4",
	}
	for key, want := range tests {
		if got := (internal.StreamJobArgs{Key: key}).SourceExt(); got != want {
			t.Errorf("SourceExt(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestJobKinds(t *testing.T) {
	if got := (internal.StreamJobArgs{}).Kind(); got != "hls" {
		t.Errorf("stream kind = %q", got)
	}
	if got := (internal.WebhookJobArgs{}).Kind(); got != "progress_webhook" {
		t.Errorf("webhook kind = %q", got)
	}
}
