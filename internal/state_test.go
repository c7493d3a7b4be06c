package internal_test

import (
	"testing"

	"github.com/krelinga/hls-transcoder/internal"
)

func TestJobStateCanTransition(t *testing.T) {
	states := []internal.JobState{
		internal.JobStateQueued,
		internal.JobStateDownloading,
		internal.JobStateProcessing,
		internal.JobStateUploading,
		internal.JobStateCompleted,
		internal.JobStateFailed,
	}
	allowed := map[[2]internal.JobState]bool{
		{internal.JobStateQueued, internal.JobStateDownloading}:     true,
		{internal.JobStateDownloading, internal.JobStateProcessing}: true,
		{internal.JobStateProcessing, internal.JobStateUploading}:   true,
		{internal.JobStateUploading, internal.JobStateCompleted}:    true,
		{internal.JobStateQueued, internal.JobStateFailed}:          true,
		{internal.JobStateDownloading, internal.JobStateFailed}:     true,
		{internal.JobStateProcessing, internal.JobStateFailed}:      true,
		{internal.JobStateUploading, internal.JobStateFailed}:       true,
	}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]internal.JobState{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestJobStateIsTerminal(t *testing.T) {
	for state, want := range map[internal.JobState]bool{
		internal.JobStateQueued:      false,
		internal.JobStateDownloading: false,
		internal.JobStateProcessing:  false,
		internal.JobStateUploading:   false,
		internal.JobStateCompleted:   true,
		internal.JobStateFailed:      true,
	} {
		if got := state.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v", state, got)
		}
	}
}

func TestStateForEvent(t *testing.T) {
	for event, want := range map[internal.EventType]internal.JobState{
		internal.EventDownloading: internal.JobStateDownloading,
		internal.EventProcessing:  internal.JobStateProcessing,
		internal.EventUploading:   internal.JobStateUploading,
		internal.EventCompleted:   internal.JobStateCompleted,
		internal.EventError:       internal.JobStateFailed,
		"unknown":                 internal.JobStateQueued,
	} {
		if got := internal.StateForEvent(event); got != want {
			t.Errorf("StateForEvent(%s) = %s, want %s", event, got, want)
		}
	}
}
