package internal

import (
	"errors"
	"fmt"
)

var (
	ErrJobValidation      = errors.New("invalid job")
	ErrProbe              = errors.New("probe failed")
	ErrNoTargetResolution = errors.New("no target resolution")
	ErrEncode             = errors.New("encode failed")
	ErrStorageDownload    = errors.New("storage download failed")
	ErrStorageUpload      = errors.New("storage upload failed")
	ErrUploadInProgress   = errors.New("upload already in progress")
	ErrCleanup            = errors.New("cleanup failed")
	ErrJobBusy            = errors.New("job working directory is locked")
)

// EncodeFailure reports a non-zero encoder exit for one resolution.
type EncodeFailure struct {
	Resolution string
	Err        error
}

func (e *EncodeFailure) Error() string {
	return fmt.Sprintf("%v: resolution %q: %v", ErrEncode, e.Resolution, e.Err)
}

func (e *EncodeFailure) Unwrap() []error {
	return []error{ErrEncode, e.Err}
}

// PipelineError is returned by Pipeline.Run when any stage fails.
type PipelineError struct {
	VideoID string
	Stage   JobState
	Err     error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("video %s failed while %s: %v", e.VideoID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether retrying the job can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrJobValidation) ||
		errors.Is(err, ErrNoTargetResolution) ||
		errors.Is(err, ErrProbe)
}
