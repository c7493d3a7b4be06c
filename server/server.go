package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/krelinga/hls-transcoder/internal"
	"github.com/krelinga/hls-transcoder/vtrest"
	"github.com/oapi-codegen/runtime"
)

// StreamService enqueues stream jobs and reads their status.
// *internal.StreamStore implements it.
type StreamService interface {
	Enqueue(ctx context.Context, args internal.StreamJobArgs) (*internal.StreamRecord, error)
	Lookup(ctx context.Context, videoID string) (*internal.StreamRecord, error)
}

// Server serves the stream API.
type Server struct {
	streams   StreamService
	validator *vtrest.Validator
	logger    *slog.Logger
}

// NewServer creates a new Server instance.
func NewServer(streams StreamService, validator *vtrest.Validator, logger *slog.Logger) *Server {
	return &Server{
		streams:   streams,
		validator: validator,
		logger:    logger,
	}
}

// Handler returns the HTTP handler with request validation and logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /streams", s.CreateStream)
	mux.HandleFunc("GET /streams/{videoId}", s.GetStream)
	return s.logRequests(s.validator.Middleware(mux))
}

// CreateStream handles POST /streams requests.
func (s *Server) CreateStream(w http.ResponseWriter, r *http.Request) {
	var body vtrest.CreateStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		vtrest.WriteJSON(w, http.StatusBadRequest, vtrest.Error{
			Code:    vtrest.CodeInvalidRequest,
			Message: fmt.Sprintf("invalid request body: %v", err),
		})
		return
	}

	args := internal.StreamJobArgs{
		Key:          body.Key,
		VideoID:      body.VideoID,
		WebhookURI:   body.WebhookURI,
		WebhookToken: body.WebhookToken,
	}
	rec, err := s.streams.Enqueue(r.Context(), args)
	switch {
	case errors.Is(err, internal.ErrJobValidation):
		vtrest.WriteJSON(w, http.StatusBadRequest, vtrest.Error{Code: vtrest.CodeInvalidRequest, Message: err.Error()})
		return
	case errors.Is(err, internal.ErrDuplicateVideo):
		vtrest.WriteJSON(w, http.StatusConflict, vtrest.Error{
			Code:    vtrest.CodeDuplicateVideo,
			Message: fmt.Sprintf("A stream job for video %s already exists", body.VideoID),
		})
		return
	case err != nil:
		s.internalError(w, r, err)
		return
	}

	s.logger.Info("stream job enqueued", "video_id", rec.VideoID, "job_id", rec.JobID, "key", rec.Key)
	vtrest.WriteJSON(w, http.StatusCreated, toStreamStatus(rec))
}

// GetStream handles GET /streams/{videoId} requests.
func (s *Server) GetStream(w http.ResponseWriter, r *http.Request) {
	var videoID string
	err := runtime.BindStyledParameterWithOptions("simple", "videoId", r.PathValue("videoId"), &videoID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		vtrest.WriteJSON(w, http.StatusBadRequest, vtrest.Error{
			Code:    vtrest.CodeInvalidRequest,
			Message: fmt.Sprintf("invalid format for parameter videoId: %v", err),
		})
		return
	}

	rec, err := s.streams.Lookup(r.Context(), videoID)
	if errors.Is(err, internal.ErrStreamNotFound) {
		vtrest.WriteJSON(w, http.StatusNotFound, vtrest.Error{
			Code:    vtrest.CodeNotFound,
			Message: fmt.Sprintf("Stream job for video %s not found", videoID),
		})
		return
	} else if err != nil {
		s.internalError(w, r, err)
		return
	}

	vtrest.WriteJSON(w, http.StatusOK, toStreamStatus(rec))
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	vtrest.WriteJSON(w, http.StatusInternalServerError, vtrest.Error{Code: vtrest.CodeInternal, Message: err.Error()})
}

func toStreamStatus(rec *internal.StreamRecord) vtrest.StreamStatus {
	status := vtrest.StreamStatus{
		VideoID:   rec.VideoID,
		Key:       rec.Key,
		State:     vtrest.StreamState(rec.State),
		Progress:  rec.Progress,
		Error:     rec.Error,
		Attempt:   rec.Attempt,
		CreatedAt: rec.CreatedAt,
		UpdatedAt: rec.UpdatedAt,
	}
	if ev := rec.Event; ev != nil {
		status.Event = &vtrest.ProgressEvent{
			Type:    string(ev.Type),
			VideoID: ev.VideoID,
			Percent: ev.Percent,
			Status:  ev.Status,
			Error:   ev.Error,
		}
		if ev.Resolution != "" {
			resolution := ev.Resolution
			status.Event.Resolution = &resolution
		}
	}
	return status
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start).Round(time.Microsecond))
	})
}
