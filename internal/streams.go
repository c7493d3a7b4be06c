package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

var (
	ErrDuplicateVideo = errors.New("a stream job already exists for this video")
	ErrStreamNotFound = errors.New("stream job not found")
)

// StreamRecord is the externally visible view of one stream job.
type StreamRecord struct {
	VideoID   string
	Key       string
	JobID     int64
	State     JobState
	Progress  int
	Event     *ProgressEvent
	Error     *string
	Attempt   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StreamStore enqueues stream jobs and reads their status. The
// stream_job_mapping table ties a video to its River job so a video is only
// ever enqueued once.
type StreamStore struct {
	pool        *pgxpool.Pool
	riverClient *river.Client[pgx.Tx]
	retry       *RetryPolicy
}

func NewStreamStore(pool *pgxpool.Pool, riverClient *river.Client[pgx.Tx], retry *RetryPolicy) *StreamStore {
	return &StreamStore{
		pool:        pool,
		riverClient: riverClient,
		retry:       retry,
	}
}

// Enqueue validates args and inserts the job and its mapping atomically.
func (s *StreamStore) Enqueue(ctx context.Context, args StreamJobArgs) (*StreamRecord, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var opts *river.InsertOpts
	if s.retry != nil && s.retry.MaxAttempts > 0 {
		opts = &river.InsertOpts{MaxAttempts: s.retry.MaxAttempts}
	}
	inserted, err := s.riverClient.InsertTx(ctx, tx, args, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to insert river job: %w", err)
	}

	var createdAt time.Time
	err = tx.QueryRow(ctx,
		`INSERT INTO stream_job_mapping (video_id, source_key, river_job_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (video_id) DO NOTHING
		 RETURNING created_at`,
		args.VideoID, args.Key, inserted.Job.ID,
	).Scan(&createdAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateVideo, args.VideoID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to insert stream mapping: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &StreamRecord{
		VideoID:   args.VideoID,
		Key:       args.Key,
		JobID:     inserted.Job.ID,
		State:     JobStateQueued,
		CreatedAt: createdAt.UTC(),
		UpdatedAt: createdAt.UTC(),
	}, nil
}

// Lookup returns the current status of the job for videoID.
func (s *StreamStore) Lookup(ctx context.Context, videoID string) (*StreamRecord, error) {
	row, err := scanMapping(s.pool.QueryRow(ctx, selectMapping+" WHERE video_id = $1", videoID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrStreamNotFound, videoID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to look up job mapping: %w", err)
	}
	return s.lookupJob(ctx, row)
}

// List returns the most recently enqueued jobs, newest first.
func (s *StreamStore) List(ctx context.Context, limit int) ([]*StreamRecord, error) {
	rows, err := s.pool.Query(ctx, selectMapping+" ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stream mappings: %w", err)
	}
	var mappings []*mappingRow
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan stream mapping: %w", err)
		}
		mappings = append(mappings, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list stream mappings: %w", err)
	}

	records := make([]*StreamRecord, 0, len(mappings))
	for _, m := range mappings {
		rec, err := s.lookupJob(ctx, m)
		if errors.Is(err, ErrStreamNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

const selectMapping = `SELECT video_id, river_job_id, state, progress, last_event, error, updated_at
	FROM stream_job_mapping`

// mappingRow is one stream_job_mapping row including the live progress
// columns kept current by ProgressRecorder.
type mappingRow struct {
	VideoID   string
	JobID     int64
	Live      StreamJobStatus
	UpdatedAt time.Time
}

func scanMapping(row pgx.Row) (*mappingRow, error) {
	var (
		m         mappingRow
		state     string
		lastEvent []byte
	)
	if err := row.Scan(&m.VideoID, &m.JobID, &state, &m.Live.Progress, &lastEvent, &m.Live.Error, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.Live.State = JobState(state)
	if len(lastEvent) > 0 {
		var ev ProgressEvent
		if err := json.Unmarshal(lastEvent, &ev); err != nil {
			return nil, fmt.Errorf("failed to unmarshal last event: %w", err)
		}
		m.Live.Event = &ev
	}
	return &m, nil
}

func (s *StreamStore) lookupJob(ctx context.Context, m *mappingRow) (*StreamRecord, error) {
	job, err := s.riverClient.JobGet(ctx, m.JobID)
	if errors.Is(err, rivertype.ErrNotFound) || (err == nil && job == nil) {
		return nil, fmt.Errorf("%w: %s is no longer in the queue", ErrStreamNotFound, m.VideoID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to get river job: %w", err)
	}
	rec, err := RecordFromJob(job, &m.Live)
	if err != nil {
		return nil, err
	}
	if m.UpdatedAt.After(rec.UpdatedAt) {
		rec.UpdatedAt = m.UpdatedAt.UTC()
	}
	return rec, nil
}

// RecordFromJob builds a StreamRecord from a River job row. River keeps the
// output of every attempt, so the output is only authoritative once the job
// is finalized; until then live, the worker's latest reported event, wins.
func RecordFromJob(job *rivertype.JobRow, live *StreamJobStatus) (*StreamRecord, error) {
	var args StreamJobArgs
	if err := json.Unmarshal(job.EncodedArgs, &args); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job args: %w", err)
	}

	var status StreamJobStatus
	output := job.Output()
	switch {
	case len(output) > 0 && (isFinalized(job.State) || live == nil):
		if err := json.Unmarshal(output, &status); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job output: %w", err)
		}
	case live != nil:
		status = *live
	}
	if job.State == rivertype.JobStateRunning && status.State.IsTerminal() {
		// The status belongs to an earlier attempt.
		status = StreamJobStatus{}
	}

	rec := &StreamRecord{
		VideoID:   args.VideoID,
		Key:       args.Key,
		JobID:     job.ID,
		State:     stateFromRiver(job.State, status.State),
		Progress:  status.Progress,
		Event:     status.Event,
		Error:     status.Error,
		Attempt:   job.Attempt,
		CreatedAt: job.CreatedAt.UTC(),
		UpdatedAt: job.CreatedAt.UTC(),
	}
	if job.AttemptedAt != nil {
		rec.UpdatedAt = job.AttemptedAt.UTC()
	}
	if job.FinalizedAt != nil {
		rec.UpdatedAt = job.FinalizedAt.UTC()
	}
	if rec.State == JobStateCompleted {
		rec.Progress = 100
	}
	// A running attempt has not failed yet; earlier attempt errors stay in
	// the River row.
	if rec.Error == nil && len(job.Errors) > 0 && rec.State != JobStateCompleted && job.State != rivertype.JobStateRunning {
		last := job.Errors[len(job.Errors)-1].Error
		rec.Error = &last
	}
	return rec, nil
}

func isFinalized(state rivertype.JobState) bool {
	switch state {
	case rivertype.JobStateCompleted, rivertype.JobStateDiscarded, rivertype.JobStateCancelled:
		return true
	default:
		return false
	}
}

// stateFromRiver maps the queue's view of a job onto the pipeline state
// machine. While a job runs the worker's last recorded state is used.
func stateFromRiver(state rivertype.JobState, recorded JobState) JobState {
	switch state {
	case rivertype.JobStateAvailable, rivertype.JobStateScheduled, rivertype.JobStateRetryable, rivertype.JobStatePending:
		return JobStateQueued
	case rivertype.JobStateRunning:
		if recorded == "" || recorded == JobStateQueued || recorded.IsTerminal() {
			return JobStateDownloading
		}
		return recorded
	case rivertype.JobStateCompleted:
		return JobStateCompleted
	case rivertype.JobStateDiscarded, rivertype.JobStateCancelled:
		return JobStateFailed
	default:
		return JobStateQueued
	}
}

// ProgressRecorder keeps the live progress columns of stream_job_mapping
// current so that status reads see a running job's latest event.
type ProgressRecorder struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

func (p *ProgressRecorder) Report(ctx context.Context, event ProgressEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		p.Logger.Warn("failed to marshal progress event", "error", err)
		return
	}
	// Error events keep the progress reached before the failure.
	var progress *int
	if event.Type != EventError {
		progress = &event.Percent
	}
	_, err = p.Pool.Exec(ctx,
		`UPDATE stream_job_mapping
		 SET state = $2, progress = COALESCE($3, progress), last_event = $4, error = $5, updated_at = now()
		 WHERE video_id = $1`,
		event.VideoID, string(StateForEvent(event.Type)), progress, payload, event.Error,
	)
	if err != nil {
		p.Logger.Warn("failed to record progress", "video_id", event.VideoID, "error", err)
	}
}
