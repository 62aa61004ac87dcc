package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// UploadJob represents a queued upload travelling through Redis.
type UploadJob struct {
	ID          uuid.UUID        `json:"id"`
	KDNumber    int              `json:"kd_number"`
	EventName   string           `json:"event_name"`
	Upload      aggregate.Upload `json:"upload"`
	SubmittedAt time.Time        `json:"submitted_at"`
}

// NewUploadJob wraps a parsed upload into a job with a fresh ID.
func NewUploadJob(kd int, event string, upload *aggregate.Upload) UploadJob {
	return UploadJob{
		ID:          uuid.New(),
		KDNumber:    kd,
		EventName:   event,
		Upload:      *upload,
		SubmittedAt: time.Now().UTC(),
	}
}

// Encode serializes the job for the queue.
func (j UploadJob) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// AggregateProcessor handles upload jobs consumed from the queue.
type AggregateProcessor struct {
	ctx     context.Context
	uploads *UploadProcessor
}

// NewAggregateProcessor creates a queue job handler over the upload pipeline.
func NewAggregateProcessor(ctx context.Context, uploads *UploadProcessor) *AggregateProcessor {
	return &AggregateProcessor{
		ctx:     ctx,
		uploads: uploads,
	}
}

// Handle processes a single upload job from the queue. Rejected input is
// dropped; storage failures are returned so the queue retries the job, which
// is safe because every stage is an idempotent overwrite.
func (p *AggregateProcessor) Handle(payload []byte) error {
	logger := logging.Logger()
	startTime := time.Now()

	// Parse job payload
	var job UploadJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("unmarshal job payload: %w", err)
	}
	if job.ID == uuid.Nil {
		return fmt.Errorf("job payload has no id")
	}

	logger.Infof("processing upload job %s for kingdom %d event %q (%d rows)",
		job.ID, job.KDNumber, job.EventName, len(job.Upload.Rows))

	set, err := p.uploads.Process(p.ctx, job.KDNumber, job.EventName, &job.Upload)
	if err != nil {
		if !IsRetryable(err) {
			logger.Warnf("upload job %s rejected, dropping: %v", job.ID, err)
			return nil
		}
		return fmt.Errorf("process upload job %s: %w", job.ID, err)
	}

	elapsed := time.Since(startTime)
	logger.Infof("upload job %s completed in %v: %d players, totalDKP %d",
		job.ID, elapsed, set.Aggregate.PlayerCount, set.Aggregate.DKP)

	return nil
}
