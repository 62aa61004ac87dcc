package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kvkstats/internal/aggregate"
	"kvkstats/internal/camps"
	"kvkstats/internal/docstore"
	"kvkstats/internal/logging"
	"kvkstats/internal/metrics"
	"kvkstats/internal/rollup"
)

// Pipeline stages, as reported in StorageWriteError and metrics.
const (
	StagePersist           = "persist kingdom event"
	StageCampTier          = "update camp tier"
	StageCumulativeKingdom = "update cumulative kingdom"
	StageCumulativeCamp    = "rebuild cumulative camp"
)

// StorageWriteError reports a document store failure at one pipeline stage.
// Earlier stages stay committed; re-running the same upload heals the tiers.
type StorageWriteError struct {
	Stage string
	Err   error
}

func (e *StorageWriteError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StorageWriteError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err came from storage rather than from the input.
func IsRetryable(err error) bool {
	var storageErr *StorageWriteError
	return errors.As(err, &storageErr)
}

// Invalidator drops cached read projections after a successful upload.
type Invalidator interface {
	ClearCache(ctx context.Context) error
}

// UploadResult is what callers of ProcessUpload receive; no error escapes it.
type UploadResult struct {
	Success     bool                             `json:"success"`
	Aggregate   *aggregate.KingdomEventAggregate `json:"aggregate,omitempty"`
	Message     string                           `json:"message,omitempty"`
	SkippedRows int                              `json:"skippedRows,omitempty"`
}

// UploadProcessor runs the upload pipeline for one (kingdom, event) pair.
type UploadProcessor struct {
	docs        docstore.Store
	table       *camps.Table
	rollups     *rollup.Store
	invalidator Invalidator
	now         func() time.Time
}

// NewUploadProcessor creates an upload processor. invalidator may be nil.
func NewUploadProcessor(docs docstore.Store, table *camps.Table, invalidator Invalidator) *UploadProcessor {
	return &UploadProcessor{
		docs:        docs,
		table:       table,
		rollups:     rollup.NewStore(docs, table),
		invalidator: invalidator,
		now:         time.Now,
	}
}

// ProcessUpload runs the pipeline and converts every failure into a result.
func (p *UploadProcessor) ProcessUpload(ctx context.Context, kd int, event string, upload *aggregate.Upload) UploadResult {
	logger := logging.Logger()

	set, err := p.Process(ctx, kd, event, upload)
	if err != nil {
		if IsRetryable(err) {
			metrics.UploadsTotal.WithLabelValues("failed").Inc()
			logger.Errorf("upload for kingdom %d event %q failed: %v", kd, event, err)
		} else {
			metrics.UploadsTotal.WithLabelValues("rejected").Inc()
			logger.Warnf("upload for kingdom %d event %q rejected: %v", kd, event, err)
		}
		return UploadResult{Success: false, Message: err.Error()}
	}

	metrics.UploadsTotal.WithLabelValues("ok").Inc()
	return UploadResult{Success: true, Aggregate: set.Aggregate, SkippedRows: set.Skipped}
}

// Process runs the pipeline and returns typed errors: UnknownKingdomError and
// UnknownEventError for rejected input, StorageWriteError for storage failures.
func (p *UploadProcessor) Process(ctx context.Context, kd int, event string, upload *aggregate.Upload) (*aggregate.KingdomEventSet, error) {
	logger := logging.Logger()
	startTime := time.Now()

	set, err := aggregate.BuildKingdomEvent(p.table, kd, event, upload, p.now())
	if err != nil {
		return nil, err
	}
	agg := set.Aggregate

	if skipped := set.Skipped + upload.SkippedRows; skipped > 0 {
		metrics.SkippedRows.Add(float64(skipped))
		logger.Warnf("kingdom %d event %q: skipped %d rows without character id", kd, event, skipped)
		set.Skipped = skipped
	}

	logger.Infof("computed kingdom %d (%s) event %q: %d players, totalDKP %d",
		kd, agg.Camp, event, agg.PlayerCount, agg.DKP)

	if err := p.stage(StagePersist, func() error {
		return p.persist(ctx, set)
	}); err != nil {
		return nil, err
	}

	if err := p.stage(StageCampTier, func() error {
		_, err := p.rollups.UpdateCampTier(ctx, agg)
		return err
	}); err != nil {
		return nil, err
	}

	if err := p.stage(StageCumulativeKingdom, func() error {
		_, err := p.rollups.UpdateCumulativeKingdom(ctx, agg)
		return err
	}); err != nil {
		return nil, err
	}

	if err := p.stage(StageCumulativeCamp, func() error {
		_, err := p.rollups.RebuildCumulativeCamp(ctx, agg.Camp)
		return err
	}); err != nil {
		return nil, err
	}

	// Aggregates are committed; a stale cache expires on its own.
	if p.invalidator != nil {
		if err := p.invalidator.ClearCache(ctx); err != nil {
			logger.Warnf("cache invalidation failed after kingdom %d event %q: %v", kd, event, err)
		}
	}

	logger.Infof("upload for kingdom %d event %q completed in %v", kd, event, time.Since(startTime))
	return set, nil
}

// persist writes the player records, removes records of characters missing
// from this upload and writes the kingdom-event aggregate, all in one batch.
func (p *UploadProcessor) persist(ctx context.Context, set *aggregate.KingdomEventSet) error {
	agg := set.Aggregate

	existing, err := p.docs.List(ctx, rollup.PlayersPrefix(agg.EventName, agg.KDNumber))
	if err != nil {
		return fmt.Errorf("list previous players: %w", err)
	}

	current := make(map[string]struct{}, len(set.Players))
	writes := make([]docstore.Write, 0, len(set.Players)+len(existing)+1)
	for _, rec := range set.Players {
		path := rollup.PlayerPath(agg.EventName, agg.KDNumber, rec.PlayerID)
		current[path] = struct{}{}
		writes = append(writes, docstore.SetWrite(path, rec))
	}

	stale := 0
	for _, d := range existing {
		if _, ok := current[d.Path]; !ok {
			writes = append(writes, docstore.DeleteWrite(d.Path))
			stale++
		}
	}

	writes = append(writes, docstore.SetWrite(rollup.KingdomEventPath(agg.KDNumber, agg.EventName), agg))

	if err := p.docs.Batch(ctx, writes); err != nil {
		return err
	}

	if stale > 0 {
		logging.Logger().Infof("kingdom %d event %q: removed %d players absent from this upload", agg.KDNumber, agg.EventName, stale)
	}
	return nil
}

// stage times fn and wraps its failure as a StorageWriteError.
func (p *UploadProcessor) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.UploadStageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.StageFailures.WithLabelValues(name).Inc()
		return &StorageWriteError{Stage: name, Err: err}
	}
	return nil
}
