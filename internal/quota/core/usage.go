// Package core provides daily usage accounting.
package core

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/takezou621/sedori-platform-sub003/internal/quota/observability"
)

// DefaultUsageRetention is how long daily usage hashes live.
const DefaultUsageRetention = 7 * 24 * time.Hour

// DefaultStatsDays is the number of days GetAPIStats reads when unspecified.
const DefaultStatsDays = 7

const (
	usageFieldTotal   = "total"
	usageFieldSuccess = "success"
	usageFieldError   = "error"
)

// UsageOptions configures a UsageRecorder.
type UsageOptions struct {
	StoreTimeout time.Duration
	Retention    time.Duration
	Now          func() time.Time
	Keys         *KeyBuilder
	Logger       observability.Logger
	Metrics      observability.Metrics
}

// UsageRecorder keeps per-day total/success/error counters. It never takes
// part in admission decisions.
type UsageRecorder struct {
	store     Store
	keys      *KeyBuilder
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
	logger    observability.Logger
	metrics   observability.Metrics
}

// NewUsageRecorder constructs a UsageRecorder.
func NewUsageRecorder(store Store, opts UsageOptions) *UsageRecorder {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = defaultStoreTimeout
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultUsageRetention
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Keys == nil {
		opts.Keys = NewKeyBuilder("")
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics{}
	}
	return &UsageRecorder{
		store:     store,
		keys:      opts.Keys,
		timeout:   opts.StoreTimeout,
		retention: opts.Retention,
		now:       opts.Now,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// RecordRequest counts one outbound call for today. Store failures are logged
// and dropped.
func (u *UsageRecorder) RecordRequest(ctx context.Context, dependency, identifier string, success bool) {
	if u == nil || u.store == nil {
		return
	}
	outcome := usageFieldSuccess
	if !success {
		outcome = usageFieldError
	}
	key := u.keys.UsageKey(dependency, identifier, u.now())

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	batch := u.store.Batch()
	batch.HashIncr(key, usageFieldTotal, 1)
	batch.HashIncr(key, outcome, 1)
	batch.Expire(key, u.retention)
	start := time.Now()
	_, err := batch.Exec(ctx)
	u.metrics.ObserveLatency("record", time.Since(start))
	if err != nil {
		u.metrics.IncStoreError("record")
		u.logger.Error("failed to record api usage", map[string]any{
			"dependency": dependency,
			"identifier": normalizeIdentifier(identifier),
			"error":      err.Error(),
		})
		return
	}
	u.metrics.IncUsageRecord(dependency, outcome)
}

// GetAPIStats returns daily stats for the last days (today included), keyed
// by UTC date. Days without records report zero counts and a 100% success
// rate. A store failure yields an empty map.
func (u *UsageRecorder) GetAPIStats(ctx context.Context, dependency, identifier string, days int) map[string]DailyStats {
	stats := make(map[string]DailyStats)
	if u == nil || u.store == nil {
		return stats
	}
	if days <= 0 {
		days = DefaultStatsDays
	}
	today := u.now().UTC()
	records := make([]UsageRecord, days)

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < days; i++ {
		i := i
		day := today.AddDate(0, 0, -i)
		group.Go(func() error {
			values, err := u.store.HashGetAll(groupCtx, u.keys.UsageKey(dependency, identifier, day))
			if err != nil {
				return err
			}
			records[i] = UsageRecord{
				Dependency: dependency,
				Identifier: normalizeIdentifier(identifier),
				Date:       FormatDate(day),
				Total:      values[usageFieldTotal],
				Success:    values[usageFieldSuccess],
				Error:      values[usageFieldError],
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		u.metrics.IncStoreError("stats")
		u.logger.Error("failed to read api stats", map[string]any{
			"dependency": dependency,
			"identifier": normalizeIdentifier(identifier),
			"error":      err.Error(),
		})
		return stats
	}
	for _, record := range records {
		stats[record.Date] = record.Stats()
	}
	return stats
}

// Stats converts the record into its reported form.
func (r UsageRecord) Stats() DailyStats {
	rate := 100.0
	if r.Total > 0 {
		rate = float64(r.Success) / float64(r.Total) * 100
	}
	return DailyStats{
		Total:       r.Total,
		Success:     r.Success,
		Error:       r.Error,
		SuccessRate: rate,
	}
}
