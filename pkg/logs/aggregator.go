package logs

import (
	"context"
	"sync"
	"time"

	"github.com/mindhaven/vitals/pkg/logger"
	"github.com/mindhaven/vitals/pkg/models"
)

const defaultAggregationInterval = time.Minute

// Aggregator periodically rolls raw log entries up into per-bucket
// statistics rows. Buckets are recomputed from storage on every pass,
// so running the same pass twice yields the same row.
type Aggregator struct {
	cfg     models.AggregationConfig
	storage *Storage
	logger  logger.Logger
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// AggregatorOption customizes an Aggregator.
type AggregatorOption func(*Aggregator)

// WithAggregatorNow overrides the clock, for tests.
func WithAggregatorNow(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
	}
}

// NewAggregator creates an aggregator over the given storage.
func NewAggregator(cfg models.AggregationConfig, storage *Storage, log logger.Logger, opts ...AggregatorOption) *Aggregator {
	if len(cfg.Periods) == 0 {
		cfg.Periods = []models.AggregationPeriod{
			models.PeriodMinute,
			models.PeriodHour,
			models.PeriodDay,
			models.PeriodWeek,
		}
	}

	a := &Aggregator{
		cfg:     cfg,
		storage: storage,
		logger:  log,
		now:     time.Now,
		done:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Start launches the periodic aggregation loop.
func (a *Aggregator) Start(ctx context.Context) error {
	interval := a.cfg.Interval.Std()
	if interval <= 0 {
		interval = defaultAggregationInterval
	}

	a.wg.Add(1)

	go a.run(ctx, interval)

	a.logger.Info().
		Dur("interval", interval).
		Int("periods", len(a.cfg.Periods)).
		Msg("Starting log aggregator")

	return nil
}

// Stop halts the loop after one final pass so the buckets in flight at
// shutdown are persisted.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.closeOnce.Do(func() {
		close(a.done)
	})

	stopped := make(chan struct{})

	go func() {
		a.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Aggregator) run(ctx context.Context, interval time.Duration) {
	defer a.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.runOnce(context.WithoutCancel(ctx))

			return
		case <-a.done:
			a.runOnce(context.WithoutCancel(ctx))

			return
		case <-ticker.C:
			a.runOnce(ctx)
		}
	}
}

// runOnce recomputes the current bucket and the one before it for every
// configured period. Entries can land after their bucket boundary has
// passed, so the previous bucket stays live for one extra width.
func (a *Aggregator) runOnce(ctx context.Context) {
	now := a.now()

	for _, period := range a.cfg.Periods {
		current := period.Truncate(now)
		previous := period.Truncate(now.Add(-period.Width()))

		for _, bucket := range []time.Time{previous, current} {
			if _, err := a.Aggregate(ctx, period, bucket); err != nil {
				a.logger.Error().Err(err).
					Str("period", string(period)).
					Time("bucket", bucket).
					Msg("Log aggregation failed")
			}
		}
	}
}

// Aggregate recomputes a single bucket from the stored entries and
// persists the result. Buckets with no entries are returned but not
// persisted, so a recompute after retention cleanup cannot zero out a
// bucket that was rolled up while its raw entries still existed.
func (a *Aggregator) Aggregate(ctx context.Context, period models.AggregationPeriod, bucket time.Time) (*models.LogAggregation, error) {
	bucket = period.Truncate(bucket)

	entries, err := a.storage.EntriesInRange(ctx, bucket, bucket.Add(period.Width()))
	if err != nil {
		return nil, err
	}

	agg := buildAggregation(period, bucket, entries)

	if agg.TotalEntries == 0 {
		return agg, nil
	}

	if err := a.storage.SaveAggregation(ctx, agg); err != nil {
		return nil, err
	}

	return agg, nil
}

func buildAggregation(period models.AggregationPeriod, bucket time.Time, entries []*models.LogEntry) *models.LogAggregation {
	agg := &models.LogAggregation{
		Period:          period,
		BucketTime:      bucket,
		LevelCounts:     make(map[string]int64),
		ServiceCounts:   make(map[string]int64),
		LoggerCounts:    make(map[string]int64),
		ErrorCodeCounts: make(map[string]int64),
	}

	users := make(map[string]struct{})
	traces := make(map[string]struct{})

	var responseTotal float64

	var responseCount int64

	for _, entry := range entries {
		agg.TotalEntries++
		agg.LevelCounts[entry.Level]++

		if entry.Service != "" {
			agg.ServiceCounts[entry.Service]++
		}

		if entry.Logger != "" {
			agg.LoggerCounts[entry.Logger]++
		}

		if entry.ErrorCode != "" {
			agg.ErrorCodeCounts[entry.ErrorCode]++
		}

		if entry.UserID != "" {
			users[entry.UserID] = struct{}{}
		}

		if entry.TraceID != "" {
			traces[entry.TraceID] = struct{}{}
		}

		if rt, ok := entry.Metrics["response_time"]; ok {
			responseTotal += rt
			responseCount++
		}
	}

	agg.UniqueUsers = int64(len(users))
	agg.UniqueTraces = int64(len(traces))

	if responseCount > 0 {
		agg.AvgResponseTime = responseTotal / float64(responseCount)
	}

	return agg
}
