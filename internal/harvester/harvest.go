package harvester

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"arxiv_harvester/internal/config"
	"arxiv_harvester/internal/domain"
	"arxiv_harvester/internal/ratelimit"
)

// HarvestFailed is the distinguished count returned when a window's fetch
// fails outright, so orchestration loops can keep going without raising.
const HarvestFailed = -1

type Harvester struct {
	source    Source
	records   RecordStore
	state     StateStore
	txManager TransactionManager
	publisher Publisher
	limiter   *ratelimit.Limiter
	clock     ratelimit.Clock
	logger    *slog.Logger
	cfg       config.HarvestConfig
}

func New(
	source Source,
	records RecordStore,
	state StateStore,
	txManager TransactionManager,
	publisher Publisher,
	limiter *ratelimit.Limiter,
	clock ratelimit.Clock,
	logger *slog.Logger,
	cfg config.HarvestConfig,
) *Harvester {
	if clock == nil {
		clock = ratelimit.NewClock()
	}
	return &Harvester{
		source:    source,
		records:   records,
		state:     state,
		txManager: txManager,
		publisher: publisher,
		limiter:   limiter,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Harvest runs one bounded fetch over the window: pull pages from the
// source, normalize, accumulate, and flush batches through the store.
// Returns the number of records successfully written. An empty window is
// a zero-count success; a fetch failure returns HarvestFailed.
func (h *Harvester) Harvest(ctx context.Context, w domain.FetchWindow) (int, error) {
	logger := h.logger.With(
		"set_spec", w.SetSpec,
		"from", w.From.Format("2006-01-02"),
		"until", w.Until.Format("2006-01-02"),
	)
	logger.Info("starting harvest")

	it, err := h.source.ListRecords(ctx, w)
	if err != nil {
		if errors.Is(err, domain.ErrNoRecordsMatch) {
			logger.Warn("no records found for window")
			return 0, nil
		}
		logger.Error("failed to list records", "error", err)
		return HarvestFailed, fmt.Errorf("list records: %w", err)
	}

	var (
		total     int
		batches   int
		malformed int
		iterErr   error
	)
	batch := newBatchAccumulator(h.cfg.MaxBatchSize)

	for {
		raw, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Keep durable progress; the window is reported failed below.
			logger.Error("iteration aborted", "error", err)
			iterErr = fmt.Errorf("iterate records: %w", err)
			break
		}

		rec, err := normalize(raw)
		if err != nil {
			malformed++
			logger.Warn("skipping malformed record", "identifier", raw.Identifier, "error", err)
			continue
		}
		batch.push(*rec)

		if batch.full() {
			batches++
			n, err := h.flush(ctx, logger, batch.drain())
			total += n
			if err != nil {
				return total, err
			}
			if err := h.limiter.Wait(ctx); err != nil {
				return total, err
			}
		}
	}

	if batch.len() > 0 {
		batches++
		n, err := h.flush(ctx, logger, batch.drain())
		total += n
		if err != nil {
			return total, err
		}
	}

	logger.Info("harvest completed",
		"written", total,
		"batches", batches,
		"malformed", malformed,
		"failed", iterErr != nil,
	)
	return total, iterErr
}

// flush commits one batch as a single transaction boundary and forwards
// the written records downstream when a publisher is configured.
func (h *Harvester) flush(ctx context.Context, logger *slog.Logger, records []domain.Record) (int, error) {
	var written int
	err := h.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := h.records.UpsertBatch(txCtx, records)
		written = n
		return err
	})
	if err != nil {
		logger.Error("batch flush failed", "size", len(records), "error", err)
		return 0, fmt.Errorf("flush batch: %w", err)
	}

	logger.Info("flushed batch", "size", len(records), "written", written)

	if h.publisher != nil {
		for i := range records {
			if err := h.publisher.Publish(ctx, &records[i]); err != nil {
				logger.Warn("publish failed", "identifier", records[i].Identifier, "error", err)
			}
		}
	}

	return written, nil
}

func (h *Harvester) updateState(ctx context.Context, setSpec string, written int) {
	if h.state == nil {
		return
	}
	state, err := h.state.Get(ctx, setSpec)
	if err != nil {
		h.logger.Warn("failed to load harvest state", "set_spec", setSpec, "error", err)
		return
	}
	state.SetSpec = setSpec
	state.LastHarvestedAt = h.clock.Now()
	state.TotalHarvested += int64(written)
	if err := h.state.Update(ctx, state); err != nil {
		h.logger.Warn("failed to update harvest state", "set_spec", setSpec, "error", err)
	}
}
