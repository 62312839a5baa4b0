package harvester

import (
	"context"
	"time"

	"arxiv_harvester/internal/domain"
)

// truncateDay drops the time-of-day component.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// dateRange returns every calendar date in the half-open range
// [start, end), ascending.
func dateRange(start, end time.Time) []time.Time {
	start = truncateDay(start)
	end = truncateDay(end)

	var dates []time.Time
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}
	return dates
}

// MissingDates compares the dates that should have data in [start, end)
// against the dates actually present in the store and returns the absent
// ones, ascending. Same store state always yields the same list.
func (h *Harvester) MissingDates(ctx context.Context, start, end time.Time, setSpec string) ([]time.Time, error) {
	all := dateRange(start, end)
	if len(all) == 0 {
		return nil, nil
	}

	present, err := h.records.DistinctDates(ctx, start, end, setSpec)
	if err != nil {
		return nil, err
	}

	seen := make(map[time.Time]bool, len(present))
	for _, d := range present {
		seen[truncateDay(d)] = true
	}

	var missing []time.Time
	for _, d := range all {
		if !seen[d] {
			missing = append(missing, d)
		}
	}
	return missing, nil
}

// Backfill reconciles the historical range [start, end) for each set spec:
// missing dates are harvested one day at a time, in fixed-size chunks to
// bound burst size, with a cooldown between chunks. Per-date failures are
// logged and skipped; the run keeps going.
func (h *Harvester) Backfill(ctx context.Context, start, end time.Time, setSpecs []string) (*domain.RunStats, error) {
	started := h.clock.Now()
	stats := &domain.RunStats{Mode: "backfill"}

	h.logger.Info("starting backfill",
		"from", start.Format("2006-01-02"),
		"until", end.Format("2006-01-02"),
		"set_specs", setSpecs,
	)

	for _, setSpec := range setSpecs {
		written, err := h.backfillSet(ctx, start, end, setSpec, stats)
		h.updateState(ctx, setSpec, written)
		if err != nil {
			stats.Duration = h.clock.Now().Sub(started)
			return stats, err
		}
	}

	stats.Duration = h.clock.Now().Sub(started)
	h.logger.Info("backfill completed",
		"written", stats.RecordsWritten,
		"windows_succeeded", stats.WindowsSucceeded,
		"windows_failed", stats.WindowsFailed,
		"duration", stats.Duration,
	)
	return stats, nil
}

func (h *Harvester) backfillSet(ctx context.Context, start, end time.Time, setSpec string, stats *domain.RunStats) (int, error) {
	missing, err := h.MissingDates(ctx, start, end, setSpec)
	if err != nil {
		h.logger.Error("gap detection failed", "set_spec", setSpec, "error", err)
		stats.WindowsFailed++
		return 0, nil
	}
	if len(missing) == 0 {
		h.logger.Info("no missing dates", "set_spec", setSpec)
		return 0, nil
	}

	h.logger.Info("found missing dates", "set_spec", setSpec, "count", len(missing))

	chunkSize := h.cfg.BackfillChunkDays
	written := 0
	for chunkStart := 0; chunkStart < len(missing); chunkStart += chunkSize {
		chunkEnd := min(chunkStart+chunkSize, len(missing))

		for _, date := range missing[chunkStart:chunkEnd] {
			if err := ctx.Err(); err != nil {
				return written, err
			}

			n, err := h.Harvest(ctx, domain.Day(setSpec, date))
			if err != nil || n < 0 {
				stats.WindowsFailed++
				continue
			}
			stats.WindowsSucceeded++
			stats.RecordsWritten += n
			written += n
		}

		// Cooldown between chunks keeps long backfills from sustaining
		// bursts even when many consecutive dates are missing.
		if chunkEnd < len(missing) {
			if err := h.clock.Sleep(ctx, h.cfg.ChunkCooldown); err != nil {
				return written, err
			}
		}
	}

	return written, nil
}

// RunRecent harvests the most recently closed day, [today-2, today-1),
// once per set spec. Failures on one set do not stop the others.
func (h *Harvester) RunRecent(ctx context.Context, setSpecs []string) (*domain.RunStats, error) {
	started := h.clock.Now()
	stats := &domain.RunStats{Mode: "recent"}

	today := truncateDay(h.clock.Now())
	from := today.AddDate(0, 0, -2)
	until := today.AddDate(0, 0, -1)

	for _, setSpec := range setSpecs {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		n, err := h.Harvest(ctx, domain.FetchWindow{SetSpec: setSpec, From: from, Until: until})
		if err != nil || n < 0 {
			stats.WindowsFailed++
		} else {
			stats.WindowsSucceeded++
			stats.RecordsWritten += n
			h.updateState(ctx, setSpec, n)
		}
	}

	stats.Duration = h.clock.Now().Sub(started)
	h.logger.Info("recent harvest completed",
		"written", stats.RecordsWritten,
		"windows_succeeded", stats.WindowsSucceeded,
		"windows_failed", stats.WindowsFailed,
		"duration", stats.Duration,
	)
	return stats, nil
}
