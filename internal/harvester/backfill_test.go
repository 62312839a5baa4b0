package harvester

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/mock/gomock"

	"arxiv_harvester/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func noRecords(setSpec string) error {
	return fmt.Errorf("%w: %s", domain.ErrNoRecordsMatch, setSpec)
}

func (s *HarvesterTestSuite) TestDateRange_HalfOpen() {
	dates := dateRange(day(2024, 1, 1), day(2024, 1, 5))

	s.Equal([]time.Time{
		day(2024, 1, 1),
		day(2024, 1, 2),
		day(2024, 1, 3),
		day(2024, 1, 4),
	}, dates)

	s.Empty(dateRange(day(2024, 1, 1), day(2024, 1, 1)))
	s.Empty(dateRange(day(2024, 1, 5), day(2024, 1, 1)))
}

func (s *HarvesterTestSuite) TestMissingDates() {
	ctx := context.Background()

	s.records.EXPECT().DistinctDates(ctx, day(2024, 1, 1), day(2024, 1, 5), "cs").Return(
		[]time.Time{day(2024, 1, 2)}, nil,
	)

	missing, err := s.h.MissingDates(ctx, day(2024, 1, 1), day(2024, 1, 5), "cs")

	s.NoError(err)
	s.Equal([]time.Time{
		day(2024, 1, 1),
		day(2024, 1, 3),
		day(2024, 1, 4),
	}, missing)
}

func (s *HarvesterTestSuite) TestMissingDates_FullCoverage() {
	ctx := context.Background()

	s.records.EXPECT().DistinctDates(ctx, day(2024, 1, 1), day(2024, 1, 3), "cs").Return(
		[]time.Time{day(2024, 1, 1), day(2024, 1, 2)}, nil,
	)

	missing, err := s.h.MissingDates(ctx, day(2024, 1, 1), day(2024, 1, 3), "cs")

	s.NoError(err)
	s.Empty(missing)
}

func (s *HarvesterTestSuite) TestBackfill_HarvestsMissingDates() {
	ctx := context.Background()

	s.records.EXPECT().DistinctDates(ctx, day(2024, 1, 1), day(2024, 1, 4), "cs").Return(
		[]time.Time{day(2024, 1, 2)}, nil,
	)

	var windows []domain.FetchWindow
	s.source.EXPECT().ListRecords(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, w domain.FetchWindow) (domain.RecordIterator, error) {
			windows = append(windows, w)
			return nil, noRecords(w.SetSpec)
		},
	).Times(2)

	s.state.EXPECT().Get(ctx, "cs").Return(&domain.HarvestState{SetSpec: "cs"}, nil)
	s.state.EXPECT().Update(ctx, gomock.Any()).Return(nil)

	stats, err := s.h.Backfill(ctx, day(2024, 1, 1), day(2024, 1, 4), []string{"cs"})

	s.NoError(err)
	s.Equal(2, stats.WindowsSucceeded)
	s.Equal(0, stats.WindowsFailed)
	s.Equal(0, stats.RecordsWritten)

	// One-day windows for exactly the missing dates, in order.
	s.Equal([]domain.FetchWindow{
		domain.Day("cs", day(2024, 1, 1)),
		domain.Day("cs", day(2024, 1, 3)),
	}, windows)
}

func (s *HarvesterTestSuite) TestBackfill_ContinuesPastWindowFailures() {
	ctx := context.Background()

	s.records.EXPECT().DistinctDates(ctx, day(2024, 1, 1), day(2024, 1, 3), "cs").Return(nil, nil)

	gomock.InOrder(
		s.source.EXPECT().ListRecords(ctx, domain.Day("cs", day(2024, 1, 1))).Return(
			nil, errors.New("gateway timeout"),
		),
		s.source.EXPECT().ListRecords(ctx, domain.Day("cs", day(2024, 1, 2))).Return(
			nil, noRecords("cs"),
		),
	)

	s.state.EXPECT().Get(ctx, "cs").Return(&domain.HarvestState{SetSpec: "cs"}, nil)
	s.state.EXPECT().Update(ctx, gomock.Any()).Return(nil)

	stats, err := s.h.Backfill(ctx, day(2024, 1, 1), day(2024, 1, 3), []string{"cs"})

	s.NoError(err)
	s.Equal(1, stats.WindowsSucceeded)
	s.Equal(1, stats.WindowsFailed)
}

func (s *HarvesterTestSuite) TestBackfill_CooldownBetweenChunks() {
	ctx := context.Background()

	// Nine missing dates with a chunk size of 7 gives two chunks and one
	// cooldown in between.
	s.records.EXPECT().DistinctDates(ctx, day(2024, 1, 1), day(2024, 1, 10), "cs").Return(nil, nil)

	s.source.EXPECT().ListRecords(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, w domain.FetchWindow) (domain.RecordIterator, error) {
			return nil, noRecords(w.SetSpec)
		},
	).Times(9)

	s.state.EXPECT().Get(ctx, "cs").Return(&domain.HarvestState{SetSpec: "cs"}, nil)
	s.state.EXPECT().Update(ctx, gomock.Any()).Return(nil)

	stats, err := s.h.Backfill(ctx, day(2024, 1, 1), day(2024, 1, 10), []string{"cs"})

	s.NoError(err)
	s.Equal(9, stats.WindowsSucceeded)
	s.Contains(s.clock.sleeps, s.cfg.ChunkCooldown)
}

func (s *HarvesterTestSuite) TestBackfill_GapDetectionFailureSkipsSet() {
	ctx := context.Background()

	s.records.EXPECT().DistinctDates(ctx, day(2024, 1, 1), day(2024, 1, 3), "cs").Return(
		nil, errors.New("store unreachable"),
	)

	s.state.EXPECT().Get(ctx, "cs").Return(&domain.HarvestState{SetSpec: "cs"}, nil)
	s.state.EXPECT().Update(ctx, gomock.Any()).Return(nil)

	stats, err := s.h.Backfill(ctx, day(2024, 1, 1), day(2024, 1, 3), []string{"cs"})

	s.NoError(err)
	s.Equal(1, stats.WindowsFailed)
	s.Equal(0, stats.WindowsSucceeded)
}

func (s *HarvesterTestSuite) TestRunRecent_WindowAndFailureIsolation() {
	ctx := context.Background()

	today := truncateDay(s.clock.Now())
	wantFrom := today.AddDate(0, 0, -2)
	wantUntil := today.AddDate(0, 0, -1)

	gomock.InOrder(
		s.source.EXPECT().ListRecords(ctx, domain.FetchWindow{SetSpec: "physics", From: wantFrom, Until: wantUntil}).Return(
			nil, errors.New("connection refused"),
		),
		s.source.EXPECT().ListRecords(ctx, domain.FetchWindow{SetSpec: "math", From: wantFrom, Until: wantUntil}).Return(
			nil, noRecords("math"),
		),
	)

	// Only the succeeding set records progress.
	s.state.EXPECT().Get(ctx, "math").Return(&domain.HarvestState{SetSpec: "math"}, nil)
	s.state.EXPECT().Update(ctx, gomock.Any()).Return(nil)

	stats, err := s.h.RunRecent(ctx, []string{"physics", "math"})

	s.NoError(err)
	s.Equal(1, stats.WindowsFailed)
	s.Equal(1, stats.WindowsSucceeded)
}
