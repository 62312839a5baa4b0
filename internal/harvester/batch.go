package harvester

import "arxiv_harvester/internal/domain"

// batchAccumulator buffers normalized records until they are flushed as a
// unit. Owned by exactly one harvest invocation; never shared.
type batchAccumulator struct {
	limit   int
	records []domain.Record
}

func newBatchAccumulator(limit int) *batchAccumulator {
	return &batchAccumulator{
		limit:   limit,
		records: make([]domain.Record, 0, limit),
	}
}

func (b *batchAccumulator) push(r domain.Record) {
	b.records = append(b.records, r)
}

func (b *batchAccumulator) full() bool {
	return len(b.records) >= b.limit
}

func (b *batchAccumulator) len() int {
	return len(b.records)
}

// drain returns the buffered records and resets the accumulator.
func (b *batchAccumulator) drain() []domain.Record {
	out := b.records
	b.records = make([]domain.Record, 0, b.limit)
	return out
}
