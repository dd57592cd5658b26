package ingest

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Summary accumulates the counters of one run. Procedure tasks update it
// concurrently.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool

	Procedures       atomic.Int64
	Inserted         atomic.Int64
	SkippedDuplicate atomic.Int64
	Failed           atomic.Int64
	Filtered         atomic.Int64
	StoredUnmarked   atomic.Int64
	WouldInsert      atomic.Int64
}

// Counts is a point-in-time copy of a Summary.
type Counts struct {
	Procedures       int64 `json:"procedures"`
	Inserted         int64 `json:"inserted"`
	SkippedDuplicate int64 `json:"skipped_duplicate"`
	Failed           int64 `json:"failed"`
	Filtered         int64 `json:"filtered"`
	StoredUnmarked   int64 `json:"stored_unmarked"`
	WouldInsert      int64 `json:"would_insert"`
}

func (s *Summary) Counts() Counts {
	return Counts{
		Procedures:       s.Procedures.Load(),
		Inserted:         s.Inserted.Load(),
		SkippedDuplicate: s.SkippedDuplicate.Load(),
		Failed:           s.Failed.Load(),
		Filtered:         s.Filtered.Load(),
		StoredUnmarked:   s.StoredUnmarked.Load(),
		WouldInsert:      s.WouldInsert.Load(),
	}
}

// MarshalZerologObject lets the summary be logged as one object.
func (s *Summary) MarshalZerologObject(e *zerolog.Event) {
	c := s.Counts()
	e.Str("run_id", s.RunID).
		Bool("dry_run", s.DryRun).
		Int64("procedures", c.Procedures).
		Int64(OutcomeInserted, c.Inserted).
		Int64(OutcomeSkippedDuplicate, c.SkippedDuplicate).
		Int64(OutcomeFailed, c.Failed).
		Int64(OutcomeFiltered, c.Filtered).
		Int64(OutcomeStoredUnmarked, c.StoredUnmarked).
		Dur("elapsed", s.FinishedAt.Sub(s.StartedAt))
	if s.DryRun {
		e.Int64(OutcomeWouldInsert, c.WouldInsert)
	}
}
