package ingest

import (
	"sort"
	"strings"
	"time"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/axreg"
)

// FilterResult splits a patient's documents for one procedure.
type FilterResult struct {
	// Eligible documents, oldest first.
	Eligible []axreg.Document
	// MissingTimestamp holds matching documents with no usable creation
	// time. They are reported, never dropped silently.
	MissingTimestamp []axreg.Document
	// Filtered counts documents of this procedure excluded by type or
	// window. These are not failures.
	Filtered int
}

// FilterEligible selects the documents to ingest for procedureID. A document
// qualifies when its type is transferType, it references the procedure, it
// has a creation time, and now-window <= created_at <= now (both inclusive).
func FilterEligible(docs []axreg.Document, procedureID int64, now time.Time, window time.Duration, transferType string) FilterResult {
	var res FilterResult
	start := now.Add(-window)

	for _, d := range docs {
		if !d.BelongsTo(procedureID) {
			continue
		}
		if strings.TrimSpace(d.Type) != transferType {
			res.Filtered++
			continue
		}
		if !d.CreatedAt.Valid {
			res.MissingTimestamp = append(res.MissingTimestamp, d)
			continue
		}
		t := d.CreatedAt.Time
		if t.Before(start) || t.After(now) {
			res.Filtered++
			continue
		}
		res.Eligible = append(res.Eligible, d)
	}

	sort.SliceStable(res.Eligible, func(i, j int) bool {
		return res.Eligible[i].CreatedAt.Time.Before(res.Eligible[j].CreatedAt.Time)
	})
	return res
}
