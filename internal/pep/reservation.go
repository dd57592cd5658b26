package pep

import (
	"context"
	"fmt"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/db"
)

// NextIdentifier advances past whichever of the counter and the stored
// maximum is larger, so a counter left behind by out-of-band inserts still
// yields a free identifier.
func NextIdentifier(counter, currentMax int64) int64 {
	if currentMax > counter {
		return currentMax + 1
	}
	return counter + 1
}

// Reserve claims the next patient_document identifier for orgUnit. q must be
// a transaction: the counter row lock and the unit's storage lock are held
// until it ends, so concurrent reservations serialize, and a rollback undoes
// the counter advance.
func Reserve(ctx context.Context, q db.Querier, orgUnit string) (Reservation, error) {
	if _, err := q.Exec(ctx, `
		INSERT INTO document_sequence (org_unit, last_id)
		VALUES ($1, 0)
		ON CONFLICT (org_unit) DO NOTHING`, orgUnit); err != nil {
		return Reservation{}, fmt.Errorf("ensure sequence row: %w", err)
	}

	var r Reservation
	if err := q.QueryRow(ctx,
		`SELECT last_id FROM document_sequence WHERE org_unit = $1 FOR UPDATE`, orgUnit,
	).Scan(&r.CounterBefore); err != nil {
		return Reservation{}, fmt.Errorf("lock sequence row: %w", err)
	}

	// Serializes MAX(id) against other inserters of the same unit that do
	// not go through the sequence row.
	if _, err := q.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext('patient_document:' || $1))`, orgUnit,
	); err != nil {
		return Reservation{}, fmt.Errorf("lock patient_document: %w", err)
	}

	if err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(id), 0) FROM patient_document WHERE org_unit = $1`, orgUnit,
	).Scan(&r.MaxBefore); err != nil {
		return Reservation{}, fmt.Errorf("read max id: %w", err)
	}

	r.ID = NextIdentifier(r.CounterBefore, r.MaxBefore)

	if _, err := q.Exec(ctx,
		`UPDATE document_sequence SET last_id = $2 WHERE org_unit = $1`, orgUnit, r.ID,
	); err != nil {
		return Reservation{}, fmt.Errorf("advance sequence: %w", err)
	}
	r.CounterAfter = r.ID

	return r, nil
}
