package pep

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/db"
)

// DirectoryPG resolves CPFs to local patient/encounter pairs.
type DirectoryPG struct {
	pool    *pgxpool.Pool
	orgUnit string
}

func NewDirectoryPG(pool *pgxpool.Pool, orgUnit string) *DirectoryPG {
	return &DirectoryPG{pool: pool, orgUnit: orgUnit}
}

// Resolve returns the patient and its most recent encounter in the unit for
// a digits-only CPF. It returns nil, nil when nothing matches. Keys are
// returned as stored; callers decide what a blank key means.
func (d *DirectoryPG) Resolve(ctx context.Context, cpf string) (*Owner, error) {
	var o Owner
	err := db.Conn(ctx, d.pool).QueryRow(ctx, `
		SELECT p.patient_key, COALESCE(e.encounter_key, '')
		FROM pep_patient p
		JOIN pep_encounter e ON e.patient_key = p.patient_key
		WHERE regexp_replace(COALESCE(p.cpf, ''), '[^0-9]', '', 'g') = $1
		  AND e.org_unit = $2
		ORDER BY e.started_at DESC, e.encounter_key DESC
		LIMIT 1`, cpf, d.orgUnit).Scan(&o.PatientKey, &o.EncounterKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve cpf: %w", err)
	}
	return &o, nil
}
