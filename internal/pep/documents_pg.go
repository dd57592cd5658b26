package pep

import (
	"context"
	"fmt"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/db"
)

const documentCols = `org_unit, id, patient_key, encounter_key, file_name, content, created_by, created_at`

func insertDocument(ctx context.Context, q db.Querier, orgUnit, createdBy string, id int64, doc NewDocument) (*StoredDocument, error) {
	stored := &StoredDocument{OrgUnit: orgUnit, ID: id, FileName: FileName(id)}
	err := q.QueryRow(ctx, `
		INSERT INTO patient_document (`+documentCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING created_at`,
		orgUnit, id, doc.PatientKey, doc.EncounterKey, stored.FileName, doc.Content, createdBy,
	).Scan(&stored.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert patient_document %d: %w", id, err)
	}
	return stored, nil
}
