package pep

import (
	"context"
	"fmt"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/db"
)

func isImported(ctx context.Context, q db.Querier, orgUnit string, documentID int64) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM axreg_document_import WHERE org_unit = $1 AND document_id = $2
		)`, orgUnit, documentID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("probe import marker %d: %w", documentID, err)
	}
	return exists, nil
}

// markImported inserts the marker. It reports false when a marker for the
// document already existed; the existing row is left untouched.
func markImported(ctx context.Context, q db.Querier, orgUnit string, documentID, storageID int64) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO axreg_document_import (org_unit, document_id, storage_id, imported_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (org_unit, document_id) DO NOTHING`, orgUnit, documentID, storageID)
	if err != nil {
		return false, fmt.Errorf("insert import marker %d: %w", documentID, err)
	}
	return tag.RowsAffected() == 1, nil
}
