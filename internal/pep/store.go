package pep

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/baumgratzcodedev/integracao-axreg-pep/internal/platform/db"
)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLockTimeout bounds lock waits inside the storage transaction.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.lockTimeout = d }
}

// WithStatementTimeout bounds each store call.
func WithStatementTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.statementTimeout = d }
}

// WithCreatedBy sets the created_by value written on new rows.
func WithCreatedBy(actor string) StoreOption {
	return func(s *Store) { s.createdBy = actor }
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store persists AXReg documents for one organizational unit.
//
// Storing is two separate steps. StoreDocument reserves an identifier and
// inserts the blob in one transaction; MarkImported records the marker
// afterwards, outside that transaction. A crash between the two leaves a
// stored document without a marker, and the next run stores it again.
type Store struct {
	pool             *pgxpool.Pool
	orgUnit          string
	createdBy        string
	lockTimeout      time.Duration
	statementTimeout time.Duration
	logger           zerolog.Logger
}

func NewStore(pool *pgxpool.Pool, orgUnit string, opts ...StoreOption) *Store {
	s := &Store{
		pool:      pool,
		orgUnit:   orgUnit,
		createdBy: "AXREG",
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// OrgUnit returns the unit every row is written under.
func (s *Store) OrgUnit() string { return s.orgUnit }

func (s *Store) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.statementTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.statementTimeout)
}

// IsImported reports whether a marker exists for the AXReg document.
func (s *Store) IsImported(ctx context.Context, documentID int64) (bool, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	return isImported(ctx, db.Conn(ctx, s.pool), s.orgUnit, documentID)
}

// StoreDocument reserves an identifier and inserts the document in a single
// transaction. On any error the transaction rolls back, including the
// counter advance.
func (s *Store) StoreDocument(ctx context.Context, doc NewDocument) (*StoredDocument, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	var stored *StoredDocument
	err := db.WithTx(ctx, s.pool, db.TxOptions{LockTimeout: s.lockTimeout}, func(ctx context.Context, tx pgx.Tx) error {
		r, err := Reserve(ctx, tx, s.orgUnit)
		if err != nil {
			return err
		}
		s.logger.Debug().
			Int64("document_id", doc.SourceDocumentID).
			Int64("reserved_id", r.ID).
			Int64("counter_before", r.CounterBefore).
			Int64("max_before", r.MaxBefore).
			Msg("identifier reserved")

		stored, err = insertDocument(ctx, tx, s.orgUnit, s.createdBy, r.ID, doc)
		if err != nil {
			return err
		}
		stored.Reservation = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// MarkImported records that documentID was stored as storageID. Calling it
// for an already-marked document is a no-op.
func (s *Store) MarkImported(ctx context.Context, documentID, storageID int64) error {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	inserted, err := markImported(ctx, db.Conn(ctx, s.pool), s.orgUnit, documentID, storageID)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Warn().
			Int64("document_id", documentID).
			Int64("storage_id", storageID).
			Msg("import marker already present")
	}
	return nil
}
