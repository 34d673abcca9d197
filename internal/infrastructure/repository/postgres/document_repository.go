package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

// DocumentRepository tracks requested and uploaded documents per shipment. Names compare
// case-insensitively.
type DocumentRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *DocumentRepository) RecordRequested(ctx context.Context, shipmentID string, names []string) error {
	names = domain.NormalizeDocumentNames(names)
	if len(names) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record requested tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := r.now()
	for _, name := range names {
		// A repeated request asks for a fresh upload.
		if _, err := tx.ExecContext(ctx, `
INSERT INTO shipment_documents (shipment_id, name_key, name, requested, requested_at, uploaded_at)
VALUES ($1,$2,$3,TRUE,$4,NULL)
ON CONFLICT (shipment_id, name_key) DO UPDATE SET
	requested = TRUE,
	requested_at = EXCLUDED.requested_at,
	uploaded_at = NULL
`, shipmentID, documentKey(name), name, now); err != nil {
			return fmt.Errorf("record requested document %q: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit record requested tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) MarkUploaded(ctx context.Context, shipmentID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.WrapError(domain.ErrInvalidInput, "mark document uploaded", fmt.Errorf("document name is required"))
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO shipment_documents (shipment_id, name_key, name, requested, requested_at, uploaded_at)
VALUES ($1,$2,$3,FALSE,NULL,$4)
ON CONFLICT (shipment_id, name_key) DO UPDATE SET uploaded_at = EXCLUDED.uploaded_at
`, shipmentID, documentKey(name), name, r.now())
	if err != nil {
		return fmt.Errorf("mark document uploaded: %w", err)
	}
	return nil
}

func (r *DocumentRepository) AllRequestedUploaded(ctx context.Context, shipmentID string) (bool, error) {
	var missing int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM shipment_documents
WHERE shipment_id = $1 AND requested AND uploaded_at IS NULL
`, shipmentID).Scan(&missing)
	if err != nil {
		return false, fmt.Errorf("count missing documents: %w", err)
	}
	return missing == 0, nil
}

func documentKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
