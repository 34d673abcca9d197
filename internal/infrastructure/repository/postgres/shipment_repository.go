package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

type ShipmentRepository struct {
	db *sql.DB
}

func NewShipmentRepository(db *sql.DB) *ShipmentRepository {
	return &ShipmentRepository{db: db}
}

const shipmentColumns = `id, reference_id, shipper_id, name, origin_country, destination_country, mode,
	declared_value, currency, line_items, status, ai_approval_status, broker_approval_status,
	assigned_broker_id, clearance_token, token_issued_at, compliance, requested_documents,
	denial_reason, version, created_at, updated_at`

func (r *ShipmentRepository) CreateShipment(ctx context.Context, s *domain.Shipment) error {
	enc, err := encodeShipment(s)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO shipments (`+shipmentColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
`,
		s.ID, s.ReferenceID, s.ShipperID, s.Name, s.OriginCountry, s.DestinationCountry, s.Mode,
		s.DeclaredValue, s.Currency, enc.lineItems, string(s.Status), string(s.AIApproval), string(s.BrokerApproval),
		s.AssignedBrokerID, s.ClearanceToken, s.TokenIssuedAt, enc.compliance, enc.requestedDocuments,
		s.DenialReason, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert shipment: %w", err)
	}
	return nil
}

func (r *ShipmentRepository) LoadShipment(ctx context.Context, id string) (*domain.Shipment, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+shipmentColumns+`
FROM shipments
WHERE id = $1
`, id)

	s, err := scanShipment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrShipmentNotFound, "load shipment", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan shipment: %w", err)
	}
	return s, nil
}

// SaveShipment writes s if its Version still matches the stored row and bumps Version on success.
// An already stored clearance token is never replaced.
func (r *ShipmentRepository) SaveShipment(ctx context.Context, s *domain.Shipment) error {
	enc, err := encodeShipment(s)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE shipments
SET reference_id = $2, name = $3, mode = $4, declared_value = $5, currency = $6, line_items = $7,
	status = $8, ai_approval_status = $9, broker_approval_status = $10, assigned_broker_id = $11,
	clearance_token = COALESCE(clearance_token, $12), token_issued_at = COALESCE(token_issued_at, $13),
	compliance = $14, requested_documents = $15, denial_reason = $16, updated_at = $17,
	version = version + 1
WHERE id = $1 AND version = $18
`,
		s.ID, s.ReferenceID, s.Name, s.Mode, s.DeclaredValue, s.Currency, enc.lineItems,
		string(s.Status), string(s.AIApproval), string(s.BrokerApproval), s.AssignedBrokerID,
		s.ClearanceToken, s.TokenIssuedAt, enc.compliance, enc.requestedDocuments, s.DenialReason, s.UpdatedAt,
		s.Version,
	)
	if err != nil {
		return fmt.Errorf("update shipment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update shipment rows affected: %w", err)
	}
	if affected == 0 {
		return r.missOrConflict(ctx, s)
	}
	s.Version++
	return nil
}

func (r *ShipmentRepository) missOrConflict(ctx context.Context, s *domain.Shipment) error {
	var stored int64
	err := r.db.QueryRowContext(ctx, `SELECT version FROM shipments WHERE id = $1`, s.ID).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WrapError(domain.ErrShipmentNotFound, "save shipment", fmt.Errorf("id=%s", s.ID))
	}
	if err != nil {
		return fmt.Errorf("read shipment version: %w", err)
	}
	return domain.WrapError(domain.ErrConflict, "save shipment",
		fmt.Errorf("id=%s expected version %d, stored %d", s.ID, s.Version, stored))
}

func (r *ShipmentRepository) CountActiveAssignments(ctx context.Context, brokerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM shipments
WHERE assigned_broker_id = $1 AND status NOT IN (`+terminalStatusList()+`)
`, brokerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active assignments: %w", err)
	}
	return n, nil
}

func (r *ShipmentRepository) ListUnassigned(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listIDs(ctx, "list unassigned shipments", `
SELECT id
FROM shipments
WHERE status = $1 AND assigned_broker_id IS NULL
ORDER BY updated_at
LIMIT $2
`, string(domain.StatusBrokerReview), limit)
}

func (r *ShipmentRepository) ListStalledSubmissions(ctx context.Context, updatedBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.listIDs(ctx, "list stalled submissions", `
SELECT id
FROM shipments
WHERE status IN ($1, $2) AND updated_at < $3
ORDER BY updated_at
LIMIT $4
`, string(domain.StatusSubmitted), string(domain.StatusAIReview), updatedBefore, limit)
}

func (r *ShipmentRepository) listIDs(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan shipment id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return ids, nil
}

type encodedShipment struct {
	lineItems          []byte
	compliance         []byte
	requestedDocuments []byte
}

func encodeShipment(s *domain.Shipment) (encodedShipment, error) {
	var out encodedShipment
	var err error

	items := s.LineItems
	if items == nil {
		items = []domain.LineItem{}
	}
	if out.lineItems, err = json.Marshal(items); err != nil {
		return out, fmt.Errorf("marshal line items: %w", err)
	}
	docs := s.RequestedDocuments
	if docs == nil {
		docs = []string{}
	}
	if out.requestedDocuments, err = json.Marshal(docs); err != nil {
		return out, fmt.Errorf("marshal requested documents: %w", err)
	}
	if s.Compliance != nil {
		if out.compliance, err = json.Marshal(s.Compliance); err != nil {
			return out, fmt.Errorf("marshal compliance: %w", err)
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShipment(row rowScanner) (*domain.Shipment, error) {
	var s domain.Shipment
	var lineItems, compliance, requested []byte
	var status, aiApproval, brokerApproval string
	var brokerID, token sql.NullString
	var issuedAt sql.NullTime

	err := row.Scan(
		&s.ID, &s.ReferenceID, &s.ShipperID, &s.Name, &s.OriginCountry, &s.DestinationCountry, &s.Mode,
		&s.DeclaredValue, &s.Currency, &lineItems, &status, &aiApproval, &brokerApproval,
		&brokerID, &token, &issuedAt, &compliance, &requested,
		&s.DenialReason, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.Status, err = domain.ParseStatus(status); err != nil {
		return nil, err
	}
	s.AIApproval = domain.ApprovalStatus(aiApproval)
	s.BrokerApproval = domain.ApprovalStatus(brokerApproval)
	if brokerID.Valid {
		s.AssignedBrokerID = &brokerID.String
	}
	if token.Valid {
		s.ClearanceToken = &token.String
	}
	if issuedAt.Valid {
		at := issuedAt.Time
		s.TokenIssuedAt = &at
	}
	if err := json.Unmarshal(lineItems, &s.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	if len(requested) > 0 {
		if err := json.Unmarshal(requested, &s.RequestedDocuments); err != nil {
			return nil, fmt.Errorf("unmarshal requested documents: %w", err)
		}
	}
	if len(compliance) > 0 {
		var record domain.ComplianceRecord
		if err := json.Unmarshal(compliance, &record); err != nil {
			return nil, fmt.Errorf("unmarshal compliance: %w", err)
		}
		s.Compliance = &record
	}
	return &s, nil
}
