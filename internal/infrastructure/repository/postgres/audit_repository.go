package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

// AuditRepository stores the notification stream in workflow_events. Redelivered notifications
// are ignored by id.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, event domain.Notification) error {
	attrs := event.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrsJSON, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal event attributes: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO workflow_events (id, shipment_id, type, recipient, actor_id, from_status, to_status, message, attributes, occurred_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO NOTHING
`, event.ID, event.ShipmentID, string(event.Type), event.Recipient, event.ActorID,
		string(event.From), string(event.To), event.Message, attrsJSON, event.OccurredAt)
	if err != nil {
		return fmt.Errorf("append workflow event: %w", err)
	}
	return nil
}

// ListEvents returns a shipment's recorded events, oldest first.
func (r *AuditRepository) ListEvents(ctx context.Context, shipmentID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, shipment_id, type, recipient, actor_id, from_status, to_status, message, attributes, occurred_at
FROM workflow_events
WHERE shipment_id = $1
ORDER BY occurred_at, id
LIMIT $2
`, shipmentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list workflow events: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Notification, 0)
	for rows.Next() {
		var n domain.Notification
		var kind, from, to string
		var attrs []byte
		if err := rows.Scan(&n.ID, &n.ShipmentID, &kind, &n.Recipient, &n.ActorID, &from, &to, &n.Message, &attrs, &n.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan workflow event: %w", err)
		}
		n.Type = domain.NotificationType(kind)
		n.From = domain.Status(from)
		n.To = domain.Status(to)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &n.Attributes); err != nil {
				return nil, fmt.Errorf("unmarshal event attributes: %w", err)
			}
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workflow events: %w", err)
	}
	return out, nil
}
