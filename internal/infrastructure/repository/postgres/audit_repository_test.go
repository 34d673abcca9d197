package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

func TestAppendIgnoresRedelivery(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec(`ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("n-1", "s-1", "shipment.submitted", "shipper-1", "shipper-1", "draft", "submitted", "submitted", []byte(`{}`), at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = NewAuditRepository(db).Append(context.Background(), domain.Notification{
		ID:         "n-1",
		ShipmentID: "s-1",
		Type:       domain.NotifySubmitted,
		Recipient:  "shipper-1",
		ActorID:    "shipper-1",
		From:       domain.StatusDraft,
		To:         domain.StatusSubmitted,
		Message:    "submitted",
		OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListEventsDecodesAttributes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "shipment_id", "type", "recipient", "actor_id", "from_status", "to_status", "message", "attributes", "occurred_at"}).
		AddRow("n-1", "s-1", "shipment.broker_assigned", "10", "system", "ai_review", "broker_review", "assigned", []byte(`{"broker_id":"10"}`), at)
	mock.ExpectQuery("FROM workflow_events").WithArgs("s-1", 200).WillReturnRows(rows)

	events, err := NewAuditRepository(db).ListEvents(context.Background(), "s-1", 0)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Attributes["broker_id"] != "10" || events[0].To != domain.StatusBrokerReview {
		t.Fatalf("unexpected events: %+v", events)
	}
}
