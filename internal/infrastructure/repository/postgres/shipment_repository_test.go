package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

func newShipmentRepoWithMock(t *testing.T) (*ShipmentRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return NewShipmentRepository(db), mock, func() { _ = db.Close() }
}

var shipmentColumnNames = []string{
	"id", "reference_id", "shipper_id", "name", "origin_country", "destination_country", "mode",
	"declared_value", "currency", "line_items", "status", "ai_approval_status", "broker_approval_status",
	"assigned_broker_id", "clearance_token", "token_issued_at", "compliance", "requested_documents",
	"denial_reason", "version", "created_at", "updated_at",
}

func TestLoadShipmentDecodesRow(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(shipmentColumnNames).AddRow(
		"s-1", "SHP-1", "shipper-1", "", "CN", "US", "air",
		1200.0, "USD", []byte(`[{"name":"Laptop","description":"14 inch","hs_code":"847130","quantity":2,"unit_value":600}]`),
		"token_issued", "approved", "approved",
		"7", "PCT-1", now, []byte(`{"result":{"hs_code":"847130","confidence":0.98,"risk":false,"risk_level":"low","restrictions":[],"suggestions":[],"provenance":"explicit","notes":""},"evaluated_at":"2026-03-01T09:00:00Z"}`), []byte(`[]`),
		"", int64(4), now, now,
	)
	mock.ExpectQuery("SELECT id, reference_id").WithArgs("s-1").WillReturnRows(rows)

	s, err := repo.LoadShipment(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("LoadShipment() error = %v", err)
	}
	if s.Status != domain.StatusTokenIssued || s.Version != 4 {
		t.Fatalf("unexpected status/version: %s/%d", s.Status, s.Version)
	}
	if !s.IsAssignedTo("7") || s.ClearanceToken == nil || *s.ClearanceToken != "PCT-1" || s.TokenIssuedAt == nil {
		t.Fatalf("expected nullable columns to be decoded: %+v", s)
	}
	if len(s.LineItems) != 1 || s.LineItems[0].HSCode != "847130" {
		t.Fatalf("unexpected line items: %+v", s.LineItems)
	}
	if s.Compliance == nil || s.Compliance.Result.Provenance != domain.ProvenanceExplicit {
		t.Fatalf("unexpected compliance: %+v", s.Compliance)
	}
	if !domain.TokenInvariantHolds(s) {
		t.Fatalf("decoded shipment breaks the token invariant")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadShipmentReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	mock.ExpectQuery("FROM shipments").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := repo.LoadShipment(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrShipmentNotFound) {
		t.Fatalf("expected ErrShipmentNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func savedShipment() *domain.Shipment {
	now := time.Now().UTC()
	return &domain.Shipment{
		ID:                 "s-1",
		ReferenceID:        "SHP-1",
		ShipperID:          "shipper-1",
		OriginCountry:      "CN",
		DestinationCountry: "US",
		Status:             domain.StatusBrokerReview,
		AIApproval:         domain.ApprovalApproved,
		BrokerApproval:     domain.ApprovalPending,
		AssignedBrokerID:   func() *string { id := "7"; return &id }(),
		Version:            2,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestSaveShipmentBumpsVersion(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	s := savedShipment()
	mock.ExpectExec("UPDATE shipments").
		WithArgs(
			"s-1", "SHP-1", "", "", 0.0, "", []byte(`[]`),
			"broker_review", "approved", "pending", "7",
			nil, nil, sqlmock.AnyArg(), []byte(`[]`), "", sqlmock.AnyArg(),
			int64(2),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.SaveShipment(context.Background(), s); err != nil {
		t.Fatalf("SaveShipment() error = %v", err)
	}
	if s.Version != 3 {
		t.Fatalf("expected version 3, got %d", s.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveShipmentReportsConflict(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE shipments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM shipments").
		WithArgs("s-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(int64(5)))

	s := savedShipment()
	err := repo.SaveShipment(context.Background(), s)
	if !domain.IsKind(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if s.Version != 2 {
		t.Fatalf("version must not change on conflict, got %d", s.Version)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveShipmentReportsMissingRow(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE shipments").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM shipments").WithArgs("s-1").WillReturnError(sql.ErrNoRows)

	if err := repo.SaveShipment(context.Background(), savedShipment()); !domain.IsKind(err, domain.ErrShipmentNotFound) {
		t.Fatalf("expected ErrShipmentNotFound, got %v", err)
	}
}

func TestSaveShipmentKeepsStoredToken(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	mock.ExpectExec(`clearance_token = COALESCE\(clearance_token, \$12\)`).WillReturnResult(sqlmock.NewResult(0, 1))

	s := savedShipment()
	token := "PCT-2"
	s.ClearanceToken = &token
	if err := repo.SaveShipment(context.Background(), s); err != nil {
		t.Fatalf("SaveShipment() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCountActiveAssignmentsExcludesTerminal(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	mock.ExpectQuery(`status NOT IN \('denied', 'cancelled', 'token_issued'\)`).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountActiveAssignments(context.Background(), "7")
	if err != nil {
		t.Fatalf("CountActiveAssignments() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListUnassigned(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	mock.ExpectQuery("assigned_broker_id IS NULL").
		WithArgs("broker_review", 100).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-1").AddRow("s-2"))

	ids, err := repo.ListUnassigned(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListUnassigned() error = %v", err)
	}
	if len(ids) != 2 || ids[0] != "s-1" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListStalledSubmissions(t *testing.T) {
	repo, mock, done := newShipmentRepoWithMock(t)
	defer done()

	cutoff := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`status IN \(\$1, \$2\) AND updated_at < \$3`).
		WithArgs("submitted", "ai_review", cutoff, 25).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("s-9"))

	ids, err := repo.ListStalledSubmissions(context.Background(), cutoff, 25)
	if err != nil {
		t.Fatalf("ListStalledSubmissions() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "s-9" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
