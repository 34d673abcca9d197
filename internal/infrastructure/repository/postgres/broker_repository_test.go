package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

var brokerColumnNames = []string{
	"id", "name", "available", "max_concurrent_shipments", "origin_countries", "destination_countries", "hs_categories",
}

func TestLoadBrokersDecodesLists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	repo := NewBrokerRepository(db)

	rows := sqlmock.NewRows(brokerColumnNames).
		AddRow("10", "North", true, 5, []byte(`["CN"," US ",""]`), []byte(`null`), []byte(`["84"]`)).
		AddRow("20", "South", true, 0, nil, []byte(`[]`), []byte(`[]`))
	mock.ExpectQuery(`FROM brokers\s+WHERE available\s+ORDER BY id`).WillReturnRows(rows)

	brokers, err := repo.LoadBrokers(context.Background(), domain.BrokerFilter{AvailableOnly: true})
	if err != nil {
		t.Fatalf("LoadBrokers() error = %v", err)
	}
	if len(brokers) != 2 {
		t.Fatalf("expected 2 brokers, got %d", len(brokers))
	}
	first := brokers[0]
	if len(first.OriginCountries) != 2 || first.OriginCountries[1] != "US" {
		t.Fatalf("unexpected origins: %v", first.OriginCountries)
	}
	if first.DestinationCountries == nil || len(first.DestinationCountries) != 0 {
		t.Fatalf("null list should decode as empty, got %#v", first.DestinationCountries)
	}
	if brokers[1].MaxConcurrentShipments != 0 || len(brokers[1].OriginCountries) != 0 {
		t.Fatalf("unexpected second broker: %+v", brokers[1])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoadBrokersWithoutFilterReadsAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`FROM brokers\s+ORDER BY id`).WillReturnRows(sqlmock.NewRows(brokerColumnNames))

	brokers, err := NewBrokerRepository(db).LoadBrokers(context.Background(), domain.BrokerFilter{})
	if err != nil {
		t.Fatalf("LoadBrokers() error = %v", err)
	}
	if len(brokers) != 0 {
		t.Fatalf("expected no brokers, got %d", len(brokers))
	}
}

func TestUpsertBrokerEncodesLists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO brokers").
		WithArgs("10", "North", true, 3, []byte(`["CN"]`), []byte(`[]`), []byte(`["84","85"]`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewBrokerRepository(db).UpsertBroker(context.Background(), domain.Broker{
		ID:                     "10",
		Name:                   "North",
		Available:              true,
		MaxConcurrentShipments: 3,
		OriginCountries:        []string{"CN"},
		HSCategories:           []string{"84", "85"},
	})
	if err != nil {
		t.Fatalf("UpsertBroker() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertBrokerRequiresID(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()

	err = NewBrokerRepository(db).UpsertBroker(context.Background(), domain.Broker{Name: "x"})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
