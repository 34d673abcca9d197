package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

type BrokerRepository struct {
	db *sql.DB
}

func NewBrokerRepository(db *sql.DB) *BrokerRepository {
	return &BrokerRepository{db: db}
}

func (r *BrokerRepository) LoadBrokers(ctx context.Context, filter domain.BrokerFilter) ([]domain.Broker, error) {
	query := `
SELECT id, name, available, max_concurrent_shipments, origin_countries, destination_countries, hs_categories
FROM brokers
`
	if filter.AvailableOnly {
		query += "WHERE available\n"
	}
	query += "ORDER BY id"

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load brokers: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Broker, 0)
	for rows.Next() {
		var b domain.Broker
		var origins, destinations, categories []byte
		if err := rows.Scan(&b.ID, &b.Name, &b.Available, &b.MaxConcurrentShipments, &origins, &destinations, &categories); err != nil {
			return nil, fmt.Errorf("scan broker: %w", err)
		}
		if b.OriginCountries, err = decodeStringList(origins); err != nil {
			return nil, fmt.Errorf("broker %s origin_countries: %w", b.ID, err)
		}
		if b.DestinationCountries, err = decodeStringList(destinations); err != nil {
			return nil, fmt.Errorf("broker %s destination_countries: %w", b.ID, err)
		}
		if b.HSCategories, err = decodeStringList(categories); err != nil {
			return nil, fmt.Errorf("broker %s hs_categories: %w", b.ID, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate brokers: %w", err)
	}
	return out, nil
}

// UpsertBroker stores a broker profile, replacing any existing one with the same id.
func (r *BrokerRepository) UpsertBroker(ctx context.Context, b domain.Broker) error {
	if strings.TrimSpace(b.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "upsert broker", fmt.Errorf("broker id is required"))
	}
	origins, err := encodeStringList(b.OriginCountries)
	if err != nil {
		return err
	}
	destinations, err := encodeStringList(b.DestinationCountries)
	if err != nil {
		return err
	}
	categories, err := encodeStringList(b.HSCategories)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO brokers (id, name, available, max_concurrent_shipments, origin_countries, destination_countries, hs_categories, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	available = EXCLUDED.available,
	max_concurrent_shipments = EXCLUDED.max_concurrent_shipments,
	origin_countries = EXCLUDED.origin_countries,
	destination_countries = EXCLUDED.destination_countries,
	hs_categories = EXCLUDED.hs_categories,
	updated_at = EXCLUDED.updated_at
`, b.ID, b.Name, b.Available, b.MaxConcurrentShipments, origins, destinations, categories, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert broker: %w", err)
	}
	return nil
}

// decodeStringList accepts a JSON array or JSON null; blanks are dropped.
func decodeStringList(raw []byte) ([]string, error) {
	if len(raw) == 0 {
		return []string{}, nil
	}
	var values []string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

func encodeStringList(values []string) ([]byte, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("marshal string list: %w", err)
	}
	return raw, nil
}
