package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/customs-clearance/internal/core/domain"
)

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockKey int64 = 2026101401

// EnsureSchema creates the clearance tables. Concurrent api/worker startups serialize on an
// advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

var schemaDDL = `
CREATE TABLE IF NOT EXISTS shipments (
	id TEXT PRIMARY KEY,
	reference_id TEXT NOT NULL,
	shipper_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	origin_country TEXT NOT NULL,
	destination_country TEXT NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	declared_value DOUBLE PRECISION NOT NULL DEFAULT 0,
	currency TEXT NOT NULL DEFAULT '',
	line_items JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL,
	ai_approval_status TEXT NOT NULL,
	broker_approval_status TEXT NOT NULL,
	assigned_broker_id TEXT,
	clearance_token TEXT UNIQUE,
	token_issued_at TIMESTAMPTZ,
	compliance JSONB,
	requested_documents JSONB NOT NULL DEFAULT '[]'::jsonb,
	denial_reason TEXT NOT NULL DEFAULT '',
	version BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_shipments_shipper ON shipments(shipper_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_shipments_active_broker ON shipments(assigned_broker_id)
	WHERE status NOT IN (` + terminalStatusList() + `);
CREATE INDEX IF NOT EXISTS idx_shipments_unassigned ON shipments(updated_at)
	WHERE status = 'broker_review' AND assigned_broker_id IS NULL;

CREATE TABLE IF NOT EXISTS brokers (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	available BOOLEAN NOT NULL DEFAULT TRUE,
	max_concurrent_shipments INTEGER NOT NULL DEFAULT 0,
	origin_countries JSONB NOT NULL DEFAULT '[]'::jsonb,
	destination_countries JSONB NOT NULL DEFAULT '[]'::jsonb,
	hs_categories JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS shipment_documents (
	shipment_id TEXT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
	name_key TEXT NOT NULL,
	name TEXT NOT NULL,
	requested BOOLEAN NOT NULL DEFAULT FALSE,
	requested_at TIMESTAMPTZ,
	uploaded_at TIMESTAMPTZ,
	PRIMARY KEY (shipment_id, name_key)
);

CREATE TABLE IF NOT EXISTS workflow_events (
	id TEXT PRIMARY KEY,
	shipment_id TEXT NOT NULL,
	type TEXT NOT NULL,
	recipient TEXT NOT NULL DEFAULT '',
	actor_id TEXT NOT NULL DEFAULT '',
	from_status TEXT NOT NULL DEFAULT '',
	to_status TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	attributes JSONB NOT NULL DEFAULT '{}'::jsonb,
	occurred_at TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_workflow_events_shipment ON workflow_events(shipment_id, occurred_at);
`

// terminalStatusList renders the terminal statuses as a SQL literal list.
func terminalStatusList() string {
	quoted := make([]string, 0, len(domain.TerminalStatuses))
	for _, s := range domain.TerminalStatuses {
		quoted = append(quoted, "'"+string(s)+"'")
	}
	return strings.Join(quoted, ", ")
}
