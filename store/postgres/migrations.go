package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the stock ledger store.
var Migrations = migrate.NewGroup("stockledger")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_stock_film_rolls",
			Version: "20240501000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stock_film_rolls (
    id             TEXT PRIMARY KEY,
    film_type      TEXT NOT NULL,
    net_weight     NUMERIC NOT NULL CHECK (net_weight > 0),
    current_weight NUMERIC NOT NULL,
    supplier       TEXT NOT NULL DEFAULT '',
    purchase_date  TIMESTAMPTZ NOT NULL,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_stock_rolls_film_type ON stock_film_rolls (LOWER(film_type));
CREATE INDEX IF NOT EXISTS idx_stock_rolls_created ON stock_film_rolls (created_at, id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS stock_film_rolls`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_stock_consumption_records",
			Version: "20240501000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stock_consumption_records (
    job_id          TEXT NOT NULL,
    id              TEXT NOT NULL,
    job_name        TEXT NOT NULL DEFAULT '',
    original_id     TEXT NOT NULL,
    film_type       TEXT NOT NULL,
    net_weight      NUMERIC NOT NULL,
    supplier        TEXT NOT NULL DEFAULT '',
    purchase_date   TIMESTAMPTZ NOT NULL,
    roll_created_at TIMESTAMPTZ NOT NULL,
    consumed_at     TIMESTAMPTZ NOT NULL,
    consumed_by     TEXT NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (job_id, id)
);

CREATE INDEX IF NOT EXISTS idx_stock_records_consumed ON stock_consumption_records (job_id, consumed_at DESC);
CREATE INDEX IF NOT EXISTS idx_stock_records_original ON stock_consumption_records (original_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS stock_consumption_records`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_stock_jobs",
			Version: "20240501000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stock_jobs (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    materials  JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS stock_jobs`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_stock_orders",
			Version: "20240501000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				// The exclusion constraint is checked at commit so that a
				// swap can pass through a duplicate inside one statement.
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stock_orders (
    id             TEXT PRIMARY KEY,
    job_id         TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed')),
    planning_index INT,
    weight_made    NUMERIC NOT NULL DEFAULT 0,
    meters_made    NUMERIC NOT NULL DEFAULT 0,
    completed_at   TIMESTAMPTZ,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT stock_orders_active_index_unique
        EXCLUDE USING btree (planning_index WITH =)
        WHERE (status = 'active' AND planning_index >= 0)
        DEFERRABLE INITIALLY DEFERRED
);

CREATE INDEX IF NOT EXISTS idx_stock_orders_queue ON stock_orders (status, planning_index);
CREATE INDEX IF NOT EXISTS idx_stock_orders_job ON stock_orders (job_id);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS stock_orders`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_stock_change_notify",
			Version: "20240501000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				// NOTIFY is delivered at commit and folded per transaction,
				// so one message per topic reaches each listener.
				_, err := exec.Exec(ctx, `
CREATE OR REPLACE FUNCTION stock_notify_change() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('`+changeChannel+`', TG_ARGV[0]);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_stock_rolls_notify ON stock_film_rolls;
CREATE TRIGGER trg_stock_rolls_notify
    AFTER INSERT OR UPDATE OR DELETE ON stock_film_rolls
    FOR EACH STATEMENT EXECUTE FUNCTION stock_notify_change('rolls');

DROP TRIGGER IF EXISTS trg_stock_records_notify ON stock_consumption_records;
CREATE TRIGGER trg_stock_records_notify
    AFTER INSERT OR UPDATE OR DELETE ON stock_consumption_records
    FOR EACH STATEMENT EXECUTE FUNCTION stock_notify_change('records');

DROP TRIGGER IF EXISTS trg_stock_orders_notify ON stock_orders;
CREATE TRIGGER trg_stock_orders_notify
    AFTER INSERT OR UPDATE OR DELETE ON stock_orders
    FOR EACH STATEMENT EXECUTE FUNCTION stock_notify_change('orders');
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS trg_stock_orders_notify ON stock_orders;
DROP TRIGGER IF EXISTS trg_stock_records_notify ON stock_consumption_records;
DROP TRIGGER IF EXISTS trg_stock_rolls_notify ON stock_film_rolls;
DROP FUNCTION IF EXISTS stock_notify_change();
`)
				return err
			},
		},
	)
}
