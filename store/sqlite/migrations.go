package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the stock ledger store (SQLite).
var Migrations = migrate.NewGroup("stockledger")

// Timestamps are DATETIME columns holding UTC text; see timestamp in
// models.go for the layout.

// Messages raised by the order triggers. The store matches on them.
const (
	msgIndexMoved = "stockledger: planning index moved"
	msgNotPending = "stockledger: order is not pending"
)

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
    film_type_key  TEXT NOT NULL,
    net_weight     TEXT NOT NULL,
    current_weight TEXT NOT NULL,
    supplier       TEXT NOT NULL DEFAULT '',
    purchase_date  DATETIME NOT NULL,
    created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_stock_rolls_film_type ON stock_film_rolls (film_type_key);
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
				// Inserting a record removes its roll and deleting a record
				// restores it, inside the statement that fired the trigger.
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stock_consumption_records (
    job_id          TEXT NOT NULL,
    id              TEXT NOT NULL,
    job_name        TEXT NOT NULL DEFAULT '',
    original_id     TEXT NOT NULL,
    film_type       TEXT NOT NULL,
    film_type_key   TEXT NOT NULL,
    net_weight      TEXT NOT NULL,
    supplier        TEXT NOT NULL DEFAULT '',
    purchase_date   DATETIME NOT NULL,
    roll_created_at DATETIME NOT NULL,
    consumed_at     DATETIME NOT NULL,
    consumed_by     TEXT NOT NULL,
    created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at      DATETIME NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (job_id, id)
);

CREATE INDEX IF NOT EXISTS idx_stock_records_consumed ON stock_consumption_records (job_id, consumed_at DESC);
CREATE INDEX IF NOT EXISTS idx_stock_records_original ON stock_consumption_records (original_id);

CREATE TRIGGER IF NOT EXISTS trg_stock_records_consume
AFTER INSERT ON stock_consumption_records
BEGIN
    DELETE FROM stock_film_rolls WHERE id = NEW.original_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_stock_records_revert
AFTER DELETE ON stock_consumption_records
BEGIN
    INSERT INTO stock_film_rolls (
        id, film_type, film_type_key, net_weight, current_weight, supplier,
        purchase_date, created_at, updated_at
    ) VALUES (
        OLD.original_id, OLD.film_type, OLD.film_type_key, OLD.net_weight, OLD.net_weight,
        OLD.supplier, OLD.purchase_date, OLD.roll_created_at, strftime('%Y-%m-%d %H:%M:%f', 'now')
    );
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TRIGGER IF EXISTS trg_stock_records_revert;
DROP TRIGGER IF EXISTS trg_stock_records_consume;
DROP TABLE IF EXISTS stock_consumption_records;
`)
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
    materials  TEXT NOT NULL DEFAULT '[]',
    created_at DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
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
				// Index writes that touch several orders go through the
				// request tables below; their triggers apply the whole batch
				// inside one INSERT or abort it.
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stock_orders (
    id             TEXT PRIMARY KEY,
    job_id         TEXT NOT NULL,
    status         TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'completed')),
    planning_index INTEGER,
    weight_made    TEXT NOT NULL DEFAULT '0',
    meters_made    TEXT NOT NULL DEFAULT '0',
    completed_at   DATETIME,
    created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
    updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_stock_orders_active_index
    ON stock_orders (planning_index) WHERE status = 'active' AND planning_index >= 0;
CREATE INDEX IF NOT EXISTS idx_stock_orders_job ON stock_orders (job_id);

CREATE TABLE IF NOT EXISTS stock_order_assignments (
    order_id       TEXT NOT NULL,
    planning_index INTEGER NOT NULL,
    updated_at     DATETIME NOT NULL
);

CREATE TRIGGER IF NOT EXISTS trg_stock_order_assign
BEFORE INSERT ON stock_order_assignments
BEGIN
    SELECT RAISE(ABORT, '` + msgNotPending + `')
    WHERE NOT EXISTS (
        SELECT 1 FROM stock_orders
        WHERE id = NEW.order_id AND status = 'active' AND planning_index IS NULL
    );
    UPDATE stock_orders SET planning_index = NEW.planning_index, updated_at = NEW.updated_at
    WHERE id = NEW.order_id;
END;

CREATE TRIGGER IF NOT EXISTS trg_stock_order_assign_cleanup
AFTER INSERT ON stock_order_assignments
BEGIN
    DELETE FROM stock_order_assignments WHERE rowid = NEW.rowid;
END;

CREATE TABLE IF NOT EXISTS stock_order_swaps (
    a          TEXT NOT NULL,
    index_a    INTEGER NOT NULL,
    b          TEXT NOT NULL,
    index_b    INTEGER NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TRIGGER IF NOT EXISTS trg_stock_order_swap
BEFORE INSERT ON stock_order_swaps
BEGIN
    SELECT RAISE(ABORT, '` + msgIndexMoved + `')
    WHERE (
        SELECT COUNT(*) FROM stock_orders
        WHERE status = 'active'
          AND ((id = NEW.a AND planning_index = NEW.index_a)
            OR (id = NEW.b AND planning_index = NEW.index_b))
    ) != 2;
    UPDATE stock_orders SET planning_index = NULL WHERE id = NEW.a;
    UPDATE stock_orders SET planning_index = NEW.index_a, updated_at = NEW.updated_at WHERE id = NEW.b;
    UPDATE stock_orders SET planning_index = NEW.index_b, updated_at = NEW.updated_at WHERE id = NEW.a;
END;

CREATE TRIGGER IF NOT EXISTS trg_stock_order_swap_cleanup
AFTER INSERT ON stock_order_swaps
BEGIN
    DELETE FROM stock_order_swaps WHERE rowid = NEW.rowid;
END;
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
DROP TABLE IF EXISTS stock_order_swaps;
DROP TABLE IF EXISTS stock_order_assignments;
DROP TABLE IF EXISTS stock_orders;
`)
				return err
			},
		},
	)
}
