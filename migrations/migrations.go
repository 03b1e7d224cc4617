package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

const ordersTable = `
	CREATE TABLE IF NOT EXISTS orders (
		id CHAR(36) PRIMARY KEY,
		session_id VARCHAR(64) NOT NULL,
		parent_id CHAR(36) NULL,
		stage VARCHAR(32) NOT NULL,
		total_amount DECIMAL(14,2) NOT NULL,
		placed_by VARCHAR(64) NOT NULL,
		placed_by_role VARCHAR(16) NOT NULL,
		reject_reason TEXT NULL,
		version INT NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_orders_session (session_id)
	);
`

const orderLinesTable = `
	CREATE TABLE IF NOT EXISTS order_lines (
		item_id CHAR(36) PRIMARY KEY,
		order_id CHAR(36) NOT NULL,
		position INT NOT NULL,
		code VARCHAR(64) NOT NULL,
		name VARCHAR(255) NOT NULL,
		ordered_quantity INT NOT NULL,
		confirmed_quantity INT NULL,
		pricing JSON NOT NULL,
		lot_number VARCHAR(64) NULL,
		expiry_date VARCHAR(32) NULL,
		reason TEXT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	);
`

const draftsTable = `
	CREATE TABLE IF NOT EXISTS drafts (
		session_id VARCHAR(64) PRIMARY KEY,
		owner_id VARCHAR(64) NOT NULL,
		line_set JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);
`

const productsTable = `
	CREATE TABLE IF NOT EXISTS products (
		code VARCHAR(64) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		unit_price DECIMAL(12,2) NOT NULL,
		discount_percent DECIMAL(5,2) NOT NULL DEFAULT 0,
		stock INT NOT NULL
	);
`

const focTiersTable = `
	CREATE TABLE IF NOT EXISTS foc_tiers (
		product_code VARCHAR(64) NOT NULL,
		buy_quantity INT NOT NULL,
		free_quantity INT NOT NULL,
		PRIMARY KEY (product_code, buy_quantity),
		FOREIGN KEY (product_code) REFERENCES products(code) ON DELETE CASCADE
	);
`

const reservationsTable = `
	CREATE TABLE IF NOT EXISTS reservations (
		order_id CHAR(36) NOT NULL,
		code VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		PRIMARY KEY (order_id, code),
		FOREIGN KEY (code) REFERENCES products(code)
	);
`

// AutoMigrateOrders creates the order and draft tables on every shard.
func AutoMigrateOrders(retries int, dbs ...*sql.DB) error {
	return migrate(retries, dbs, ordersTable, orderLinesTable, draftsTable)
}

// AutoMigrateCatalog creates the product, FOC tier and stock reservation tables.
func AutoMigrateCatalog(retries int, db *sql.DB) error {
	return migrate(retries, []*sql.DB{db}, productsTable, focTiersTable, reservationsTable)
}

func migrate(retries int, dbs []*sql.DB, queries ...string) error {
	for i, db := range dbs {
		for _, query := range queries {
			_, err := db.Exec(query)
			// Retry creating the table
			for attempt := 0; err != nil && attempt < retries; attempt++ {
				time.Sleep(1 * time.Second)
				_, err = db.Exec(query)
			}
			if err != nil {
				return fmt.Errorf("migrate shard %d: %w", i, err)
			}
		}
	}
	return nil
}
