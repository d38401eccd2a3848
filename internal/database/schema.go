package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order by Migrate.  Every statement is idempotent.
var schema = []struct {
	name string
	sql  string
}{
	{"create_clients", `
CREATE TABLE IF NOT EXISTS clients (
    id          BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    name        VARCHAR(255) NOT NULL,
    till_number VARCHAR(32) NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB`},
	{"create_users", `
CREATE TABLE IF NOT EXISTS users (
    id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    name         VARCHAR(255) NOT NULL DEFAULT '',
    phone_number VARCHAR(16) NOT NULL,
    balance      DECIMAL(12,2) NOT NULL DEFAULT 0.00,
    held_balance DECIMAL(12,2) NOT NULL DEFAULT 0.00,
    is_active    TINYINT(1) NOT NULL DEFAULT 1,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_users_phone (phone_number)
) ENGINE=InnoDB`},
	{"create_vehicles", `
CREATE TABLE IF NOT EXISTS vehicles (
    id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    user_id      BIGINT UNSIGNED NOT NULL,
    number_plate VARCHAR(8) NOT NULL,
    make         VARCHAR(64) NOT NULL DEFAULT '',
    model        VARCHAR(64) NOT NULL DEFAULT '',
    is_active    TINYINT(1) NOT NULL DEFAULT 1,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_vehicles_plate (number_plate),
    CONSTRAINT fk_vehicles_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
) ENGINE=InnoDB`},
	{"create_parking_lots", `
CREATE TABLE IF NOT EXISTS parking_lots (
    id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    client_id  BIGINT UNSIGNED NULL,
    name       VARCHAR(255) NOT NULL,
    location   VARCHAR(255) NOT NULL DEFAULT '',
    daily_rate DECIMAL(12,2) NOT NULL DEFAULT 0.00,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CONSTRAINT fk_lots_client FOREIGN KEY (client_id) REFERENCES clients (id) ON DELETE SET NULL
) ENGINE=InnoDB`},
	{"create_parking_spaces", `
CREATE TABLE IF NOT EXISTS parking_spaces (
    id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    lot_id       BIGINT UNSIGNED NOT NULL,
    space_number VARCHAR(16) NOT NULL,
    is_occupied  TINYINT(1) NOT NULL DEFAULT 0,
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_spaces_lot_number (lot_id, space_number),
    KEY idx_spaces_occupied (is_occupied),
    CONSTRAINT fk_spaces_lot FOREIGN KEY (lot_id) REFERENCES parking_lots (id) ON DELETE RESTRICT
) ENGINE=InnoDB`},
	{"create_parking_sessions", `
CREATE TABLE IF NOT EXISTS parking_sessions (
    id               BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    vehicle_id       BIGINT UNSIGNED NULL,
    space_id         BIGINT UNSIGNED NULL,
    user_id          BIGINT UNSIGNED NOT NULL,
    lot_id           BIGINT UNSIGNED NOT NULL,
    client_id        BIGINT UNSIGNED NULL,
    number_plate     VARCHAR(8) NOT NULL,
    entry_time       DATETIME(6) NOT NULL,
    exit_time        DATETIME(6) NULL,
    duration_seconds BIGINT NULL,
    fee              DECIMAL(12,2) NULL,
    platform_share   DECIMAL(12,2) NULL,
    client_share     DECIMAL(12,2) NULL,
    status           VARCHAR(32) NOT NULL,
    payment_status   VARCHAR(16) NOT NULL,
    payment_ref      VARCHAR(64) NULL,
    active_vehicle_id BIGINT UNSIGNED AS (IF(status = 'OCCUPIED', vehicle_id, NULL)) STORED,
    created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_sessions_active_vehicle (active_vehicle_id),
    KEY idx_sessions_status (status),
    KEY idx_sessions_plate (number_plate, status),
    KEY idx_sessions_space (space_id, status),
    KEY idx_sessions_entry (entry_time),
    CONSTRAINT fk_sessions_vehicle FOREIGN KEY (vehicle_id) REFERENCES vehicles (id) ON DELETE RESTRICT,
    CONSTRAINT fk_sessions_space FOREIGN KEY (space_id) REFERENCES parking_spaces (id) ON DELETE SET NULL,
    CONSTRAINT chk_sessions_closed CHECK (
        (exit_time IS NULL AND duration_seconds IS NULL AND fee IS NULL AND platform_share IS NULL AND client_share IS NULL)
        OR (exit_time IS NOT NULL AND duration_seconds IS NOT NULL AND fee IS NOT NULL AND platform_share IS NOT NULL AND client_share IS NOT NULL)
    )
) ENGINE=InnoDB`},
	{"create_topups", `
CREATE TABLE IF NOT EXISTS topups (
    id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    user_id        BIGINT UNSIGNED NOT NULL,
    amount         DECIMAL(12,2) NOT NULL,
    phone_number   VARCHAR(16) NOT NULL,
    status         VARCHAR(16) NOT NULL,
    payment_status VARCHAR(16) NOT NULL,
    payment_ref    VARCHAR(64) NULL,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    KEY idx_topups_user (user_id)
) ENGINE=InnoDB`},
	{"create_alerts", `
CREATE TABLE IF NOT EXISTS alerts (
    id           BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    space_id     BIGINT UNSIGNED NULL,
    number_plate VARCHAR(32) NOT NULL,
    description  VARCHAR(255) NOT NULL,
    status       VARCHAR(16) NOT NULL DEFAULT 'unresolved',
    created_at   DATETIME(6) NOT NULL,
    KEY idx_alerts_created (created_at),
    CONSTRAINT fk_alerts_space FOREIGN KEY (space_id) REFERENCES parking_spaces (id) ON DELETE SET NULL
) ENGINE=InnoDB`},
	{"create_central_till", `
CREATE TABLE IF NOT EXISTS central_till (
    id         TINYINT UNSIGNED NOT NULL PRIMARY KEY,
    balance    DECIMAL(14,2) NOT NULL DEFAULT 0.00,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB`},
	{"provision_central_till", `INSERT IGNORE INTO central_till (id, balance) VALUES (1, 0.00)`},
	{"create_client_tills", `
CREATE TABLE IF NOT EXISTS client_tills (
    client_id  BIGINT UNSIGNED NOT NULL PRIMARY KEY,
    balance    DECIMAL(14,2) NOT NULL DEFAULT 0.00,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB`},
	{"create_payment_records", `
CREATE TABLE IF NOT EXISTS payment_records (
    id             BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    kind           VARCHAR(16) NOT NULL,
    session_id     BIGINT UNSIGNED NOT NULL,
    order_id       VARCHAR(64) NOT NULL,
    user_id        BIGINT UNSIGNED NOT NULL,
    client_id      BIGINT UNSIGNED NULL,
    amount         DECIMAL(12,2) NOT NULL,
    platform_share DECIMAL(12,2) NOT NULL DEFAULT 0.00,
    client_share   DECIMAL(12,2) NOT NULL DEFAULT 0.00,
    status         VARCHAR(16) NOT NULL,
    ledger_state   VARCHAR(16) NOT NULL DEFAULT 'NONE',
    external_ref   VARCHAR(64) NULL,
    failure_reason VARCHAR(255) NULL,
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_payments_order (order_id),
    KEY idx_payments_session (kind, session_id)
) ENGINE=InnoDB`},
	{"create_ledger_entries", `
CREATE TABLE IF NOT EXISTS ledger_entries (
    id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
    payment_id BIGINT UNSIGNED NOT NULL,
    account    VARCHAR(16) NOT NULL,
    account_id BIGINT UNSIGNED NOT NULL,
    amount     DECIMAL(14,2) NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    KEY idx_ledger_payment (payment_id),
    KEY idx_ledger_account (account, account_id)
) ENGINE=InnoDB`},
}

// Migrate creates any missing tables and provisions the central till row.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, s := range schema {
		if _, err := db.ExecContext(ctx, s.sql); err != nil {
			return fmt.Errorf("database: migrate %s: %w", s.name, err)
		}
	}
	return nil
}
