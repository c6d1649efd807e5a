package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		email         VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255) NOT NULL,
		role          ENUM('USER','MODERATOR','ADMIN') NOT NULL DEFAULT 'USER',
		is_active     TINYINT(1) NOT NULL DEFAULT 1,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		user_id    BIGINT UNSIGNED NOT NULL,
		session_id CHAR(36) NOT NULL,
		token_hash CHAR(64) NOT NULL,
		expires_at DATETIME NOT NULL,
		revoked_at DATETIME NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_refresh_token_hash (token_hash),
		KEY idx_refresh_user (user_id),
		KEY idx_refresh_session (session_id),
		CONSTRAINT fk_refresh_user FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS bookings (
		id                  CHAR(36) NOT NULL PRIMARY KEY,
		owner_id            VARCHAR(64) NOT NULL,
		tour_id             VARCHAR(128) NOT NULL,
		status              ENUM('PENDING','APPROVED','REJECTED','CANCELLED') NOT NULL,
		payment_status      ENUM('UNPAID','DEPOSIT_PAID','PAID_IN_FULL','REFUNDED') NOT NULL,
		travelers           INT UNSIGNED NOT NULL,
		total_amount_cents  BIGINT NOT NULL,
		currency            CHAR(3) NOT NULL,
		selected_date       DATE NULL,
		rejection_reason    VARCHAR(500) NULL,
		created_at          DATETIME(6) NOT NULL,
		updated_at          DATETIME(6) NOT NULL,
		deposit_paid_at     DATETIME(6) NULL,
		approved_at         DATETIME(6) NULL,
		refund_requested_at DATETIME(6) NULL,
		refunded_at         DATETIME(6) NULL,
		KEY idx_bookings_owner (owner_id, created_at),
		CONSTRAINT chk_bookings_travelers CHECK (travelers >= 1)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		seq      BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
		actor    VARCHAR(128) NOT NULL,
		action   VARCHAR(64) NOT NULL,
		target   VARCHAR(320) NOT NULL DEFAULT '',
		ts       DATETIME(6) NOT NULL,
		outcome  VARCHAR(16) NOT NULL,
		metadata JSON NULL,
		KEY idx_audit_ts (ts, seq)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate creates missing tables.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
