package repository

import (
	"strconv"
	"strings"
)

// dialect captures the SQL differences between the supported databases.
// Queries are written with ? placeholders and rebound per dialect.
type dialect struct {
	name        string
	dollarBinds bool
	forUpdate   string
	upsertItem  string
	schema      []string
}

// rebind rewrites ? placeholders to $n for dialects that need it.
func (d dialect) rebind(query string) string {
	if !d.dollarBinds {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var sqliteDialect = dialect{
	name: "sqlite",
	upsertItem: `
		INSERT INTO items (item_code, description, current_price, effective_date, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_code) DO UPDATE SET
			description = excluded.description,
			current_price = excluded.current_price,
			effective_date = excluded.effective_date,
			updated_at = excluded.updated_at`,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS items (
			item_code TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			current_price TEXT,
			effective_date DATETIME,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS upload_sessions (
			id TEXT PRIMARY KEY,
			file_name TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			total_records INTEGER NOT NULL DEFAULT 0,
			approved_records INTEGER NOT NULL DEFAULT 0,
			pending_records INTEGER NOT NULL DEFAULT 0,
			rejected_records INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pricing_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			row_no INTEGER NOT NULL,
			item_code TEXT NOT NULL,
			current_price TEXT,
			proposed_price TEXT NOT NULL,
			percent_change TEXT,
			status TEXT NOT NULL,
			errors TEXT NOT NULL DEFAULT '[]',
			warnings TEXT NOT NULL DEFAULT '[]',
			cost_category TEXT NOT NULL DEFAULT '',
			supplier TEXT NOT NULL DEFAULT '',
			effective_date DATETIME,
			change_reason TEXT NOT NULL DEFAULT '',
			review_notes TEXT NOT NULL DEFAULT '',
			reviewed_by TEXT NOT NULL DEFAULT '',
			reviewed_at DATETIME,
			operation_id TEXT NOT NULL DEFAULT '',
			committed_at DATETIME,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_session ON pricing_records(session_id, row_no)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON pricing_records(session_id, status)`,
		`CREATE TABLE IF NOT EXISTS bulk_operations (
			id TEXT PRIMARY KEY,
			operation_type TEXT NOT NULL,
			status TEXT NOT NULL,
			session_id TEXT NOT NULL,
			total_records INTEGER NOT NULL DEFAULT 0,
			processed_records INTEGER NOT NULL DEFAULT 0,
			failed_records INTEGER NOT NULL DEFAULT 0,
			started_at DATETIME,
			completed_at DATETIME,
			error_details TEXT NOT NULL DEFAULT '{}',
			summary TEXT NOT NULL DEFAULT '{}',
			file_name TEXT NOT NULL DEFAULT '',
			file_size INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL DEFAULT '',
			retry_of TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_session ON bulk_operations(session_id, status)`,
		`CREATE TABLE IF NOT EXISTS price_change_audit (
			id TEXT PRIMARY KEY,
			item_code TEXT NOT NULL,
			old_price TEXT,
			new_price TEXT NOT NULL,
			reason TEXT NOT NULL,
			actor TEXT NOT NULL,
			operation_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			effective_date DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_item ON price_change_audit(item_code, created_at)`,
	},
}

var postgresDialect = dialect{
	name:        "postgres",
	dollarBinds: true,
	forUpdate:   " FOR UPDATE",
	upsertItem: `
		INSERT INTO items (item_code, description, current_price, effective_date, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (item_code) DO UPDATE SET
			description = EXCLUDED.description,
			current_price = EXCLUDED.current_price,
			effective_date = EXCLUDED.effective_date,
			updated_at = EXCLUDED.updated_at`,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS items (
			item_code TEXT PRIMARY KEY,
			description TEXT NOT NULL DEFAULT '',
			current_price NUMERIC(18,4),
			effective_date TIMESTAMPTZ,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS upload_sessions (
			id TEXT PRIMARY KEY,
			file_name TEXT NOT NULL,
			file_size BIGINT NOT NULL,
			total_records INTEGER NOT NULL DEFAULT 0,
			approved_records INTEGER NOT NULL DEFAULT 0,
			pending_records INTEGER NOT NULL DEFAULT 0,
			rejected_records INTEGER NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS pricing_records (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES upload_sessions(id),
			row_no INTEGER NOT NULL,
			item_code TEXT NOT NULL,
			current_price NUMERIC(18,4),
			proposed_price NUMERIC(18,4) NOT NULL,
			percent_change NUMERIC(20,6),
			status TEXT NOT NULL,
			errors JSONB NOT NULL DEFAULT '[]',
			warnings JSONB NOT NULL DEFAULT '[]',
			cost_category TEXT NOT NULL DEFAULT '',
			supplier TEXT NOT NULL DEFAULT '',
			effective_date TIMESTAMPTZ,
			change_reason TEXT NOT NULL DEFAULT '',
			review_notes TEXT NOT NULL DEFAULT '',
			reviewed_by TEXT NOT NULL DEFAULT '',
			reviewed_at TIMESTAMPTZ,
			operation_id TEXT NOT NULL DEFAULT '',
			committed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_session ON pricing_records(session_id, row_no)`,
		`CREATE INDEX IF NOT EXISTS idx_records_status ON pricing_records(session_id, status)`,
		`CREATE TABLE IF NOT EXISTS bulk_operations (
			id TEXT PRIMARY KEY,
			operation_type TEXT NOT NULL,
			status TEXT NOT NULL,
			session_id TEXT NOT NULL REFERENCES upload_sessions(id),
			total_records INTEGER NOT NULL DEFAULT 0,
			processed_records INTEGER NOT NULL DEFAULT 0,
			failed_records INTEGER NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error_details JSONB NOT NULL DEFAULT '{}',
			summary JSONB NOT NULL DEFAULT '{}',
			file_name TEXT NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			created_by TEXT NOT NULL DEFAULT '',
			retry_of TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_operations_session ON bulk_operations(session_id, status)`,
		`CREATE TABLE IF NOT EXISTS price_change_audit (
			id TEXT PRIMARY KEY,
			item_code TEXT NOT NULL,
			old_price NUMERIC(18,4),
			new_price NUMERIC(18,4) NOT NULL,
			reason TEXT NOT NULL,
			actor TEXT NOT NULL,
			operation_id TEXT NOT NULL,
			record_id TEXT NOT NULL,
			effective_date TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_item ON price_change_audit(item_code, created_at DESC)`,
	},
}

// MySQL has no CREATE INDEX IF NOT EXISTS, so indexes are declared inline.
var mysqlDialect = dialect{
	name:      "mysql",
	forUpdate: " FOR UPDATE",
	upsertItem: `
		INSERT INTO items (item_code, description, current_price, effective_date, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			description = VALUES(description),
			current_price = VALUES(current_price),
			effective_date = VALUES(effective_date),
			updated_at = VALUES(updated_at)`,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS items (
			item_code VARCHAR(64) PRIMARY KEY,
			description VARCHAR(255) NOT NULL DEFAULT '',
			current_price DECIMAL(18,4) NULL,
			effective_date DATETIME(6) NULL,
			updated_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS upload_sessions (
			id VARCHAR(36) PRIMARY KEY,
			file_name VARCHAR(255) NOT NULL,
			file_size BIGINT NOT NULL,
			total_records INT NOT NULL DEFAULT 0,
			approved_records INT NOT NULL DEFAULT 0,
			pending_records INT NOT NULL DEFAULT 0,
			rejected_records INT NOT NULL DEFAULT 0,
			created_by VARCHAR(128) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS pricing_records (
			id VARCHAR(36) PRIMARY KEY,
			session_id VARCHAR(36) NOT NULL,
			row_no INT NOT NULL,
			item_code VARCHAR(64) NOT NULL,
			current_price DECIMAL(18,4) NULL,
			proposed_price DECIMAL(18,4) NOT NULL,
			percent_change DECIMAL(20,6) NULL,
			status VARCHAR(32) NOT NULL,
			errors TEXT NOT NULL,
			warnings TEXT NOT NULL,
			cost_category VARCHAR(128) NOT NULL DEFAULT '',
			supplier VARCHAR(255) NOT NULL DEFAULT '',
			effective_date DATETIME(6) NULL,
			change_reason TEXT NOT NULL,
			review_notes TEXT NOT NULL,
			reviewed_by VARCHAR(128) NOT NULL DEFAULT '',
			reviewed_at DATETIME(6) NULL,
			operation_id VARCHAR(36) NOT NULL DEFAULT '',
			committed_at DATETIME(6) NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_records_session (session_id, row_no),
			INDEX idx_records_status (session_id, status)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS bulk_operations (
			id VARCHAR(36) PRIMARY KEY,
			operation_type VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			session_id VARCHAR(36) NOT NULL,
			total_records INT NOT NULL DEFAULT 0,
			processed_records INT NOT NULL DEFAULT 0,
			failed_records INT NOT NULL DEFAULT 0,
			started_at DATETIME(6) NULL,
			completed_at DATETIME(6) NULL,
			error_details TEXT NOT NULL,
			summary TEXT NOT NULL,
			file_name VARCHAR(255) NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			created_by VARCHAR(128) NOT NULL DEFAULT '',
			retry_of VARCHAR(36) NOT NULL DEFAULT '',
			created_at DATETIME(6) NOT NULL,
			INDEX idx_operations_session (session_id, status)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS price_change_audit (
			id VARCHAR(36) PRIMARY KEY,
			item_code VARCHAR(64) NOT NULL,
			old_price DECIMAL(18,4) NULL,
			new_price DECIMAL(18,4) NOT NULL,
			reason TEXT NOT NULL,
			actor VARCHAR(128) NOT NULL,
			operation_id VARCHAR(36) NOT NULL,
			record_id VARCHAR(36) NOT NULL,
			effective_date DATETIME(6) NOT NULL,
			created_at DATETIME(6) NOT NULL,
			INDEX idx_audit_item (item_code, created_at)
		) ENGINE=InnoDB`,
	},
}
