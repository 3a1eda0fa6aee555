package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"erp-pricing-api/internal/logger"
	"erp-pricing-api/internal/model"
	"erp-pricing-api/pkg/uid"
)

// SQLStore implements Store on database/sql. The dialect decides placeholder
// style, row locking and DDL.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, d: d}
}

// migrate creates the schema. Statements run one at a time because not every
// driver accepts multi-statement Exec.
func (s *SQLStore) migrate(ctx context.Context) error {
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Dialect returns the database kind backing the store.
func (s *SQLStore) Dialect() string {
	return s.d.name
}

func (s *SQLStore) q(query string) string {
	return s.d.rebind(query)
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// GetItem returns the item master row, or nil if absent.
func (s *SQLStore) GetItem(ctx context.Context, itemCode string) (*model.Item, error) {
	var item model.Item
	var eff sql.NullTime
	err := s.db.QueryRowContext(ctx,
		s.q(`SELECT item_code, description, current_price, effective_date, updated_at FROM items WHERE item_code = ?`),
		itemCode,
	).Scan(&item.ItemCode, &item.Description, &item.CurrentPrice, &eff, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get item %s: %w", itemCode, err)
	}
	item.EffectiveDate = nullTimePtr(eff)
	return &item, nil
}

// UpsertItem inserts or replaces an item master row.
func (s *SQLStore) UpsertItem(ctx context.Context, item *model.Item) error {
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, s.q(s.d.upsertItem),
		item.ItemCode, item.Description, item.CurrentPrice, timePtrValue(item.EffectiveDate), item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ItemCode, err)
	}
	return nil
}

// CreateSession inserts the session and its records in one transaction.
func (s *SQLStore) CreateSession(ctx context.Context, session *model.UploadSession, records []model.PricingRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO upload_sessions (id, file_name, file_size, total_records, approved_records, pending_records, rejected_records, created_by, created_at)
		VALUES (?, ?, ?, 0, 0, 0, 0, ?, ?)`),
		session.ID, session.FileName, session.FileSize, session.CreatedBy, session.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.q(`
		INSERT INTO pricing_records (id, session_id, row_no, item_code, current_price, proposed_price, percent_change,
			status, errors, warnings, cost_category, supplier, effective_date, change_reason,
			review_notes, reviewed_by, operation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', '', ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		r := &records[i]
		_, err := stmt.ExecContext(ctx,
			r.ID, session.ID, r.RowNumber, r.ItemCode, r.CurrentPrice, r.ProposedPrice, r.PercentChange,
			string(r.Status), encodeList(r.Errors), encodeList(r.Warnings), r.CostCategory, r.Supplier,
			timePtrValue(r.EffectiveDate), r.ChangeReason, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert record at row %d: %w", r.RowNumber, err)
		}
	}

	counts, err := s.refreshCounts(ctx, tx, session.ID)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	applyCounts(session, counts)
	return nil
}

// refreshCounts derives the session tallies from its records and stores them.
func (s *SQLStore) refreshCounts(ctx context.Context, tx *sql.Tx, sessionID string) (model.SessionCounts, error) {
	var c model.SessionCounts
	rows, err := tx.QueryContext(ctx,
		s.q(`SELECT status, COUNT(*) FROM pricing_records WHERE session_id = ? GROUP BY status`), sessionID)
	if err != nil {
		return c, fmt.Errorf("failed to count records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return c, err
		}
		c.Total += n
		switch model.RecordStatus(status) {
		case model.RecordApproved:
			c.Approved += n
		case model.RecordRejected:
			c.Rejected += n
		default:
			c.Pending += n
		}
	}
	if err := rows.Err(); err != nil {
		return c, err
	}
	rows.Close()

	_, err = tx.ExecContext(ctx, s.q(`
		UPDATE upload_sessions
		SET total_records = ?, approved_records = ?, pending_records = ?, rejected_records = ?
		WHERE id = ?`),
		c.Total, c.Approved, c.Pending, c.Rejected, sessionID)
	if err != nil {
		return c, fmt.Errorf("failed to update session counts: %w", err)
	}
	return c, nil
}

const sessionColumns = `id, file_name, file_size, total_records, approved_records, pending_records, rejected_records, created_by, created_at`

func scanSession(row interface{ Scan(...any) error }) (*model.UploadSession, error) {
	var s model.UploadSession
	err := row.Scan(&s.ID, &s.FileName, &s.FileSize, &s.TotalRecords, &s.ApprovedRecords,
		&s.PendingRecords, &s.RejectedRecords, &s.CreatedBy, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetSession returns ErrNotFound for an unknown session.
func (s *SQLStore) GetSession(ctx context.Context, sessionID string) (*model.UploadSession, error) {
	sess, err := scanSession(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`), sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return sess, nil
}

// ListSessions returns sessions newest first with the total count.
func (s *SQLStore) ListSessions(ctx context.Context, limit, offset int) ([]model.UploadSession, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM upload_sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+sessionColumns+` FROM upload_sessions ORDER BY created_at DESC, id LIMIT ? OFFSET ?`),
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []model.UploadSession{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, total, rows.Err()
}

const recordColumns = `id, session_id, row_no, item_code, current_price, proposed_price, percent_change,
	status, errors, warnings, cost_category, supplier, effective_date, change_reason,
	review_notes, reviewed_by, reviewed_at, operation_id, committed_at, created_at`

func scanRecord(row interface{ Scan(...any) error }) (*model.PricingRecord, error) {
	var (
		r                              model.PricingRecord
		status, errs, warns            string
		effective, reviewed, committed sql.NullTime
	)
	err := row.Scan(&r.ID, &r.SessionID, &r.RowNumber, &r.ItemCode, &r.CurrentPrice, &r.ProposedPrice,
		&r.PercentChange, &status, &errs, &warns, &r.CostCategory, &r.Supplier, &effective,
		&r.ChangeReason, &r.ReviewNotes, &r.ReviewedBy, &reviewed, &r.OperationID, &committed, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RecordStatus(status)
	r.Errors = decodeList(errs)
	r.Warnings = decodeList(warns)
	r.EffectiveDate = nullTimePtr(effective)
	r.ReviewedAt = nullTimePtr(reviewed)
	r.CommittedAt = nullTimePtr(committed)
	return &r, nil
}

func (s *SQLStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.PricingRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []model.PricingRecord{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// ListRecords returns a session's records in row order.
func (s *SQLStore) ListRecords(ctx context.Context, sessionID string, filter model.RecordFilter) ([]model.PricingRecord, error) {
	if filter.Status != "" {
		return s.queryRecords(ctx,
			`SELECT `+recordColumns+` FROM pricing_records WHERE session_id = ? AND status = ? ORDER BY row_no`,
			sessionID, string(filter.Status))
	}
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM pricing_records WHERE session_id = ? ORDER BY row_no`, sessionID)
}

// GetRecord returns ErrNotFound when the record is not part of the session.
func (s *SQLStore) GetRecord(ctx context.Context, sessionID, recordID string) (*model.PricingRecord, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+recordColumns+` FROM pricing_records WHERE id = ? AND session_id = ?`), recordID, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return r, nil
}

// ListCommittable returns approved, uncommitted records by row number.
func (s *SQLStore) ListCommittable(ctx context.Context, sessionID string) ([]model.PricingRecord, error) {
	return s.queryRecords(ctx,
		`SELECT `+recordColumns+` FROM pricing_records
		WHERE session_id = ? AND status = ? AND committed_at IS NULL ORDER BY row_no`,
		sessionID, string(model.RecordApproved))
}

// ApplyReview performs a conditional transition out of REQUIRES_REVIEW.
func (s *SQLStore) ApplyReview(ctx context.Context, d model.ReviewDecision) (*model.UploadSession, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE pricing_records
		SET status = ?, review_notes = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND session_id = ? AND status = ?`
	args := []any{string(d.Status), d.Notes, d.Actor, d.At, d.RecordID, d.SessionID, string(model.RecordRequiresReview)}
	if d.Status == model.RecordApproved {
		// Records carrying validation errors are never approvable.
		query += ` AND (errors = '[]' OR errors IS NULL)`
		if s.d.name == "postgres" {
			query = strings.Replace(query, `errors = '[]'`, `errors = '[]'::jsonb`, 1)
		}
	}

	res, err := tx.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrConflict
	}

	if _, err := s.refreshCounts(ctx, tx, d.SessionID); err != nil {
		return nil, err
	}

	sess, err := scanSession(tx.QueryRowContext(ctx,
		s.q(`SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`), d.SessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to reload session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return sess, nil
}

// CreateOperation inserts a new operation unless the session has an active one.
// On networked backends the session row is locked first, so concurrent
// callers for the same session serialize on the active-operation check.
func (s *SQLStore) CreateOperation(ctx context.Context, op *model.BulkOperation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if s.d.forUpdate != "" {
		var locked string
		err = tx.QueryRowContext(ctx,
			s.q(`SELECT id FROM upload_sessions WHERE id = ?`+s.d.forUpdate), op.SessionID,
		).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock session: %w", err)
		}
	}

	var active int
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT COUNT(*) FROM bulk_operations WHERE session_id = ? AND status IN (?, ?)`),
		op.SessionID, string(model.OperationPending), string(model.OperationInProgress),
	).Scan(&active)
	if err != nil {
		return fmt.Errorf("failed to check active operations: %w", err)
	}
	if active > 0 {
		return ErrConflict
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO bulk_operations (id, operation_type, status, session_id, total_records, processed_records,
			failed_records, started_at, completed_at, error_details, summary, file_name, file_size, created_by, retry_of, created_at)
		VALUES (?, ?, ?, ?, ?, 0, 0, NULL, NULL, ?, ?, ?, ?, ?, ?, ?)`),
		op.ID, string(op.OperationType), string(op.Status), op.SessionID, op.TotalRecords,
		encodeJSON(op.ErrorDetails), encodeJSON(op.Summary), op.FileName, op.FileSize, op.CreatedBy, op.RetryOf, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert operation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

const operationColumns = `id, operation_type, status, session_id, total_records, processed_records, failed_records,
	started_at, completed_at, error_details, summary, file_name, file_size, created_by, retry_of, created_at`

func scanOperation(row interface{ Scan(...any) error }) (*model.BulkOperation, error) {
	var (
		op                  model.BulkOperation
		opType, status      string
		started, completed  sql.NullTime
		errDetails, summary string
	)
	err := row.Scan(&op.ID, &opType, &status, &op.SessionID, &op.TotalRecords, &op.ProcessedRecords,
		&op.FailedRecords, &started, &completed, &errDetails, &summary, &op.FileName, &op.FileSize,
		&op.CreatedBy, &op.RetryOf, &op.CreatedAt)
	if err != nil {
		return nil, err
	}
	op.OperationType = model.OperationType(opType)
	op.Status = model.OperationStatus(status)
	op.StartedAt = nullTimePtr(started)
	op.CompletedAt = nullTimePtr(completed)
	if errDetails != "" {
		_ = json.Unmarshal([]byte(errDetails), &op.ErrorDetails)
	}
	if summary != "" && summary != "{}" {
		_ = json.Unmarshal([]byte(summary), &op.Summary)
	}
	return &op, nil
}

// GetOperation returns ErrNotFound for an unknown operation.
func (s *SQLStore) GetOperation(ctx context.Context, id string) (*model.BulkOperation, error) {
	op, err := scanOperation(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+operationColumns+` FROM bulk_operations WHERE id = ?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// ListOperations returns operations newest first with the filtered total.
func (s *SQLStore) ListOperations(ctx context.Context, f OperationFilter) ([]model.BulkOperation, int64, error) {
	var where []string
	var args []any
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM bulk_operations`+clause), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count operations: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+operationColumns+` FROM bulk_operations`+clause+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`),
		append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	ops := []model.BulkOperation{}
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, *op)
	}
	return ops, total, rows.Err()
}

// TransitionOperation applies a conditional status change.
func (s *SQLStore) TransitionOperation(ctx context.Context, t OperationTransition) error {
	if len(t.From) == 0 {
		return fmt.Errorf("transition to %s has no source state", t.To)
	}

	sets := []string{"status = ?"}
	args := []any{string(t.To)}
	if t.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *t.StartedAt)
	}
	if t.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *t.CompletedAt)
	}
	if t.Errors != nil {
		sets = append(sets, "error_details = ?")
		args = append(args, encodeJSON(t.Errors))
	}
	if t.Summary != nil {
		sets = append(sets, "summary = ?")
		args = append(args, encodeJSON(t.Summary))
	}

	placeholders := make([]string, len(t.From))
	args = append(args, t.ID)
	for i, st := range t.From {
		placeholders[i] = "?"
		args = append(args, string(st))
	}

	query := `UPDATE bulk_operations SET ` + strings.Join(sets, ", ") +
		` WHERE id = ? AND status IN (` + strings.Join(placeholders, ", ") + `)`
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("failed to transition operation %s to %s: %w", t.ID, t.To, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// UpdateProgress records counters and the per-record error log.
func (s *SQLStore) UpdateProgress(ctx context.Context, id string, p model.OperationProgress) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE bulk_operations SET processed_records = ?, failed_records = ?, error_details = ? WHERE id = ?`),
		p.Processed, p.Failed, encodeJSON(p.Errors), id)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

// CountOperationsByStatus returns the number of operations per status.
func (s *SQLStore) CountOperationsByStatus(ctx context.Context) (map[model.OperationStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM bulk_operations GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count operations: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.OperationStatus]int, len(model.AllOperationStatuses))
	for _, st := range model.AllOperationStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[model.OperationStatus(status)] = n
	}
	return counts, rows.Err()
}

// ApplyPriceChange commits one price change with its audit entry.
func (s *SQLStore) ApplyPriceChange(ctx context.Context, c model.PriceChange) (*model.PriceChangeAudit, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var old decimal.NullDecimal
	err = tx.QueryRowContext(ctx,
		s.q(`SELECT current_price FROM items WHERE item_code = ?`+s.d.forUpdate), c.ItemCode,
	).Scan(&old)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("item %s: %w", c.ItemCode, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read current price: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		s.q(`UPDATE items SET current_price = ?, effective_date = ?, updated_at = ? WHERE item_code = ?`),
		c.NewPrice, c.EffectiveDate, now, c.ItemCode); err != nil {
		return nil, fmt.Errorf("failed to update price: %w", err)
	}

	audit := &model.PriceChangeAudit{
		ID:            uid.New(),
		ItemCode:      c.ItemCode,
		OldPrice:      old,
		NewPrice:      c.NewPrice,
		Reason:        c.Reason,
		Actor:         c.Actor,
		OperationID:   c.OperationID,
		RecordID:      c.RecordID,
		EffectiveDate: c.EffectiveDate,
		CreatedAt:     now,
	}
	if _, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO price_change_audit (id, item_code, old_price, new_price, reason, actor, operation_id, record_id, effective_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		audit.ID, audit.ItemCode, audit.OldPrice, audit.NewPrice, audit.Reason, audit.Actor,
		audit.OperationID, audit.RecordID, audit.EffectiveDate, audit.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to write audit entry: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		s.q(`UPDATE pricing_records SET committed_at = ?, operation_id = ? WHERE id = ? AND committed_at IS NULL`),
		now, c.OperationID, c.RecordID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark record committed: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, fmt.Errorf("record %s already committed: %w", c.RecordID, ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	logger.Debug("price change committed",
		zap.String("item_code", c.ItemCode),
		zap.String("operation_id", c.OperationID),
		zap.String("new_price", c.NewPrice.String()),
	)
	return audit, nil
}

// ListPriceHistory returns audit entries for an item, newest first.
func (s *SQLStore) ListPriceHistory(ctx context.Context, itemCode string, limit int) ([]model.PriceChangeAudit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT id, item_code, old_price, new_price, reason, actor, operation_id, record_id, effective_date, created_at
		FROM price_change_audit WHERE item_code = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		itemCode, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list price history: %w", err)
	}
	defer rows.Close()

	history := []model.PriceChangeAudit{}
	for rows.Next() {
		var a model.PriceChangeAudit
		if err := rows.Scan(&a.ID, &a.ItemCode, &a.OldPrice, &a.NewPrice, &a.Reason, &a.Actor,
			&a.OperationID, &a.RecordID, &a.EffectiveDate, &a.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, a)
	}
	return history, rows.Err()
}

// GetStats returns row counts and connection pool usage.
func (s *SQLStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})
	for _, table := range []string{"items", "upload_sessions", "pricing_records", "bulk_operations", "price_change_audit"} {
		var n int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, err
		}
		stats[table] = n
	}

	dbStats := s.db.Stats()
	stats["dialect"] = s.d.name
	stats["connections"] = map[string]interface{}{
		"open":     dbStats.OpenConnections,
		"in_use":   dbStats.InUse,
		"idle":     dbStats.Idle,
		"max_open": dbStats.MaxOpenConnections,
	}
	return stats, nil
}

func applyCounts(s *model.UploadSession, c model.SessionCounts) {
	s.TotalRecords = c.Total
	s.ApprovedRecords = c.Approved
	s.PendingRecords = c.Pending
	s.RejectedRecords = c.Rejected
}

func encodeList(v []string) string {
	if len(v) == 0 {
		return "[]"
	}
	return encodeJSON(v)
}

func decodeList(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "{}"
	}
	return string(b)
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func timePtrValue(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

var _ Store = (*SQLStore)(nil)
