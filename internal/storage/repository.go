// Package storage persists the ledger in SQLite. Amounts are stored as
// integer cents and converted back to decimals at the boundary.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finman/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite allows one writer; a single connection keeps the driver from
	// ever surfacing SQLITE_BUSY into a withdrawal.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// === Categories ===

func (r *SQLiteRepository) CreateCategory(ctx context.Context, name, description string) (*core.Category, error) {
	c := core.Category{Name: strings.TrimSpace(name), Description: description}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO categories (name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, c.Name, c.Description, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, core.ErrCategoryExists
		}
		return nil, fmt.Errorf("create category: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("category insert id: %w", err)
	}
	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now

	slog.InfoContext(ctx, "Category created", "id", c.ID, "name", c.Name)
	return &c, nil
}

func (r *SQLiteRepository) GetCategory(ctx context.Context, id int64) (*core.Category, error) {
	var c core.Category
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM categories WHERE id = ?
	`, id).Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// ListCategories returns all categories ordered by name, each with its
// derived total and item count.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.CategorySummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.description, c.created_at, c.updated_at,
		       COALESCE(SUM(d.remaining_cents), 0), COUNT(d.id)
		FROM categories c
		LEFT JOIN deposits d ON d.category_id = c.id
		GROUP BY c.id
		ORDER BY c.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.CategorySummary
	for rows.Next() {
		var s core.CategorySummary
		var totalCents int64
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt, &totalCents, &s.ItemCount); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		s.TotalAmount = core.FromCents(totalCents)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpdateCategory(ctx context.Context, id int64, name, description string) (*core.Category, error) {
	c := core.Category{Name: strings.TrimSpace(name), Description: description}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE categories SET name = ?, description = ?, updated_at = ?
		WHERE id = ?
	`, c.Name, c.Description, time.Now().UTC(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, core.ErrCategoryExists
		}
		return nil, fmt.Errorf("update category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.ErrNotFound
	}
	return r.GetCategory(ctx, id)
}

func (r *SQLiteRepository) DeleteCategory(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	slog.InfoContext(ctx, "Category deleted", "id", id)
	return nil
}

// === Deposits ===

// CreateDeposit inserts a deposit record, applying the creation rule: a
// fresh deposit starts fully available unless an explicit remaining
// balance was supplied.
func (r *SQLiteRepository) CreateDeposit(ctx context.Context, nd core.NewDeposit) (*core.DepositRecord, error) {
	if err := nd.Validate(); err != nil {
		return nil, err
	}
	if _, err := r.GetCategory(ctx, nd.CategoryID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	balance := nd.InitialBalance()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO deposits (category_id, name, original_cents, remaining_cents, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, nd.CategoryID, strings.TrimSpace(nd.Name), core.ToCents(nd.Amount), core.ToCents(balance), nd.Description, now, now)
	if err != nil {
		return nil, fmt.Errorf("create deposit: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("deposit insert id: %w", err)
	}

	slog.InfoContext(ctx, "Deposit recorded",
		"id", id,
		"category_id", nd.CategoryID,
		"amount", core.FormatAmount(nd.Amount),
		"remaining", core.FormatAmount(balance))

	return &core.DepositRecord{
		ID:               id,
		CategoryID:       nd.CategoryID,
		Name:             strings.TrimSpace(nd.Name),
		OriginalAmount:   nd.Amount,
		RemainingBalance: balance,
		Description:      nd.Description,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (r *SQLiteRepository) GetDeposit(ctx context.Context, id int64) (*core.DepositRecord, error) {
	d, err := scanDeposit(r.db.QueryRowContext(ctx, `
		SELECT id, category_id, name, original_cents, remaining_cents, description, created_at, updated_at
		FROM deposits WHERE id = ?
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, fmt.Errorf("get deposit: %w", err)
	}
	return d, nil
}

func (r *SQLiteRepository) ListDeposits(ctx context.Context, categoryID int64) ([]core.DepositRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, category_id, name, original_cents, remaining_cents, description, created_at, updated_at
		FROM deposits
		WHERE category_id = ?
		ORDER BY created_at, id
	`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list deposits: %w", err)
	}
	defer rows.Close()
	return collectDeposits(rows)
}

// UpdateDepositMetadata edits name and description only. The balance
// columns are deliberately absent from the statement: a metadata edit
// can never reset a remaining balance.
func (r *SQLiteRepository) UpdateDepositMetadata(ctx context.Context, id int64, name, description string) (*core.DepositRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, core.ErrEmptyName
	}
	if len(name) > 200 {
		return nil, fmt.Errorf("%w: deposit name too long (max 200 characters)", core.ErrInvalidInput)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE deposits SET name = ?, description = ?, updated_at = ?
		WHERE id = ?
	`, name, description, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("update deposit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, core.ErrNotFound
	}
	return r.GetDeposit(ctx, id)
}

func (r *SQLiteRepository) DeleteDeposit(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM deposits WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete deposit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.ErrNotFound
	}
	slog.InfoContext(ctx, "Deposit deleted", "id", id)
	return nil
}

// === Balance aggregation ===

// CategoryTotal sums the remaining balances of one category outside any
// transaction. Withdrawals use the WithdrawalTx variant instead so the
// figure matches the snapshot being mutated.
func (r *SQLiteRepository) CategoryTotal(ctx context.Context, categoryID int64) (decimal.Decimal, error) {
	return sumRemaining(ctx, r.db, categoryID)
}

// TotalAssets sums remaining balances across every category.
func (r *SQLiteRepository) TotalAssets(ctx context.Context) (decimal.Decimal, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining_cents), 0) FROM deposits
	`).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("total assets: %w", err)
	}
	return core.FromCents(cents), nil
}

// === Withdrawal transaction ===

// WithdrawalTx scopes the reads and writes of one withdrawal to a single
// SQLite transaction. Rollback after Commit is a no-op, so callers defer
// Rollback unconditionally.
type WithdrawalTx struct {
	tx *sql.Tx
}

// BeginWithdrawal opens the withdrawal transaction. The pool is capped
// at one connection, so the transaction holds it until Commit or
// Rollback; plain repository reads issued while it is open block
// indefinitely. Do all reads through the WithdrawalTx.
func (r *SQLiteRepository) BeginWithdrawal(ctx context.Context) (*WithdrawalTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin withdrawal tx: %w", err)
	}
	return &WithdrawalTx{tx: tx}, nil
}

func (t *WithdrawalTx) Commit() error {
	return t.tx.Commit()
}

func (t *WithdrawalTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (t *WithdrawalTx) CategoryExists(ctx context.Context, categoryID int64) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM categories WHERE id = ?`, categoryID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check category: %w", err)
	}
	return true, nil
}

// CategoryTotal is the aggregator read inside the withdrawal snapshot.
func (t *WithdrawalTx) CategoryTotal(ctx context.Context, categoryID int64) (decimal.Decimal, error) {
	return sumRemaining(ctx, t.tx, categoryID)
}

// WithdrawableDeposits fetches the category's depletable deposits in the
// allocator's required order: creation time ascending, then id.
func (t *WithdrawalTx) WithdrawableDeposits(ctx context.Context, categoryID int64) ([]core.DepositRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, category_id, name, original_cents, remaining_cents, description, created_at, updated_at
		FROM deposits
		WHERE category_id = ? AND remaining_cents > 0
		ORDER BY created_at, id
	`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("fetch withdrawable deposits: %w", err)
	}
	defer rows.Close()
	return collectDeposits(rows)
}

// ApplyDeduction persists one step of the deduction plan.
func (t *WithdrawalTx) ApplyDeduction(ctx context.Context, depositID int64, newRemaining decimal.Decimal) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE deposits SET remaining_cents = ?, updated_at = ?
		WHERE id = ?
	`, core.ToCents(newRemaining), time.Now().UTC(), depositID)
	if err != nil {
		return fmt.Errorf("apply deduction to deposit %d: %w", depositID, err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("apply deduction to deposit %d: %d rows affected", depositID, n)
	}
	return nil
}

// === Withdrawal audit trail ===

type WithdrawalEvent struct {
	EventID        string
	CategoryID     int64
	Amount         decimal.Decimal
	PreviousTotal  decimal.Decimal
	NewTotal       decimal.Decimal
	DeductionCount int
	CreatedAt      time.Time
}

// RecordWithdrawalEvent archives one withdrawal event. The event id is
// the deduplication key: replays of the same event insert nothing.
func (r *SQLiteRepository) RecordWithdrawalEvent(ctx context.Context, ev WithdrawalEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO withdrawal_events
			(event_id, category_id, amount_cents, previous_total_cents, new_total_cents, deduction_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, ev.EventID, ev.CategoryID, core.ToCents(ev.Amount), core.ToCents(ev.PreviousTotal),
		core.ToCents(ev.NewTotal), ev.DeductionCount, ev.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("record withdrawal event: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) WithdrawalEventCount(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM withdrawal_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count withdrawal events: %w", err)
	}
	return n, nil
}

// === helpers ===

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sumRemaining(ctx context.Context, q querier, categoryID int64) (decimal.Decimal, error) {
	var cents int64
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(remaining_cents), 0) FROM deposits WHERE category_id = ?
	`, categoryID).Scan(&cents)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum remaining balances: %w", err)
	}
	return core.FromCents(cents), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeposit(row rowScanner) (*core.DepositRecord, error) {
	var d core.DepositRecord
	var originalCents, remainingCents int64
	err := row.Scan(&d.ID, &d.CategoryID, &d.Name, &originalCents, &remainingCents, &d.Description, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.OriginalAmount = core.FromCents(originalCents)
	d.RemainingBalance = core.FromCents(remainingCents)
	return &d, nil
}

func collectDeposits(rows *sql.Rows) ([]core.DepositRecord, error) {
	var out []core.DepositRecord
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deposit: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
