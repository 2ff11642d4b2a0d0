package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"taskpoints/internal/model"
)

type LedgerStore struct {
	db DBTX
}

func NewLedgerStore(db DBTX) *LedgerStore {
	return &LedgerStore{db: db}
}

func scanLedgerEntry(sc scanner) (*model.LedgerEntry, error) {
	var e model.LedgerEntry
	err := sc.Scan(&e.TransactionID, &e.ChildID, &e.Amount, &e.Type, &e.Description, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

const ledgerCols = `transaction_id, child_id, amount, type, description, created_at`

// Append adds one signed ledger entry. Callers pair it with the matching
// balance update in one transaction; the ledger itself is never updated or
// deleted.
func (s *LedgerStore) Append(ctx context.Context, childID int64, amount int, typ model.LedgerType, description string) (*model.LedgerEntry, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger_entries (transaction_id, child_id, amount, type, description)
		 VALUES (?, ?, ?, ?, ?)`,
		id, childID, amount, typ, description,
	)
	if err != nil {
		return nil, fmt.Errorf("append ledger entry: %w", err)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE transaction_id = ?`, id)
	return scanLedgerEntry(row)
}

// SumForChild returns the sum of all of a child's entries. It must equal the
// child's running balance at all times.
func (s *LedgerStore) SumForChild(ctx context.Context, childID int64) (int, error) {
	var sum sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE child_id = ?`, childID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum ledger: %w", err)
	}
	return int(sum.Int64), nil
}

// ListByChild returns a child's entries, newest first.
func (s *LedgerStore) ListByChild(ctx context.Context, childID int64, limit int) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries WHERE child_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		childID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list ledger by child: %w", err)
	}
	defer rows.Close()
	return collectLedgerEntries(rows)
}

// Recent returns the newest entries across all children for the admin view.
func (s *LedgerStore) Recent(ctx context.Context, limit int) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+ledgerCols+` FROM ledger_entries ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent ledger: %w", err)
	}
	defer rows.Close()
	return collectLedgerEntries(rows)
}

func collectLedgerEntries(rows *sql.Rows) ([]model.LedgerEntry, error) {
	var entries []model.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
