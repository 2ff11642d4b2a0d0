package store

import (
	"context"
	"database/sql"
	"fmt"

	"taskpoints/internal/model"
)

type UserStore struct {
	db DBTX
}

func NewUserStore(db DBTX) *UserStore {
	return &UserStore{db: db}
}

func scanUser(sc scanner) (*model.User, error) {
	var u model.User
	var parentID sql.NullInt64

	err := sc.Scan(&u.ID, &u.Username, &u.FullName, &u.Role, &parentID, &u.Balance, &u.CreatedAt)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		u.ParentID = &parentID.Int64
	}
	return &u, nil
}

const userCols = `user_id, username, full_name, role, parent_id, balance, created_at`

// Register inserts the user as a child with zero balance on first contact
// and reports whether a new row was created. Existing users keep their role
// and balance; only the display fields are refreshed.
func (s *UserStore) Register(ctx context.Context, id int64, username, fullName string) (*model.User, bool, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, username, full_name, role, balance) VALUES (?, ?, ?, 'child', 0)
		 ON CONFLICT(user_id) DO UPDATE SET username = excluded.username, full_name = excluded.full_name`,
		id, username, fullName,
	)
	if err != nil {
		return nil, false, fmt.Errorf("register user: %w", err)
	}

	u, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return u, existing == nil, nil
}

func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE user_id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// IsAdmin looks up the role for a user id; unknown users are not admins.
func (s *UserStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	var role model.Role
	err := s.db.QueryRowContext(ctx, `SELECT role FROM users WHERE user_id = ?`, id).Scan(&role)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return role == model.RoleAdmin, nil
}

// ListChildren returns all children ordered by name.
func (s *UserStore) ListChildren(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users WHERE role = 'child' ORDER BY full_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

// ListChildrenForAdmin returns the children eligible for an admin's tasks:
// those owned by the admin plus those belonging to no admin at all.
func (s *UserStore) ListChildrenForAdmin(ctx context.Context, adminID int64) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE role = 'child' AND (parent_id = ? OR parent_id IS NULL)
		 ORDER BY full_name ASC`,
		adminID,
	)
	if err != nil {
		return nil, fmt.Errorf("list children for admin: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]model.User, error) {
	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// Balance returns the running balance column for a child.
func (s *UserStore) Balance(ctx context.Context, childID int64) (int, error) {
	var balance int
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE user_id = ?`, childID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// AdjustBalance applies a signed delta to a child's running balance. It only
// ever runs inside the same transaction as the matching ledger append.
func (s *UserStore) AdjustBalance(ctx context.Context, childID int64, delta int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET balance = balance + ? WHERE user_id = ?`, delta, childID)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust balance rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRole promotes or demotes a user.
func (s *UserStore) SetRole(ctx context.Context, id int64, role model.Role) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = ? WHERE user_id = ?`, role, id)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
