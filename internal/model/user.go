package model

import "time"

// Role of a registered Telegram user.
type Role string

const (
	RoleChild Role = "child"
	RoleAdmin Role = "admin"
)

// User is a registered bot user. Children optionally belong to an admin via
// ParentID; a child with no parent receives tasks from every admin.
// Balance is a running total maintained exclusively through ledger entries.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	ParentID  *int64    `json:"parent_id"`
	Balance   int       `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
