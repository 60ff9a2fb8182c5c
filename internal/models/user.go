package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "superAdmin"
	RoleAdmin      UserRole = "admin"
	RoleUser       UserRole = "user"
)

// Plan names a set of policy limits.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// User carries the quota-relevant columns of the users table.
type User struct {
	ID               string    `db:"id" json:"id"`
	Email            string    `db:"email" json:"email"`
	FullName         string    `db:"full_name" json:"full_name"`
	Role             UserRole  `db:"role" json:"role"`
	Plan             Plan      `db:"plan" json:"plan"`
	CompanyID        *string   `db:"company_id" json:"company_id,omitempty"`
	StorageAllocated int64     `db:"storage_allocated" json:"storage_allocated"`
	StorageUsed      int64     `db:"storage_used" json:"storage_used"`
	AllocatedToUsers int64     `db:"allocated_to_users" json:"allocated_to_users"`
	Active           bool      `db:"active" json:"active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// IsAdmin reports whether the user manages a company pool.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Company returns the company id or "".
func (u *User) Company() string {
	if u == nil || u.CompanyID == nil {
		return ""
	}
	return *u.CompanyID
}

// Available is the capacity the user can still consume or hand out. Admins
// subtract what they have already sub-allocated. Never negative.
func (u *User) Available() int64 {
	if u == nil {
		return 0
	}
	free := u.StorageAllocated - u.StorageUsed
	if u.IsAdmin() {
		free -= u.AllocatedToUsers
	}
	if free < 0 {
		return 0
	}
	return free
}

// UserFilter captures filtering criteria for listing company members.
type UserFilter struct {
	CompanyID string
	Role      *UserRole
	Page      int
	PageSize  int
}
