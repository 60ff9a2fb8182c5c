package models

import "time"

// MinCompanyStorage is the floor for a tenant's total storage (100 MiB).
const MinCompanyStorage int64 = 100 << 20

// Company is a tenant sharing one storage pool.
type Company struct {
	ID               string    `db:"id" json:"id"`
	Name             string    `db:"name" json:"name"`
	OwnerID          *string   `db:"owner_id" json:"owner_id,omitempty"`
	TotalStorage     int64     `db:"total_storage" json:"total_storage"`
	UsedStorage      int64     `db:"used_storage" json:"used_storage"`
	AllocatedToUsers int64     `db:"allocated_to_users" json:"allocated_to_users"`
	UserCount        int       `db:"user_count" json:"user_count"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// IsOverAllocated reports usage above the administrative cap. It is surfaced,
// never enforced.
func (c *Company) IsOverAllocated() bool {
	return c != nil && c.UsedStorage > c.TotalStorage
}

// OwnedBy reports whether userID owns the company.
func (c *Company) OwnedBy(userID string) bool {
	return c != nil && c.OwnerID != nil && *c.OwnerID == userID
}

// MemberUsage is one row of a company overview.
type MemberUsage struct {
	ID               string   `db:"id" json:"id"`
	Email            string   `db:"email" json:"email"`
	FullName         string   `db:"full_name" json:"full_name"`
	Role             UserRole `db:"role" json:"role"`
	StorageAllocated int64    `db:"storage_allocated" json:"storage_allocated"`
	StorageUsed      int64    `db:"storage_used" json:"storage_used"`
	AllocatedToUsers int64    `db:"allocated_to_users" json:"allocated_to_users"`
	FileCount        int      `db:"file_count" json:"file_count"`
}

// CompanyOverview summarises a tenant's capacity.
type CompanyOverview struct {
	Company         Company       `json:"company"`
	Available       int64         `json:"available"`
	Percentage      float64       `json:"percentage"`
	IsOverAllocated bool          `json:"is_over_allocated"`
	Members         []MemberUsage `json:"members"`
}
