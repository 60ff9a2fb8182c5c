package dto

import "github.com/noah-isme/filevault-api/internal/models"

// SetCompanyStorageRequest changes a tenant's total storage.
type SetCompanyStorageRequest struct {
	TotalStorage int64 `json:"totalStorage" validate:"required,gte=104857600"`
}

// SetUserAllocationRequest carves capacity out of the admin's pool.
type SetUserAllocationRequest struct {
	Bytes int64 `json:"bytes" validate:"gte=0"`
}

// UsageReportQuery selects the export format.
type UsageReportQuery struct {
	Format string `form:"format" validate:"omitempty,oneof=csv pdf"`
}

// UsageReport is a rendered tenant report.
type UsageReport struct {
	Filename    string
	ContentType string
	Content     []byte
}

// ProvisionCompanyRequest creates a tenant and its owning admin.
type ProvisionCompanyRequest struct {
	Name         string `json:"name" validate:"required,max=120"`
	TotalStorage int64  `json:"totalStorage" validate:"required,gte=104857600"`
	OwnerEmail   string `json:"ownerEmail" validate:"required,email"`
	OwnerName    string `json:"ownerName" validate:"max=120"`
	Plan         string `json:"plan" validate:"omitempty,oneof=free pro"`
}

// ProvisionCompanyResponse returns the new tenant and its owner.
type ProvisionCompanyResponse struct {
	Company models.Company `json:"company"`
	Owner   models.User    `json:"owner"`
}

// AddMemberRequest invites a regular user into a company. Capacity is granted
// afterwards through an allocation.
type AddMemberRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"fullName" validate:"max=120"`
	Plan     string `json:"plan" validate:"omitempty,oneof=free pro"`
}
