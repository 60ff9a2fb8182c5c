package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const gib = int64(1 << 30)

func TestCommittedCapacity(t *testing.T) {
	company := Company{AllocatedToUsers: 7 * gib}
	admins := []User{{Role: RoleAdmin, StorageUsed: 2 * gib, AllocatedToUsers: 7 * gib}}
	assert.Equal(t, 9*gib, CommittedCapacity(company, admins))

	assert.Equal(t, 7*gib, CommittedCapacity(company, nil))
}

func TestReconcileRepairsDriftAndIsIdempotent(t *testing.T) {
	owner := "admin-1"
	company := Company{ID: "c1", OwnerID: &owner, UsedStorage: 999, AllocatedToUsers: 1}
	members := []User{
		{ID: "admin-2", Role: RoleAdmin, AllocatedToUsers: 50},
		{ID: "admin-1", Role: RoleAdmin, StorageUsed: 10},
		{ID: "u1", Role: RoleUser, StorageAllocated: 3 * gib, StorageUsed: 7},
		{ID: "u2", Role: RoleUser, StorageAllocated: gib},
	}
	used := map[string]int64{"admin-1": 100, "u1": 200}

	report := Reconcile(&company, members, used)
	assert.True(t, report.Drifted)
	assert.Equal(t, int64(300), company.UsedStorage)
	assert.Equal(t, 4*gib, company.AllocatedToUsers)
	assert.Equal(t, 4*gib, members[1].AllocatedToUsers)
	assert.Zero(t, members[0].AllocatedToUsers)
	assert.Equal(t, int64(100), members[1].StorageUsed)
	assert.Equal(t, int64(200), members[2].StorageUsed)

	again := Reconcile(&company, members, used)
	assert.False(t, again.Drifted)
	assert.Empty(t, again.Changes)
}

func TestUserAvailable(t *testing.T) {
	admin := User{Role: RoleAdmin, StorageAllocated: 10 * gib, StorageUsed: gib, AllocatedToUsers: 3 * gib}
	assert.Equal(t, 6*gib, admin.Available())

	member := User{Role: RoleUser, StorageAllocated: gib, StorageUsed: 2 * gib}
	assert.Zero(t, member.Available())
}

func TestCategoryFor(t *testing.T) {
	assert.Equal(t, CategoryImages, CategoryFor("image/png"))
	assert.Equal(t, CategoryVideos, CategoryFor("video/mp4"))
	assert.Equal(t, CategoryPDFs, CategoryFor("application/pdf"))
	assert.Equal(t, CategoryDocuments, CategoryFor("application/vnd.openxmlformats-officedocument.wordprocessingml.document"))
	assert.Equal(t, CategoryDocuments, CategoryFor("text/plain"))
	assert.Equal(t, CategoryOthers, CategoryFor("application/zip"))
}
