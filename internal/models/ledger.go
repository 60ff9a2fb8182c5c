package models

// CommittedCapacity is the smallest company total that still honours every
// allocation already made: the member sub-allocations, and each admin's own
// usage plus what that admin handed out.
func CommittedCapacity(company Company, admins []User) int64 {
	committed := company.AllocatedToUsers
	for _, admin := range admins {
		if held := admin.StorageUsed + admin.AllocatedToUsers; held > committed {
			committed = held
		}
	}
	return committed
}

// Reconcile recomputes the cached counters of a company and its members from
// first principles and overwrites them in place. usedByUser holds the summed
// size of each member's completed, non-deleted files. Member allocations are
// attributed to the owning admin, or to the first admin when the owner is not
// an admin member.
func Reconcile(company *Company, members []User, usedByUser map[string]int64) ReconcileReport {
	report := ReconcileReport{CompanyID: company.ID}
	record := func(subject, field string, current *int64, want int64) {
		if *current == want {
			return
		}
		report.Changes = append(report.Changes, CounterDrift{Subject: subject, Field: field, Before: *current, After: want})
		*current = want
	}

	var allocated, used int64
	holder := -1
	for i := range members {
		member := &members[i]
		used += usedByUser[member.ID]
		switch member.Role {
		case RoleUser:
			allocated += member.StorageAllocated
		case RoleAdmin:
			if holder < 0 || company.OwnedBy(member.ID) {
				holder = i
			}
		}
	}

	for i := range members {
		member := &members[i]
		record("user:"+member.ID, "storage_used", &member.StorageUsed, usedByUser[member.ID])
		if member.Role == RoleAdmin {
			want := int64(0)
			if i == holder {
				want = allocated
			}
			record("user:"+member.ID, "allocated_to_users", &member.AllocatedToUsers, want)
		}
	}
	record("company:"+company.ID, "used_storage", &company.UsedStorage, used)
	record("company:"+company.ID, "allocated_to_users", &company.AllocatedToUsers, allocated)

	report.Drifted = len(report.Changes) > 0
	return report
}
