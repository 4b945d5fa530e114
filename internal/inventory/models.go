// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"github.com/cobaltcore-dev/reservoir/internal/db"
)

// Capacity record for one (provider, resource type) pair.
//
// The invariant maintained by claim execution is:
//
//	used <= (total - reserved) * allocation_ratio
//
// Used changes only through committed claims, and every successful change
// bumps the row's generation, which serves as the optimistic concurrency
// token for conflict detection.
type Inventory struct {
	ProviderID      int64   `db:"provider_id"`
	ResourceTypeID  int64   `db:"resource_type_id"`
	Total           int64   `db:"total"`
	Reserved        int64   `db:"reserved"`
	AllocationRatio float64 `db:"allocation_ratio"`
	MinUnit         int64   `db:"min_unit"`
	MaxUnit         int64   `db:"max_unit"`
	StepSize        int64   `db:"step_size"`
	Used            int64   `db:"used"`
	Generation      int64   `db:"generation"`
}

// Table under which inventories are stored.
func (Inventory) TableName() string { return "inventories" }

// Effective capacity after reservation and oversubscription.
func (i Inventory) Capacity() int64 {
	return int64(float64(i.Total-i.Reserved) * i.AllocationRatio)
}

// Amount still claimable from this inventory.
func (i Inventory) Headroom() int64 {
	return i.Capacity() - i.Used
}

// Whether an allocation of the given amount fits the inventory's unit
// granularity constraints.
func (i Inventory) FitsUnits(amount int64) bool {
	if amount < i.MinUnit || amount > i.MaxUnit {
		return false
	}
	return i.StepSize > 0 && amount%i.StepSize == 0
}

// Create the inventory schema.
func Init(d db.DB) error {
	return d.CreateTable(d.AddTable(Inventory{}))
}
