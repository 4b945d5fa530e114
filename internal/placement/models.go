// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"time"

	"github.com/cobaltcore-dev/reservoir/internal/db"
)

// Durable record of a committed claim.
type Allocation struct {
	ID int64 `db:"id, primarykey, autoincrement"`
	// The claim's UUID. Unique, so re-executing the same claim on a
	// driver-level retry cannot double-apply.
	UUID       string    `db:"uuid"`
	ConsumerID int64     `db:"consumer_id"`
	CreatedAt  time.Time `db:"created_at"`
}

func (Allocation) TableName() string { return "allocations" }

// Durable record of one allocation item of a committed claim.
type AllocationItemRecord struct {
	ID             int64 `db:"id, primarykey, autoincrement"`
	AllocationID   int64 `db:"allocation_id"`
	ProviderID     int64 `db:"provider_id"`
	ResourceTypeID int64 `db:"resource_type_id"`
	Used           int64 `db:"used"`
}

func (AllocationItemRecord) TableName() string { return "allocation_items" }

// Create the allocation schema.
func Init(d db.DB) error {
	allocations := d.AddTable(Allocation{})
	allocations.ColMap("uuid").SetUnique(true)
	return d.CreateTable(
		allocations,
		d.AddTable(AllocationItemRecord{}),
	)
}
