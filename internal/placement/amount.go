// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"github.com/cobaltcore-dev/reservoir/internal/inventory"
)

func rowInventory(row candidateRow) inventory.Inventory {
	return inventory.Inventory{
		ProviderID:      row.ID,
		Total:           row.Total,
		Reserved:        row.Reserved,
		AllocationRatio: row.AllocationRatio,
		MinUnit:         row.MinUnit,
		MaxUnit:         row.MaxUnit,
		StepSize:        row.StepSize,
		Used:            row.Used,
	}
}

// The amount an allocation item would claim from the given inventory,
// fixed between the constraint's bounds and the inventory's unit
// granularity. A zero minimum matches providers even when nothing is
// claimable right now; those candidates carry a zero amount.
func claimableAmount(inv inventory.Inventory, minAmount, maxAmount int64) (int64, bool) {
	amount := min(maxAmount, inv.Headroom())
	if amount > inv.MaxUnit {
		amount = inv.MaxUnit
	}
	if inv.StepSize > 0 {
		amount -= amount % inv.StepSize
	}
	if amount < minAmount || amount < inv.MinUnit || amount <= 0 {
		if minAmount == 0 {
			return 0, true
		}
		return 0, false
	}
	return amount, true
}
