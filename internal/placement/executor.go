// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cobaltcore-dev/reservoir/internal/catalog"
	"github.com/cobaltcore-dev/reservoir/internal/db"
	"github.com/cobaltcore-dev/reservoir/internal/inventory"
	"github.com/go-gorp/gorp"
	"github.com/lib/pq"
)

// Commits built claims against the inventory. The only mutating component
// of the placement core: all writes happen inside one transaction holding
// row locks on exactly the inventory rows the claim touches.
type Executor struct {
	DB      db.DB
	Catalog *catalog.Catalog
	// Bound on how long the transaction may wait for a row lock. Expiry
	// surfaces as a conflict.
	LockWaitTimeout time.Duration
	Monitor         *Monitor
}

// Internal form of an allocation item with ids resolved and the row
// target identified.
type executableItem struct {
	ProviderID     int64
	ProviderUUID   string
	ResourceTypeID int64
	ResourceType   string
	Amount         int64
}

// Execute atomically applies the claim's allocation items. On success the
// claim transitions to COMMITTED and every touched inventory row has its
// used amount raised and generation bumped. On stale inventory the whole
// transaction is rolled back, the claim transitions to CONFLICT and the
// caller is expected to re-match. Structurally invalid claims transition
// to REJECTED without a transaction being opened. Re-invoking with an
// already committed claim is safe and returns success without applying
// anything twice.
func (e *Executor) Execute(consumer *catalog.Consumer, claim *Claim) error {
	start := time.Now()
	err := e.execute(consumer, claim)
	switch {
	case err == nil:
		claim.State = ClaimStateCommitted
	case errors.As(err, &ConflictError{}):
		claim.State = ClaimStateConflict
	case errors.As(err, &RejectedError{}):
		claim.State = ClaimStateRejected
	}
	if e.Monitor != nil {
		e.Monitor.observeExecute(time.Since(start), claim.State)
	}
	return err
}

func (e *Executor) execute(consumer *catalog.Consumer, claim *Claim) error {
	items, err := e.validate(claim)
	if err != nil {
		return err
	}

	// A claim that was already committed under its UUID must not be
	// applied again, e.g. when a driver-level retry re-invokes us.
	applied, err := e.alreadyApplied(claim.UUID)
	if err != nil {
		return err
	}
	if applied {
		slog.Info("claim already committed, skipping", "claim", claim.UUID)
		return nil
	}

	tx, err := e.DB.Begin()
	if err != nil {
		return StoreUnavailableError{Op: "begin", Err: err}
	}
	if err := e.apply(tx, consumer, claim, items); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return StoreUnavailableError{Op: "rollback", Err: rbErr}
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return asExecuteError("commit", err)
	}
	slog.Info("claim committed", "claim", claim.UUID, "items", len(claim.Items))
	return nil
}

// Structural validation. Fails with RejectedError before any transaction
// is opened: empty claims, non-positive amounts, and references to
// since-deleted resource types or providers.
func (e *Executor) validate(claim *Claim) ([]executableItem, error) {
	if len(claim.Items) == 0 {
		return nil, RejectedError{Reason: "claim has no allocation items"}
	}
	items := make([]executableItem, 0, len(claim.Items))
	providerIDs := map[string]int64{}
	for _, item := range claim.Items {
		if item.Used <= 0 {
			return nil, RejectedError{
				ProviderUUID: item.ProviderUUID,
				ResourceType: item.ResourceType,
				Reason:       fmt.Sprintf("non-positive amount %d", item.Used),
			}
		}
		rtID, err := e.Catalog.ResourceTypeID(item.ResourceType)
		if err != nil {
			return nil, RejectedError{
				ProviderUUID: item.ProviderUUID,
				ResourceType: item.ResourceType,
				Reason:       err.Error(),
			}
		}
		providerID, ok := providerIDs[item.ProviderUUID]
		if !ok {
			var provider catalog.Provider
			err := e.DB.SelectOne(
				&provider,
				"SELECT * FROM providers WHERE uuid = :uuid",
				map[string]any{"uuid": item.ProviderUUID},
			)
			if errors.Is(err, sql.ErrNoRows) {
				return nil, RejectedError{
					ProviderUUID: item.ProviderUUID,
					ResourceType: item.ResourceType,
					Reason:       "no such provider",
				}
			}
			if err != nil {
				return nil, StoreUnavailableError{Op: "provider lookup", Err: err}
			}
			providerID = provider.ID
			providerIDs[item.ProviderUUID] = providerID
		}
		items = append(items, executableItem{
			ProviderID:     providerID,
			ProviderUUID:   item.ProviderUUID,
			ResourceTypeID: rtID,
			ResourceType:   item.ResourceType,
			Amount:         item.Used,
		})
	}
	// Locking rows in a stable order keeps two concurrent claims touching
	// the same providers from deadlocking each other.
	sort.Slice(items, func(i, j int) bool {
		if items[i].ProviderID != items[j].ProviderID {
			return items[i].ProviderID < items[j].ProviderID
		}
		return items[i].ResourceTypeID < items[j].ResourceTypeID
	})
	return items, nil
}

func (e *Executor) alreadyApplied(claimUUID string) (bool, error) {
	count, err := e.DB.SelectInt(
		"SELECT COUNT(*) FROM allocations WHERE uuid = :uuid",
		map[string]any{"uuid": claimUUID},
	)
	if err != nil {
		return false, StoreUnavailableError{Op: "allocation lookup", Err: err}
	}
	return count > 0, nil
}

// The transactional part of claim execution: re-read every target row
// under a lock, recheck capacity, then apply all increments or none.
func (e *Executor) apply(tx *gorp.Transaction, consumer *catalog.Consumer, claim *Claim, items []executableItem) error {
	if e.DB.SupportsForUpdate() && e.LockWaitTimeout > 0 {
		timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", e.LockWaitTimeout.Milliseconds())
		if _, err := tx.Exec(timeout); err != nil {
			return StoreUnavailableError{Op: "set lock timeout", Err: err}
		}
	}

	// Recording the allocation before touching inventory means a concurrent
	// duplicate of the same claim trips the unique constraint here, before
	// it can double-apply anything.
	if err := catalog.EnsureConsumer(tx, consumer); err != nil {
		return asExecuteError("ensure consumer", err)
	}
	allocation := Allocation{
		UUID:       claim.UUID,
		ConsumerID: consumer.ID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := tx.Insert(&allocation); err != nil {
		if isUniqueViolation(err) {
			return ConflictError{Reason: "claim is already being committed"}
		}
		return asExecuteError("insert allocation", err)
	}

	lockClause := ""
	if e.DB.SupportsForUpdate() {
		lockClause = " FOR UPDATE"
	}
	for _, item := range items {
		var inv inventory.Inventory
		err := tx.SelectOne(&inv, `
			SELECT * FROM inventories
			WHERE provider_id = :provider_id
			  AND resource_type_id = :resource_type_id`+lockClause,
			map[string]any{
				"provider_id":      item.ProviderID,
				"resource_type_id": item.ResourceTypeID,
			})
		if errors.Is(err, sql.ErrNoRows) {
			return RejectedError{
				ProviderUUID: item.ProviderUUID,
				ResourceType: item.ResourceType,
				Reason:       "inventory no longer exists",
			}
		}
		if err != nil {
			return asExecuteError("inventory re-read", err)
		}
		if inv.Used+item.Amount > inv.Capacity() {
			return ConflictError{
				ProviderUUID: item.ProviderUUID,
				ResourceType: item.ResourceType,
				Reason: fmt.Sprintf(
					"capacity exceeded: used %d + amount %d > capacity %d",
					inv.Used, item.Amount, inv.Capacity(),
				),
			}
		}
		if !inv.FitsUnits(item.Amount) {
			return ConflictError{
				ProviderUUID: item.ProviderUUID,
				ResourceType: item.ResourceType,
				Reason:       fmt.Sprintf("amount %d no longer fits unit granularity", item.Amount),
			}
		}

		// The generation guard detects writers that slipped in between the
		// locked read and this update on engines without row locks.
		res, err := tx.Exec(`
			UPDATE inventories
			SET used = used + :amount, generation = generation + 1
			WHERE provider_id = :provider_id
			  AND resource_type_id = :resource_type_id
			  AND generation = :generation`,
			map[string]any{
				"amount":           item.Amount,
				"provider_id":      item.ProviderID,
				"resource_type_id": item.ResourceTypeID,
				"generation":       inv.Generation,
			})
		if err != nil {
			return asExecuteError("inventory update", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return StoreUnavailableError{Op: "inventory update", Err: err}
		}
		if affected != 1 {
			return ConflictError{
				ProviderUUID: item.ProviderUUID,
				ResourceType: item.ResourceType,
				Reason:       fmt.Sprintf("inventory generation %d is stale", inv.Generation),
			}
		}

		record := AllocationItemRecord{
			AllocationID:   allocation.ID,
			ProviderID:     item.ProviderID,
			ResourceTypeID: item.ResourceTypeID,
			Used:           item.Amount,
		}
		if err := tx.Insert(&record); err != nil {
			return asExecuteError("insert allocation item", err)
		}
	}

	// Every provider involved in a committed claim gets its generation
	// bumped, inside the same transaction as the inventory updates.
	for _, providerID := range distinctProviderIDs(items) {
		if _, err := tx.Exec(
			"UPDATE providers SET generation = generation + 1 WHERE id = :id",
			map[string]any{"id": providerID},
		); err != nil {
			return asExecuteError("provider generation bump", err)
		}
	}
	return nil
}

func distinctProviderIDs(items []executableItem) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, item := range items {
		if !seen[item.ProviderID] {
			seen[item.ProviderID] = true
			ids = append(ids, item.ProviderID)
		}
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Map a storage error to the execution taxonomy: lock wait expiry is a
// conflict, everything else is a store failure surfaced verbatim.
func asExecuteError(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
		return ConflictError{Reason: "lock wait timeout expired"}
	}
	return StoreUnavailableError{Op: op, Err: err}
}
