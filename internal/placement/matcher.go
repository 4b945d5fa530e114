// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cobaltcore-dev/reservoir/internal/catalog"
	"github.com/cobaltcore-dev/reservoir/internal/db"
	"golang.org/x/sync/errgroup"
)

// A provider able to satisfy one resource constraint.
type Candidate struct {
	ProviderID   int64
	ProviderUUID string
	PartitionID  int64
	// Claimable headroom for the constraint's resource type at match time.
	Headroom int64
	// The amount an allocation item on this provider would claim, fixed
	// between the constraint's min and max and the inventory's unit bounds.
	Amount int64
}

// Ordered candidate providers per resource constraint. Candidates[i]
// belongs to constraint i of the request, ordered by headroom descending
// with the provider UUID as tie-break, truncated to the candidate pool size.
type MatchResult struct {
	Candidates [][]Candidate
}

// Resolves resource constraints into ranked candidate providers. Read-only
// over catalog and inventory state, safe for concurrent use.
type Matcher struct {
	DB      db.DB
	Catalog *catalog.Catalog
	// Maximum number of candidates kept per constraint.
	PoolSize int
	Monitor  *Monitor
}

// Internal form of a resource constraint with all names resolved.
type resolvedConstraint struct {
	ResourceTypeID int64
	MinAmount      int64
	MaxAmount      int64
	RequireCapIDs  []int64
	ForbidCapIDs   []int64
	AnyCapIDs      []int64
	// Partitions to scan. One entry when the constraint is partition
	// scoped, all partitions otherwise.
	PartitionIDs []int64
}

// Resolve constraint names against the catalog snapshot. Fails with
// InvalidConstraintError before any inventory state is read.
func (m *Matcher) resolve(req ClaimRequest) ([]resolvedConstraint, error) {
	allPartitions := m.Catalog.Partitions()
	resolved := make([]resolvedConstraint, 0, len(req.Constraints))
	for i, rc := range req.Constraints {
		r := resolvedConstraint{MinAmount: rc.MinAmount, MaxAmount: rc.MaxAmount}
		rtID, err := m.Catalog.ResourceTypeID(rc.ResourceType)
		if err != nil {
			return nil, InvalidConstraintError{Index: i, Err: err}
		}
		r.ResourceTypeID = rtID
		if rc.MinAmount < 0 || rc.MaxAmount < rc.MinAmount {
			return nil, InvalidConstraintError{
				Index: i,
				Err:   fmt.Errorf("amount range [%d, %d] is not ordered", rc.MinAmount, rc.MaxAmount),
			}
		}
		if !rc.Capabilities.Empty() {
			if r.RequireCapIDs, err = m.resolveCaps(i, rc.Capabilities.Require); err != nil {
				return nil, err
			}
			if r.ForbidCapIDs, err = m.resolveCaps(i, rc.Capabilities.Forbid); err != nil {
				return nil, err
			}
			if r.AnyCapIDs, err = m.resolveCaps(i, rc.Capabilities.Any); err != nil {
				return nil, err
			}
		}
		if rc.Partition != "" {
			partitionID, err := m.Catalog.PartitionID(rc.Partition)
			if err != nil {
				return nil, InvalidConstraintError{Index: i, Err: err}
			}
			r.PartitionIDs = []int64{partitionID}
		} else {
			for _, p := range allPartitions {
				r.PartitionIDs = append(r.PartitionIDs, p.ID)
			}
		}
		resolved = append(resolved, r)
	}
	// Distance types are checked here as well so an unknown name fails the
	// request before matching starts, not in the middle of claim assembly.
	for _, dc := range req.Distances {
		if _, err := m.Catalog.DistanceTypeID(dc.DistanceType); err != nil {
			return nil, InvalidConstraintError{Index: -1, Err: err}
		}
	}
	return resolved, nil
}

func (m *Matcher) resolveCaps(index int, codes []string) ([]int64, error) {
	ids := make([]int64, 0, len(codes))
	for _, code := range codes {
		id, err := m.Catalog.CapabilityID(code)
		if err != nil {
			return nil, InvalidConstraintError{Index: index, Err: err}
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Match resolves each resource constraint of the request into an ordered
// candidate list. Constraints with no candidates yield an empty list, which
// the builder treats as insufficient capacity, not as an error.
func (m *Matcher) Match(ctx context.Context, req ClaimRequest) (*MatchResult, error) {
	start := time.Now()
	resolved, err := m.resolve(req)
	if err != nil {
		return nil, err
	}

	result := &MatchResult{Candidates: make([][]Candidate, len(resolved))}
	for i, rc := range resolved {
		candidates, err := m.matchConstraint(ctx, rc)
		if err != nil {
			return nil, err
		}
		result.Candidates[i] = candidates
		slog.Debug(
			"matched constraint",
			"constraint", i,
			"candidates", len(candidates),
			"minAmount", rc.MinAmount,
		)
	}
	if m.Monitor != nil {
		m.Monitor.observeMatch(time.Since(start), result)
	}
	return result, nil
}

// Scan each of the constraint's partitions as an independent sub-query and
// merge the per-partition results under the global ordering rule. The
// sub-queries share no mutable state.
func (m *Matcher) matchConstraint(ctx context.Context, rc resolvedConstraint) ([]Candidate, error) {
	perPartition := make([][]Candidate, len(rc.PartitionIDs))
	group, ctx := errgroup.WithContext(ctx)
	for i, partitionID := range rc.PartitionIDs {
		group.Go(func() error {
			candidates, err := m.scanPartition(ctx, rc, partitionID)
			if err != nil {
				return err
			}
			perPartition[i] = candidates
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	var merged []Candidate
	for _, candidates := range perPartition {
		merged = append(merged, candidates...)
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Headroom != merged[j].Headroom {
			return merged[i].Headroom > merged[j].Headroom
		}
		return merged[i].ProviderUUID < merged[j].ProviderUUID
	})
	if m.PoolSize > 0 && len(merged) > m.PoolSize {
		merged = merged[:m.PoolSize]
	}
	return merged, nil
}

// Row shape returned by the candidate scan.
type candidateRow struct {
	ID              int64   `db:"id"`
	UUID            string  `db:"uuid"`
	PartitionID     int64   `db:"partition_id"`
	Total           int64   `db:"total"`
	Reserved        int64   `db:"reserved"`
	AllocationRatio float64 `db:"allocation_ratio"`
	MinUnit         int64   `db:"min_unit"`
	MaxUnit         int64   `db:"max_unit"`
	StepSize        int64   `db:"step_size"`
	Used            int64   `db:"used"`
}

// Find providers in one partition whose inventory has headroom for the
// constraint's minimum amount and whose capabilities match the filters.
func (m *Matcher) scanPartition(ctx context.Context, rc resolvedConstraint, partitionID int64) ([]Candidate, error) {
	var query strings.Builder
	query.WriteString(`
		SELECT p.id, p.uuid, p.partition_id,
		       i.total, i.reserved, i.allocation_ratio,
		       i.min_unit, i.max_unit, i.step_size, i.used
		FROM providers p
		JOIN inventories i
		  ON p.id = i.provider_id
		 AND i.resource_type_id = :resource_type_id
		WHERE p.partition_id = :partition_id
		  AND ((i.total - i.reserved) * i.allocation_ratio) >= (i.used + :min_amount)`)
	// Capability id lists are internal integers resolved from the catalog,
	// safe to inline into the statement.
	if len(rc.RequireCapIDs) > 0 {
		fmt.Fprintf(&query, `
		  AND p.id IN (
			SELECT pc.provider_id FROM provider_capabilities pc
			WHERE pc.capability_id IN (%s)
			GROUP BY pc.provider_id
			HAVING COUNT(pc.capability_id) = %d
		  )`, joinIDs(rc.RequireCapIDs), len(rc.RequireCapIDs))
	}
	if len(rc.AnyCapIDs) > 0 {
		fmt.Fprintf(&query, `
		  AND EXISTS (
			SELECT 1 FROM provider_capabilities pc
			WHERE pc.provider_id = p.id AND pc.capability_id IN (%s)
		  )`, joinIDs(rc.AnyCapIDs))
	}
	if len(rc.ForbidCapIDs) > 0 {
		fmt.Fprintf(&query, `
		  AND NOT EXISTS (
			SELECT 1 FROM provider_capabilities pc
			WHERE pc.provider_id = p.id AND pc.capability_id IN (%s)
		  )`, joinIDs(rc.ForbidCapIDs))
	}
	query.WriteString(`
		ORDER BY ((i.total - i.reserved) * i.allocation_ratio - i.used) DESC, p.uuid ASC`)
	if m.PoolSize > 0 {
		fmt.Fprintf(&query, " LIMIT %d", m.PoolSize)
	}

	var rows []candidateRow
	_, err := m.DB.WithContext(ctx).Select(&rows, query.String(), map[string]any{
		"resource_type_id": rc.ResourceTypeID,
		"partition_id":     partitionID,
		"min_amount":       rc.MinAmount,
	})
	if err != nil {
		return nil, StoreUnavailableError{Op: "match", Err: err}
	}

	candidates := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		inv := rowInventory(row)
		amount, ok := claimableAmount(inv, rc.MinAmount, rc.MaxAmount)
		if !ok {
			// Headroom is there but no amount fits the unit granularity.
			continue
		}
		candidates = append(candidates, Candidate{
			ProviderID:   row.ID,
			ProviderUUID: row.UUID,
			PartitionID:  row.PartitionID,
			Headroom:     inv.Headroom(),
			Amount:       amount,
		})
	}
	return candidates, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	return strings.Join(parts, ", ")
}
