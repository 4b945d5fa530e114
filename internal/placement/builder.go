// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"context"
	"log/slog"
	"time"

	"github.com/cobaltcore-dev/reservoir/internal/catalog"
	"github.com/cobaltcore-dev/reservoir/internal/db"
)

// Assembles per-constraint candidates into complete claims. Prefers a
// single provider satisfying every constraint and falls back to choosing
// one provider per constraint, subject to the distance and partition
// compatibility of the full combination. Zero returned claims means the
// request cannot be satisfied right now; that is a normal outcome.
type Builder struct {
	DB      db.DB
	Catalog *catalog.Catalog
	// Bound on the number of provider combinations tried in the fallback
	// search before giving up. The search is greedy over the candidate
	// ordering, not exhaustive.
	MaxCombinations int
	Monitor         *Monitor
}

type resolvedDistance struct {
	TypeID int64
	Min    *int64
	Max    *int64
}

// Build assembles zero or more claims satisfying every constraint of the
// request. Claims are ordered by the candidate ordering of the match
// result, so callers wanting a single claim take the first.
func (b *Builder) Build(ctx context.Context, req ClaimRequest, res *MatchResult) ([]Claim, error) {
	start := time.Now()
	if len(res.Candidates) == 0 {
		return nil, nil
	}
	for _, candidates := range res.Candidates {
		if len(candidates) == 0 {
			// At least one constraint has no provider at all.
			return nil, nil
		}
	}

	distances := make([]resolvedDistance, 0, len(req.Distances))
	for _, dc := range req.Distances {
		typeID, err := b.Catalog.DistanceTypeID(dc.DistanceType)
		if err != nil {
			return nil, InvalidConstraintError{Index: -1, Err: err}
		}
		distances = append(distances, resolvedDistance{TypeID: typeID, Min: dc.Min, Max: dc.Max})
	}

	claims, err := b.singleProviderClaims(ctx, req, res)
	if err != nil {
		return nil, err
	}
	if len(claims) == 0 {
		claims, err = b.combinedClaims(ctx, req, res, distances)
		if err != nil {
			return nil, err
		}
	}
	slog.Debug("built claims", "claims", len(claims), "consumer", req.ConsumerUUID)
	if b.Monitor != nil {
		b.Monitor.observeBuild(time.Since(start), len(claims))
	}
	return claims, nil
}

// Claims placing every allocation item on one provider. Such a provider
// appears in the candidate list of every constraint, and the combination
// is trivially compatible with any distance or partition constraint.
func (b *Builder) singleProviderClaims(ctx context.Context, req ClaimRequest, res *MatchResult) ([]Claim, error) {
	byProvider := make([]map[int64]Candidate, len(res.Candidates))
	for i, candidates := range res.Candidates {
		byProvider[i] = make(map[int64]Candidate, len(candidates))
		for _, c := range candidates {
			byProvider[i][c.ProviderID] = c
		}
	}

	var claims []Claim
	// Iterate in the first constraint's order to keep the result ordered.
	for _, first := range res.Candidates[0] {
		onAll := true
		for _, m := range byProvider[1:] {
			if _, ok := m[first.ProviderID]; !ok {
				onAll = false
				break
			}
		}
		if !onAll {
			continue
		}
		combination := make([]Candidate, len(res.Candidates))
		for i := range res.Candidates {
			combination[i] = byProvider[i][first.ProviderID]
		}
		if claim, ok := b.claimFromCombination(req, combination); ok {
			claims = append(claims, claim)
		}
	}
	return claims, nil
}

// Greedy search over the per-constraint candidate lists, checking the
// compatibility predicate on every partial combination. Stops after
// MaxCombinations visited nodes.
func (b *Builder) combinedClaims(ctx context.Context, req ClaimRequest, res *MatchResult, distances []resolvedDistance) ([]Claim, error) {
	var claims []Claim
	chosen := make([]Candidate, 0, len(res.Candidates))
	budget := b.MaxCombinations
	if budget <= 0 {
		budget = 1000
	}

	var walk func(depth int) error
	walk = func(depth int) error {
		if depth == len(res.Candidates) {
			if claim, ok := b.claimFromCombination(req, chosen); ok {
				claims = append(claims, claim)
			}
			return nil
		}
		for _, candidate := range res.Candidates[depth] {
			if budget <= 0 {
				return nil
			}
			budget--
			ok, err := b.compatible(ctx, chosen, candidate, req.SamePartition, distances)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			chosen = append(chosen, candidate)
			if err := walk(depth + 1); err != nil {
				return err
			}
			chosen = chosen[:len(chosen)-1]
		}
		return nil
	}
	if err := walk(0); err != nil {
		return nil, err
	}
	return claims, nil
}

// Whether adding the candidate keeps the combination compatible with the
// partition and distance constraints. Compatibility is a property of the
// combination, so it is checked during assembly, not as a pre-filter.
func (b *Builder) compatible(ctx context.Context, chosen []Candidate, next Candidate, samePartition bool, distances []resolvedDistance) (bool, error) {
	for _, prev := range chosen {
		if prev.ProviderID == next.ProviderID {
			continue
		}
		if samePartition && prev.PartitionID != next.PartitionID {
			return false, nil
		}
		for _, dc := range distances {
			value, known, err := b.distanceBetween(ctx, prev.ProviderID, next.ProviderID, dc.TypeID)
			if err != nil {
				return false, err
			}
			if !known {
				// No measured distance between the pair under this type.
				return false, nil
			}
			if dc.Min != nil && value < *dc.Min {
				return false, nil
			}
			if dc.Max != nil && value > *dc.Max {
				return false, nil
			}
		}
	}
	return true, nil
}

// Smallest recorded distance between two providers under a distance type,
// resolved through the groups the second provider belongs to.
func (b *Builder) distanceBetween(ctx context.Context, providerID, otherID, distanceTypeID int64) (int64, bool, error) {
	value, err := b.DB.WithContext(ctx).SelectNullInt(`
		SELECT MIN(d.value)
		FROM provider_distances d
		JOIN provider_group_members m ON m.group_id = d.group_id
		WHERE d.provider_id = :provider_id
		  AND d.distance_type_id = :distance_type_id
		  AND m.provider_id = :other_id`,
		map[string]any{
			"provider_id":      providerID,
			"distance_type_id": distanceTypeID,
			"other_id":         otherID,
		})
	if err != nil {
		return 0, false, StoreUnavailableError{Op: "distance lookup", Err: err}
	}
	if !value.Valid {
		return 0, false, nil
	}
	return value.Int64, true, nil
}

// Turn a compatible combination into a claim. Items with a zero amount
// (from zero-minimum constraints with no claimable headroom) are dropped;
// a claim must end up with at least one item.
func (b *Builder) claimFromCombination(req ClaimRequest, combination []Candidate) (Claim, bool) {
	items := make([]AllocationItem, 0, len(combination))
	for i, candidate := range combination {
		if candidate.Amount == 0 {
			continue
		}
		items = append(items, AllocationItem{
			ProviderUUID:    candidate.ProviderUUID,
			ResourceType:    req.Constraints[i].ResourceType,
			Used:            candidate.Amount,
			ConstraintIndex: i,
		})
	}
	if len(items) == 0 {
		return Claim{}, false
	}
	return NewClaim(req.ConsumerUUID, items), true
}
