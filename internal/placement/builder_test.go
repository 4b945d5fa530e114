// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"errors"
	"fmt"
	"testing"

	"github.com/cobaltcore-dev/reservoir/internal/inventory"
)

func TestBuilderSingleProviderPreferred(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addResourceType(t, "memory")
	f.addResourceType(t, "vcpu_shared")
	// Only "both" carries both resource types; the others have more headroom
	// for one of them but cannot host the whole claim alone.
	f.addProvider(t, "both", "part0")
	f.addProvider(t, "memonly", "part0")
	f.addProvider(t, "cpuonly", "part0")
	f.addInventory(t, "both", "memory", inventory.Inventory{Total: 64})
	f.addInventory(t, "both", "vcpu_shared", inventory.Inventory{Total: 8})
	f.addInventory(t, "memonly", "memory", inventory.Inventory{Total: 128})
	f.addInventory(t, "cpuonly", "vcpu_shared", inventory.Inventory{Total: 16})

	req := ClaimRequest{
		ConsumerUUID: "consumer-1",
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 16, MaxAmount: 16},
			{ResourceType: "vcpu_shared", MinAmount: 2, MaxAmount: 2},
		},
	}
	matcher, builder := f.matcher(t), f.builder(t)
	res, err := matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) == 0 {
		t.Fatal("expected at least one claim")
	}
	first := claims[0]
	if first.State != ClaimStateBuilt {
		t.Errorf("expected state BUILT, got %s", first.State)
	}
	if len(first.Items) != 2 {
		t.Fatalf("expected 2 allocation items, got %d", len(first.Items))
	}
	for _, item := range first.Items {
		if item.ProviderUUID != "uuid-both" {
			t.Errorf("expected all items on uuid-both, got %s", item.ProviderUUID)
		}
	}
}

func TestBuilderFallbackCombination(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addResourceType(t, "memory")
	f.addResourceType(t, "block_storage")
	f.addProvider(t, "compute", "part0")
	f.addProvider(t, "storage", "part0")
	f.addInventory(t, "compute", "memory", inventory.Inventory{Total: 64})
	f.addInventory(t, "storage", "block_storage", inventory.Inventory{Total: 1000})

	req := ClaimRequest{
		ConsumerUUID: "consumer-1",
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 16, MaxAmount: 16},
			{ResourceType: "block_storage", MinAmount: 100, MaxAmount: 100},
		},
	}
	matcher, builder := f.matcher(t), f.builder(t)
	res, err := matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected exactly one combined claim, got %d", len(claims))
	}
	items := claims[0].Items
	if len(items) != 2 {
		t.Fatalf("expected 2 allocation items, got %d", len(items))
	}
	if items[0].ProviderUUID != "uuid-compute" || items[1].ProviderUUID != "uuid-storage" {
		t.Errorf("unexpected provider split: %v", items)
	}
	if items[0].ConstraintIndex != 0 || items[1].ConstraintIndex != 1 {
		t.Errorf("constraint indices not preserved: %v", items)
	}
}

func TestBuilderInsufficientCapacityIsNotAnError(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addResourceType(t, "memory")
	f.addProvider(t, "tiny", "part0")
	f.addInventory(t, "tiny", "memory", inventory.Inventory{Total: 8})

	req := ClaimRequest{
		ConsumerUUID: "consumer-1",
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 1024, MaxAmount: 2048},
		},
	}
	matcher, builder := f.matcher(t), f.builder(t)
	res, err := matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("expected zero claims, got %d", len(claims))
	}
}

func TestBuilderSamePartition(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addPartition(t, "part1")
	f.addResourceType(t, "memory")
	f.addResourceType(t, "block_storage")
	f.addProvider(t, "compute0", "part0")
	f.addProvider(t, "storage1", "part1")
	f.addInventory(t, "compute0", "memory", inventory.Inventory{Total: 64})
	f.addInventory(t, "storage1", "block_storage", inventory.Inventory{Total: 1000})

	req := ClaimRequest{
		ConsumerUUID:  "consumer-1",
		SamePartition: true,
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 16, MaxAmount: 16},
			{ResourceType: "block_storage", MinAmount: 100, MaxAmount: 100},
		},
	}
	matcher, builder := f.matcher(t), f.builder(t)
	res, err := matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) != 0 {
		t.Fatalf("expected zero claims across partitions, got %d", len(claims))
	}

	// A storage provider in the same partition unblocks the claim.
	f.addProvider(t, "storage0", "part0")
	f.addInventory(t, "storage0", "block_storage", inventory.Inventory{Total: 1000})
	res, err = matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err = builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected one claim, got %d", len(claims))
	}
	if claims[0].Items[1].ProviderUUID != "uuid-storage0" {
		t.Errorf("expected storage item on uuid-storage0, got %s", claims[0].Items[1].ProviderUUID)
	}
}

func TestBuilderDistanceConstraints(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addResourceType(t, "memory")
	f.addResourceType(t, "block_storage")
	f.addDistanceType(t, "failure")
	// node0 offers memory; near and far offer block storage. node0 and near
	// share a rack at distance 1, far sits in another rack at distance 3.
	f.addProvider(t, "node0", "part0")
	f.addProvider(t, "near", "part0")
	f.addProvider(t, "far", "part0")
	f.addInventory(t, "node0", "memory", inventory.Inventory{Total: 64})
	f.addInventory(t, "near", "block_storage", inventory.Inventory{Total: 1000})
	f.addInventory(t, "far", "block_storage", inventory.Inventory{Total: 1000})
	f.addGroup(t, "rack-a", "failure", 1, "node0", "near")
	f.addGroup(t, "rack-b", "failure", 1, "far")
	f.addDistance(t, "node0", "rack-b", "failure", 3)
	f.addDistance(t, "near", "rack-b", "failure", 3)
	f.addDistance(t, "far", "rack-a", "failure", 3)

	two := int64(2)
	req := ClaimRequest{
		ConsumerUUID: "consumer-1",
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 16, MaxAmount: 16},
			{ResourceType: "block_storage", MinAmount: 100, MaxAmount: 100},
		},
		Distances: []DistanceConstraint{
			{DistanceType: "failure", Min: &two},
		},
	}
	matcher, builder := f.matcher(t), f.builder(t)
	res, err := matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected exactly one anti-affine claim, got %d", len(claims))
	}
	if claims[0].Items[1].ProviderUUID != "uuid-far" {
		t.Errorf("anti-affinity must pick the distant rack, got %s", claims[0].Items[1].ProviderUUID)
	}

	// Affinity: a max distance of 1 keeps the claim within the rack.
	one := int64(1)
	req.Distances = []DistanceConstraint{{DistanceType: "failure", Max: &one}}
	res, err = matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err = builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected exactly one affine claim, got %d", len(claims))
	}
	if claims[0].Items[1].ProviderUUID != "uuid-near" {
		t.Errorf("affinity must stay within the rack, got %s", claims[0].Items[1].ProviderUUID)
	}
}

func TestBuilderUnknownDistanceIsIncompatible(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addResourceType(t, "memory")
	f.addResourceType(t, "block_storage")
	f.addDistanceType(t, "network")
	f.addProvider(t, "node0", "part0")
	f.addProvider(t, "node1", "part0")
	f.addInventory(t, "node0", "memory", inventory.Inventory{Total: 64})
	f.addInventory(t, "node1", "block_storage", inventory.Inventory{Total: 1000})
	// No distances recorded between the two providers at all.

	one := int64(1)
	req := ClaimRequest{
		ConsumerUUID: "consumer-1",
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 16, MaxAmount: 16},
			{ResourceType: "block_storage", MinAmount: 100, MaxAmount: 100},
		},
		Distances: []DistanceConstraint{{DistanceType: "network", Min: &one}},
	}
	matcher, builder := f.matcher(t), f.builder(t)
	res, err := matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) != 0 {
		t.Errorf("expected zero claims without measured distances, got %d", len(claims))
	}
}

func TestBuilderUnknownDistanceType(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addResourceType(t, "memory")
	f.addProvider(t, "node0", "part0")
	f.addInventory(t, "node0", "memory", inventory.Inventory{Total: 64})

	one := int64(1)
	req := ClaimRequest{
		ConsumerUUID: "consumer-1",
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 8, MaxAmount: 8},
		},
		Distances: []DistanceConstraint{{DistanceType: "no_such_metric", Min: &one}},
	}
	matcher := f.matcher(t)
	_, err := matcher.Match(t.Context(), req)
	var invalid InvalidConstraintError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidConstraintError, got %v", err)
	}
}

func TestBuilderDropsZeroAmountItems(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addResourceType(t, "memory")
	f.addResourceType(t, "vcpu_shared")
	f.addProvider(t, "node0", "part0")
	f.addInventory(t, "node0", "memory", inventory.Inventory{Total: 64})
	// The vcpu inventory is fully used; a zero-minimum constraint on it
	// still matches but must not produce an allocation item.
	f.addInventory(t, "node0", "vcpu_shared", inventory.Inventory{Total: 8, Used: 8})

	req := ClaimRequest{
		ConsumerUUID: "consumer-1",
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 16, MaxAmount: 16},
			{ResourceType: "vcpu_shared", MinAmount: 0, MaxAmount: 4},
		},
	}
	matcher, builder := f.matcher(t), f.builder(t)
	res, err := matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) != 1 {
		t.Fatalf("expected one claim, got %d", len(claims))
	}
	if len(claims[0].Items) != 1 {
		t.Fatalf("expected the zero-amount item to be dropped, got %v", claims[0].Items)
	}
	if claims[0].Items[0].ResourceType != "memory" {
		t.Errorf("expected the memory item to survive, got %v", claims[0].Items[0])
	}
}

func TestBuilderCombinationBudget(t *testing.T) {
	f := setupFixture(t)
	defer f.Close()
	f.addPartition(t, "part0")
	f.addResourceType(t, "memory")
	f.addResourceType(t, "block_storage")
	f.addUniformProviders(t, 10, "part0", "memory", 64)
	for i := range 10 {
		name := fmt.Sprintf("store%03d", i)
		f.addProvider(t, name, "part0")
		f.addInventory(t, name, "block_storage", inventory.Inventory{Total: 1000})
	}

	req := ClaimRequest{
		ConsumerUUID: "consumer-1",
		Constraints: []ResourceConstraint{
			{ResourceType: "memory", MinAmount: 16, MaxAmount: 16},
			{ResourceType: "block_storage", MinAmount: 100, MaxAmount: 100},
		},
	}
	matcher, builder := f.matcher(t), f.builder(t)
	builder.MaxCombinations = 12
	res, err := matcher.Match(t.Context(), req)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	claims, err := builder.Build(t.Context(), req, res)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(claims) == 0 {
		t.Fatal("expected some claims within the budget")
	}
	// 10x10 full cross product, but the budget caps the walk well below it.
	if len(claims) > 12 {
		t.Errorf("expected at most 12 claims under the budget, got %d", len(claims))
	}
}
