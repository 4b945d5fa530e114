// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

// Capability filters attached to a resource constraint or to a whole
// request. Require is AND'd, Any is OR'd, Forbid excludes.
type CapabilityConstraint struct {
	Require []string `json:"require,omitempty" yaml:"require,omitempty"`
	Forbid  []string `json:"forbid,omitempty" yaml:"forbid,omitempty"`
	Any     []string `json:"any,omitempty" yaml:"any,omitempty"`
}

// Whether the constraint carries no filters at all.
func (c *CapabilityConstraint) Empty() bool {
	return c == nil || (len(c.Require) == 0 && len(c.Forbid) == 0 && len(c.Any) == 0)
}

// Request for an amount of one resource type.
type ResourceConstraint struct {
	// Resource type code, e.g. "memory".
	ResourceType string `json:"resourceType" yaml:"resourceType"`
	// Inclusive range of the amount to claim. MinAmount gates the candidate
	// pool; MaxAmount only bounds what a single allocation item may take
	// from one provider.
	MinAmount int64 `json:"minAmount" yaml:"minAmount"`
	MaxAmount int64 `json:"maxAmount" yaml:"maxAmount"`
	// Optional capability filters for providers of this resource.
	Capabilities *CapabilityConstraint `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	// Optional partition scope. Empty means all partitions.
	Partition string `json:"partition,omitempty" yaml:"partition,omitempty"`
}

// Affinity (max) or anti-affinity (min) bound on the pairwise distance
// between the providers chosen for a claim, under one distance type.
type DistanceConstraint struct {
	DistanceType string `json:"distanceType" yaml:"distanceType"`
	// Pairwise distance must be >= Min (anti-affinity), if set.
	Min *int64 `json:"min,omitempty" yaml:"min,omitempty"`
	// Pairwise distance must be <= Max (affinity), if set.
	Max *int64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// A consumer's full request: an ordered list of resource constraints plus
// constraints on the combination of chosen providers.
type ClaimRequest struct {
	// UUID of the consumer the claim is built for.
	ConsumerUUID string `json:"consumerUUID" yaml:"consumerUUID"`
	// Display name of the consumer, recorded on first claim execution.
	ConsumerName string `json:"consumerName,omitempty" yaml:"consumerName,omitempty"`
	// Ordered resource constraints. Order is meaningful: match results and
	// allocation items are reported by constraint index.
	Constraints []ResourceConstraint `json:"constraints" yaml:"constraints"`
	// All chosen providers must share a partition.
	SamePartition bool `json:"samePartition,omitempty" yaml:"samePartition,omitempty"`
	// Distance bounds over the chosen provider combination.
	Distances []DistanceConstraint `json:"distances,omitempty" yaml:"distances,omitempty"`
}
