// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Lifecycle state of a claim.
type ClaimState string

const (
	// Output of the claim builder, not yet durable.
	ClaimStateBuilt ClaimState = "BUILT"
	// All allocation items applied atomically.
	ClaimStateCommitted ClaimState = "COMMITTED"
	// Inventory was stale at commit time. Retryable by re-matching.
	ClaimStateConflict ClaimState = "CONFLICT"
	// Structurally invalid, no transaction was opened. Not retryable.
	ClaimStateRejected ClaimState = "REJECTED"
)

// One (provider, resource type, amount) triple of a claim. Immutable once
// the claim is committed.
type AllocationItem struct {
	ProviderUUID string `json:"providerUUID" yaml:"providerUUID"`
	ResourceType string `json:"resourceType" yaml:"resourceType"`
	Used         int64  `json:"used" yaml:"used"`
	// Index of the resource constraint this item satisfies.
	ConstraintIndex int `json:"constraintIndex" yaml:"constraintIndex"`
}

// An ordered, non-empty set of allocation items jointly satisfying one
// consumer's request. The representation is stable and human-diffable, and
// round-trips through json so a built claim can be executed later through
// the execute-claim entry point.
type Claim struct {
	UUID         string           `json:"uuid" yaml:"uuid"`
	ConsumerUUID string           `json:"consumerUUID" yaml:"consumerUUID"`
	State        ClaimState       `json:"state" yaml:"state"`
	Items        []AllocationItem `json:"items" yaml:"items"`
}

func NewClaim(consumerUUID string, items []AllocationItem) Claim {
	return Claim{
		UUID:         uuid.NewString(),
		ConsumerUUID: consumerUUID,
		State:        ClaimStateBuilt,
		Items:        items,
	}
}

// Stable single-line-per-item rendering for logging and diffing.
func (c Claim) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "claim %s consumer=%s state=%s\n", c.UUID, c.ConsumerUUID, c.State)
	for _, item := range c.Items {
		fmt.Fprintf(
			&b, "  item constraint=%d provider=%s resource=%s used=%d\n",
			item.ConstraintIndex, item.ProviderUUID, item.ResourceType, item.Used,
		)
	}
	return b.String()
}
