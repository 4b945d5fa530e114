// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import "fmt"

// Caller error: a constraint names a resource type, capability, partition or
// distance type the catalog does not know. Detected before any inventory
// state is touched.
type InvalidConstraintError struct {
	// Index of the failing constraint in the request, -1 if the failure is
	// not tied to a single resource constraint.
	Index int
	// The underlying catalog lookup failure.
	Err error
}

func (e InvalidConstraintError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid constraint: %v", e.Err)
	}
	return fmt.Sprintf("invalid constraint %d: %v", e.Index, e.Err)
}

func (e InvalidConstraintError) Unwrap() error { return e.Err }

// Claim execution found inventory state that no longer supports the claim.
// Retryable: the caller should re-match and build a fresh claim.
type ConflictError struct {
	ProviderUUID string
	ResourceType string
	Reason       string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf(
		"claim conflict on provider %s resource %s: %s",
		e.ProviderUUID, e.ResourceType, e.Reason,
	)
}

// Caller error: the claim itself is structurally invalid. Not retryable.
type RejectedError struct {
	ProviderUUID string
	ResourceType string
	Reason       string
}

func (e RejectedError) Error() string {
	if e.ProviderUUID == "" {
		return fmt.Sprintf("claim rejected: %s", e.Reason)
	}
	return fmt.Sprintf(
		"claim rejected: provider %s resource %s: %s",
		e.ProviderUUID, e.ResourceType, e.Reason,
	)
}

// Transport or transaction-layer failure. Surfaced verbatim, never retried
// by the core.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e StoreUnavailableError) Unwrap() error { return e.Err }
