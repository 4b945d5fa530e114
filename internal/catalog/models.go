// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package catalog

// A division of the deployment. Every provider belongs to exactly one
// partition, and partitions bound the scope of placement decisions.
type Partition struct {
	ID   int64  `db:"id, primarykey, autoincrement"`
	UUID string `db:"uuid"`
	Name string `db:"name"`
}

// Table under which partitions are stored.
func (Partition) TableName() string { return "partitions" }

// Class of provider, e.g. "compute_node" or "storage_array".
type ProviderType struct {
	ID   int64  `db:"id, primarykey, autoincrement"`
	Code string `db:"code"`
}

func (ProviderType) TableName() string { return "provider_types" }

// An entity offering quantities of one or more resource types.
type Provider struct {
	ID          int64  `db:"id, primarykey, autoincrement"`
	UUID        string `db:"uuid"`
	Name        string `db:"name"`
	TypeID      int64  `db:"type_id"`
	PartitionID int64  `db:"partition_id"`
	// Bumped on every committed claim touching this provider.
	Generation int64 `db:"generation"`
}

func (Provider) TableName() string { return "providers" }

// A named, quantitative resource category, e.g. "memory" or "vcpu_shared".
type ResourceType struct {
	ID          int64  `db:"id, primarykey, autoincrement"`
	Code        string `db:"code"`
	Description string `db:"description"`
}

func (ResourceType) TableName() string { return "resource_types" }

// A named, non-quantitative trait a provider may advertise.
type Capability struct {
	ID   int64  `db:"id, primarykey, autoincrement"`
	Code string `db:"code"`
}

func (Capability) TableName() string { return "capabilities" }

// Many-to-many association between providers and capabilities.
type ProviderCapability struct {
	ProviderID   int64 `db:"provider_id"`
	CapabilityID int64 `db:"capability_id"`
}

func (ProviderCapability) TableName() string { return "provider_capabilities" }

// A named grouping of providers, e.g. a site, a row or a rack.
type ProviderGroup struct {
	ID   int64  `db:"id, primarykey, autoincrement"`
	UUID string `db:"uuid"`
	Name string `db:"name"`
}

func (ProviderGroup) TableName() string { return "provider_groups" }

type ProviderGroupMember struct {
	GroupID    int64 `db:"group_id"`
	ProviderID int64 `db:"provider_id"`
}

func (ProviderGroupMember) TableName() string { return "provider_group_members" }

// A named metric under which distances are measured, e.g. "network"
// latency or "failure" domain separation.
type DistanceType struct {
	ID          int64  `db:"id, primarykey, autoincrement"`
	Code        string `db:"code"`
	Description string `db:"description"`
}

func (DistanceType) TableName() string { return "distance_types" }

// Distance from a provider to all providers of a group, under a given
// distance type. Symmetry is the loader's responsibility: when provider p
// records a distance to the group containing q, q records the same value
// to the group containing p.
type ProviderDistance struct {
	ProviderID     int64 `db:"provider_id"`
	DistanceTypeID int64 `db:"distance_type_id"`
	GroupID        int64 `db:"group_id"`
	Value          int64 `db:"value"`
}

func (ProviderDistance) TableName() string { return "provider_distances" }

// The entity requesting and owning claims.
type Consumer struct {
	ID          int64  `db:"id, primarykey, autoincrement"`
	UUID        string `db:"uuid"`
	Name        string `db:"name"`
	ProjectUUID string `db:"owner_project_uuid"`
	UserUUID    string `db:"owner_user_uuid"`
	Generation  int64  `db:"generation"`
}

func (Consumer) TableName() string { return "consumers" }
