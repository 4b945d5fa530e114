// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"fmt"
	"log/slog"

	"github.com/cobaltcore-dev/reservoir/internal/db"
)

// Lookup failure for a name that is not present in the catalog.
type NotFoundError struct {
	// What kind of entity was looked up, e.g. "resource type".
	Kind string
	// The name that could not be resolved.
	Code string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no such %s: %q", e.Kind, e.Code)
}

// Read-only snapshot of the catalog's name to internal id mappings.
// Built once after topology load and shared across concurrent matches,
// replacing any per-request name lookups against the database.
type Catalog struct {
	resourceTypeIDs map[string]int64
	resourceTypes   map[int64]string
	capabilityIDs   map[string]int64
	partitionIDs    map[string]int64
	partitions      []Partition
	distanceTypeIDs map[string]int64
	providerTypeIDs map[string]int64
}

// Create the catalog schema.
func Init(d db.DB) error {
	return d.CreateTable(
		d.AddTable(Partition{}),
		d.AddTable(ProviderType{}),
		d.AddTable(Provider{}),
		d.AddTable(ResourceType{}),
		d.AddTable(Capability{}),
		d.AddTable(ProviderCapability{}),
		d.AddTable(ProviderGroup{}),
		d.AddTable(ProviderGroupMember{}),
		d.AddTable(DistanceType{}),
		d.AddTable(ProviderDistance{}),
		d.AddTable(Consumer{}),
	)
}

// Build a catalog snapshot from the current table contents.
func Load(d db.DB) (*Catalog, error) {
	c := &Catalog{
		resourceTypeIDs: map[string]int64{},
		resourceTypes:   map[int64]string{},
		capabilityIDs:   map[string]int64{},
		partitionIDs:    map[string]int64{},
		distanceTypeIDs: map[string]int64{},
		providerTypeIDs: map[string]int64{},
	}

	var resourceTypes []ResourceType
	if _, err := d.Select(&resourceTypes, "SELECT * FROM resource_types"); err != nil {
		return nil, err
	}
	for _, rt := range resourceTypes {
		c.resourceTypeIDs[rt.Code] = rt.ID
		c.resourceTypes[rt.ID] = rt.Code
	}

	var capabilities []Capability
	if _, err := d.Select(&capabilities, "SELECT * FROM capabilities"); err != nil {
		return nil, err
	}
	for _, cap := range capabilities {
		c.capabilityIDs[cap.Code] = cap.ID
	}

	if _, err := d.Select(&c.partitions, "SELECT * FROM partitions"); err != nil {
		return nil, err
	}
	for _, p := range c.partitions {
		c.partitionIDs[p.Name] = p.ID
	}

	var distanceTypes []DistanceType
	if _, err := d.Select(&distanceTypes, "SELECT * FROM distance_types"); err != nil {
		return nil, err
	}
	for _, dt := range distanceTypes {
		c.distanceTypeIDs[dt.Code] = dt.ID
	}

	var providerTypes []ProviderType
	if _, err := d.Select(&providerTypes, "SELECT * FROM provider_types"); err != nil {
		return nil, err
	}
	for _, pt := range providerTypes {
		c.providerTypeIDs[pt.Code] = pt.ID
	}

	slog.Info(
		"catalog loaded",
		"resourceTypes", len(c.resourceTypeIDs),
		"capabilities", len(c.capabilityIDs),
		"partitions", len(c.partitionIDs),
		"distanceTypes", len(c.distanceTypeIDs),
	)
	return c, nil
}

// Resolve a resource type code to its internal id.
func (c *Catalog) ResourceTypeID(code string) (int64, error) {
	id, ok := c.resourceTypeIDs[code]
	if !ok {
		return 0, NotFoundError{Kind: "resource type", Code: code}
	}
	return id, nil
}

// Resolve an internal resource type id back to its code.
func (c *Catalog) ResourceTypeCode(id int64) (string, error) {
	code, ok := c.resourceTypes[id]
	if !ok {
		return "", NotFoundError{Kind: "resource type id", Code: fmt.Sprint(id)}
	}
	return code, nil
}

// Resolve a capability code to its internal id.
func (c *Catalog) CapabilityID(code string) (int64, error) {
	id, ok := c.capabilityIDs[code]
	if !ok {
		return 0, NotFoundError{Kind: "capability", Code: code}
	}
	return id, nil
}

// Resolve a partition name to its internal id.
func (c *Catalog) PartitionID(name string) (int64, error) {
	id, ok := c.partitionIDs[name]
	if !ok {
		return 0, NotFoundError{Kind: "partition", Code: name}
	}
	return id, nil
}

// All partitions known to the catalog, for partition fan-out.
func (c *Catalog) Partitions() []Partition {
	return c.partitions
}

// Resolve a distance type code to its internal id.
func (c *Catalog) DistanceTypeID(code string) (int64, error) {
	id, ok := c.distanceTypeIDs[code]
	if !ok {
		return 0, NotFoundError{Kind: "distance type", Code: code}
	}
	return id, nil
}

// Resolve a provider type code to its internal id.
func (c *Catalog) ProviderTypeID(code string) (int64, error) {
	id, ok := c.providerTypeIDs[code]
	if !ok {
		return 0, NotFoundError{Kind: "provider type", Code: code}
	}
	return id, nil
}
