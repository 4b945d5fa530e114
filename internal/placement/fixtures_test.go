// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package placement

import (
	"fmt"
	"testing"

	"github.com/cobaltcore-dev/reservoir/internal/catalog"
	"github.com/cobaltcore-dev/reservoir/internal/db"
	"github.com/cobaltcore-dev/reservoir/internal/inventory"
	testlibDB "github.com/cobaltcore-dev/reservoir/testlib/db"
)

// Catalog entities shared by the placement tests.
type fixture struct {
	DB      db.DB
	Close   func()
	Catalog *catalog.Catalog

	Partitions    map[string]catalog.Partition
	ResourceTypes map[string]catalog.ResourceType
	Capabilities  map[string]catalog.Capability
	Providers     map[string]catalog.Provider
	Groups        map[string]catalog.ProviderGroup
	DistanceTypes map[string]catalog.DistanceType
}

func setupFixture(t *testing.T) *fixture {
	dbEnv := testlibDB.SetupDBEnv(t)
	testDB := db.DB{DbMap: dbEnv.DbMap}
	if err := catalog.Init(testDB); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := inventory.Init(testDB); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := Init(testDB); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return &fixture{
		DB:            testDB,
		Close:         dbEnv.Close,
		Partitions:    map[string]catalog.Partition{},
		ResourceTypes: map[string]catalog.ResourceType{},
		Capabilities:  map[string]catalog.Capability{},
		Providers:     map[string]catalog.Provider{},
		Groups:        map[string]catalog.ProviderGroup{},
		DistanceTypes: map[string]catalog.DistanceType{},
	}
}

func (f *fixture) addPartition(t *testing.T, name string) catalog.Partition {
	p := catalog.Partition{UUID: "partition-" + name, Name: name}
	if err := f.DB.Insert(&p); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.Partitions[name] = p
	return p
}

func (f *fixture) addResourceType(t *testing.T, code string) catalog.ResourceType {
	rt := catalog.ResourceType{Code: code}
	if err := f.DB.Insert(&rt); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.ResourceTypes[code] = rt
	return rt
}

func (f *fixture) addCapability(t *testing.T, code string) catalog.Capability {
	c := catalog.Capability{Code: code}
	if err := f.DB.Insert(&c); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.Capabilities[code] = c
	return c
}

func (f *fixture) addDistanceType(t *testing.T, code string) catalog.DistanceType {
	dt := catalog.DistanceType{Code: code}
	if err := f.DB.Insert(&dt); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.DistanceTypes[code] = dt
	return dt
}

// Providers get a fixed uuid derived from their name so test expectations
// on the uuid tie-break stay readable.
func (f *fixture) addProvider(t *testing.T, name, partition string) catalog.Provider {
	p := catalog.Provider{
		UUID:        "uuid-" + name,
		Name:        name,
		PartitionID: f.Partitions[partition].ID,
		Generation:  1,
	}
	if err := f.DB.Insert(&p); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.Providers[name] = p
	return p
}

func (f *fixture) addCapabilityTo(t *testing.T, provider, capability string) {
	pc := catalog.ProviderCapability{
		ProviderID:   f.Providers[provider].ID,
		CapabilityID: f.Capabilities[capability].ID,
	}
	if err := f.DB.Insert(&pc); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func (f *fixture) addInventory(t *testing.T, provider, resourceType string, inv inventory.Inventory) {
	inv.ProviderID = f.Providers[provider].ID
	inv.ResourceTypeID = f.ResourceTypes[resourceType].ID
	if inv.AllocationRatio == 0 {
		inv.AllocationRatio = 1.0
	}
	if inv.MinUnit == 0 {
		inv.MinUnit = 1
	}
	if inv.MaxUnit == 0 {
		inv.MaxUnit = inv.Total
	}
	if inv.StepSize == 0 {
		inv.StepSize = 1
	}
	if inv.Generation == 0 {
		inv.Generation = 1
	}
	if err := f.DB.Insert(&inv); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

// Put providers into a group and record a distance from every member of
// the group to the group itself under the given distance type.
func (f *fixture) addGroup(t *testing.T, name, distanceType string, value int64, providers ...string) {
	group := catalog.ProviderGroup{UUID: "group-" + name, Name: name}
	if err := f.DB.Insert(&group); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.Groups[name] = group
	for _, provider := range providers {
		member := catalog.ProviderGroupMember{
			GroupID:    group.ID,
			ProviderID: f.Providers[provider].ID,
		}
		if err := f.DB.Insert(&member); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
	for _, provider := range providers {
		distance := catalog.ProviderDistance{
			ProviderID:     f.Providers[provider].ID,
			DistanceTypeID: f.DistanceTypes[distanceType].ID,
			GroupID:        group.ID,
			Value:          value,
		}
		if err := f.DB.Insert(&distance); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
	}
}

// Record a distance from one provider to a group of other providers.
func (f *fixture) addDistance(t *testing.T, provider, group, distanceType string, value int64) {
	distance := catalog.ProviderDistance{
		ProviderID:     f.Providers[provider].ID,
		DistanceTypeID: f.DistanceTypes[distanceType].ID,
		GroupID:        f.Groups[group].ID,
		Value:          value,
	}
	if err := f.DB.Insert(&distance); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

// Reload the catalog snapshot after all fixture inserts.
func (f *fixture) loadCatalog(t *testing.T) *catalog.Catalog {
	c, err := catalog.Load(f.DB)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	f.Catalog = c
	return c
}

func (f *fixture) matcher(t *testing.T) *Matcher {
	if f.Catalog == nil {
		f.loadCatalog(t)
	}
	return &Matcher{DB: f.DB, Catalog: f.Catalog, PoolSize: 50}
}

func (f *fixture) builder(t *testing.T) *Builder {
	if f.Catalog == nil {
		f.loadCatalog(t)
	}
	return &Builder{DB: f.DB, Catalog: f.Catalog, MaxCombinations: 1000}
}

func (f *fixture) executor(t *testing.T) *Executor {
	if f.Catalog == nil {
		f.loadCatalog(t)
	}
	return &Executor{DB: f.DB, Catalog: f.Catalog}
}

// Read back one inventory row.
func (f *fixture) inventoryOf(t *testing.T, provider, resourceType string) inventory.Inventory {
	var inv inventory.Inventory
	err := f.DB.SelectOne(&inv, `
		SELECT * FROM inventories
		WHERE provider_id = :provider_id AND resource_type_id = :resource_type_id`,
		map[string]any{
			"provider_id":      f.Providers[provider].ID,
			"resource_type_id": f.ResourceTypes[resourceType].ID,
		})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return inv
}

// A topology of n identical providers with one resource type each.
func (f *fixture) addUniformProviders(t *testing.T, n int, partition, resourceType string, total int64) {
	for i := range n {
		name := fmt.Sprintf("node%03d", i)
		f.addProvider(t, name, partition)
		f.addInventory(t, name, resourceType, inventoryWithTotal(total))
	}
}

func inventoryWithTotal(total int64) (inv inventory.Inventory) {
	inv.Total = total
	return inv
}
