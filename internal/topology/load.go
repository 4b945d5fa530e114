// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"log/slog"

	"github.com/cobaltcore-dev/reservoir/internal/catalog"
	"github.com/cobaltcore-dev/reservoir/internal/db"
	"github.com/cobaltcore-dev/reservoir/internal/inventory"
	"github.com/cobaltcore-dev/reservoir/internal/placement"
	"github.com/google/uuid"
)

// Distance type codes written by the loader.
const (
	DistanceTypeNetwork = "network"
	DistanceTypeFailure = "failure"
)

// Network latency distances, ordered near to far.
const (
	NetworkLocal int64 = iota
	NetworkSite
	NetworkRemote
)

// Failure domain distances, ordered near to far.
const (
	FailureLocal int64 = iota
	FailureRack
	FailureRow
	FailureSite
)

const providerTypeComputeNode = "compute_node"

// Populates the catalog and inventory tables from a deployment config.
type Loader struct {
	DB db.DB
}

// Group bookkeeping while building the topology. Row and rack are -1 for
// groups above that level.
type loadedGroup struct {
	id   int64
	site string
	row  int
	rack int
}

func (g loadedGroup) isSite() bool { return g.row < 0 }
func (g loadedGroup) isRow() bool  { return g.row >= 0 && g.rack < 0 }
func (g loadedGroup) isRack() bool { return g.rack >= 0 }

// Delete all topology, inventory and allocation rows. Schema stays.
func (l *Loader) Reset() error {
	tables := []string{
		"allocation_items", "allocations", "provider_distances",
		"provider_group_members", "provider_groups", "provider_capabilities",
		"inventories", "providers", "consumers", "capabilities",
		"resource_types", "distance_types", "provider_types", "partitions",
	}
	tx, err := l.DB.Begin()
	if err != nil {
		return err
	}
	for _, table := range tables {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				return rbErr
			}
			return err
		}
	}
	return tx.Commit()
}

// Load writes the full topology described by the deployment config:
// partitions, distance types, resource types, capabilities, provider
// groups with site/row/rack distances, and providers with their
// inventories. Providers start with zero usage and generation 1.
func (l *Loader) Load(dc DeploymentConfig, profiles map[string]ProviderProfile) error {
	if _, ok := profiles[dc.DefaultProviderProfile]; !ok {
		return fmt.Errorf("unknown default provider profile %q", dc.DefaultProviderProfile)
	}
	for group, profile := range dc.GroupProviderProfiles {
		if _, ok := profiles[profile]; !ok {
			return fmt.Errorf("unknown provider profile %q for group %q", profile, group)
		}
	}

	tx, err := l.DB.Begin()
	if err != nil {
		return err
	}
	if err := l.load(tx, dc, profiles); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return rbErr
		}
		return err
	}
	return tx.Commit()
}

// Transaction or database that can insert models.
type inserter interface {
	Insert(list ...interface{}) error
}

func (l *Loader) load(tx inserter, dc DeploymentConfig, profiles map[string]ProviderProfile) error {
	networkType := catalog.DistanceType{Code: DistanceTypeNetwork, Description: "Network latency distance"}
	failureType := catalog.DistanceType{Code: DistanceTypeFailure, Description: "Failure domain separation"}
	if err := tx.Insert(&networkType, &failureType); err != nil {
		return err
	}
	providerType := catalog.ProviderType{Code: providerTypeComputeNode}
	if err := tx.Insert(&providerType); err != nil {
		return err
	}

	partitions := make([]catalog.Partition, len(dc.Partitions))
	for i, name := range dc.Partitions {
		partitions[i] = catalog.Partition{UUID: uuid.NewString(), Name: name}
		if err := tx.Insert(&partitions[i]); err != nil {
			return err
		}
	}

	resourceTypeIDs := map[string]int64{}
	capabilityIDs := map[string]int64{}
	for _, profile := range profiles {
		for code := range profile.Inventory {
			if _, ok := resourceTypeIDs[code]; ok {
				continue
			}
			rt := catalog.ResourceType{Code: code}
			if err := tx.Insert(&rt); err != nil {
				return err
			}
			resourceTypeIDs[code] = rt.ID
		}
		for _, code := range profile.Capabilities {
			if _, ok := capabilityIDs[code]; ok {
				continue
			}
			cap := catalog.Capability{Code: code}
			if err := tx.Insert(&cap); err != nil {
				return err
			}
			capabilityIDs[code] = cap.ID
		}
	}

	// Provider groups for every site, row and rack in the layout.
	var groups []loadedGroup
	insertGroup := func(name, site string, row, rack int) error {
		group := catalog.ProviderGroup{UUID: uuid.NewString(), Name: name}
		if err := tx.Insert(&group); err != nil {
			return err
		}
		groups = append(groups, loadedGroup{id: group.ID, site: site, row: row, rack: rack})
		return nil
	}
	for _, site := range dc.Layout.Sites {
		if err := insertGroup(site, site, -1, -1); err != nil {
			return err
		}
		for row := range dc.Layout.RowsPerSite {
			if err := insertGroup(fmt.Sprintf("%s-row%d", site, row), site, row, -1); err != nil {
				return err
			}
			for rack := range dc.Layout.RacksPerRow {
				name := fmt.Sprintf("%s-row%d-rack%d", site, row, rack)
				if err := insertGroup(name, site, row, rack); err != nil {
					return err
				}
			}
		}
	}

	providerCount := 0
	for siteIndex, site := range dc.Layout.Sites {
		partition := partitions[siteIndex%len(partitions)]
		for row := range dc.Layout.RowsPerSite {
			for rack := range dc.Layout.RacksPerRow {
				profile := l.profileFor(dc, profiles, site, row, rack)
				for node := range dc.Layout.NodesPerRack {
					name := fmt.Sprintf("%s-row%d-rack%d-node%d", site, row, rack, node)
					provider := catalog.Provider{
						UUID:        uuid.NewString(),
						Name:        name,
						TypeID:      providerType.ID,
						PartitionID: partition.ID,
						Generation:  1,
					}
					if err := tx.Insert(&provider); err != nil {
						return err
					}
					providerCount++
					err := l.attachProvider(
						tx, provider, profile, groups,
						site, row, rack,
						resourceTypeIDs, capabilityIDs,
						networkType.ID, failureType.ID,
					)
					if err != nil {
						return err
					}
				}
			}
		}
	}
	slog.Info(
		"topology loaded",
		"providers", providerCount,
		"groups", len(groups),
		"partitions", len(partitions),
		"resourceTypes", len(resourceTypeIDs),
	)
	return nil
}

// The most specific profile override wins: rack over row over site over
// the deployment default.
func (l *Loader) profileFor(dc DeploymentConfig, profiles map[string]ProviderProfile, site string, row, rack int) ProviderProfile {
	name := dc.DefaultProviderProfile
	if override, ok := dc.GroupProviderProfiles[site]; ok {
		name = override
	}
	if override, ok := dc.GroupProviderProfiles[fmt.Sprintf("%s-row%d", site, row)]; ok {
		name = override
	}
	if override, ok := dc.GroupProviderProfiles[fmt.Sprintf("%s-row%d-rack%d", site, row, rack)]; ok {
		name = override
	}
	return profiles[name]
}

// Write the provider's inventories, capabilities, group memberships and
// distances to the surrounding groups.
func (l *Loader) attachProvider(
	tx inserter,
	provider catalog.Provider,
	profile ProviderProfile,
	groups []loadedGroup,
	site string, row, rack int,
	resourceTypeIDs, capabilityIDs map[string]int64,
	networkTypeID, failureTypeID int64,
) error {
	for code, inv := range profile.Inventory {
		record := inventory.Inventory{
			ProviderID:      provider.ID,
			ResourceTypeID:  resourceTypeIDs[code],
			Total:           inv.Total,
			Reserved:        inv.Reserved,
			AllocationRatio: inv.AllocationRatio,
			MinUnit:         inv.MinUnit,
			MaxUnit:         inv.MaxUnit,
			StepSize:        inv.StepSize,
			Used:            0,
			Generation:      1,
		}
		if err := tx.Insert(&record); err != nil {
			return err
		}
	}
	for _, code := range profile.Capabilities {
		record := catalog.ProviderCapability{
			ProviderID:   provider.ID,
			CapabilityID: capabilityIDs[code],
		}
		if err := tx.Insert(&record); err != nil {
			return err
		}
	}

	for _, group := range groups {
		// Membership in the own site, row and rack groups.
		member := group.site == site &&
			(group.isSite() ||
				(group.isRow() && group.row == row) ||
				(group.isRack() && group.row == row && group.rack == rack))
		if member {
			record := catalog.ProviderGroupMember{GroupID: group.id, ProviderID: provider.ID}
			if err := tx.Insert(&record); err != nil {
				return err
			}
		}

		distances := l.groupDistances(group, site, row, rack)
		for _, d := range distances {
			typeID := networkTypeID
			if d.failure {
				typeID = failureTypeID
			}
			record := catalog.ProviderDistance{
				ProviderID:     provider.ID,
				DistanceTypeID: typeID,
				GroupID:        group.id,
				Value:          d.value,
			}
			if err := tx.Insert(&record); err != nil {
				return err
			}
		}
	}
	return nil
}

type groupDistance struct {
	failure bool
	value   int64
}

// Distances from a provider at (site, row, rack) to one group. Distances
// to other sites are recorded against the site group only; within the own
// site the row and rack groups carry the finer-grained values.
func (l *Loader) groupDistances(group loadedGroup, site string, row, rack int) []groupDistance {
	if group.site != site {
		if group.isSite() {
			return []groupDistance{
				{failure: false, value: NetworkRemote},
				{failure: true, value: FailureSite},
			}
		}
		return nil
	}
	if group.isRack() {
		if group.row == row && group.rack == rack {
			return []groupDistance{
				{failure: false, value: NetworkLocal},
				{failure: true, value: FailureLocal},
			}
		}
		return nil
	}
	if group.isRow() {
		distances := []groupDistance{{failure: false, value: NetworkSite}}
		if group.row == row {
			distances = append(distances, groupDistance{failure: true, value: FailureRack})
		} else {
			distances = append(distances, groupDistance{failure: true, value: FailureRow})
		}
		return distances
	}
	return nil
}

// Create the full schema for topology, inventory and allocations.
func InitSchema(d db.DB) error {
	if err := catalog.Init(d); err != nil {
		return err
	}
	if err := inventory.Init(d); err != nil {
		return err
	}
	return placement.Init(d)
}
