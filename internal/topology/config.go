// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cobaltcore-dev/reservoir/internal/placement"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Physical layout of a deployment: sites containing rows of racks of
// provider nodes.
type Layout struct {
	Sites        []string `yaml:"sites"`
	RowsPerSite  int      `yaml:"rows_per_site"`
	RacksPerRow  int      `yaml:"racks_per_row"`
	NodesPerRack int      `yaml:"nodes_per_rack"`
}

// Declarative description of a whole deployment topology.
type DeploymentConfig struct {
	Layout Layout `yaml:"layout"`
	// Partitions of the deployment. Defaults to a single "part0".
	Partitions []string `yaml:"partitions,omitempty"`
	// Profile used for providers whose group has no specific profile.
	DefaultProviderProfile string `yaml:"default_provider_profile"`
	// Overrides, keyed by provider group name (site, row or rack).
	GroupProviderProfiles map[string]string `yaml:"group_provider_profiles,omitempty"`
}

// Inventory a provider profile grants for one resource type.
type InventoryProfile struct {
	Total           int64   `yaml:"total"`
	Reserved        int64   `yaml:"reserved"`
	MinUnit         int64   `yaml:"min_unit"`
	MaxUnit         int64   `yaml:"max_unit"`
	StepSize        int64   `yaml:"step_size"`
	AllocationRatio float64 `yaml:"allocation_ratio"`
}

// Inventory and capabilities shared by all providers using the profile.
type ProviderProfile struct {
	Name         string                      `yaml:"-"`
	Capabilities []string                    `yaml:"capabilities,omitempty"`
	Inventory    map[string]InventoryProfile `yaml:"inventory"`
}

// Load a deployment config from a yaml file.
func LoadDeploymentConfig(path string) (DeploymentConfig, error) {
	var dc DeploymentConfig
	content, err := os.ReadFile(withYamlExt(path))
	if err != nil {
		return dc, fmt.Errorf("failed to read deployment config: %w", err)
	}
	if err := yaml.Unmarshal(content, &dc); err != nil {
		return dc, fmt.Errorf("failed to parse deployment config: %w", err)
	}
	if len(dc.Partitions) == 0 {
		dc.Partitions = []string{"part0"}
	}
	if dc.DefaultProviderProfile == "" {
		return dc, fmt.Errorf("deployment config has no default_provider_profile")
	}
	return dc, nil
}

// Load a provider profile from a yaml file. Unset inventory fields get
// the usual defaults: min_unit 1, max_unit total, step_size 1, ratio 1.0.
func LoadProviderProfile(path string) (ProviderProfile, error) {
	var p ProviderProfile
	path = withYamlExt(path)
	content, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read provider profile: %w", err)
	}
	if err := yaml.Unmarshal(content, &p); err != nil {
		return p, fmt.Errorf("failed to parse provider profile: %w", err)
	}
	p.Name = strings.TrimSuffix(filepath.Base(path), ".yaml")
	for code, inv := range p.Inventory {
		if inv.MinUnit == 0 {
			inv.MinUnit = 1
		}
		if inv.MaxUnit == 0 {
			inv.MaxUnit = inv.Total
		}
		if inv.StepSize == 0 {
			inv.StepSize = 1
		}
		if inv.AllocationRatio == 0 {
			inv.AllocationRatio = 1.0
		}
		p.Inventory[code] = inv
	}
	return p, nil
}

// Load all provider profiles from a directory of yaml files.
func LoadProviderProfiles(dir string) (map[string]ProviderProfile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read provider profiles dir: %w", err)
	}
	profiles := map[string]ProviderProfile{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		profile, err := LoadProviderProfile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		profiles[profile.Name] = profile
	}
	return profiles, nil
}

// Declarative claim request: resource amounts plus constraints on the
// provider combination.
type ClaimConfig struct {
	// Amounts per resource type code. Min defaults to max and vice versa.
	Resources map[string]ResourceRequest `yaml:"resources"`
	// Capability blocks applying to every resource constraint.
	Capabilities []placement.CapabilityConstraint `yaml:"capabilities,omitempty"`
	// Restrict all providers of a claim to one partition.
	SamePartition bool `yaml:"same_partition,omitempty"`
	// Distance bounds over the chosen provider combination.
	Distances []placement.DistanceConstraint `yaml:"distances,omitempty"`
}

type ResourceRequest struct {
	Min *int64 `yaml:"min,omitempty"`
	Max *int64 `yaml:"max,omitempty"`
}

// Load a claim config and turn it into a claim request for the given
// consumer. Constraint order follows the sorted resource type codes so
// repeated loads produce the same request.
func LoadClaimConfig(path, consumerUUID, consumerName string) (placement.ClaimRequest, error) {
	var req placement.ClaimRequest
	content, err := os.ReadFile(withYamlExt(path))
	if err != nil {
		return req, fmt.Errorf("failed to read claim config: %w", err)
	}
	var cc ClaimConfig
	if err := yaml.Unmarshal(content, &cc); err != nil {
		return req, fmt.Errorf("failed to parse claim config: %w", err)
	}

	// Group-level capability blocks are merged and attached to every
	// resource constraint.
	var caps *placement.CapabilityConstraint
	if len(cc.Capabilities) > 0 {
		merged := placement.CapabilityConstraint{}
		for _, block := range cc.Capabilities {
			merged.Require = append(merged.Require, block.Require...)
			merged.Forbid = append(merged.Forbid, block.Forbid...)
			merged.Any = append(merged.Any, block.Any...)
		}
		caps = &merged
	}

	codes := make([]string, 0, len(cc.Resources))
	for code := range cc.Resources {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		rr := cc.Resources[code]
		if rr.Min == nil && rr.Max == nil {
			return req, fmt.Errorf("resource %q has neither min nor max", code)
		}
		if rr.Min == nil {
			rr.Min = rr.Max
		}
		if rr.Max == nil {
			rr.Max = rr.Min
		}
		req.Constraints = append(req.Constraints, placement.ResourceConstraint{
			ResourceType: code,
			MinAmount:    *rr.Min,
			MaxAmount:    *rr.Max,
			Capabilities: caps,
		})
	}

	if consumerUUID == "" {
		consumerUUID = uuid.NewString()
	}
	req.ConsumerUUID = consumerUUID
	req.ConsumerName = consumerName
	req.SamePartition = cc.SamePartition
	req.Distances = cc.Distances
	return req, nil
}

func withYamlExt(path string) string {
	if strings.HasSuffix(path, ".yaml") {
		return path
	}
	return path + ".yaml"
}
