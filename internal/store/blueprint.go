package store

import (
	"context"
	"fmt"

	"github.com/stackdio/stackd/internal/model"
)

// GetBlueprint retrieves a blueprint with its host definitions.
func (s *Store) GetBlueprint(ctx context.Context, id int64) (*model.Blueprint, error) {
	var bp model.Blueprint
	err := s.db.QueryRow(ctx,
		`SELECT id, title, description, properties FROM blueprints WHERE id = $1`, id,
	).Scan(&bp.ID, &bp.Title, &bp.Description, &bp.Properties)
	if err != nil {
		return nil, notFound(err, "blueprint", id)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, blueprint_id, title, hostname_template, count, cloud_account_id, size, image, subnet_id, spot_price
		 FROM host_definitions WHERE blueprint_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("list host definitions for blueprint %d: %w", id, err)
	}
	defer rows.Close()

	index := make(map[int64]int)
	for rows.Next() {
		var d model.HostDefinition
		if err := rows.Scan(&d.ID, &d.BlueprintID, &d.Title, &d.HostnameTemplate, &d.Count, &d.CloudAccountID,
			&d.Size, &d.Image, &d.SubnetID, &d.SpotPrice); err != nil {
			return nil, fmt.Errorf("scan host definition: %w", err)
		}
		index[d.ID] = len(bp.HostDefinitions)
		bp.HostDefinitions = append(bp.HostDefinitions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate host definitions: %w", err)
	}
	if len(bp.HostDefinitions) == 0 {
		return &bp, nil
	}

	compRows, err := s.db.Query(ctx,
		`SELECT c.host_definition_id, c.sls_path, c.ord
		 FROM host_definition_components c JOIN host_definitions d ON d.id = c.host_definition_id
		 WHERE d.blueprint_id = $1 ORDER BY c.host_definition_id, c.ord, c.sls_path`, id)
	if err != nil {
		return nil, fmt.Errorf("list host definition components: %w", err)
	}
	defer compRows.Close()
	for compRows.Next() {
		var defID int64
		var c model.FormulaComponent
		if err := compRows.Scan(&defID, &c.SLSPath, &c.Order); err != nil {
			return nil, fmt.Errorf("scan host definition component: %w", err)
		}
		d := &bp.HostDefinitions[index[defID]]
		d.Components = append(d.Components, c)
	}
	if err := compRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate host definition components: %w", err)
	}

	sgRows, err := s.db.Query(ctx,
		`SELECT hdsg.host_definition_id, sg.id, sg.cloud_account_id, sg.name, sg.group_id, sg.description,
		        sg.host_definition_id, sg.is_managed, sg.is_default
		 FROM host_definition_security_groups hdsg
		 JOIN security_groups sg ON sg.id = hdsg.security_group_id
		 JOIN host_definitions d ON d.id = hdsg.host_definition_id
		 WHERE d.blueprint_id = $1 ORDER BY hdsg.host_definition_id, sg.name`, id)
	if err != nil {
		return nil, fmt.Errorf("list host definition security groups: %w", err)
	}
	defer sgRows.Close()
	for sgRows.Next() {
		var defID int64
		var sg model.SecurityGroup
		if err := sgRows.Scan(&defID, &sg.ID, &sg.CloudAccountID, &sg.Name, &sg.GroupID, &sg.Description,
			&sg.HostDefinitionID, &sg.IsManaged, &sg.IsDefault); err != nil {
			return nil, fmt.Errorf("scan host definition security group: %w", err)
		}
		d := &bp.HostDefinitions[index[defID]]
		d.SecurityGroups = append(d.SecurityGroups, sg)
	}
	if err := sgRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate host definition security groups: %w", err)
	}

	volRows, err := s.db.Query(ctx,
		`SELECT v.host_definition_id, v.device, v.mount_point, v.snapshot_id, v.size_gb
		 FROM host_definition_volumes v JOIN host_definitions d ON d.id = v.host_definition_id
		 WHERE d.blueprint_id = $1 ORDER BY v.host_definition_id, v.id`, id)
	if err != nil {
		return nil, fmt.Errorf("list host definition volumes: %w", err)
	}
	defer volRows.Close()
	for volRows.Next() {
		var defID int64
		var v model.VolumeSpec
		if err := volRows.Scan(&defID, &v.Device, &v.MountPoint, &v.SnapshotID, &v.SizeGB); err != nil {
			return nil, fmt.Errorf("scan host definition volume: %w", err)
		}
		d := &bp.HostDefinitions[index[defID]]
		d.Volumes = append(d.Volumes, v)
	}
	if err := volRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate host definition volumes: %w", err)
	}

	return &bp, nil
}

// GetCloudAccount retrieves a cloud account by its ID.
func (s *Store) GetCloudAccount(ctx context.Context, id int64) (*model.CloudAccount, error) {
	var a model.CloudAccount
	err := s.db.QueryRow(ctx,
		`SELECT id, title, provider, profile, region, vpc_id, create_security_groups, config
		 FROM cloud_accounts WHERE id = $1`, id,
	).Scan(&a.ID, &a.Title, &a.Provider, &a.Profile, &a.Region, &a.VPCID, &a.CreateSecurityGroups, &a.Config)
	if err != nil {
		return nil, notFound(err, "cloud account", id)
	}
	return &a, nil
}
