package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/stackdio/stackd/internal/model"
)

const hostColumns = `id, stack_id, cloud_account_id, host_definition_id, hostname, idx, instance_id, fqdn,
	provider_public_dns, provider_private_dns, public_ip, private_ip, state, status, status_detail,
	size, image, subnet_id, spot_price, created_at`

func insertHosts(ctx context.Context, q querier, stackID int64, hosts []model.HostSpec) error {
	for i := range hosts {
		h := &hosts[i].Host
		h.StackID = stackID
		err := q.QueryRow(ctx,
			`INSERT INTO hosts (stack_id, cloud_account_id, host_definition_id, hostname, idx, state, status,
			 status_detail, size, image, subnet_id, spot_price)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 RETURNING id, created_at`,
			stackID, h.CloudAccountID, h.HostDefinitionID, h.Hostname, h.Index, h.State, h.Status,
			h.StatusDetail, h.Size, h.Image, h.SubnetID, h.SpotPrice,
		).Scan(&h.ID, &h.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert host %s: %w", h.Hostname, err)
		}

		for _, c := range h.Components {
			if _, err := q.Exec(ctx,
				`INSERT INTO host_components (host_id, sls_path, ord) VALUES ($1, $2, $3)`,
				h.ID, c.SLSPath, c.Order); err != nil {
				return fmt.Errorf("insert host %s component %s: %w", h.Hostname, c.SLSPath, err)
			}
		}
		for _, sg := range h.SecurityGroups {
			if _, err := q.Exec(ctx,
				`INSERT INTO host_security_groups (host_id, security_group_id) VALUES ($1, $2)`,
				h.ID, sg.ID); err != nil {
				return fmt.Errorf("insert host %s security group %d: %w", h.Hostname, sg.ID, err)
			}
		}

		for j := range hosts[i].Volumes {
			v := &hosts[i].Volumes[j]
			v.StackID = stackID
			hostID := h.ID
			v.HostID = &hostID
			err := q.QueryRow(ctx,
				`INSERT INTO volumes (stack_id, host_id, snapshot_id, device, mount_point, size_gb)
				 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
				stackID, h.ID, v.SnapshotID, v.Device, v.MountPoint, v.SizeGB,
			).Scan(&v.ID)
			if err != nil {
				return fmt.Errorf("insert host %s volume %s: %w", h.Hostname, v.Device, err)
			}
		}
	}
	return nil
}

// CreateHosts adds hosts and their volumes to an existing stack.
func (s *Store) CreateHosts(ctx context.Context, stackID int64, hosts []model.HostSpec) error {
	err := s.tx(ctx, func(tx pgx.Tx) error {
		return insertHosts(ctx, tx, stackID, hosts)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create hosts for stack %d: duplicate hostname: %w", stackID, model.ErrInvalidInput)
		}
		return fmt.Errorf("create hosts for stack %d: %w", stackID, err)
	}
	return nil
}

// ListHosts returns the hosts of a stack with their components and security
// groups. A nil hostIDs selects every host; an empty one selects none.
func (s *Store) ListHosts(ctx context.Context, stackID int64, hostIDs []int64) ([]model.Host, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+hostColumns+` FROM hosts
		 WHERE stack_id = $1 AND ($2::bigint[] IS NULL OR id = ANY($2))
		 ORDER BY idx, id`, stackID, hostIDs)
	if err != nil {
		return nil, fmt.Errorf("list hosts for stack %d: %w", stackID, err)
	}
	defer rows.Close()

	var hosts []model.Host
	index := make(map[int64]int)
	for rows.Next() {
		var h model.Host
		if err := rows.Scan(&h.ID, &h.StackID, &h.CloudAccountID, &h.HostDefinitionID, &h.Hostname, &h.Index,
			&h.InstanceID, &h.FQDN, &h.ProviderPublicDNS, &h.ProviderPrivateDNS, &h.PublicIP, &h.PrivateIP,
			&h.State, &h.Status, &h.StatusDetail, &h.Size, &h.Image, &h.SubnetID, &h.SpotPrice, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan host: %w", err)
		}
		index[h.ID] = len(hosts)
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate hosts: %w", err)
	}
	if len(hosts) == 0 {
		return hosts, nil
	}

	ids := make([]int64, len(hosts))
	for i, h := range hosts {
		ids[i] = h.ID
	}

	compRows, err := s.db.Query(ctx,
		`SELECT host_id, sls_path, ord FROM host_components WHERE host_id = ANY($1) ORDER BY host_id, ord, sls_path`, ids)
	if err != nil {
		return nil, fmt.Errorf("list host components: %w", err)
	}
	defer compRows.Close()
	for compRows.Next() {
		var hostID int64
		var c model.FormulaComponent
		if err := compRows.Scan(&hostID, &c.SLSPath, &c.Order); err != nil {
			return nil, fmt.Errorf("scan host component: %w", err)
		}
		h := &hosts[index[hostID]]
		h.Components = append(h.Components, c)
	}
	if err := compRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate host components: %w", err)
	}

	sgRows, err := s.db.Query(ctx,
		`SELECT hsg.host_id, sg.id, sg.cloud_account_id, sg.name, sg.group_id, sg.description,
		        sg.host_definition_id, sg.is_managed, sg.is_default
		 FROM host_security_groups hsg JOIN security_groups sg ON sg.id = hsg.security_group_id
		 WHERE hsg.host_id = ANY($1) ORDER BY hsg.host_id, sg.name`, ids)
	if err != nil {
		return nil, fmt.Errorf("list host security groups: %w", err)
	}
	defer sgRows.Close()
	for sgRows.Next() {
		var hostID int64
		var sg model.SecurityGroup
		if err := sgRows.Scan(&hostID, &sg.ID, &sg.CloudAccountID, &sg.Name, &sg.GroupID, &sg.Description,
			&sg.HostDefinitionID, &sg.IsManaged, &sg.IsDefault); err != nil {
			return nil, fmt.Errorf("scan host security group: %w", err)
		}
		h := &hosts[index[hostID]]
		h.SecurityGroups = append(h.SecurityGroups, sg)
	}
	if err := sgRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate host security groups: %w", err)
	}

	return hosts, nil
}

// UpdateHost writes the provider-facing and status fields of a host.
func (s *Store) UpdateHost(ctx context.Context, h model.Host) error {
	_, err := s.db.Exec(ctx,
		`UPDATE hosts SET instance_id = $1, fqdn = $2, provider_public_dns = $3, provider_private_dns = $4,
		 public_ip = $5, private_ip = $6, state = $7, status = $8, status_detail = $9
		 WHERE id = $10`,
		h.InstanceID, h.FQDN, h.ProviderPublicDNS, h.ProviderPrivateDNS, h.PublicIP, h.PrivateIP,
		h.State, h.Status, h.StatusDetail, h.ID)
	if err != nil {
		return fmt.Errorf("update host %d: %w", h.ID, err)
	}
	return nil
}

// DeleteHosts removes host rows of a stack. Their volumes cascade.
func (s *Store) DeleteHosts(ctx context.Context, stackID int64, hostIDs []int64) error {
	if len(hostIDs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `DELETE FROM hosts WHERE stack_id = $1 AND id = ANY($2)`, stackID, hostIDs)
	if err != nil {
		return fmt.Errorf("delete hosts of stack %d: %w", stackID, err)
	}
	return nil
}

// ListVolumes returns every volume of a stack.
func (s *Store) ListVolumes(ctx context.Context, stackID int64) ([]model.Volume, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, stack_id, host_id, volume_id, snapshot_id, device, mount_point, size_gb, delete_on_termination
		 FROM volumes WHERE stack_id = $1 ORDER BY id`, stackID)
	if err != nil {
		return nil, fmt.Errorf("list volumes for stack %d: %w", stackID, err)
	}
	defer rows.Close()

	var volumes []model.Volume
	for rows.Next() {
		var v model.Volume
		if err := rows.Scan(&v.ID, &v.StackID, &v.HostID, &v.VolumeID, &v.SnapshotID, &v.Device,
			&v.MountPoint, &v.SizeGB, &v.DeleteOnTermination); err != nil {
			return nil, fmt.Errorf("scan volume: %w", err)
		}
		volumes = append(volumes, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate volumes: %w", err)
	}
	return volumes, nil
}

// UpdateVolume writes the provider volume id, host link and delete flag.
func (s *Store) UpdateVolume(ctx context.Context, v model.Volume) error {
	_, err := s.db.Exec(ctx,
		`UPDATE volumes SET host_id = $1, volume_id = $2, delete_on_termination = $3 WHERE id = $4`,
		v.HostID, v.VolumeID, v.DeleteOnTermination, v.ID)
	if err != nil {
		return fmt.Errorf("update volume %d: %w", v.ID, err)
	}
	return nil
}

// SecurityGroupsForDeletion returns the managed security groups attached to
// the given hosts that no other live host still uses.
func (s *Store) SecurityGroupsForDeletion(ctx context.Context, hostIDs []int64) ([]model.SecurityGroup, error) {
	if len(hostIDs) == 0 {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT sg.id, sg.cloud_account_id, sg.name, sg.group_id, sg.description,
		        sg.host_definition_id, sg.is_managed, sg.is_default
		 FROM security_groups sg
		 JOIN host_security_groups hsg ON hsg.security_group_id = sg.id
		 WHERE sg.is_managed AND sg.host_definition_id IS NOT NULL AND hsg.host_id = ANY($1)
		   AND NOT EXISTS (
		     SELECT 1 FROM host_security_groups other
		     JOIN hosts h ON h.id = other.host_id
		     WHERE other.security_group_id = sg.id
		       AND NOT (other.host_id = ANY($1))
		       AND h.state <> 'terminated')
		 ORDER BY sg.id`, hostIDs)
	if err != nil {
		return nil, fmt.Errorf("list security groups for deletion: %w", err)
	}
	defer rows.Close()

	var groups []model.SecurityGroup
	for rows.Next() {
		var sg model.SecurityGroup
		if err := rows.Scan(&sg.ID, &sg.CloudAccountID, &sg.Name, &sg.GroupID, &sg.Description,
			&sg.HostDefinitionID, &sg.IsManaged, &sg.IsDefault); err != nil {
			return nil, fmt.Errorf("scan security group: %w", err)
		}
		groups = append(groups, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate security groups: %w", err)
	}
	return groups, nil
}

// DeleteSecurityGroup removes a security group row.
func (s *Store) DeleteSecurityGroup(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `DELETE FROM security_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete security group %d: %w", id, err)
	}
	return nil
}

// FindSecurityGroup returns the security group of a cloud account by name.
func (s *Store) FindSecurityGroup(ctx context.Context, cloudAccountID int64, name string) (*model.SecurityGroup, error) {
	var sg model.SecurityGroup
	err := s.db.QueryRow(ctx,
		`SELECT id, cloud_account_id, name, group_id, description, host_definition_id, is_managed, is_default
		 FROM security_groups WHERE cloud_account_id = $1 AND name = $2`, cloudAccountID, name,
	).Scan(&sg.ID, &sg.CloudAccountID, &sg.Name, &sg.GroupID, &sg.Description,
		&sg.HostDefinitionID, &sg.IsManaged, &sg.IsDefault)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("security group %q of cloud account %d: %w", name, cloudAccountID, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get security group %q: %w", name, err)
	}
	return &sg, nil
}

// CreateSecurityGroup inserts a security group and sets its ID.
func (s *Store) CreateSecurityGroup(ctx context.Context, sg *model.SecurityGroup) error {
	err := s.db.QueryRow(ctx,
		`INSERT INTO security_groups (cloud_account_id, name, group_id, description, host_definition_id,
		 is_managed, is_default)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		sg.CloudAccountID, sg.Name, sg.GroupID, sg.Description, sg.HostDefinitionID, sg.IsManaged, sg.IsDefault,
	).Scan(&sg.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: security group %q already exists", model.ErrInvalidInput, sg.Name)
		}
		return fmt.Errorf("insert security group %s: %w", sg.Name, err)
	}
	return nil
}
