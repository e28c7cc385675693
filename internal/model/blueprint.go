package model

type Blueprint struct {
	ID              int64            `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Properties      map[string]any   `json:"properties"`
	HostDefinitions []HostDefinition `json:"host_definitions"`
}

// HostDefinition describes Count identical hosts of a blueprint.
type HostDefinition struct {
	ID               int64              `json:"id"`
	BlueprintID      int64              `json:"blueprint_id"`
	Title            string             `json:"title"`
	HostnameTemplate string             `json:"hostname_template"`
	Count            int                `json:"count"`
	CloudAccountID   int64              `json:"cloud_account_id"`
	Size             string             `json:"size"`
	Image            string             `json:"image"`
	SubnetID         string             `json:"subnet_id"`
	SpotPrice        *float64           `json:"spot_price,omitempty"`
	Components       []FormulaComponent `json:"components"`
	SecurityGroups   []SecurityGroup    `json:"security_groups"`
	Volumes          []VolumeSpec       `json:"volumes"`
}

type VolumeSpec struct {
	Device     string `json:"device"`
	MountPoint string `json:"mount_point"`
	SnapshotID string `json:"snapshot_id"`
	SizeGB     int    `json:"size_gb"`
}

// HostDefinition returns the definition with the given id.
func (b *Blueprint) HostDefinition(id int64) (HostDefinition, bool) {
	for _, d := range b.HostDefinitions {
		if d.ID == id {
			return d, true
		}
	}
	return HostDefinition{}, false
}

// CloudAccount binds a provider driver to salt-cloud provider/profile config.
type CloudAccount struct {
	ID                   int64             `json:"id"`
	Title                string            `json:"title"`
	Provider             string            `json:"provider"`
	Profile              string            `json:"profile"`
	Region               string            `json:"region"`
	VPCID                string            `json:"vpc_id"`
	CreateSecurityGroups bool              `json:"create_security_groups"`
	Config               map[string]string `json:"config"`
}
