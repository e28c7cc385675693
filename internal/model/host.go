package model

import "time"

type Host struct {
	ID                 int64              `json:"id"`
	StackID            int64              `json:"stack_id"`
	CloudAccountID     int64              `json:"cloud_account_id"`
	HostDefinitionID   int64              `json:"host_definition_id"`
	Hostname           string             `json:"hostname"`
	Index              int                `json:"index"`
	InstanceID         string             `json:"instance_id"`
	FQDN               string             `json:"fqdn"`
	ProviderPublicDNS  string             `json:"provider_public_dns"`
	ProviderPrivateDNS string             `json:"provider_private_dns"`
	PublicIP           string             `json:"public_ip"`
	PrivateIP          string             `json:"private_ip"`
	State              string             `json:"state"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	Size               string             `json:"size"`
	Image              string             `json:"image"`
	SubnetID           string             `json:"subnet_id"`
	SpotPrice          *float64           `json:"spot_price,omitempty"`
	Components         []FormulaComponent `json:"components"`
	SecurityGroups     []SecurityGroup    `json:"security_groups"`
	CreatedAt          time.Time          `json:"created_at"`
}

// FormulaComponent is one salt state applied to a host, in Order.
type FormulaComponent struct {
	SLSPath string `json:"sls_path"`
	Order   int    `json:"order"`
}

// Address returns the best address to reach the host over SSH.
func (h Host) Address() string {
	for _, a := range []string{h.PublicIP, h.ProviderPublicDNS, h.FQDN, h.PrivateIP} {
		if a != "" {
			return a
		}
	}
	return h.Hostname
}

// NodeInfo is the live view of a host reported by the provisioning driver.
type NodeInfo struct {
	Name       string            `json:"name"`
	InstanceID string            `json:"instance_id"`
	State      string            `json:"state"`
	PublicDNS  string            `json:"public_dns"`
	PrivateDNS string            `json:"private_dns"`
	PublicIP   string            `json:"public_ip"`
	PrivateIP  string            `json:"private_ip"`
	Volumes    map[string]string `json:"volumes"` // device -> volume id
}

// ApplyNode copies live provider data onto the host. A host is only ever
// marked running when it has an instance id.
func (h *Host) ApplyNode(n NodeInfo) {
	if n.InstanceID != "" {
		h.InstanceID = n.InstanceID
	}
	h.ProviderPublicDNS = n.PublicDNS
	h.ProviderPrivateDNS = n.PrivateDNS
	h.PublicIP = n.PublicIP
	h.PrivateIP = n.PrivateIP
	h.State = NormalizeState(n.State)
	if h.State == StateRunning && h.InstanceID == "" {
		h.State = StateUnknown
	}
}

type Volume struct {
	ID                  int64  `json:"id"`
	StackID             int64  `json:"stack_id"`
	HostID              *int64 `json:"host_id,omitempty"`
	VolumeID            string `json:"volume_id"`
	SnapshotID          string `json:"snapshot_id"`
	Device              string `json:"device"`
	MountPoint          string `json:"mount_point"`
	SizeGB              int    `json:"size_gb"`
	DeleteOnTermination bool   `json:"delete_on_termination"`
}

type SecurityGroup struct {
	ID               int64  `json:"id"`
	CloudAccountID   int64  `json:"cloud_account_id"`
	Name             string `json:"name"`
	GroupID          string `json:"group_id"`
	Description      string `json:"description"`
	HostDefinitionID *int64 `json:"host_definition_id,omitempty"`
	IsManaged        bool   `json:"is_managed"`
	IsDefault        bool   `json:"is_default"`
}

// HostSpec is a host to be created together with its volumes.
type HostSpec struct {
	Host    Host
	Volumes []Volume
}
