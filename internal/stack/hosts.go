// Package stack renders the salt inputs of a stack: the salt-cloud map file,
// the pillar, the top file and the orchestrate file.
package stack

import (
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/stackdio/stackd/internal/model"
)

// Hostname expands a host definition's template. {namespace} and {index} are
// substituted; a template without {index} gets "-<index>" appended.
func Hostname(template, namespace string, index int) string {
	if template == "" {
		template = "{namespace}"
	}
	if !strings.Contains(template, "{index}") {
		template += "-{index}"
	}
	r := strings.NewReplacer("{namespace}", namespace, "{index}", strconv.Itoa(index))
	return strings.ToLower(r.Replace(template))
}

// HostsFromDefinition materializes count hosts of a definition, numbered from
// start.
func HostsFromDefinition(def model.HostDefinition, namespace string, start, count int) []model.HostSpec {
	specs := make([]model.HostSpec, 0, count)
	for i := start; i < start+count; i++ {
		h := model.Host{
			CloudAccountID:   def.CloudAccountID,
			HostDefinitionID: def.ID,
			Hostname:         Hostname(def.HostnameTemplate, namespace, i),
			Index:            i,
			State:            model.StateUnknown,
			Status:           model.StatusPending,
			Size:             def.Size,
			Image:            def.Image,
			SubnetID:         def.SubnetID,
			SpotPrice:        def.SpotPrice,
			Components:       append([]model.FormulaComponent(nil), def.Components...),
			SecurityGroups:   append([]model.SecurityGroup(nil), def.SecurityGroups...),
		}
		var volumes []model.Volume
		for _, v := range def.Volumes {
			volumes = append(volumes, model.Volume{
				SnapshotID: v.SnapshotID,
				Device:     v.Device,
				MountPoint: v.MountPoint,
				SizeGB:     v.SizeGB,
			})
		}
		specs = append(specs, model.HostSpec{Host: h, Volumes: volumes})
	}
	return specs
}

// HostsFromBlueprint materializes every host definition of a blueprint.
// Indexes restart at 1 for each definition.
func HostsFromBlueprint(bp *model.Blueprint, namespace string) []model.HostSpec {
	var specs []model.HostSpec
	for _, def := range bp.HostDefinitions {
		specs = append(specs, HostsFromDefinition(def, namespace, 1, def.Count)...)
	}
	return specs
}

// NextIndex returns the first free index for new hosts of a definition.
func NextIndex(hosts []model.Host, definitionID int64) int {
	next := 1
	for _, h := range hosts {
		if h.HostDefinitionID == definitionID && h.Index >= next {
			next = h.Index + 1
		}
	}
	return next
}

// Faults selects hosts for simulated failures. The zero value selects none.
type Faults struct {
	LaunchFailures bool
	SSHFailures    bool
	Zombies        bool
	Percent        int
}

// FaultsFrom extracts the fault selection from workflow options.
func FaultsFrom(o model.WorkflowOptions) Faults {
	return Faults{
		LaunchFailures: o.SimulateLaunchFailures,
		SSHFailures:    o.SimulateSSHFailures,
		Zombies:        o.SimulateZombies,
		Percent:        o.FailurePercent,
	}
}

// Selected reports whether hostname falls in the faulty percentage. The
// choice is a stable hash so every retry and worker agrees on it.
func (f Faults) Selected(hostname string) bool {
	if f.Percent <= 0 {
		return false
	}
	h := fnv.New32a()
	h.Write([]byte(hostname))
	return int(h.Sum32()%100) < f.Percent
}

func (f Faults) LaunchFailure(hostname string) bool { return f.LaunchFailures && f.Selected(hostname) }
func (f Faults) SSHFailure(hostname string) bool    { return f.SSHFailures && f.Selected(hostname) }
func (f Faults) Zombie(hostname string) bool        { return f.Zombies && f.Selected(hostname) }
