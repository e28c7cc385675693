package stack

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stackdio/stackd/internal/model"
)

// File names inside a stack's working directory.
const (
	MapFile         = "stack.map"
	PillarFile      = "stack.pillar"
	TopFile         = "top.sls"
	OrchestrateFile = "orchestrate.sls"
	OrchestrateSLS  = "orchestrate"
)

// item is one key of an ordered YAML mapping.
type item struct {
	Key   string
	Value any
}

// ordered marshals as a YAML mapping that keeps insertion order.
type ordered []item

func (o ordered) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, it := range o {
		var k, v yaml.Node
		if err := k.Encode(it.Key); err != nil {
			return nil, err
		}
		if err := v.Encode(it.Value); err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &k, &v)
	}
	return n, nil
}

func marshal(v any) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// StackTarget is the compound matcher selecting every minion of a stack.
func StackTarget(stackID int64) string {
	return fmt.Sprintf("G@stack_id:%d", stackID)
}

// HostsTarget narrows StackTarget to the given hostnames. No hostnames means
// the whole stack.
func HostsTarget(stackID int64, hostnames []string) string {
	if len(hostnames) == 0 {
		return StackTarget(stackID)
	}
	return fmt.Sprintf("%s and L@%s", StackTarget(stackID), strings.Join(hostnames, ","))
}

func roleTarget(stackID int64, sls string) string {
	return fmt.Sprintf("%s and G@roles:%s", StackTarget(stackID), sls)
}

// sortedComponents returns the distinct components of hosts ordered by
// (order, sls path).
func sortedComponents(hosts []model.Host) []model.FormulaComponent {
	seen := make(map[model.FormulaComponent]bool)
	var out []model.FormulaComponent
	for _, h := range hosts {
		for _, c := range h.Components {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].SLSPath < out[j].SLSPath
	})
	return out
}

func roles(h model.Host) []string {
	cs := sortedComponents([]model.Host{h})
	rs := make([]string, 0, len(cs))
	for _, c := range cs {
		rs = append(rs, c.SLSPath)
	}
	return rs
}

// MapInput is everything the salt-cloud map file is rendered from.
type MapInput struct {
	Stack      model.Stack
	Hosts      []model.Host
	Volumes    []model.Volume
	Accounts   map[int64]model.CloudAccount
	PillarPath string
	Faults     Faults
}

// RenderMap renders the salt-cloud map file, hosts grouped by their cloud
// account's profile.
func RenderMap(in MapInput) (string, error) {
	volumes := make(map[int64][]model.Volume)
	for _, v := range in.Volumes {
		if v.HostID != nil {
			volumes[*v.HostID] = append(volumes[*v.HostID], v)
		}
	}

	profiles := make(map[string][]any)
	for _, h := range in.Hosts {
		acct, ok := in.Accounts[h.CloudAccountID]
		if !ok {
			return "", fmt.Errorf("host %s: cloud account %d not loaded", h.Hostname, h.CloudAccountID)
		}
		entry := map[string]any{
			"minion": map[string]any{
				"grains": map[string]any{
					"stack_id":          in.Stack.ID,
					"namespace":         in.Stack.Namespace,
					"roles":             roles(h),
					"stack_pillar_file": in.PillarPath,
				},
			},
		}
		if h.Size != "" {
			entry["size"] = h.Size
		}
		if h.Image != "" {
			entry["image"] = h.Image
		}
		if h.SubnetID != "" {
			entry["subnetid"] = h.SubnetID
		}
		var groups []string
		for _, sg := range h.SecurityGroups {
			if sg.GroupID != "" {
				groups = append(groups, sg.GroupID)
			}
		}
		if len(groups) > 0 {
			entry["securitygroupid"] = groups
		}
		if vs := volumes[h.ID]; len(vs) > 0 {
			list := make([]map[string]any, 0, len(vs))
			for _, v := range vs {
				m := map[string]any{"device": v.Device, "size": v.SizeGB}
				if v.SnapshotID != "" {
					m["snapshot"] = v.SnapshotID
				}
				if v.DeleteOnTermination {
					m["delete_on_termination"] = true
				}
				list = append(list, m)
			}
			entry["volumes"] = list
		}
		if h.SpotPrice != nil {
			entry["spot_config"] = map[string]any{"spot_price": fmt.Sprintf("%g", *h.SpotPrice)}
		}
		if in.Faults.Zombie(h.Hostname) {
			entry["deploy"] = false
		}
		profiles[acct.Profile] = append(profiles[acct.Profile], map[string]any{h.Hostname: entry})
	}
	return marshal(profiles)
}

// PillarInput is everything the stack pillar is rendered from.
type PillarInput struct {
	Stack      model.Stack
	Properties map[string]any
	Username   string
	PublicKey  string
	Users      []model.User
}

// RenderPillar renders the stack pillar: the blueprint properties plus the
// reserved __stackdio__ key.
func RenderPillar(in PillarInput) (string, error) {
	pillar := make(map[string]any, len(in.Properties)+1)
	for k, v := range in.Properties {
		pillar[k] = v
	}
	users := make([]map[string]any, 0, len(in.Users))
	for _, u := range in.Users {
		if u.Settings.PublicKey == "" {
			continue
		}
		users = append(users, map[string]any{
			"username":   u.Username,
			"public_key": u.Settings.PublicKey,
		})
	}
	pillar["__stackdio__"] = map[string]any{
		"stack_id":  in.Stack.ID,
		"namespace": in.Stack.Namespace,
		"username":  in.Username,
		"publickey": in.PublicKey,
		"users":     users,
	}
	return marshal(pillar)
}

// RenderTop renders the top file of the stack's salt environment.
func RenderTop(st model.Stack, hosts []model.Host) (string, error) {
	targets := ordered{
		{StackTarget(st.ID), []any{map[string]string{"match": "compound"}, "core.*"}},
	}
	for _, c := range sortedComponents(hosts) {
		targets = append(targets, item{
			roleTarget(st.ID, c.SLSPath),
			[]any{map[string]string{"match": "compound"}, c.SLSPath},
		})
	}
	return marshal(ordered{{st.Slug(), targets}})
}

// RenderOrchestrate renders the orchestrate file. Components run in order
// groups; every step requires all steps of the previous group.
func RenderOrchestrate(st model.Stack, hosts []model.Host) (string, error) {
	var (
		steps    ordered
		previous []string
		current  []string
		order    int
	)
	for i, c := range sortedComponents(hosts) {
		if i > 0 && c.Order != order {
			previous, current = current, nil
		}
		order = c.Order

		id := fmt.Sprintf("%d-%s", c.Order, c.SLSPath)
		args := []any{
			map[string]any{"tgt": roleTarget(st.ID, c.SLSPath)},
			map[string]any{"tgt_type": "compound"},
			map[string]any{"sls": []string{c.SLSPath}},
			map[string]any{"saltenv": st.Slug()},
		}
		if len(previous) > 0 {
			req := make([]map[string]string, 0, len(previous))
			for _, p := range previous {
				req = append(req, map[string]string{"salt": p})
			}
			args = append(args, map[string]any{"require": req})
		}
		steps = append(steps, item{id, map[string]any{"salt.state": args}})
		current = append(current, id)
	}
	if len(steps) == 0 {
		return "{}\n", nil
	}
	return marshal(steps)
}
