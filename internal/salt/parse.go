package salt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stackdio/stackd/internal/model"
)

// LaunchReport is the per-node outcome of a salt-cloud map run.
type LaunchReport struct {
	Launched []string
	Failed   map[string]string
}

// StateReport collects per-minion failures of a state run. Minions holds
// every minion that returned.
type StateReport struct {
	Minions  []string
	Failures map[string][]string
}

// OK reports whether every returned minion succeeded.
func (r *StateReport) OK() bool { return len(r.Failures) == 0 }

// Summary is a one-line description of the failures.
func (r *StateReport) Summary() string {
	hosts := make([]string, 0, len(r.Failures))
	for h := range r.Failures {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	parts := make([]string, 0, len(hosts))
	for _, h := range hosts {
		parts = append(parts, fmt.Sprintf("%s: %s", h, strings.Join(r.Failures[h], "; ")))
	}
	return strings.Join(parts, " | ")
}

// ExpectMinions records a failure for every name that did not return.
func (r *StateReport) ExpectMinions(names []string) {
	returned := make(map[string]bool, len(r.Minions))
	for _, m := range r.Minions {
		returned[m] = true
	}
	for _, name := range names {
		if !returned[name] {
			r.fail(name, "minion did not return")
		}
	}
}

func (r *StateReport) fail(minion, msg string) {
	if r.Failures == nil {
		r.Failures = make(map[string][]string)
	}
	r.Failures[minion] = append(r.Failures[minion], msg)
}

// decodeObject decodes the JSON object in out, skipping any log noise salt
// prints around it.
func decodeObject(out []byte) (map[string]json.RawMessage, error) {
	start := bytes.IndexByte(out, '{')
	end := bytes.LastIndexByte(out, '}')
	if start < 0 || end < start {
		return nil, fmt.Errorf("salt output is not a JSON object: %q", truncate(out))
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(out[start:end+1], &obj); err != nil {
		return nil, fmt.Errorf("decode salt output: %w", err)
	}
	return obj, nil
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParseLaunch parses `salt-cloud -m --out=json` output.
func ParseLaunch(out []byte) (*LaunchReport, error) {
	obj, err := decodeObject(out)
	if err != nil {
		return nil, err
	}
	report := &LaunchReport{Failed: make(map[string]string)}
	for _, host := range sortedKeys(obj) {
		var data map[string]any
		if err := json.Unmarshal(obj[host], &data); err != nil {
			var msg string
			_ = json.Unmarshal(obj[host], &msg)
			if strings.Contains(strings.ToLower(msg), "error") {
				report.Failed[host] = msg
				continue
			}
			report.Launched = append(report.Launched, host)
			continue
		}
		if msg, ok := firstString(data, "Error", "error"); ok {
			report.Failed[host] = msg
			continue
		}
		if nested, ok := data["Error"].(map[string]any); ok {
			b, _ := json.Marshal(nested)
			report.Failed[host] = string(b)
			continue
		}
		report.Launched = append(report.Launched, host)
	}
	return report, nil
}

// ParseQuery parses `salt-cloud -Q --out=json` output, which nests nodes
// under provider alias and driver.
func ParseQuery(out []byte) (map[string]model.NodeInfo, error) {
	obj, err := decodeObject(out)
	if err != nil {
		return nil, err
	}
	nodes := make(map[string]model.NodeInfo)
	for _, alias := range obj {
		var drivers map[string]map[string]json.RawMessage
		if err := json.Unmarshal(alias, &drivers); err != nil {
			continue
		}
		for _, hosts := range drivers {
			for name, raw := range hosts {
				var data map[string]any
				if err := json.Unmarshal(raw, &data); err != nil {
					// "Absent" and similar markers
					continue
				}
				nodes[name] = nodeInfo(name, data)
			}
		}
	}
	return nodes, nil
}

func nodeInfo(name string, data map[string]any) model.NodeInfo {
	n := model.NodeInfo{Name: name, Volumes: map[string]string{}}
	n.InstanceID, _ = firstString(data, "instanceId", "id")
	switch s := data["state"].(type) {
	case string:
		n.State = s
	case map[string]any:
		n.State, _ = firstString(s, "name")
	}
	n.PublicIP = firstAddress(data, "public_ips", "ipAddress")
	n.PrivateIP = firstAddress(data, "private_ips", "privateIpAddress")
	n.PublicDNS, _ = firstString(data, "dnsName", "public_dns")
	n.PrivateDNS, _ = firstString(data, "privateDnsName", "private_dns")

	if bdm, ok := data["blockDeviceMapping"].(map[string]any); ok {
		var items []any
		switch it := bdm["item"].(type) {
		case []any:
			items = it
		case map[string]any:
			items = []any{it}
		}
		for _, raw := range items {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			dev, _ := firstString(m, "deviceName")
			ebs, _ := m["ebs"].(map[string]any)
			vol, _ := firstString(ebs, "volumeId")
			if dev != "" && vol != "" {
				n.Volumes[dev] = vol
			}
		}
	}
	return n
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func firstAddress(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case []any:
			for _, a := range v {
				if s, ok := a.(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}

// ParsePing parses `salt test.ping --static --out=json` output.
func ParsePing(out []byte) (map[string]bool, error) {
	obj, err := decodeObject(out)
	if err != nil {
		return nil, err
	}
	result := make(map[string]bool, len(obj))
	for minion, raw := range obj {
		var ok bool
		result[minion] = json.Unmarshal(raw, &ok) == nil && ok
	}
	return result, nil
}

// ParseSync parses `salt saltutil.sync_all` output. A minion returning a
// string instead of a module map failed.
func ParseSync(out []byte) (*StateReport, error) {
	obj, err := decodeObject(out)
	if err != nil {
		return nil, err
	}
	report := &StateReport{}
	for _, minion := range sortedKeys(obj) {
		report.Minions = append(report.Minions, minion)
		var modules map[string]any
		if err := json.Unmarshal(obj[minion], &modules); err != nil {
			report.fail(minion, rawMessage(obj[minion]))
		}
	}
	return report, nil
}

type stateResult struct {
	Result  *bool  `json:"result"`
	Comment any    `json:"comment"`
	Name    string `json:"name"`
}

// ParseState parses `salt state.* --static --out=json` output. A minion
// returning a list or string instead of state results hit a render error.
func ParseState(out []byte) (*StateReport, error) {
	obj, err := decodeObject(out)
	if err != nil {
		return nil, err
	}
	report := &StateReport{}
	for _, minion := range sortedKeys(obj) {
		report.Minions = append(report.Minions, minion)
		collectStates(report, minion, obj[minion])
	}
	return report, nil
}

func collectStates(report *StateReport, minion string, raw json.RawMessage) {
	var states map[string]stateResult
	if err := json.Unmarshal(raw, &states); err != nil {
		report.fail(minion, rawMessage(raw))
		return
	}
	for _, id := range sortedKeys(states) {
		st := states[id]
		if st.Result != nil && !*st.Result {
			report.fail(minion, fmt.Sprintf("%s: %s", stateName(id, st), comment(st.Comment)))
		}
	}
}

// ParseOrchestrate parses `salt-run state.orchestrate --out=json` output.
func ParseOrchestrate(out []byte) (*StateReport, error) {
	obj, err := decodeObject(out)
	if err != nil {
		return nil, err
	}
	if data, ok := obj["data"]; ok {
		inner, err := decodeObject(data)
		if err != nil {
			return nil, err
		}
		obj = inner
	}
	report := &StateReport{}
	for _, master := range sortedKeys(obj) {
		report.Minions = append(report.Minions, master)
		collectStates(report, master, obj[master])
	}
	return report, nil
}

// stateName turns a state id such as "pkg_|-java_|-openjdk_|-installed" into
// "pkg.installed java".
func stateName(id string, st stateResult) string {
	parts := strings.Split(id, "_|-")
	if len(parts) == 4 {
		return fmt.Sprintf("%s.%s %s", parts[0], parts[3], parts[1])
	}
	if st.Name != "" {
		return st.Name
	}
	return id
}

func comment(c any) string {
	switch v := c.(type) {
	case string:
		return v
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, "; ")
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func rawMessage(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var list []any
	if json.Unmarshal(raw, &list) == nil {
		return comment(list)
	}
	return truncate(raw)
}
