package cluster

import (
	"path"
	"sort"
)

// Aggregate folds per-node webapp listings into cluster-wide AppStatus
// entries keyed by context. nodes is the full node set the listings were
// taken from; a context missing on any of them is not coherent.
//
// Filters use path.Match syntax. A malformed pattern matches nothing.
func Aggregate(nodes []string, listings map[string][]NodeWebapp, appFilter, vhostFilter string) map[string]AppStatus {
	out := make(map[string]AppStatus)
	for _, node := range nodes {
		for _, w := range listings[node] {
			if !matches(appFilter, w.Context) || !matches(vhostFilter, w.VHost) {
				continue
			}
			st, ok := out[w.Context]
			if !ok {
				st = AppStatus{Context: w.Context, Nodes: make(map[string]NodeAppDetail)}
			}
			if _, seen := st.Nodes[node]; !seen {
				st.PresentOn = append(st.PresentOn, node)
			}
			st.Nodes[node] = NodeAppDetail{Path: w.Path, StateName: w.StateName}
			out[w.Context] = st
		}
	}

	for ctxName, st := range out {
		sort.Strings(st.PresentOn)
		everywhere := len(st.PresentOn) == len(nodes)

		samePath, sameState := true, true
		var p, s string
		first := true
		for _, d := range st.Nodes {
			if first {
				p, s = d.Path, d.StateName
				first = false
				continue
			}
			samePath = samePath && d.Path == p
			sameState = sameState && d.StateName == s
		}

		if everywhere && samePath {
			st.Path = p
		}
		if sameState {
			st.StateName = s
		}
		st.Coherent = everywhere && samePath && sameState
		out[ctxName] = st
	}
	return out
}

func matches(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
