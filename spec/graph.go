package spec

import (
	"sort"
	"strings"
)

// TopologicalOrder returns service names in an order where every service
// appears after all of its dependencies. Ties are broken by declaration
// order, so the result is deterministic for a given deployment file.
//
// The computation is pure — it can be recomputed at any time. The result
// is only meaningful for a validated deployment (acyclic, all dependencies
// known); unknown dependency names are ignored here because validation has
// already rejected them.
func (d *Deployment) TopologicalOrder() []string {
	names := d.declaredNames()

	indegree := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		indegree[name] = 0
	}
	for _, name := range names {
		for _, dep := range d.Services[name].DependsOn {
			if _, ok := d.Services[dep]; !ok {
				continue
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	// position gives declaration-order tie-breaking.
	position := make(map[string]int, len(names))
	for i, name := range names {
		position[name] = i
	}

	var ready []string
	for _, name := range names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	out := make([]string, 0, len(names))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return position[ready[i]] < position[ready[j]]
		})
		next := ready[0]
		ready = ready[1:]
		out = append(out, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	return out
}

// declaredNames returns service names in declaration order, falling back
// to sorted order for deployments constructed in code rather than decoded
// from a file.
func (d *Deployment) declaredNames() []string {
	if len(d.order) == len(d.Services) {
		return d.order
	}
	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// detectCycle walks the dependency graph using DFS and returns the cycle
// path if one is found, or "" if the graph is acyclic.
func detectCycle(services map[string]Service) string {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(services))
	parent := make(map[string]string, len(services))

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	var dfs func(name string) string
	dfs = func(name string) string {
		state[name] = visiting

		deps := append([]string(nil), services[name].DependsOn...)
		sort.Strings(deps)

		for _, target := range deps {
			if _, ok := services[target]; !ok {
				continue // broken ref — caught by validation
			}

			switch state[target] {
			case visiting:
				// Found a cycle — build the path.
				path := []string{target, name}
				for cur := name; cur != target; {
					cur = parent[cur]
					path = append(path, cur)
				}
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return strings.Join(path, " → ")
			case unvisited:
				parent[target] = name
				if p := dfs(target); p != "" {
					return p
				}
			}
		}

		state[name] = visited
		return ""
	}

	for _, name := range names {
		if state[name] == unvisited {
			if p := dfs(name); p != "" {
				return p
			}
		}
	}
	return ""
}
