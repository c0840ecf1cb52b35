package spec

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

// KnownServiceTypes is the set of service types built into moord.
var KnownServiceTypes = map[string]bool{
	"process":   true,
	"container": true,
}

// Load decodes a deployment file, substitutes ${VAR} references against
// lookupEnv, fills in defaults, and validates. The returned error joins
// every *ConfigError found so the user can fix them in one pass. Nothing
// should be started while Load returns an error.
//
// Pass os.LookupEnv as lookupEnv outside of tests.
func Load(data []byte, lookupEnv func(string) (string, bool)) (Deployment, error) {
	dep, err := DecodeDeployment(data)
	if err != nil {
		return Deployment{}, &ConfigError{Kind: KindInvalid, Detail: err.Error()}
	}

	var cerrs []*ConfigError

	cerrs = append(cerrs, substitute(&dep, lookupEnv)...)
	ResolveDefaults(&dep)
	cerrs = append(cerrs, Validate(&dep)...)

	if len(cerrs) > 0 {
		errs := make([]error, len(cerrs))
		for i, e := range cerrs {
			errs[i] = e
		}
		return Deployment{}, errors.Join(errs...)
	}

	return dep, nil
}

// ResolveDefaults fills in default values on the deployment.
func ResolveDefaults(d *Deployment) {
	for name, svc := range d.Services {
		if svc.Protocol == "" {
			svc.Protocol = HTTP
		}
		if svc.Restart == "" {
			svc.Restart = RestartNever
		}
		d.Services[name] = svc
	}
	for i, r := range d.Routes {
		if r.PathPrefix == "" {
			r.PathPrefix = "/"
		}
		if r.Protocol == "" {
			r.Protocol = HTTP
		}
		d.Routes[i] = r
	}
}

// substitute expands ${VAR} references in route host patterns and mount
// sources. An unset variable is a config error — the deployment must not
// come up with a silently empty hostname or path.
func substitute(d *Deployment, lookupEnv func(string) (string, bool)) []*ConfigError {
	var cerrs []*ConfigError

	expand := func(s, context string) string {
		var missing []string
		out := os.Expand(s, func(key string) string {
			if v, ok := lookupEnv(key); ok {
				return v
			}
			missing = append(missing, key)
			return ""
		})
		for _, key := range missing {
			cerrs = append(cerrs, &ConfigError{
				Kind:    KindMissingEnv,
				Subject: key,
				Detail:  fmt.Sprintf("%s: environment variable %q is not set", context, key),
			})
		}
		return out
	}

	for i, r := range d.Routes {
		if strings.Contains(r.Host, "$") {
			d.Routes[i].Host = expand(r.Host, fmt.Sprintf("route %d (port %d)", i, r.Port))
		}
	}
	for name, svc := range d.Services {
		for j, m := range svc.Mounts {
			if strings.Contains(m.Source, "$") {
				svc.Mounts[j].Source = expand(m.Source, fmt.Sprintf("service %q mount %d", name, j))
			}
		}
		d.Services[name] = svc
	}

	return cerrs
}

// Validate checks a deployment for structural errors. Returns all errors
// found, not just the first.
func Validate(d *Deployment) []*ConfigError {
	var cerrs []*ConfigError

	invalid := func(subject, format string, args ...any) {
		cerrs = append(cerrs, &ConfigError{
			Kind:    KindInvalid,
			Subject: subject,
			Detail:  fmt.Sprintf(format, args...),
		})
	}

	if d.Name == "" {
		invalid("", "deployment name is required")
	}
	if len(d.Services) == 0 {
		invalid("", "deployment must have at least one service")
	}

	// Sort service names for deterministic error ordering.
	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := d.Services[name]

		if svc.Type == "" {
			invalid(name, "service %q: type is required", name)
		} else if !KnownServiceTypes[svc.Type] {
			invalid(name, "service %q: unknown type %q", name, svc.Type)
		}
		if !svc.Protocol.Valid() {
			invalid(name, "service %q: invalid protocol %q (must be one of: tcp, http, grpc)", name, svc.Protocol)
		}
		if !svc.Restart.Valid() {
			invalid(name, "service %q: invalid restart policy %q (must be one of: never, on-failure, unless-stopped)", name, svc.Restart)
		}
		if svc.Port < 0 || svc.Port > 65535 {
			invalid(name, "service %q: port %d out of range", name, svc.Port)
		}

		for _, dep := range svc.DependsOn {
			if dep == name {
				invalid(name, "service %q: cannot depend on itself", name)
				continue
			}
			if _, ok := d.Services[dep]; !ok {
				msg := fmt.Sprintf("service %q: depends on unknown service %q", name, dep)
				if suggestion := closestMatch(dep, d.Services); suggestion != "" {
					msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
				}
				cerrs = append(cerrs, &ConfigError{
					Kind:    KindUnknownDependency,
					Subject: dep,
					Detail:  msg,
				})
			}
		}

		for j, m := range svc.Mounts {
			if m.Source == "" {
				invalid(name, "service %q mount %d: source is required", name, j)
			}
			if svc.Type == "container" && m.Target == "" {
				invalid(name, "service %q mount %d: target is required for container services", name, j)
			}
		}
	}

	if path := detectCycle(d.Services); path != "" {
		cerrs = append(cerrs, &ConfigError{
			Kind:    KindCyclicDependency,
			Subject: path,
			Detail:  fmt.Sprintf("dependency cycle: %s", path),
		})
	}

	cerrs = append(cerrs, validateRoutes(d)...)

	return cerrs
}

// validateRoutes checks route targets, per-port consistency, and match
// ambiguity. Ambiguity is a load-time error so request resolution never
// has to pick between equally specific rules.
func validateRoutes(d *Deployment) []*ConfigError {
	var cerrs []*ConfigError

	type portInfo struct {
		tls    *bool
		tcp    bool
		routes int
	}
	ports := make(map[int]*portInfo)
	seen := make(map[string]int) // port/host/prefix → route index

	for i, r := range d.Routes {
		desc := fmt.Sprintf("route %d (port %d, service %q)", i, r.Port, r.Service)

		if r.Port <= 0 || r.Port > 65535 {
			cerrs = append(cerrs, &ConfigError{
				Kind: KindInvalid, Subject: desc,
				Detail: fmt.Sprintf("%s: port %d out of range", desc, r.Port),
			})
			continue
		}
		if r.Service == "" {
			cerrs = append(cerrs, &ConfigError{
				Kind: KindInvalid, Subject: desc,
				Detail: desc + ": service is required",
			})
		} else if _, ok := d.Services[r.Service]; !ok {
			msg := fmt.Sprintf("%s: targets unknown service %q", desc, r.Service)
			if suggestion := closestMatch(r.Service, d.Services); suggestion != "" {
				msg += fmt.Sprintf(" (did you mean %q?)", suggestion)
			}
			cerrs = append(cerrs, &ConfigError{
				Kind: KindUnknownDependency, Subject: r.Service, Detail: msg,
			})
		}
		if !r.Protocol.Valid() {
			cerrs = append(cerrs, &ConfigError{
				Kind: KindInvalid, Subject: desc,
				Detail: fmt.Sprintf("%s: invalid protocol %q", desc, r.Protocol),
			})
		}
		if r.TLS && (d.Gateway == nil || d.Gateway.ACME == nil) {
			cerrs = append(cerrs, &ConfigError{
				Kind: KindInvalid, Subject: desc,
				Detail: desc + ": tls requires gateway.acme configuration",
			})
		}

		info := ports[r.Port]
		if info == nil {
			info = &portInfo{}
			ports[r.Port] = info
		}
		info.routes++
		if r.Protocol == TCP {
			info.tcp = true
		}
		if info.tls == nil {
			tls := r.TLS
			info.tls = &tls
		} else if *info.tls != r.TLS {
			cerrs = append(cerrs, &ConfigError{
				Kind: KindInvalid, Subject: desc,
				Detail: fmt.Sprintf("%s: routes on port %d disagree on tls", desc, r.Port),
			})
		}

		// Normalize before comparing: resolution matches hosts
		// case-insensitively and prefixes on segment boundaries, so
		// "/api" vs "/api/" (or "API.x" vs "api.x") match the same
		// requests and must be flagged as duplicates too.
		prefix := strings.TrimSuffix(r.PathPrefix, "/")
		if prefix == "" {
			prefix = "/"
		}
		key := fmt.Sprintf("%d/%s %s", r.Port, strings.ToLower(r.Host), prefix)
		if prev, ok := seen[key]; ok {
			cerrs = append(cerrs, &ConfigError{
				Kind:    KindAmbiguousRoute,
				Subject: desc,
				Detail: fmt.Sprintf(
					"%s: equally specific as route %d (host %q, path prefix %q) — at most one rule may match a request",
					desc, prev, r.Host, r.PathPrefix,
				),
			})
		} else {
			seen[key] = i
		}
	}

	for port, info := range ports {
		if info.tcp && info.routes > 1 {
			cerrs = append(cerrs, &ConfigError{
				Kind:    KindInvalid,
				Subject: fmt.Sprintf("port %d", port),
				Detail:  fmt.Sprintf("port %d: a tcp route must be the only route on its port", port),
			})
		}
	}

	return cerrs
}

// closestMatch returns the service name closest to target using simple
// edit distance, or "" if no name is close enough.
func closestMatch(target string, services map[string]Service) string {
	best := ""
	bestDist := len(target)/2 + 1 // threshold: must be within half the length

	for name := range services {
		d := editDistance(target, name)
		if d < bestDist {
			bestDist = d
			best = name
		}
	}
	return best
}

func editDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
