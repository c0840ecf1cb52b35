package server

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/matgreaves/moor/spec"
)

// BuildServiceEnv builds the environment variable map for a service's
// start phase:
//   - MOOR_SERVICE: the service's own name
//   - HOST/PORT/ADDR: the service's own loopback endpoint
//   - <DEP>_HOST/<DEP>_PORT/<DEP>_ADDR: one set per dependency,
//     prefixed by the dependency name
//   - MOOR_MOUNT_<n>: mount source paths, in declaration order
//
// Services do not need to know about moord: they bind the address in
// PORT and reach their dependencies through the prefixed vars.
func BuildServiceEnv(
	serviceName string,
	endpoint spec.Endpoint,
	dependencies map[string]spec.Endpoint,
	mounts []spec.Mount,
) map[string]string {
	env := make(map[string]string)

	env["MOOR_SERVICE"] = serviceName

	env["HOST"] = endpoint.Host
	env["PORT"] = strconv.Itoa(endpoint.Port)
	env["ADDR"] = endpoint.Addr()

	for name, ep := range dependencies {
		prefix := toEnvPrefix(name)
		env[prefix+"HOST"] = ep.Host
		env[prefix+"PORT"] = strconv.Itoa(ep.Port)
		env[prefix+"ADDR"] = ep.Addr()
	}

	for i, m := range mounts {
		env[fmt.Sprintf("MOOR_MOUNT_%d", i)] = m.Source
	}

	return env
}

// toEnvPrefix converts a service name to an environment variable prefix.
// Hyphens are replaced with underscores and the result is uppercased
// with a trailing underscore. e.g. "git-server" → "GIT_SERVER_".
func toEnvPrefix(name string) string {
	s := strings.ToUpper(name)
	s = strings.ReplaceAll(s, "-", "_")
	return s + "_"
}

// ExpandTemplates expands $VAR and ${VAR} references in a list of
// strings against the given attribute map.
func ExpandTemplates(templates []string, attrs map[string]string) []string {
	if len(templates) == 0 {
		return nil
	}
	result := make([]string, len(templates))
	for i, tmpl := range templates {
		result[i] = os.Expand(tmpl, func(key string) string {
			return attrs[key]
		})
	}
	return result
}
