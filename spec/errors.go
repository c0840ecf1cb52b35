package spec

// ConfigErrorKind classifies deployment file errors.
type ConfigErrorKind string

const (
	// KindUnknownDependency — a depends_on or route references a service
	// that does not exist.
	KindUnknownDependency ConfigErrorKind = "unknown_dependency"

	// KindCyclicDependency — the dependency graph contains a cycle.
	KindCyclicDependency ConfigErrorKind = "cyclic_dependency"

	// KindMissingEnv — a ${VAR} reference names an unset environment
	// variable.
	KindMissingEnv ConfigErrorKind = "missing_env"

	// KindAmbiguousRoute — two routes on the same port have equal
	// specificity for some request.
	KindAmbiguousRoute ConfigErrorKind = "ambiguous_route"

	// KindInvalid — any other structural error.
	KindInvalid ConfigErrorKind = "invalid"
)

// ConfigError is a fatal, load-time deployment file error. Nothing is
// started while the deployment has any.
type ConfigError struct {
	Kind ConfigErrorKind

	// Subject names the offending identity — a service name, route
	// description, or variable name — depending on Kind.
	Subject string

	// Detail is the human-readable description.
	Detail string
}

func (e *ConfigError) Error() string {
	return e.Detail
}
