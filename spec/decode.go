package spec

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// DecodeDeployment unmarshals a deployment from JSON. It detects duplicate
// service names that encoding/json would silently collapse, and records
// the declaration order of services for deterministic startup ordering.
func DecodeDeployment(data []byte) (Deployment, error) {
	var raw struct {
		Name     string                     `json:"name"`
		Services map[string]json.RawMessage `json:"services"`
		Routes   []Route                    `json:"routes"`
		Gateway  *GatewaySpec               `json:"gateway"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Deployment{}, err
	}

	order, err := serviceKeyOrder(data)
	if err != nil {
		return Deployment{}, err
	}

	dep := Deployment{
		Name:     raw.Name,
		Services: make(map[string]Service, len(raw.Services)),
		Routes:   raw.Routes,
		Gateway:  raw.Gateway,
		order:    order,
	}

	for name, svcData := range raw.Services {
		var svc Service
		if err := json.Unmarshal(svcData, &svc); err != nil {
			return Deployment{}, fmt.Errorf("service %q: %w", name, err)
		}
		dep.Services[name] = svc
	}

	return dep, nil
}

// serviceKeyOrder walks the "services" object token by token, returning
// its keys in declaration order. Returns an error on duplicate keys —
// exactly one descriptor may exist per service name.
func serviceKeyOrder(data []byte) ([]string, error) {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return nil, nil // not an object — let the standard unmarshal report it
	}

	field, ok := outer["services"]
	if !ok {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(field))
	t, err := dec.Token()
	if err != nil {
		return nil, nil
	}
	if delim, ok := t.(json.Delim); !ok || delim != '{' {
		return nil, nil
	}

	var order []string
	seen := make(map[string]bool)
	for dec.More() {
		t, err := dec.Token()
		if err != nil {
			return nil, nil
		}
		key, ok := t.(string)
		if !ok {
			return nil, nil
		}
		if seen[key] {
			return nil, fmt.Errorf("duplicate service name: %q", key)
		}
		seen[key] = true
		order = append(order, key)

		var discard json.RawMessage
		if err := dec.Decode(&discard); err != nil {
			return nil, nil
		}
	}

	return order, nil
}
