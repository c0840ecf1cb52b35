package gateway

import (
	"testing"

	"github.com/matgreaves/moor/spec"
)

func TestResolve_HostPrecedence(t *testing.T) {
	table := NewRouteTable([]spec.Route{
		{Port: 443, Service: "fallback"},
		{Port: 443, Host: "*.example.com", Service: "wildcard"},
		{Port: 443, Host: "git.example.com", Service: "exact"},
	})

	tests := []struct {
		host string
		want string
	}{
		{"git.example.com", "exact"},
		{"api.example.com", "wildcard"},
		{"other.net", "fallback"},
	}
	for _, tt := range tests {
		route, ok := table.Resolve(443, tt.host, "/")
		if !ok {
			t.Fatalf("Resolve(%q): no route", tt.host)
		}
		if route.Service != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.host, route.Service, tt.want)
		}
	}
}

func TestResolve_LongestPrefixWins(t *testing.T) {
	table := NewRouteTable([]spec.Route{
		{Port: 80, PathPrefix: "/", Service: "web"},
		{Port: 80, PathPrefix: "/api", Service: "api"},
		{Port: 80, PathPrefix: "/api/admin", Service: "admin"},
	})

	tests := []struct {
		path string
		want string
	}{
		{"/", "web"},
		{"/index.html", "web"},
		{"/api", "api"},
		{"/api/v1/users", "api"},
		{"/api/admin/keys", "admin"},
		{"/apiary", "web"}, // prefix matches whole segments only
	}
	for _, tt := range tests {
		route, ok := table.Resolve(80, "anything", tt.path)
		if !ok {
			t.Fatalf("Resolve(%q): no route", tt.path)
		}
		if route.Service != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.path, route.Service, tt.want)
		}
	}
}

func TestResolve_HostBeatsPrefix(t *testing.T) {
	// Host specificity is compared before prefix length.
	table := NewRouteTable([]spec.Route{
		{Port: 80, PathPrefix: "/api/deep/prefix", Service: "any-host"},
		{Port: 80, Host: "api.example.com", PathPrefix: "/", Service: "exact-host"},
	})

	route, ok := table.Resolve(80, "api.example.com", "/api/deep/prefix/x")
	if !ok {
		t.Fatal("no route")
	}
	if route.Service != "exact-host" {
		t.Errorf("got %q, want exact-host", route.Service)
	}
}

func TestResolve_WildcardMatchesOneLabel(t *testing.T) {
	table := NewRouteTable([]spec.Route{
		{Port: 443, Host: "*.example.com", Service: "wildcard"},
	})

	if _, ok := table.Resolve(443, "example.com", "/"); ok {
		t.Error("wildcard must not match the bare domain")
	}
	if _, ok := table.Resolve(443, "a.b.example.com", "/"); ok {
		t.Error("wildcard must not match two labels")
	}
	if _, ok := table.Resolve(443, "git.example.com", "/"); !ok {
		t.Error("wildcard should match one label")
	}
}

func TestResolve_StripsHostPort(t *testing.T) {
	table := NewRouteTable([]spec.Route{
		{Port: 8080, Host: "example.com", Service: "web"},
	})

	route, ok := table.Resolve(8080, "example.com:8080", "/")
	if !ok {
		t.Fatal("no route")
	}
	if route.Service != "web" {
		t.Errorf("got %q, want web", route.Service)
	}
}

func TestResolve_NoMatch(t *testing.T) {
	table := NewRouteTable([]spec.Route{
		{Port: 80, Host: "example.com", Service: "web"},
	})

	if _, ok := table.Resolve(80, "other.com", "/"); ok {
		t.Error("expected no route for unmatched host")
	}
	if _, ok := table.Resolve(9999, "example.com", "/"); ok {
		t.Error("expected no route for unknown port")
	}
}
