package main

import (
	"strings"
	"testing"
	"time"
)

func TestRenderStatus(t *testing.T) {
	colorEnabled = false

	dep := &resolvedDeployment{
		Name: "demo",
		Services: map[string]resolvedService{
			"api": {
				State:    "running",
				Restarts: 2,
				Endpoint: &struct {
					Host     string `json:"host"`
					Port     int    `json:"port"`
					Protocol string `json:"protocol"`
				}{Host: "127.0.0.1", Port: 9001, Protocol: "http"},
			},
			"worker": {State: "failed"},
		},
	}

	var b strings.Builder
	renderStatus(&b, dep)
	out := b.String()

	for _, want := range []string{
		"demo",
		"SERVICE", "STATE", "ENDPOINT", "RESTARTS",
		"api", "running", "http://127.0.0.1:9001", "2",
		"worker", "failed", "-",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	// Services render in sorted order.
	if strings.Index(out, "api") > strings.Index(out, "worker") {
		t.Errorf("expected api before worker:\n%s", out)
	}
}

func TestRenderLogs_AlignsServiceNames(t *testing.T) {
	colorEnabled = false

	rows := []logRow{
		{Time: "0.000s", Service: "api", Stream: "stdout", Data: "listening"},
		{Time: "0.120s", Service: "git-server", Stream: "stderr", Data: "ready"},
	}
	idx := map[string]int{"api": 0, "git-server": 1}

	var b strings.Builder
	renderLogs(&b, rows, idx, len("git-server"))

	lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	// Both data columns start at the same offset.
	if strings.Index(lines[0], "listening") != strings.Index(lines[1], "ready") {
		t.Errorf("log columns not aligned:\n%s", b.String())
	}
}

func TestFormatEvent(t *testing.T) {
	colorEnabled = false

	ev := apiEvent{
		Type:      "service.restarting",
		Service:   "api",
		Attempt:   3,
		Delay:     "2s",
		Timestamp: time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC),
	}
	out := formatEvent(ev)

	for _, want := range []string{"service.restarting", "api", "attempt=3", "delay=2s"} {
		if !strings.Contains(out, want) {
			t.Errorf("formatEvent missing %q: %s", want, out)
		}
	}
}
