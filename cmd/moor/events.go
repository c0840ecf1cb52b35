package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// runEvents streams lifecycle events from moord's SSE endpoint and
// prints them as they arrive. Runs until interrupted or the stream
// closes.
func runEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	addr := fs.String("addr", "", "moord control API address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := http.Get(baseURL(*addr) + "/events")
	if err != nil {
		return fmt.Errorf("is moord running? %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev apiEvent
		if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
			continue
		}
		fmt.Fprintln(os.Stdout, formatEvent(ev))
	}
	return scanner.Err()
}

// formatEvent renders one lifecycle event as a single line.
func formatEvent(ev apiEvent) string {
	var b strings.Builder
	b.WriteString(dim(ev.Timestamp.Format("15:04:05.000")))
	b.WriteString("  ")
	b.WriteString(bold(fmt.Sprintf("%-19s", ev.Type)))
	if ev.Service != "" {
		b.WriteString("  ")
		b.WriteString(ev.Service)
	}
	if ev.Attempt > 0 {
		fmt.Fprintf(&b, "  attempt=%d", ev.Attempt)
	}
	if ev.Delay != "" {
		fmt.Fprintf(&b, "  delay=%s", ev.Delay)
	}
	if ev.Error != "" {
		fmt.Fprintf(&b, "  %s", ev.Error)
	}
	if ev.Message != "" {
		fmt.Fprintf(&b, "  %s", ev.Message)
	}
	return b.String()
}
