package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

type logEntry struct {
	Stream string `json:"stream"` // "stdout" or "stderr"
	Data   string `json:"data"`
}

// apiEvent is the subset of a moord event we need for display.
type apiEvent struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Service   string    `json:"service"`
	Log       *logEntry `json:"log,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Delay     string    `json:"delay,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// logRow is a parsed log line ready for display.
type logRow struct {
	Time    string
	Service string
	Stream  string
	Data    string
}

func runLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	var (
		addr    string
		service string
		stderr  bool
		stdout  bool
		grep    string
	)
	fs.StringVar(&addr, "addr", "", "moord control API address")
	fs.StringVar(&service, "service", "", "filter to a specific service")
	fs.BoolVar(&stderr, "stderr", false, "only show stderr output")
	fs.BoolVar(&stdout, "stdout", false, "only show stdout output")
	fs.StringVar(&grep, "grep", "", "filter lines matching regex pattern")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var grepRe *regexp.Regexp
	if grep != "" {
		var err error
		grepRe, err = regexp.Compile(grep)
		if err != nil {
			return fmt.Errorf("invalid --grep pattern %q: %v", grep, err)
		}
	}

	var events []apiEvent
	if err := getJSON(baseURL(addr), "/log", &events); err != nil {
		return err
	}

	var logEvents []apiEvent
	for _, ev := range events {
		if ev.Type == "service.log" && ev.Log != nil {
			logEvents = append(logEvents, ev)
		}
	}
	if len(logEvents) == 0 {
		fmt.Fprintln(os.Stderr, "No log events found.")
		return nil
	}

	// Build service → color index map in order of first appearance.
	serviceIndex := map[string]int{}
	maxName := 0
	for _, ev := range logEvents {
		if _, ok := serviceIndex[ev.Service]; !ok {
			serviceIndex[ev.Service] = len(serviceIndex)
		}
		if len(ev.Service) > maxName {
			maxName = len(ev.Service)
		}
	}

	t0 := logEvents[0].Timestamp
	rows := make([]logRow, 0, len(logEvents))
	for _, ev := range logEvents {
		row := logRow{
			Time:    formatDuration(ev.Timestamp.Sub(t0)),
			Service: ev.Service,
			Stream:  ev.Log.Stream,
			Data:    strings.TrimRight(ev.Log.Data, "\n"),
		}

		if service != "" && !strings.EqualFold(row.Service, service) {
			continue
		}
		if stderr && row.Stream != "stderr" {
			continue
		}
		if stdout && row.Stream != "stdout" {
			continue
		}
		if grepRe != nil && !grepRe.MatchString(row.Data) {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		fmt.Fprintln(os.Stderr, "No matching log events.")
		return nil
	}

	serviceColorTotal = len(serviceIndex)
	renderLogs(os.Stdout, rows, serviceIndex, maxName)
	return nil
}

func renderLogs(w io.Writer, rows []logRow, serviceIndex map[string]int, maxName int) {
	for _, r := range rows {
		name := fmt.Sprintf("%-*s", maxName, r.Service)
		idx := serviceIndex[r.Service]
		fmt.Fprintf(w, "%s  %s  %s\n", dim(r.Time), colorService(name, idx), r.Data)
	}
}

// formatDuration formats a duration as seconds with 3 decimal places.
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
