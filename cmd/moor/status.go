package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// resolvedService mirrors spec.ResolvedService on the wire.
type resolvedService struct {
	Endpoint *struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Protocol string `json:"protocol"`
	} `json:"endpoint,omitempty"`
	State    string `json:"state"`
	Restarts int    `json:"restarts"`
}

type resolvedDeployment struct {
	Name     string                     `json:"name"`
	Services map[string]resolvedService `json:"services"`
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	addr := fs.String("addr", "", "moord control API address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var dep resolvedDeployment
	if err := getJSON(baseURL(*addr), "/deployment", &dep); err != nil {
		return err
	}

	renderStatus(os.Stdout, &dep)
	return nil
}

// pad returns n spaces, or nothing when n <= 0.
func pad(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat(" ", n)
}

func renderStatus(w io.Writer, dep *resolvedDeployment) {
	names := make([]string, 0, len(dep.Services))
	maxName := len("SERVICE")
	for name := range dep.Services {
		names = append(names, name)
		if len(name) > maxName {
			maxName = len(name)
		}
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%s\n", bold(dep.Name))
	fmt.Fprintf(w, "%-*s  %-8s  %-21s  %s\n", maxName, "SERVICE", "STATE", "ENDPOINT", "RESTARTS")

	serviceColorTotal = len(names)
	for i, name := range names {
		svc := dep.Services[name]

		endpoint := "-"
		if svc.Endpoint != nil {
			endpoint = fmt.Sprintf("%s://%s:%d", svc.Endpoint.Protocol, svc.Endpoint.Host, svc.Endpoint.Port)
		}

		// Pad manually — ANSI codes break %-*s width math.
		paddedName := colorService(name, i) + pad(maxName-len(name))
		paddedState := colorState(svc.State) + pad(8-len(svc.State))
		fmt.Fprintf(w, "%s  %s  %-21s  %d\n",
			paddedName, paddedState, endpoint, svc.Restarts)
	}
}
