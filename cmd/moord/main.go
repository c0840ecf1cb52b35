package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/matgreaves/moor/gateway"
	"github.com/matgreaves/moor/server"
	"github.com/matgreaves/moor/server/service"
	"github.com/matgreaves/moor/spec"
	"github.com/matgreaves/run"
)

func main() {
	configPath := flag.String("config", "moor.json", "deployment file")
	addr := flag.String("addr", "127.0.0.1:7700", "control API listen address")
	depTimeout := flag.Duration("dependency-timeout", 0, "max wait for a service's dependencies (0 for default)")
	flag.Parse()

	data, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "moord: read config: %v\n", err)
		os.Exit(1)
	}

	dep, err := spec.Load(data, os.LookupEnv)
	if err != nil {
		// Load reports every error it found, one per line.
		fmt.Fprintf(os.Stderr, "moord: invalid deployment:\n%v\n", err)
		os.Exit(1)
	}

	reg := service.NewRegistry()
	reg.Register("process", service.Process{})
	reg.Register("container", service.Container{})

	eventLog := server.NewEventLog()
	states := server.NewStateTable(dep.ServiceOrder())

	orch := &server.Orchestrator{
		Ports:             server.NewPortAllocator(),
		Registry:          reg,
		Log:               eventLog,
		States:            states,
		DependencyTimeout: *depTimeout,
	}
	orchRunner, err := orch.Orchestrate(&dep)
	if err != nil {
		fmt.Fprintf(os.Stderr, "moord: %v\n", err)
		os.Exit(1)
	}

	gw := &gateway.Gateway{
		Routes:   gateway.NewRouteTable(dep.Routes),
		Backends: states,
	}
	if dep.Gateway != nil {
		gw.ACME = dep.Gateway.ACME
	}
	gwRunner, err := gw.Runner()
	if err != nil {
		fmt.Fprintf(os.Stderr, "moord: %v\n", err)
		os.Exit(1)
	}

	// Control API.
	api := server.NewServer(&dep, eventLog, states, orch)
	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "moord: listen: %v\n", err)
		os.Exit(1)
	}
	httpSrv := &http.Server{Handler: api}
	go httpSrv.Serve(ln)
	fmt.Fprintf(os.Stderr, "moord: control API on http://%s\n", ln.Addr())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group := run.Group{
		"orchestrator": orchRunner,
		"gateway":      gwRunner,
	}

	err = group.Run(ctx)

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutCtx)

	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "moord: %v\n", err)
		os.Exit(1)
	}
}
