package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
)

// runCtl handles the stop and start subcommands: a POST to the service
// control endpoint, then a one-line report of the resulting state.
func runCtl(action string, args []string) error {
	fs := flag.NewFlagSet(action, flag.ContinueOnError)
	addr := fs.String("addr", "", "moord control API address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: moor %s <service>", action)
	}
	name := fs.Arg(0)

	url := fmt.Sprintf("%s/services/%s/%s", baseURL(*addr), name, action)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("is moord running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return apiError(resp)
	}

	var svc resolvedService
	if err := json.NewDecoder(resp.Body).Decode(&svc); err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", name, colorState(svc.State))
	return nil
}
