package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mtzanidakis/meshwork/internal/ipc"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
)

const requestTimeout = 10 * time.Second

// parseArgs collects "--key value" pairs. Repeated "--arg k=v" pairs are
// gathered separately into the job request.
func parseArgs(args []string) (map[string]string, map[string]any) {
	flags := make(map[string]string)
	request := make(map[string]any)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			key, value := args[i][2:], args[i+1]
			i++
			if key == "arg" {
				if k, v, ok := strings.Cut(value, "="); ok && k != "" {
					request[k] = v
				}
				continue
			}
			flags[key] = value
		}
	}
	return flags, request
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  meshctl enqueue --type <command> [--arg key=value ...] [--request '{...}']`)
	fmt.Fprintln(os.Stderr, `  meshctl enqueue --steps '[{"id":"s1","commandId":"...","args":{}}]' [--mode serial|parallel]`)
	fmt.Fprintln(os.Stderr, "  meshctl list")
	fmt.Fprintln(os.Stderr, `  meshctl get --id "..."`)
	fmt.Fprintln(os.Stderr, `  meshctl remove --id "..."`)
	fmt.Fprintln(os.Stderr, "  meshctl pause | resume")
	fmt.Fprintln(os.Stderr, "  meshctl commands")
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		fatal("%v", err)
	}
	defer client.Close()

	if err := run(client, os.Args[1], os.Args[2:], os.Stdout); err != nil {
		client.Close()
		fatal("%v", err)
	}
}

func call(client *natsbus.Client, reqType string, payload any) (*ipc.Response, error) {
	resp, err := ipc.Call(client, reqType, payload, requestTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

func run(client *natsbus.Client, cmd string, rest []string, out io.Writer) error {
	flags, request := parseArgs(rest)

	switch cmd {
	case "enqueue":
		payload, err := enqueuePayload(flags, request)
		if err != nil {
			return err
		}
		resp, err := call(client, ipc.TypeEnqueue, payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Job queued: %s\n", resp.ID)

	case "list":
		resp, err := call(client, ipc.TypeList, nil)
		if err != nil {
			return err
		}
		if len(resp.Jobs) == 0 {
			fmt.Fprintln(out, "No jobs found.")
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tJOB\tSOURCE")
		for _, j := range resp.Jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.ID, j.Status, jobName(j), j.Source)
		}
		return w.Flush()

	case "get":
		if flags["id"] == "" {
			return fmt.Errorf("--id is required")
		}
		resp, err := call(client, ipc.TypeGet, map[string]string{"id": flags["id"]})
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(resp.Job, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))

	case "remove":
		if flags["id"] == "" {
			return fmt.Errorf("--id is required")
		}
		if _, err := call(client, ipc.TypeRemove, map[string]string{"id": flags["id"]}); err != nil {
			return err
		}
		fmt.Fprintln(out, "Job removed.")

	case "pause", "resume":
		if _, err := call(client, cmd, nil); err != nil {
			return err
		}
		if cmd == "pause" {
			fmt.Fprintln(out, "Queue paused.")
		} else {
			fmt.Fprintln(out, "Queue resumed.")
		}

	case "commands":
		resp, err := call(client, ipc.TypeCommands, nil)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, c := range resp.Commands {
			fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Description)
		}
		return w.Flush()

	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func enqueuePayload(flags map[string]string, args map[string]any) (ipc.EnqueuePayload, error) {
	p := ipc.EnqueuePayload{
		Type: flags["type"],
		Mode: jobs.Mode(flags["mode"]),
	}
	if raw := flags["request"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Request); err != nil {
			return p, fmt.Errorf("invalid --request: %w", err)
		}
	}
	if len(args) > 0 {
		if p.Request == nil {
			p.Request = make(map[string]any, len(args))
		}
		for k, v := range args {
			p.Request[k] = v
		}
	}
	if raw := flags["steps"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &p.Steps); err != nil {
			return p, fmt.Errorf("invalid --steps: %w", err)
		}
	}
	if p.Type == "" && len(p.Steps) == 0 {
		return p, fmt.Errorf("--type or --steps is required")
	}
	return p, nil
}

func jobName(j jobs.Job) string {
	if j.HasSteps() {
		return fmt.Sprintf("%d steps (%s)", len(j.Steps), j.Mode)
	}
	return j.Type
}
