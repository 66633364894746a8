package command

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/hamesh-go/internal/cli/output"
)

// DaemonCommand returns the daemon command group.
func DaemonCommand() *cli.Command {
	return &cli.Command{
		Name:    "daemon",
		Aliases: []string{"d"},
		Usage:   "Daemon status and control",
		Subcommands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Show the cluster status tree",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "selector", Usage: "object selector, comma separated globs"},
				},
				Action: func(c *cli.Context) error {
					return call(c, http.MethodGet, "/daemon_status", map[string]any{"selector": c.String("selector")})
				},
			},
			{
				Name:  "stats",
				Usage: "Show host statistics and heartbeat counters",
				Action: func(c *cli.Context) error {
					return call(c, http.MethodGet, "/daemon_stats", nil)
				},
			},
			{
				Name:   "nodes",
				Usage:  "List the cluster nodes",
				Action: daemonNodes,
			},
			{
				Name:  "wake",
				Usage: "Run a monitor iteration now",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "reason", Value: "cli"},
				},
				Action: func(c *cli.Context) error {
					return call(c, http.MethodPost, "/wake", map[string]any{"reason": c.String("reason")})
				},
			},
			{
				Name:  "events",
				Usage: "Follow the daemon event stream",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "kind", Aliases: []string{"k"}, Usage: "keep these event kinds"},
					&cli.StringFlag{Name: "selector", Usage: "object selector"},
				},
				Action: daemonEvents,
			},
		},
	}
}

type nodeRow struct {
	Name   string            `json:"name"`
	Alive  bool              `json:"alive"`
	Self   bool              `json:"self"`
	Gen    uint64            `json:"gen"`
	Labels map[string]string `json:"labels"`
}

func daemonNodes(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := client.Get(background(c), "/nodes_info", nil)
	if err != nil {
		return err
	}
	if _, f, _ := formatter(c); f != output.FormatTable {
		return render(c, resp.Data, resp.Info)
	}

	var nodes []nodeRow
	if err := resp.Decode(&nodes); err != nil {
		return fmt.Errorf("decode nodes: %w", err)
	}
	t := output.NewTable("NAME", "STATE", "GEN", "LABELS")
	for _, n := range nodes {
		state := "down"
		switch {
		case n.Self:
			state = "self"
		case n.Alive:
			state = "up"
		}
		t.AddRow(n.Name, state, n.Gen, formatLabels(n.Labels))
	}
	return render(c, t, "")
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, ",")
}

type eventRow struct {
	Kind      string         `json:"kind"`
	Node      string         `json:"node"`
	Path      string         `json:"path"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

func daemonEvents(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	_, f, err := formatter(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(background(c), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	params := map[string]any{"selector": c.String("selector")}
	if kinds := c.StringSlice("kind"); len(kinds) > 0 {
		params["kinds"] = kinds
	}
	w := c.App.Writer
	return client.Stream(ctx, "/events", params, func(raw json.RawMessage) error {
		if f != output.FormatTable {
			_, err := fmt.Fprintln(w, string(raw))
			return err
		}
		var ev eventRow
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		line := ev.Timestamp + " " + ev.Node + " " + ev.Kind
		if ev.Path != "" {
			line += " " + ev.Path
		}
		if len(ev.Data) > 0 {
			data, _ := json.Marshal(ev.Data)
			line += " " + string(data)
		}
		_, err := fmt.Fprintln(w, line)
		return err
	})
}
