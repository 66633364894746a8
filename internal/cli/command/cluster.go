package command

import (
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/hamesh-go/internal/cli/output"
)

// ClusterCommand returns the cluster membership command group.
func ClusterCommand() *cli.Command {
	return &cli.Command{
		Name:  "cluster",
		Usage: "Cluster membership and dataset synchronization",
		Subcommands: []*cli.Command{
			{
				Name:      "join",
				Usage:     "Add a node to the cluster member list",
				ArgsUsage: "NODE",
				Action:    nodeAction("/join"),
			},
			{
				Name:      "leave",
				Usage:     "Remove a node from the cluster member list",
				ArgsUsage: "NODE",
				Action:    nodeAction("/leave"),
			},
			{
				Name:      "ask-full",
				Usage:     "Ask a peer for its full dataset",
				ArgsUsage: "PEER",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "PEER"); err != nil {
						return err
					}
					return call(c, http.MethodPost, "/ask_full", map[string]any{"peer": c.Args().First()})
				},
			},
			{
				Name:  "sync",
				Usage: "Wait until the live peers applied the local dataset",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "wait", Usage: "server-side wait timeout"},
				},
				Action: func(c *cli.Context) error {
					params := map[string]any{}
					if d := c.Duration("wait"); d > 0 {
						params["timeout"] = d.String()
					}
					return call(c, http.MethodPost, "/sync", params)
				},
			},
		},
	}
}

func nodeAction(route string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := requireArgs(c, 1, "NODE"); err != nil {
			return err
		}
		return call(c, http.MethodPost, route, map[string]any{"node_name": c.Args().First()})
	}
}

// LockCommand returns the cluster lock command group.
func LockCommand() *cli.Command {
	return &cli.Command{
		Name:  "lock",
		Usage: "Cluster-wide advisory locks",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List the locks held in the cluster",
				Action:  lockList,
			},
			{
				Name:      "acquire",
				Usage:     "Acquire a lock and print its id",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "wait", Usage: "give up after this duration"},
				},
				Action: lockAcquire,
			},
			{
				Name:      "release",
				Usage:     "Release a lock held with ID",
				ArgsUsage: "NAME ID",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2, "NAME ID"); err != nil {
						return err
					}
					return call(c, http.MethodPost, "/unlock", map[string]any{
						"name": c.Args().Get(0),
						"id":   c.Args().Get(1),
					})
				},
			},
		},
	}
}

func lockAcquire(c *cli.Context) error {
	if err := requireArgs(c, 1, "NAME"); err != nil {
		return err
	}
	params := map[string]any{"name": c.Args().First()}
	if d := c.Duration("wait"); d > 0 {
		params["timeout"] = d.String()
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := client.Post(background(c), "/lock", params)
	if err != nil {
		return err
	}
	if _, f, _ := formatter(c); f != output.FormatTable {
		return render(c, resp.Data, resp.Info)
	}
	var data struct {
		ID string `json:"id"`
	}
	if err := resp.Decode(&data); err != nil {
		return fmt.Errorf("decode lock: %w", err)
	}
	_, err = fmt.Fprintln(c.App.Writer, data.ID)
	return err
}

type lockRow struct {
	Name        string    `json:"name"`
	ID          string    `json:"id"`
	Node        string    `json:"node"`
	RequestedAt time.Time `json:"requested_at"`
}

func lockList(c *cli.Context) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := client.Get(background(c), "/locks", nil)
	if err != nil {
		return err
	}
	if _, f, _ := formatter(c); f != output.FormatTable {
		return render(c, resp.Data, resp.Info)
	}
	var locks []lockRow
	if err := resp.Decode(&locks); err != nil {
		return fmt.Errorf("decode locks: %w", err)
	}
	t := output.NewTable("NAME", "NODE", "ID", "SINCE")
	for _, l := range locks {
		t.AddRow(l.Name, l.Node, l.ID, l.RequestedAt.Format(time.RFC3339))
	}
	return render(c, t, "")
}
