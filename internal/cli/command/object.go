package command

import (
	"fmt"
	"net/http"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/hamesh-go/internal/cli/output"
)

// ObjectCommand returns the object command group.
func ObjectCommand() *cli.Command {
	return &cli.Command{
		Name:    "object",
		Aliases: []string{"obj"},
		Usage:   "Object status and orchestration",
		Subcommands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "Show the aggregated status of an object",
				ArgsUsage: "PATH",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "PATH"); err != nil {
						return err
					}
					return call(c, http.MethodGet, "/object_status", map[string]any{"path": c.Args().First()})
				},
			},
			{
				Name:      "monitor",
				Usage:     "Set the global expectation of an object",
				ArgsUsage: "PATH started|stopped|none",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2, "PATH EXPECT"); err != nil {
						return err
					}
					return call(c, http.MethodPost, "/object_monitor", map[string]any{
						"path":          c.Args().Get(0),
						"global_expect": c.Args().Get(1),
					})
				},
			},
			{
				Name:      "clear",
				Usage:     "Reset the failed monitor state of an object",
				ArgsUsage: "PATH",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "PATH"); err != nil {
						return err
					}
					return call(c, http.MethodPost, "/clear", map[string]any{"path": c.Args().First()})
				},
			},
		},
	}
}

// KeyCommand returns the data key command group.
func KeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "key",
		Usage: "Data keys of cfg, sec and usr objects",
		Subcommands: []*cli.Command{
			{
				Name:      "list",
				Aliases:   []string{"ls"},
				Usage:     "List the keys of an object",
				ArgsUsage: "PATH",
				Action:    keyList,
			},
			{
				Name:      "get",
				Usage:     "Print a key value",
				ArgsUsage: "PATH KEY",
				Action:    keyGet,
			},
			{
				Name:      "set",
				Usage:     "Set a key value",
				ArgsUsage: "PATH KEY [VALUE]",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "from", Usage: "read the value from a file"},
				},
				Action: keySet,
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a key",
				ArgsUsage: "PATH KEY",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2, "PATH KEY"); err != nil {
						return err
					}
					return call(c, http.MethodPost, "/delete_key", map[string]any{
						"path": c.Args().Get(0),
						"key":  c.Args().Get(1),
					})
				},
			},
		},
	}
}

func keyList(c *cli.Context) error {
	if err := requireArgs(c, 1, "PATH"); err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := client.Get(background(c), "/keys", map[string]any{"path": c.Args().First()})
	if err != nil {
		return err
	}
	if _, f, _ := formatter(c); f != output.FormatTable {
		return render(c, resp.Data, resp.Info)
	}
	var names []string
	if err := resp.Decode(&names); err != nil {
		return fmt.Errorf("decode keys: %w", err)
	}
	t := output.NewTable("KEY")
	for _, name := range names {
		t.AddRow(name)
	}
	return render(c, t, "")
}

func keyGet(c *cli.Context) error {
	if err := requireArgs(c, 2, "PATH KEY"); err != nil {
		return err
	}
	client, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := client.Get(background(c), "/get_key", map[string]any{
		"path": c.Args().Get(0),
		"key":  c.Args().Get(1),
	})
	if err != nil {
		return err
	}
	if _, f, _ := formatter(c); f != output.FormatTable {
		return render(c, resp.Data, resp.Info)
	}
	var value string
	if err := resp.Decode(&value); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	_, err = fmt.Fprint(c.App.Writer, value)
	return err
}

func keySet(c *cli.Context) error {
	var value string
	switch from := c.String("from"); {
	case from != "":
		if err := requireArgs(c, 2, "--from FILE PATH KEY"); err != nil {
			return err
		}
		data, err := os.ReadFile(from)
		if err != nil {
			return err
		}
		value = string(data)
	default:
		if err := requireArgs(c, 3, "PATH KEY VALUE"); err != nil {
			return err
		}
		value = c.Args().Get(2)
	}
	return call(c, http.MethodPost, "/set_key", map[string]any{
		"path":  c.Args().Get(0),
		"key":   c.Args().Get(1),
		"value": value,
	})
}
