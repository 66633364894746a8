package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/hamesh-go/internal/cli/config"
	"github.com/yndnr/hamesh-go/internal/cli/output"
)

// ContextCommand returns the saved connection context command group.
func ContextCommand() *cli.Command {
	return &cli.Command{
		Name:  "context",
		Usage: "Saved connection contexts",
		Subcommands: []*cli.Command{
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List the saved contexts",
				Action:  contextList,
			},
			{
				Name:      "set",
				Usage:     "Save a context from the connection flags",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "use", Usage: "also make it the current context"},
				},
				Action: contextSet,
			},
			{
				Name:      "use",
				Usage:     "Make a context current",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "NAME"); err != nil {
						return err
					}
					return updateConfig(c, func(cfg *config.CLIConfig) error {
						return cfg.Use(c.Args().First())
					})
				},
			},
			{
				Name:      "delete",
				Aliases:   []string{"rm"},
				Usage:     "Delete a context",
				ArgsUsage: "NAME",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1, "NAME"); err != nil {
						return err
					}
					return updateConfig(c, func(cfg *config.CLIConfig) error {
						return cfg.Delete(c.Args().First())
					})
				},
			},
		},
	}
}

func updateConfig(c *cli.Context, fn func(*config.CLIConfig) error) error {
	cfg := cliConfig(c)
	if err := fn(cfg); err != nil {
		return err
	}
	return config.Save(cfg, c.String("config"))
}

func contextList(c *cli.Context) error {
	cfg := cliConfig(c)
	t := output.NewTable("CURRENT", "NAME", "SERVER", "USER")
	for _, name := range cfg.Names() {
		ctx := cfg.Contexts[name]
		cur := ""
		if name == cfg.CurrentContext {
			cur = "*"
		}
		server := ctx.Server
		if server == "" {
			server = "unix://" + ctx.Socket
		}
		t.AddRow(cur, name, server, ctx.Username)
	}
	return render(c, t, "")
}

func contextSet(c *cli.Context) error {
	if err := requireArgs(c, 1, "NAME"); err != nil {
		return err
	}
	name := c.Args().First()
	ctx := config.Context{
		Server:   c.String("server"),
		Username: c.String("user"),
		CAFile:   c.String("ca-file"),
		Insecure: c.Bool("insecure"),
	}
	if ctx.Server == "" {
		ctx.Socket = c.String("socket")
	}
	err := updateConfig(c, func(cfg *config.CLIConfig) error {
		if err := cfg.Set(name, ctx); err != nil {
			return err
		}
		if c.Bool("use") {
			return cfg.Use(name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(errWriter(c), "context %q saved\n", name)
	return nil
}
