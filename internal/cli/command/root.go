package command

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/hamesh-go/internal/cli/config"
	"github.com/yndnr/hamesh-go/internal/cli/connection"
	"github.com/yndnr/hamesh-go/internal/cli/output"
	"github.com/yndnr/hamesh-go/internal/infra/buildinfo"
)

const metaConfig = "cliConfig"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "hamesh-cli",
		Usage:   "hamesh cluster daemon command-line tool",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			DaemonCommand(),
			ObjectCommand(),
			KeyCommand(),
			ClusterCommand(),
			LockCommand(),
			BlacklistCommand(),
			ContextCommand(),
			UserCommand(),
			ShellCommand(),
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.App.Metadata == nil {
				c.App.Metadata = make(map[string]any)
			}
			c.App.Metadata[metaConfig] = cfg
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI configuration file",
			EnvVars: []string{"HAMESH_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "context",
			Aliases: []string{"c"},
			Usage:   "saved connection context, instead of the current one",
			EnvVars: []string{"HAMESH_CONTEXT"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "listener address (host:port or URL); the local socket when unset",
			EnvVars: []string{"HAMESH_SERVER"},
		},
		&cli.StringFlag{
			Name:    "socket",
			Usage:   "local listener socket",
			EnvVars: []string{"HAMESH_SOCKET"},
			Value:   connection.DefaultSocket,
		},
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "user name for basic authentication",
			EnvVars: []string{"HAMESH_USER"},
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "user password",
			EnvVars: []string{"HAMESH_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "ca-file",
			Usage:   "PEM bundle of extra trusted certificate authorities",
			EnvVars: []string{"HAMESH_CA_FILE"},
		},
		&cli.BoolFlag{
			Name:  "insecure",
			Usage: "skip server certificate verification",
		},
		&cli.StringFlag{
			Name:    "node",
			Aliases: []string{"n"},
			Usage:   "run the action on the selected nodes (name, glob or label selector)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
			EnvVars: []string{"HAMESH_OUTPUT"},
		},
		&cli.BoolFlag{
			Name:  "no-headers",
			Usage: "omit table headers",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "request timeout",
			Value: connection.DefaultTimeout,
		},
	}
}

func cliConfig(c *cli.Context) *config.CLIConfig {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.CLIConfig); ok {
		return cfg
	}
	return config.Default()
}

// connOptions resolves the connection options: explicit flags first,
// then the selected context, then the flag defaults.
func connOptions(c *cli.Context) (connection.Options, error) {
	cfg := cliConfig(c)
	var saved config.Context
	if name := c.String("context"); name != "" {
		ctx, err := cfg.Get(name)
		if err != nil {
			return connection.Options{}, err
		}
		saved = ctx
	} else if ctx, ok := cfg.Current(); ok {
		saved = ctx
	}

	pick := func(flag, fromContext string) string {
		if c.IsSet(flag) || fromContext == "" {
			return c.String(flag)
		}
		return fromContext
	}
	return connection.Options{
		Server:             pick("server", saved.Server),
		Socket:             pick("socket", saved.Socket),
		Username:           pick("user", saved.Username),
		Password:           c.String("password"),
		CAFile:             pick("ca-file", saved.CAFile),
		InsecureSkipVerify: c.Bool("insecure") || saved.Insecure,
		Node:               c.String("node"),
		Timeout:            c.Duration("timeout"),
	}, nil
}

func newClient(c *cli.Context) (*connection.Client, error) {
	opts, err := connOptions(c)
	if err != nil {
		return nil, err
	}
	return connection.New(opts)
}

func formatter(c *cli.Context) (output.Formatter, output.Format, error) {
	name := c.String("output")
	if name == "" {
		name = cliConfig(c).DefaultOutput
	}
	f, err := output.ParseFormat(name)
	if err != nil {
		return nil, "", err
	}
	if f == output.FormatTable {
		return &output.TableFormatter{NoHeaders: c.Bool("no-headers")}, f, nil
	}
	return output.NewFormatter(f), f, nil
}

// render writes data in the selected format, then the response info
// line, if any, to stderr.
func render(c *cli.Context, data any, info string) error {
	f, _, err := formatter(c)
	if err != nil {
		return err
	}
	if err := f.Format(c.App.Writer, data); err != nil {
		return err
	}
	if info != "" {
		fmt.Fprintln(errWriter(c), info)
	}
	return nil
}

func errWriter(c *cli.Context) io.Writer {
	if c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

// call runs one action and prints its data.
func call(c *cli.Context, method, route string, params map[string]any) error {
	client, err := newClient(c)
	if err != nil {
		return err
	}
	resp, err := client.Call(background(c), method, route, params)
	if err != nil {
		return err
	}
	return render(c, resp.Data, resp.Info)
}

// requireArgs fails unless the command got exactly n arguments.
func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() != n {
		return fmt.Errorf("usage: %s %s", c.Command.HelpName, usage)
	}
	return nil
}

func background(c *cli.Context) context.Context {
	if c.Context != nil {
		return c.Context
	}
	return context.Background()
}
