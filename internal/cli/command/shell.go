package command

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/hamesh-go/internal/cli/repl"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Run commands interactively against the same daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "history", Usage: "history file", Value: repl.DefaultHistoryFile()},
		},
		Action: runShell,
	}
}

func runShell(c *cli.Context) error {
	global := globalArgs(c)
	history := repl.NewHistory(c.String("history"), 0)
	if err := history.Load(); err != nil {
		fmt.Fprintf(errWriter(c), "load history: %v\n", err)
	}

	input := c.App.Reader
	if input == nil {
		input = os.Stdin
	}
	r := repl.New(repl.Config{
		Input:    input,
		Output:   c.App.Writer,
		Commands: commandPaths(c.App.Commands, ""),
		History:  history,
		Run: func(ctx context.Context, args []string) error {
			app := App()
			app.Writer = c.App.Writer
			app.ErrWriter = c.App.ErrWriter
			app.Reader = input
			return app.RunContext(ctx, append(append([]string{c.App.Name}, global...), args...))
		},
	})
	err := r.Run(background(c))
	if serr := history.Save(); serr != nil {
		fmt.Fprintf(errWriter(c), "save history: %v\n", serr)
	}
	return err
}

// globalArgs rebuilds the global flags set on the command line.
func globalArgs(c *cli.Context) []string {
	var args []string
	for _, f := range globalFlags() {
		name := f.Names()[0]
		if !c.IsSet(name) {
			continue
		}
		switch f.(type) {
		case *cli.BoolFlag:
			if c.Bool(name) {
				args = append(args, "--"+name)
			}
		case *cli.DurationFlag:
			args = append(args, "--"+name, c.Duration(name).String())
		default:
			args = append(args, "--"+name, c.String(name))
		}
	}
	return args
}

func commandPaths(cmds []*cli.Command, prefix string) []string {
	var out []string
	for _, cmd := range cmds {
		if cmd.Hidden || cmd.Name == "shell" {
			continue
		}
		path := strings.TrimSpace(prefix + " " + cmd.Name)
		if len(cmd.Subcommands) == 0 {
			out = append(out, path)
			continue
		}
		out = append(out, commandPaths(cmd.Subcommands, path)...)
	}
	return out
}
