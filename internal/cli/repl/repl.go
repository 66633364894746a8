package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// RunFunc executes one parsed command line.
type RunFunc func(ctx context.Context, args []string) error

// Config configures a REPL.
type Config struct {
	Input  io.Reader
	Output io.Writer
	Prompt string
	Run    RunFunc

	// Commands feeds the completer. History may be nil.
	Commands []string
	History  *History
}

// REPL is the read-eval-print loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	prompt    string
	run       RunFunc
	completer *Completer
	history   *History
}

// New creates a REPL.
func New(cfg Config) *REPL {
	if cfg.Prompt == "" {
		cfg.Prompt = "hamesh> "
	}
	return &REPL{
		input:     cfg.Input,
		output:    cfg.Output,
		prompt:    cfg.Prompt,
		run:       cfg.Run,
		completer: NewCompleter(cfg.Commands),
		history:   cfg.History,
	}
}

// Run reads lines until EOF, exit or quit, or ctx is done. Command
// errors are printed and do not stop the loop.
func (r *REPL) Run(ctx context.Context) error {
	reader := bufio.NewReader(r.input)
	for {
		if ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(r.output, r.prompt)

		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) && line == "" {
			fmt.Fprintln(r.output)
			return nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		case strings.HasPrefix(line, "?"):
			for _, s := range r.completer.Complete(strings.TrimSpace(line[1:])) {
				fmt.Fprintln(r.output, s)
			}
			continue
		}

		if r.history != nil {
			r.history.Add(line)
		}
		if line == "history" {
			r.printHistory()
			continue
		}
		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.output, "error: %v\n", err)
		}
	}
}

func (r *REPL) execute(ctx context.Context, line string) error {
	args, err := SplitArgs(line)
	if err != nil {
		return err
	}
	return r.run(ctx, args)
}

func (r *REPL) printHistory() {
	if r.history == nil {
		return
	}
	entries := r.history.Entries()
	for i, e := range entries {
		fmt.Fprintf(r.output, "%4d  %s\n", i+1, e)
	}
}

// SplitArgs splits a command line on blanks. Single and double quotes
// group words; a backslash escapes the next character outside single
// quotes.
func SplitArgs(line string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, ch := range line {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteRune(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			inWord = true
		case ch == ' ' || ch == '\t':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(ch)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
